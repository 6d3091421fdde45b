// Package lobby runs one actor goroutine per draft session. The actor owns
// every mutation for its session: client actions and timer expiries line up
// on one inbox, so no two handlers for the same session ever interleave.
package lobby

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/gwentcup/draft-backend/internal/engine"
	"github.com/gwentcup/draft-backend/internal/history"
	"github.com/gwentcup/draft-backend/internal/store"
	"github.com/gwentcup/draft-backend/internal/timer"
	"github.com/gwentcup/draft-backend/internal/types"
)

const storeAttempts = 3

type Msg interface{ isLobbyMsg() }

// Join registers a connection's outbox with the room. The connection has no
// player identity yet; that arrives with a join or reconnect action.
type Join struct {
	ConnID string
	Outbox chan types.ServerMessage
}

type Leave struct{ ConnID string }

// FromClient carries one decoded wire message from a connection.
type FromClient struct {
	ConnID string
	Msg    types.ClientMessage
}

// TimerFired re-enters the action path as a synthetic system command.
type TimerFired struct{ Phase engine.Phase }

type Shutdown struct{}

// GetView is a test hook mirroring the room's registry without data races.
type GetView struct{ Reply chan View }

type View struct {
	NumClients int
	Bound      map[string]string // connID -> playerID
}

func (Join) isLobbyMsg()       {}
func (Leave) isLobbyMsg()      {}
func (FromClient) isLobbyMsg() {}
func (TimerFired) isLobbyMsg() {}
func (Shutdown) isLobbyMsg()   {}
func (GetView) isLobbyMsg()    {}

// Durations holds the per-phase countdowns.
type Durations struct {
	Selection time.Duration
	Ban       time.Duration
}

func (d Durations) phaseDuration(phase engine.Phase) time.Duration {
	if phase == engine.PhaseBanning {
		return d.Ban
	}
	return d.Selection
}

type client struct {
	outbox   chan types.ServerMessage
	playerID string
}

type Lobby struct {
	code      string
	inbox     chan Msg
	clients   map[string]*client
	sessions  store.Store
	timers    *timer.Service
	recorder  history.Recorder
	durations Durations
	log       *zap.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewLobby(parent context.Context, code string, sessions store.Store, timers *timer.Service,
	recorder history.Recorder, durations Durations, log *zap.Logger) *Lobby {
	ctx, cancel := context.WithCancel(parent)
	l := &Lobby{
		code:      code,
		inbox:     make(chan Msg, 64),
		clients:   make(map[string]*client),
		sessions:  sessions,
		timers:    timers,
		recorder:  recorder,
		durations: durations,
		log:       log.With(zap.String("code", code)),
		ctx:       ctx,
		cancel:    cancel,
	}
	go l.loop()
	return l
}

func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

func (l *Lobby) loop() {
	for {
		select {
		case <-l.ctx.Done():
			l.shutdown()
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				l.clients[msg.ConnID] = &client{outbox: msg.Outbox}
				if s, err := l.load(); err == nil {
					l.sendTo(msg.ConnID, types.ServerMessage{
						Type:  types.EventLobbyUpdate,
						Lobby: snapshotPtr(s, ""),
					})
				}

			case Leave:
				c, ok := l.clients[msg.ConnID]
				if !ok {
					break
				}
				delete(l.clients, msg.ConnID)
				close(c.outbox)
				if c.playerID != "" {
					l.broadcastExcept(msg.ConnID, types.ServerMessage{
						Type:     types.EventPlayerDisconnected,
						PlayerID: c.playerID,
					})
				}

			case FromClient:
				l.handleClient(msg.ConnID, msg.Msg)

			case TimerFired:
				l.handleTimeout(msg.Phase)

			case GetView:
				view := View{NumClients: len(l.clients), Bound: make(map[string]string)}
				for id, c := range l.clients {
					view.Bound[id] = c.playerID
				}
				msg.Reply <- view

			case Shutdown:
				l.shutdown()
				return
			}
		}
	}
}

func (l *Lobby) handleClient(connID string, msg types.ClientMessage) {
	if msg.Type == types.ActionReconnect {
		l.handleReconnect(connID, msg)
		return
	}

	cmd, ok := l.toCommand(connID, msg)
	if !ok {
		l.fail(connID, "unknown action")
		return
	}

	before, err := l.load()
	if err != nil {
		l.failErr(connID, err)
		return
	}

	events, next, err := engine.Apply(before, cmd)
	if err != nil {
		// Rejected actions reach only the offending connection; the session
		// was not touched and nothing is broadcast.
		l.failErr(connID, err)
		return
	}

	if msg.Type == types.ActionJoin {
		l.bind(connID, cmd.PlayerID)
	}

	if err := l.persist(next); err != nil {
		l.failErr(connID, err)
		return
	}
	l.publish(events, before, next, connID)
}

func (l *Lobby) handleTimeout(phase engine.Phase) {
	cmdType := engine.CmdSelectionTimeout
	if phase == engine.PhaseBanning {
		cmdType = engine.CmdBanTimeout
	}

	before, err := l.load()
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			l.log.Error("timeout load failed", zap.Error(err))
		}
		return
	}

	events, next, err := engine.Apply(before, engine.Command{Type: cmdType})
	if err != nil {
		l.log.Error("timeout apply failed", zap.Error(err))
		return
	}
	if len(events) == 0 {
		// Stale fire: the phase advanced before the timer got here.
		return
	}

	if err := l.persist(next); err != nil {
		l.log.Error("timeout persist failed", zap.Error(err))
		return
	}
	l.publish(events, before, next, "")
}

func (l *Lobby) handleReconnect(connID string, msg types.ClientMessage) {
	s, err := l.load()
	if err != nil {
		l.failErr(connID, err)
		return
	}

	l.bind(connID, msg.PlayerID)

	reply := types.ServerMessage{
		Type:  types.EventReconnectSuccess,
		Lobby: snapshotPtr(s, msg.PlayerID),
	}
	// Only a seated player gets private draft state back.
	if role := s.RoleOf(msg.PlayerID); role != engine.RoleNone {
		st := *s.StateOf(role)
		reply.PlayerState = &st
	}
	l.sendTo(connID, reply)

	if s.RoleOf(msg.PlayerID) != engine.RoleNone {
		l.broadcastExcept(connID, types.ServerMessage{
			Type:     types.EventPlayerReconnected,
			PlayerID: msg.PlayerID,
		})
	}
}

// toCommand translates a wire message into an engine command. Identity comes
// from the connection binding except for join, which establishes it.
func (l *Lobby) toCommand(connID string, msg types.ClientMessage) (engine.Command, bool) {
	playerID := msg.PlayerID
	if msg.Type != types.ActionJoin {
		if c, ok := l.clients[connID]; ok && c.playerID != "" {
			playerID = c.playerID
		}
	}

	switch msg.Type {
	case types.ActionJoin:
		return engine.Command{Type: engine.CmdJoinGuest, PlayerID: msg.PlayerID, PlayerName: msg.PlayerName}, true
	case types.ActionStartSelection:
		return engine.Command{Type: engine.CmdStartSelection, PlayerID: playerID}, true
	case types.ActionSaveProgress:
		return engine.Command{Type: engine.CmdSaveProgress, PlayerID: playerID, Factions: parseFactions(msg.Factions)}, true
	case types.ActionConfirmSelection:
		return engine.Command{Type: engine.CmdConfirmSelection, PlayerID: playerID, Factions: parseFactions(msg.Factions)}, true
	case types.ActionConfirmBan:
		return engine.Command{Type: engine.CmdConfirmBan, PlayerID: playerID, Faction: engine.Faction(msg.Faction)}, true
	case types.ActionReset:
		return engine.Command{Type: engine.CmdReset, PlayerID: playerID}, true
	default:
		return engine.Command{}, false
	}
}

// publish interprets engine events: timer directives act on the timer
// service, the match-finalized marker flushes history, and everything else
// fans out per the audience rules. A successful mutation always ends with a
// per-viewer lobby-update.
func (l *Lobby) publish(events []engine.Event, before, next engine.Session, actorConn string) {
	for _, event := range events {
		switch event.Type {
		case engine.EvtTimerArmed:
			l.armTimer(event.Phase)

		case engine.EvtTimerStopped:
			l.timers.Cancel(l.code)

		case engine.EvtMatchFinalized:
			if err := l.recorder.Record(l.ctx, history.FromSession(before)); err != nil {
				l.log.Error("match history write failed", zap.Error(err))
			}

		case engine.EvtPlayerJoined:
			l.broadcastExcept(actorConn, types.ServerMessage{
				Type:       types.EventPlayerJoined,
				PlayerID:   event.PlayerID,
				PlayerName: event.Name,
			})

		case engine.EvtSelectionStarted:
			l.broadcast(types.ServerMessage{Type: types.EventSelectionStarted})

		case engine.EvtSelectionProgress:
			l.broadcastExcept(actorConn, types.ServerMessage{
				Type:     types.EventOpponentProgress,
				PlayerID: event.PlayerID,
				Count:    event.Count,
			})

		case engine.EvtSelectionConfirmed:
			l.sendTo(actorConn, types.ServerMessage{Type: types.EventSelectionConfirmed, Success: true})

		case engine.EvtPlayerStatusChanged:
			l.broadcastExcept(actorConn, types.ServerMessage{
				Type:     types.EventPlayerSelectionStatus,
				PlayerID: event.PlayerID,
				Status:   "completed",
				Phase:    next.Phase,
			})

		case engine.EvtPhaseChanged:
			l.broadcast(types.ServerMessage{Type: types.EventPhaseChanged, Phase: event.Phase})

		case engine.EvtBanConfirmed:
			l.sendTo(actorConn, types.ServerMessage{Type: types.EventBanConfirmed, Success: true})

		case engine.EvtBanPhaseEnded:
			l.broadcast(types.ServerMessage{Type: types.EventBanPhaseEnded, TimeExpired: event.TimedOut})

		case engine.EvtSelectionTimerExpired:
			l.broadcast(types.ServerMessage{Type: types.EventSelectionTimerExpired})

		case engine.EvtBanTimerExpired:
			l.broadcast(types.ServerMessage{Type: types.EventBanTimerExpired})
			l.warnMissingBans(next)

		case engine.EvtSessionReset:
			l.broadcast(types.ServerMessage{Type: types.EventLobbyReset})
		}
	}

	l.broadcastSnapshot(next)
}

func (l *Lobby) armTimer(phase engine.Phase) {
	l.timers.Arm(l.code, phase, l.durations.phaseDuration(phase), func(code string, phase engine.Phase) {
		select {
		case l.inbox <- TimerFired{Phase: phase}:
		case <-l.ctx.Done():
		}
	})
}

func (l *Lobby) warnMissingBans(s engine.Session) {
	for _, role := range []engine.Role{engine.RoleHost, engine.RoleGuest} {
		if s.StateOf(role).BannedFaction == "" {
			l.log.Warn("ban timeout with empty opponent pool, no ban applied",
				zap.String("role", string(role)))
		}
	}
}

func (l *Lobby) load() (engine.Session, error) {
	var s engine.Session
	err := l.withRetry(func() error {
		var err error
		s, err = l.sessions.Get(l.ctx, l.code)
		return err
	})
	return s, err
}

func (l *Lobby) persist(s engine.Session) error {
	return l.withRetry(func() error {
		return l.sessions.Save(l.ctx, s)
	})
}

// withRetry absorbs transient store failures. Domain errors (not found,
// duplicate) are final and returned as-is.
func (l *Lobby) withRetry(op func() error) error {
	var err error
	for attempt := 1; attempt <= storeAttempts; attempt++ {
		err = op()
		if err == nil || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrDuplicateCode) {
			return err
		}
		l.log.Warn("store operation failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	return err
}

func (l *Lobby) bind(connID, playerID string) {
	if c, ok := l.clients[connID]; ok && playerID != "" {
		c.playerID = playerID
	}
}

func (l *Lobby) fail(connID, message string) {
	l.sendTo(connID, types.ServerMessage{Type: types.EventError, Message: message})
}

func (l *Lobby) failErr(connID string, err error) {
	msg := err.Error()
	if errors.Is(err, store.ErrNotFound) {
		msg = "lobby not found"
	}
	l.fail(connID, msg)
}

func (l *Lobby) sendTo(connID string, msg types.ServerMessage) {
	c, ok := l.clients[connID]
	if !ok {
		return
	}
	l.deliver(connID, c, msg)
}

func (l *Lobby) broadcast(msg types.ServerMessage) {
	for id, c := range l.clients {
		l.deliver(id, c, msg)
	}
}

func (l *Lobby) broadcastExcept(connID string, msg types.ServerMessage) {
	for id, c := range l.clients {
		if id == connID {
			continue
		}
		l.deliver(id, c, msg)
	}
}

// broadcastSnapshot sends each viewer their own sanitized cut of the session.
func (l *Lobby) broadcastSnapshot(s engine.Session) {
	for id, c := range l.clients {
		l.deliver(id, c, types.ServerMessage{
			Type:  types.EventLobbyUpdate,
			Lobby: snapshotPtr(s, c.playerID),
		})
	}
}

func (l *Lobby) deliver(id string, c *client, msg types.ServerMessage) {
	select {
	case c.outbox <- msg:
	default:
		// Slow or dead consumer; drop it rather than stall the room.
		close(c.outbox)
		delete(l.clients, id)
	}
}

func (l *Lobby) shutdown() {
	l.timers.Cancel(l.code)
	for id, c := range l.clients {
		close(c.outbox)
		delete(l.clients, id)
	}
	l.cancel()
}

func snapshotPtr(s engine.Session, viewerID string) *types.LobbySnapshot {
	snap := types.SnapshotFor(s, viewerID)
	return &snap
}

func parseFactions(in []string) []engine.Faction {
	out := make([]engine.Faction, 0, len(in))
	for _, f := range in {
		out = append(out, engine.Faction(f))
	}
	return out
}
