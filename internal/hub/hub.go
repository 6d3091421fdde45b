// Package hub owns the code→room table. A single actor goroutine serializes
// room creation and removal so two connections racing on the same code always
// land in the same room.
package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/gwentcup/draft-backend/internal/history"
	"github.com/gwentcup/draft-backend/internal/lobby"
	"github.com/gwentcup/draft-backend/internal/store"
	"github.com/gwentcup/draft-backend/internal/timer"
)

type HubMsg interface{ isHubMsg() }

// EnsureRoom returns the room for a code, creating it on first use.
type EnsureRoom struct {
	Code  string
	Reply chan *lobby.Lobby
}

type GetRoom struct {
	Code  string
	Reply chan *lobby.Lobby
}

type RemoveRoom struct {
	Code string
}

type ShutdownHub struct{}

func (EnsureRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (RemoveRoom) isHubMsg()  {}
func (ShutdownHub) isHubMsg() {}

// Deps is everything a freshly created room needs.
type Deps struct {
	Sessions  store.Store
	Timers    *timer.Service
	Recorder  history.Recorder
	Durations lobby.Durations
	Log       *zap.Logger
}

type Hub struct {
	inbox  chan HubMsg
	rooms  map[string]*lobby.Lobby
	deps   Deps
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(parent context.Context, deps Deps) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:  make(chan HubMsg, 64),
		rooms:  make(map[string]*lobby.Lobby),
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureRoom:
				code := store.NormalizeCode(msg.Code)
				if room := h.rooms[code]; room != nil {
					msg.Reply <- room
					break
				}
				room := lobby.NewLobby(h.ctx, code, h.deps.Sessions, h.deps.Timers,
					h.deps.Recorder, h.deps.Durations, h.deps.Log)
				h.rooms[code] = room
				msg.Reply <- room

			case GetRoom:
				msg.Reply <- h.rooms[store.NormalizeCode(msg.Code)] // May be nil

			case RemoveRoom:
				code := store.NormalizeCode(msg.Code)
				if room := h.rooms[code]; room != nil {
					room.Inbox() <- lobby.Shutdown{}
					delete(h.rooms, code)
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) shutdown() {
	for code, room := range h.rooms {
		room.Inbox() <- lobby.Shutdown{}
		delete(h.rooms, code)
	}
	h.cancel()
}
