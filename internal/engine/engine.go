package engine

import (
	"errors"
	"slices"
)

var ErrUnauthorized = errors.New("action reserved for the lobby host")
var ErrSlotOccupied = errors.New("opponent seat already taken")
var ErrInvalidPhase = errors.New("action not allowed in current phase")
var ErrInvalidSelection = errors.New("invalid faction selection")
var ErrInvalidBan = errors.New("ban must target a faction from the opponent's pool")
var ErrLobbyNotReady = errors.New("both seats must be taken before starting")
var ErrUnsupportedCommand = errors.New("unsupported command")

type CommandType string

const (
	CmdJoinGuest        CommandType = "JoinGuest"
	CmdStartSelection   CommandType = "StartSelection"
	CmdSaveProgress     CommandType = "SaveProgress"
	CmdConfirmSelection CommandType = "ConfirmSelection"
	CmdConfirmBan       CommandType = "ConfirmBan"
	CmdSelectionTimeout CommandType = "SelectionTimeout"
	CmdBanTimeout       CommandType = "BanTimeout"
	CmdReset            CommandType = "Reset"
)

type Command struct {
	Type       CommandType
	PlayerID   string
	PlayerName string
	Factions   []Faction // SaveProgress / ConfirmSelection payload
	Faction    Faction   // ConfirmBan target
}

type EventType string

const (
	EvtPlayerJoined          EventType = "PlayerJoined"
	EvtSelectionStarted      EventType = "SelectionStarted"
	EvtSelectionProgress     EventType = "SelectionProgress"
	EvtSelectionConfirmed    EventType = "SelectionConfirmed"
	EvtPlayerStatusChanged   EventType = "PlayerStatusChanged"
	EvtPhaseChanged          EventType = "PhaseChanged"
	EvtBanConfirmed          EventType = "BanConfirmed"
	EvtBanPhaseEnded         EventType = "BanPhaseEnded"
	EvtSelectionTimerExpired EventType = "SelectionTimerExpired"
	EvtBanTimerExpired       EventType = "BanTimerExpired"
	EvtSessionReset          EventType = "SessionReset"
	EvtMatchFinalized        EventType = "MatchFinalized"

	// Timer directives interpreted by the lobby, never sent to clients.
	EvtTimerArmed   EventType = "TimerArmed"
	EvtTimerStopped EventType = "TimerStopped"
)

// Event describes one outcome of a command. PlayerID names the acting player
// when the event is about a single player; Count carries the progress size
// (progress events deliberately never carry faction identities).
type Event struct {
	Type     EventType
	PlayerID string
	Name     string
	Count    int
	Phase    Phase
	TimedOut bool
}

// Apply runs one command against a session and returns the events to publish
// together with the next session state. The input session is never mutated;
// on error it is returned unchanged so a rejected action leaves no trace.
func Apply(s Session, cmd Command) ([]Event, Session, error) {
	switch cmd.Type {
	case CmdJoinGuest:
		return applyJoin(s, cmd)
	case CmdStartSelection:
		return applyStartSelection(s, cmd)
	case CmdSaveProgress:
		return applySaveProgress(s, cmd)
	case CmdConfirmSelection:
		return applyConfirmSelection(s, cmd)
	case CmdConfirmBan:
		return applyConfirmBan(s, cmd)
	case CmdSelectionTimeout:
		return applySelectionTimeout(s)
	case CmdBanTimeout:
		return applyBanTimeout(s)
	case CmdReset:
		return applyReset(s, cmd)
	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func applyJoin(s Session, cmd Command) ([]Event, Session, error) {
	// Re-join by either seated player is a successful no-op so reconnects
	// don't disturb the session.
	if s.RoleOf(cmd.PlayerID) != RoleNone {
		return nil, s, nil
	}
	if s.Guest.Bound() {
		return nil, s, ErrSlotOccupied
	}
	if s.Phase != PhaseWaiting {
		return nil, s, ErrInvalidPhase
	}

	next := s.Clone()
	next.Guest = PlayerSlot{ID: cmd.PlayerID, Name: cmd.PlayerName}
	events := []Event{{Type: EvtPlayerJoined, PlayerID: cmd.PlayerID, Name: cmd.PlayerName}}
	return events, next, nil
}

func applyStartSelection(s Session, cmd Command) ([]Event, Session, error) {
	if s.RoleOf(cmd.PlayerID) != RoleHost {
		return nil, s, ErrUnauthorized
	}
	if s.Phase != PhaseWaiting {
		return nil, s, ErrInvalidPhase
	}
	if !s.Guest.Bound() {
		return nil, s, ErrLobbyNotReady
	}

	next := s.Clone()
	next.HostState.clearDraft()
	next.GuestState.clearDraft()
	next.Phase = PhaseSelecting

	events := []Event{
		{Type: EvtSelectionStarted},
		{Type: EvtTimerArmed, Phase: PhaseSelecting},
	}
	return events, next, nil
}

func applySaveProgress(s Session, cmd Command) ([]Event, Session, error) {
	role := s.RoleOf(cmd.PlayerID)
	if role == RoleNone {
		return nil, s, ErrUnauthorized
	}
	if s.Phase != PhaseSelecting {
		return nil, s, ErrInvalidPhase
	}
	if s.StateOf(role).SelectionConfirmed {
		// Confirmed pools are immutable until reset; late progress is noise.
		return nil, s, nil
	}

	picks, err := normalizeSelections(cmd.Factions)
	if err != nil {
		return nil, s, err
	}
	if max := s.RequiredPicks(); len(picks) > max {
		picks = picks[:max]
	}

	next := s.Clone()
	next.StateOf(role).Selections = picks

	events := []Event{{Type: EvtSelectionProgress, PlayerID: cmd.PlayerID, Count: len(picks)}}
	return events, next, nil
}

func applyConfirmSelection(s Session, cmd Command) ([]Event, Session, error) {
	role := s.RoleOf(cmd.PlayerID)
	if role == RoleNone {
		return nil, s, ErrUnauthorized
	}
	if s.Phase != PhaseSelecting {
		return nil, s, ErrInvalidPhase
	}
	if s.StateOf(role).SelectionConfirmed {
		// Idempotent: the first confirmation is authoritative.
		return nil, s, nil
	}

	picks, err := normalizeSelections(cmd.Factions)
	if err != nil {
		return nil, s, err
	}
	if len(picks) != s.RequiredPicks() {
		return nil, s, ErrInvalidSelection
	}

	next := s.Clone()
	st := next.StateOf(role)
	st.Selections = picks
	st.SelectionConfirmed = true

	events := []Event{{Type: EvtSelectionConfirmed, PlayerID: cmd.PlayerID}}
	if next.HostState.SelectionConfirmed && next.GuestState.SelectionConfirmed {
		events = append(events, advanceToBanning(&next)...)
	} else {
		events = append(events, Event{Type: EvtPlayerStatusChanged, PlayerID: cmd.PlayerID})
	}
	return events, next, nil
}

func applyConfirmBan(s Session, cmd Command) ([]Event, Session, error) {
	role := s.RoleOf(cmd.PlayerID)
	if role == RoleNone {
		return nil, s, ErrUnauthorized
	}
	if s.Phase != PhaseBanning {
		return nil, s, ErrInvalidPhase
	}
	if s.StateOf(role).BanConfirmed {
		return nil, s, nil
	}

	// The ban must come out of the opponent's confirmed pool. Banning a
	// faction from one's own pool is rejected outright.
	opponent := s.StateOf(opponentOf(role))
	if !slices.Contains(opponent.Selections, cmd.Faction) {
		return nil, s, ErrInvalidBan
	}

	next := s.Clone()
	st := next.StateOf(role)
	st.BannedFaction = cmd.Faction
	st.BanConfirmed = true

	events := []Event{{Type: EvtBanConfirmed, PlayerID: cmd.PlayerID}}
	if next.HostState.BanConfirmed && next.GuestState.BanConfirmed {
		completeDraft(&next)
		events = append(events,
			Event{Type: EvtTimerStopped},
			Event{Type: EvtBanPhaseEnded, TimedOut: false},
		)
	} else {
		events = append(events, Event{Type: EvtPlayerStatusChanged, PlayerID: cmd.PlayerID})
	}
	return events, next, nil
}

func applySelectionTimeout(s Session) ([]Event, Session, error) {
	// The timer may race a manual double-confirm; once the phase moved on the
	// expiry is stale and must do nothing.
	if s.Phase != PhaseSelecting {
		return nil, s, nil
	}

	next := s.Clone()
	for _, role := range []Role{RoleHost, RoleGuest} {
		st := next.StateOf(role)
		st.Selections = padSelections(st.Selections, next.RequiredPicks())
		st.SelectionConfirmed = true
	}

	events := []Event{{Type: EvtSelectionTimerExpired}}
	events = append(events, advanceToBanning(&next)...)
	return events, next, nil
}

func applyBanTimeout(s Session) ([]Event, Session, error) {
	if s.Phase != PhaseBanning {
		return nil, s, nil
	}

	next := s.Clone()
	for _, role := range []Role{RoleHost, RoleGuest} {
		st := next.StateOf(role)
		if st.BannedFaction == "" {
			// Empty opponent pool leaves the ban unset; completeDraft then
			// keeps the full pool as the result.
			st.BannedFaction = randomBan(next.StateOf(opponentOf(role)).Selections)
		}
		st.BanConfirmed = true
	}
	completeDraft(&next)

	events := []Event{
		{Type: EvtBanTimerExpired},
		{Type: EvtBanPhaseEnded, TimedOut: true},
	}
	return events, next, nil
}

func applyReset(s Session, cmd Command) ([]Event, Session, error) {
	if s.RoleOf(cmd.PlayerID) != RoleHost {
		return nil, s, ErrUnauthorized
	}

	var events []Event
	if s.Phase == PhaseCompleted {
		// Signal the caller to flush the finished match to history before the
		// result fields below are wiped.
		events = append(events, Event{Type: EvtMatchFinalized})
	}

	next := s.Clone()
	next.HostState.clearDraft()
	next.GuestState.clearDraft()
	next.Phase = PhaseWaiting

	events = append(events,
		Event{Type: EvtTimerStopped},
		Event{Type: EvtSessionReset},
	)
	return events, next, nil
}

// advanceToBanning moves a session with both selections confirmed into the
// ban phase. The selection timer is stopped before the phase change is
// announced so a stale expiry can never chase the transition.
func advanceToBanning(s *Session) []Event {
	s.HostState.clearBan()
	s.GuestState.clearBan()
	s.Phase = PhaseBanning
	return []Event{
		{Type: EvtTimerStopped},
		{Type: EvtPhaseChanged, Phase: PhaseBanning},
		{Type: EvtTimerArmed, Phase: PhaseBanning},
	}
}

// completeDraft fixes both results: a player keeps their own pool minus the
// faction the opponent banned.
func completeDraft(s *Session) {
	s.HostState.Remaining = removeFaction(s.HostState.Selections, s.GuestState.BannedFaction)
	s.GuestState.Remaining = removeFaction(s.GuestState.Selections, s.HostState.BannedFaction)
	s.Phase = PhaseCompleted
}
