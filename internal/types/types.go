// Package types defines the websocket wire protocol shared with the client.
package types

import "github.com/gwentcup/draft-backend/internal/engine"

// Inbound action names.
const (
	ActionJoin             = "join"
	ActionStartSelection   = "start-selection"
	ActionSaveProgress     = "save-progress"
	ActionConfirmSelection = "confirm-selection"
	ActionConfirmBan       = "confirm-ban"
	ActionReset            = "reset"
	ActionReconnect        = "reconnect"
)

// Outbound event names.
const (
	EventLobbyUpdate            = "lobby-update"
	EventPlayerJoined           = "player-joined"
	EventSelectionStarted       = "faction-selection-started"
	EventOpponentProgress       = "opponent-selection-progress"
	EventSelectionConfirmed     = "selection-confirmed"
	EventPlayerSelectionStatus  = "player-selection-status"
	EventPhaseChanged           = "phase-changed"
	EventBanConfirmed           = "ban-confirmed"
	EventBanPhaseEnded          = "ban-phase-ended"
	EventSelectionTimerExpired  = "selection-timer-expired"
	EventBanTimerExpired        = "ban-timer-expired"
	EventPlayerDisconnected     = "player-disconnected"
	EventPlayerReconnected      = "player-reconnected"
	EventLobbyReset             = "lobby-reset"
	EventReconnectSuccess       = "reconnect-success"
	EventError                  = "error"
)

// ClientMessage is the single inbound envelope.
type ClientMessage struct {
	Type       string   `json:"type"`
	PlayerID   string   `json:"player_id,omitempty"`
	PlayerName string   `json:"player_name,omitempty"`
	Factions   []string `json:"factions,omitempty"`
	Faction    string   `json:"faction,omitempty"`
}

// ServerMessage is the single outbound envelope. Only the fields relevant to
// the event type are populated.
type ServerMessage struct {
	Type        string              `json:"type"`
	Lobby       *LobbySnapshot      `json:"lobby,omitempty"`
	PlayerID    string              `json:"player_id,omitempty"`
	PlayerName  string              `json:"player_name,omitempty"`
	Count       int                 `json:"selections_count,omitempty"`
	Phase       engine.Phase        `json:"phase,omitempty"`
	Status      string              `json:"status,omitempty"`
	TimeExpired bool                `json:"time_expired,omitempty"`
	Success     bool                `json:"success,omitempty"`
	PlayerState *engine.PlayerState `json:"player_state,omitempty"`
	Message     string              `json:"message,omitempty"`
}

// LobbySnapshot is the sanitized per-viewer session view.
type LobbySnapshot struct {
	Code   string        `json:"code"`
	Format engine.Format `json:"format"`
	Phase  engine.Phase  `json:"phase"`
	Host   PlayerView    `json:"host"`
	Guest  PlayerView    `json:"guest"`
}

// PlayerView exposes a player's public face. Selections stay hidden from the
// opponent until confirmed; only the count leaks through.
type PlayerView struct {
	ID                 string           `json:"id"`
	Name               string           `json:"name"`
	SelectionsCount    int              `json:"selections_count"`
	Selections         []engine.Faction `json:"selections,omitempty"`
	SelectionConfirmed bool             `json:"selection_confirmed"`
	BannedFaction      engine.Faction   `json:"banned_faction,omitempty"`
	BanConfirmed       bool             `json:"ban_confirmed"`
	Remaining          []engine.Faction `json:"remaining,omitempty"`
}

// SnapshotFor renders the session as seen by viewerID. A viewer always sees
// their own draft in full; the opponent's selections appear only once
// confirmed, and a confirmed ban is public.
func SnapshotFor(s engine.Session, viewerID string) LobbySnapshot {
	return LobbySnapshot{
		Code:   s.Code,
		Format: s.Format,
		Phase:  s.Phase,
		Host:   playerViewFor(s.Host, s.HostState, s.Host.ID == viewerID),
		Guest:  playerViewFor(s.Guest, s.GuestState, s.Guest.ID != "" && s.Guest.ID == viewerID),
	}
}

func playerViewFor(slot engine.PlayerSlot, st engine.PlayerState, self bool) PlayerView {
	view := PlayerView{
		ID:                 slot.ID,
		Name:               slot.Name,
		SelectionsCount:    len(st.Selections),
		SelectionConfirmed: st.SelectionConfirmed,
		BanConfirmed:       st.BanConfirmed,
		Remaining:          st.Remaining,
	}
	if self || st.SelectionConfirmed {
		view.Selections = st.Selections
	}
	if self || st.BanConfirmed {
		view.BannedFaction = st.BannedFaction
	}
	return view
}
