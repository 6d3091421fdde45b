package engine

import (
	"slices"
	"time"
)

type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseSelecting Phase = "selecting"
	PhaseBanning   Phase = "banning"
	PhaseCompleted Phase = "completed"
)

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
	RoleNone  Role = ""
)

func opponentOf(r Role) Role {
	if r == RoleHost {
		return RoleGuest
	}
	return RoleHost
}

// PlayerSlot binds a seat to a player identity. A zero ID means the seat is
// still open.
type PlayerSlot struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (p PlayerSlot) Bound() bool { return p.ID != "" }

// PlayerState is one player's transient draft state for the current run.
// Remaining is only populated once the session completes.
type PlayerState struct {
	Selections         []Faction `json:"selections"`
	BannedFaction      Faction   `json:"bannedFaction,omitempty"`
	SelectionConfirmed bool      `json:"selectionConfirmed"`
	BanConfirmed       bool      `json:"banConfirmed"`
	Remaining          []Faction `json:"remaining"`
}

// Session is the aggregate root for one paired draft, keyed by a short
// shareable code.
type Session struct {
	Code         string      `json:"code"`
	Format       Format      `json:"format"`
	Phase        Phase       `json:"phase"`
	Host         PlayerSlot  `json:"host"`
	Guest        PlayerSlot  `json:"guest"`
	HostState    PlayerState `json:"hostState"`
	GuestState   PlayerState `json:"guestState"`
	CreatedAt    time.Time   `json:"createdAt"`
	LastActivity time.Time   `json:"lastActivity"`
}

func NewSession(code string, format Format, host PlayerSlot) Session {
	now := time.Now().UTC()
	return Session{
		Code:         code,
		Format:       format,
		Phase:        PhaseWaiting,
		Host:         host,
		CreatedAt:    now,
		LastActivity: now,
	}
}

func (s Session) RequiredPicks() int { return s.Format.RequiredPicks() }

// RoleOf maps a player id to its seat, RoleNone when the id is a stranger.
func (s Session) RoleOf(playerID string) Role {
	switch {
	case playerID != "" && s.Host.ID == playerID:
		return RoleHost
	case playerID != "" && s.Guest.ID == playerID:
		return RoleGuest
	default:
		return RoleNone
	}
}

func (s *Session) Slot(r Role) *PlayerSlot {
	if r == RoleHost {
		return &s.Host
	}
	return &s.Guest
}

func (s *Session) StateOf(r Role) *PlayerState {
	if r == RoleHost {
		return &s.HostState
	}
	return &s.GuestState
}

// Clone deep-copies the session so Apply can mutate a scratch copy without
// tearing the caller's view on a rejected command.
func (s Session) Clone() Session {
	out := s
	out.HostState = s.HostState.clone()
	out.GuestState = s.GuestState.clone()
	return out
}

func (p PlayerState) clone() PlayerState {
	out := p
	out.Selections = slices.Clone(p.Selections)
	out.Remaining = slices.Clone(p.Remaining)
	return out
}

// clearDraft wipes everything a reset or a fresh selection phase must forget.
func (p *PlayerState) clearDraft() {
	p.Selections = nil
	p.BannedFaction = ""
	p.SelectionConfirmed = false
	p.BanConfirmed = false
	p.Remaining = nil
}

func (p *PlayerState) clearBan() {
	p.BannedFaction = ""
	p.BanConfirmed = false
	p.Remaining = nil
}
