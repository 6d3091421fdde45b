package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gwentcup/draft-backend/internal/engine"
	"github.com/gwentcup/draft-backend/internal/store"
	"github.com/gwentcup/draft-backend/internal/types"
)

type Handlers struct {
	sessions store.Store
	log      *zap.Logger
}

func NewHandlers(sessions store.Store, log *zap.Logger) *Handlers {
	return &Handlers{sessions: sessions, log: log}
}

type createLobbyRequest struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
	Format     string `json:"format"`
}

type joinLobbyRequest struct {
	PlayerID   string `json:"player_id"`
	PlayerName string `json:"player_name"`
}

// CreateLobby generates a unique code and seats the caller as host.
func (h *Handlers) CreateLobby(w http.ResponseWriter, r *http.Request) {
	var req createLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PlayerID == "" || req.PlayerName == "" {
		writeJSONError(w, http.StatusBadRequest, "player_id and player_name are required")
		return
	}

	s := engine.NewSession("", engine.ParseFormat(req.Format),
		engine.PlayerSlot{ID: req.PlayerID, Name: req.PlayerName})

	created, err := store.CreateWithCode(r.Context(), h.sessions, s)
	if err != nil {
		h.log.Error("lobby creation failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "could not create lobby")
		return
	}

	h.log.Info("lobby created",
		zap.String("code", created.Code),
		zap.String("host", req.PlayerName),
		zap.String("format", string(created.Format)))
	writeJSON(w, http.StatusCreated, types.SnapshotFor(created, req.PlayerID))
}

// GetLobby returns a sanitized lobby snapshot; pass player_id to see your own
// private draft state.
func (h *Handlers) GetLobby(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	s, err := h.sessions.Get(r.Context(), code)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SnapshotFor(s, r.URL.Query().Get("player_id")))
}

// JoinLobby binds the caller to the open guest seat. Rejoining with a seated
// id succeeds without changes so reconnects are painless.
func (h *Handlers) JoinLobby(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var req joinLobbyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PlayerID == "" {
		writeJSONError(w, http.StatusBadRequest, "player_id is required")
		return
	}

	s, err := h.sessions.Get(r.Context(), code)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	_, next, err := engine.Apply(s, engine.Command{
		Type:       engine.CmdJoinGuest,
		PlayerID:   req.PlayerID,
		PlayerName: req.PlayerName,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if err := h.sessions.Save(r.Context(), next); err != nil {
		h.log.Error("join persist failed", zap.String("code", code), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "could not join lobby")
		return
	}

	writeJSON(w, http.StatusOK, types.SnapshotFor(next, req.PlayerID))
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "lobby not found")
		return
	}
	h.log.Error("session lookup failed", zap.Error(err))
	writeJSONError(w, http.StatusInternalServerError, "storage failure")
}

func (h *Handlers) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrSlotOccupied):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrInvalidPhase):
		writeJSONError(w, http.StatusConflict, "game already started")
	default:
		writeJSONError(w, http.StatusBadRequest, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
