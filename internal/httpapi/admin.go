package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/gwentcup/draft-backend/internal/store"
)

// Sessions idle past this cutoff are fair game for the operator-triggered
// cleanup, which is stricter than the regular sweep on purpose.
const cleanupMaxAge = 3 * time.Hour

type Admin struct {
	sessions  store.Store
	apiKey    string
	startedAt time.Time
	log       *zap.Logger
}

func NewAdmin(sessions store.Store, apiKey string, log *zap.Logger) *Admin {
	return &Admin{sessions: sessions, apiKey: apiKey, startedAt: time.Now(), log: log}
}

// RequireKey gates admin routes on ?key=. With no key configured everything
// is rejected rather than left open.
func (a *Admin) RequireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.apiKey == "" || r.URL.Query().Get("key") != a.apiKey {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Admin) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.sessions.Stats(r.Context())
	if err != nil {
		a.log.Error("stats query failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"activeLobbies":   stats.Active,
		"statusBreakdown": stats.ByPhase,
		"uptimeMinutes":   int(time.Since(a.startedAt).Minutes()),
	})
}

func (a *Admin) Cleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := a.sessions.SweepExpired(r.Context(), cleanupMaxAge)
	if err != nil {
		a.log.Error("cleanup failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "cleanup failed")
		return
	}
	a.log.Info("manual cleanup", zap.Int("removed", removed))
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// InspectLobby returns the raw session, private fields included. Key-gated.
func (a *Admin) InspectLobby(w http.ResponseWriter, r *http.Request) {
	s, err := a.sessions.Get(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "lobby not found")
		return
	}
	writeJSON(w, http.StatusOK, s)
}
