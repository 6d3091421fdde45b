package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gwentcup/draft-backend/internal/engine"
)

// Memory is the single-process backing: a mutex-guarded table plus a janitor
// goroutine sweeping idle sessions.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]engine.Session

	log *zap.Logger
}

func NewMemory(log *zap.Logger) *Memory {
	return &Memory{
		sessions: make(map[string]engine.Session),
		log:      log,
	}
}

func (m *Memory) Create(_ context.Context, s engine.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	code := NormalizeCode(s.Code)
	if _, ok := m.sessions[code]; ok {
		return ErrDuplicateCode
	}
	s.Code = code
	s.LastActivity = time.Now().UTC()
	m.sessions[code] = s.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, code string) (engine.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[NormalizeCode(code)]
	if !ok {
		return engine.Session{}, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *Memory) Save(_ context.Context, s engine.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.Code = NormalizeCode(s.Code)
	s.LastActivity = time.Now().UTC()
	m.sessions[s.Code] = s.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, NormalizeCode(code))
	return nil
}

func (m *Memory) SweepExpired(_ context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for code, s := range m.sessions {
		if s.LastActivity.Before(cutoff) {
			delete(m.sessions, code)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Stats(_ context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := Stats{ByPhase: make(map[engine.Phase]int)}
	for _, s := range m.sessions {
		stats.Active++
		stats.ByPhase[s.Phase]++
	}
	return stats, nil
}

// StartJanitor sweeps on the given interval until ctx is cancelled.
func (m *Memory) StartJanitor(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, _ := m.SweepExpired(ctx, maxAge)
				if removed > 0 {
					m.log.Info("swept idle sessions", zap.Int("removed", removed))
				}
			}
		}
	}()
}
