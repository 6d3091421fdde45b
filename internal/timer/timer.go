// Package timer schedules at-most-one pending countdown per session code.
package timer

import (
	"sync"
	"time"

	"github.com/gwentcup/draft-backend/internal/engine"
)

type pending struct {
	timer *time.Timer
	gen   uint64
}

// Service arms one countdown per code. Re-arming cancels the predecessor and
// a generation counter drops fires that lost the race with their own cancel.
type Service struct {
	mu      sync.Mutex
	pending map[string]*pending
	gen     uint64
}

func NewService() *Service {
	return &Service{pending: make(map[string]*pending)}
}

// Arm schedules onExpire(code, phase) after d, replacing any countdown
// already pending for the code. onExpire runs on the timer goroutine.
func (s *Service) Arm(code string, phase engine.Phase, d time.Duration, onExpire func(code string, phase engine.Phase)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.pending[code]; ok {
		p.timer.Stop()
	}

	s.gen++
	gen := s.gen
	p := &pending{gen: gen}
	p.timer = time.AfterFunc(d, func() {
		if !s.claim(code, gen) {
			return
		}
		onExpire(code, phase)
	})
	s.pending[code] = p
}

// claim reports whether this fire is still the current one and, if so,
// retires it so it can never fire twice.
func (s *Service) claim(code string, gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[code]
	if !ok || p.gen != gen {
		return false
	}
	delete(s.pending, code)
	return true
}

// Cancel is a no-op when nothing is pending.
func (s *Service) Cancel(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pending[code]; ok {
		p.timer.Stop()
		delete(s.pending, code)
	}
}

// Pending reports whether a countdown is armed for the code.
func (s *Service) Pending(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[code]
	return ok
}

// Shutdown cancels everything.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for code, p := range s.pending {
		p.timer.Stop()
		delete(s.pending, code)
	}
}
