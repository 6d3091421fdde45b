// Package store persists draft sessions keyed by their shareable code.
//
// Two backings implement the same interface: an in-memory table for
// single-instance deployments and a Postgres table for anything that must
// survive a restart. The state machine never sees which one is in use.
package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/gwentcup/draft-backend/internal/engine"
)

var ErrNotFound = errors.New("session not found")
var ErrDuplicateCode = errors.New("session code already in use")
var ErrCodeExhausted = errors.New("could not generate a unique session code")

// Store is the session repository. Save stamps LastActivity; Delete is
// idempotent; SweepExpired reports how many sessions it removed.
type Store interface {
	Create(ctx context.Context, s engine.Session) error
	Get(ctx context.Context, code string) (engine.Session, error)
	Save(ctx context.Context, s engine.Session) error
	Delete(ctx context.Context, code string) error
	SweepExpired(ctx context.Context, maxAge time.Duration) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

// Stats is the operator view used by the admin endpoint.
type Stats struct {
	Active  int                  `json:"active"`
	ByPhase map[engine.Phase]int `json:"byPhase"`
}

const codePrefix = "GW"
const codeSuffixLen = 4

// codeAlphabet leaves out 0/O/1/I so codes survive being read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const createAttempts = 10

// NormalizeCode folds user input onto the canonical code form.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func GenerateCode() (string, error) {
	suffix := make([]byte, codeSuffixLen)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
		if err != nil {
			return "", fmt.Errorf("generate code: %w", err)
		}
		suffix[i] = codeAlphabet[n.Int64()]
	}
	return codePrefix + string(suffix), nil
}

// CreateWithCode generates a fresh code and inserts the session, retrying on
// collisions a bounded number of times before giving up.
func CreateWithCode(ctx context.Context, st Store, s engine.Session) (engine.Session, error) {
	for attempt := 0; attempt < createAttempts; attempt++ {
		code, err := GenerateCode()
		if err != nil {
			return engine.Session{}, err
		}
		s.Code = code
		err = st.Create(ctx, s)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, ErrDuplicateCode) {
			return engine.Session{}, err
		}
	}
	return engine.Session{}, ErrCodeExhausted
}
