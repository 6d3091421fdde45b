// Package history is the append-only match sink fed on reset of a completed
// draft. The core writes records here and never reads them back.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/gwentcup/draft-backend/internal/engine"
)

// Match is the finalized result of one completed draft.
type Match struct {
	Code           string            `json:"code"`
	Format         engine.Format     `json:"format"`
	Host           engine.PlayerSlot `json:"host"`
	Guest          engine.PlayerSlot `json:"guest"`
	HostFactions   []engine.Faction  `json:"hostFactions"`
	GuestFactions  []engine.Faction  `json:"guestFactions"`
	HostBan        engine.Faction    `json:"hostBan"`
	GuestBan       engine.Faction    `json:"guestBan"`
	HostRemaining  []engine.Faction  `json:"hostRemaining"`
	GuestRemaining []engine.Faction  `json:"guestRemaining"`
	CompletedAt    time.Time         `json:"completedAt"`
}

// FromSession captures the result fields of a completed session.
func FromSession(s engine.Session) Match {
	return Match{
		Code:           s.Code,
		Format:         s.Format,
		Host:           s.Host,
		Guest:          s.Guest,
		HostFactions:   s.HostState.Selections,
		GuestFactions:  s.GuestState.Selections,
		HostBan:        s.HostState.BannedFaction,
		GuestBan:       s.GuestState.BannedFaction,
		HostRemaining:  s.HostState.Remaining,
		GuestRemaining: s.GuestState.Remaining,
		CompletedAt:    time.Now().UTC(),
	}
}

type Recorder interface {
	Record(ctx context.Context, m Match) error
}

type matchRow struct {
	ID          uint           `gorm:"primaryKey"`
	Code        string         `gorm:"size:12;index;not null"`
	Payload     datatypes.JSON `gorm:"not null"`
	CompletedAt time.Time      `gorm:"index;not null"`
	CreatedAt   time.Time      `gorm:"not null"`
}

func (matchRow) TableName() string { return "matches" }

// DBRecorder appends matches to Postgres.
type DBRecorder struct {
	db *gorm.DB
}

func NewDBRecorder(db *gorm.DB) (*DBRecorder, error) {
	if err := db.AutoMigrate(&matchRow{}); err != nil {
		return nil, fmt.Errorf("migrate matches: %w", err)
	}
	return &DBRecorder{db: db}, nil
}

func (r *DBRecorder) Record(ctx context.Context, m Match) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode match %s: %w", m.Code, err)
	}
	row := matchRow{Code: m.Code, Payload: payload, CompletedAt: m.CompletedAt}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("record match %s: %w", m.Code, err)
	}
	return nil
}

// LogRecorder stands in when no database is configured.
type LogRecorder struct {
	log *zap.Logger
}

func NewLogRecorder(log *zap.Logger) *LogRecorder { return &LogRecorder{log: log} }

func (r *LogRecorder) Record(_ context.Context, m Match) error {
	r.log.Info("match completed",
		zap.String("code", m.Code),
		zap.String("format", string(m.Format)),
		zap.String("host", m.Host.Name),
		zap.String("guest", m.Guest.Name),
		zap.Any("hostRemaining", m.HostRemaining),
		zap.Any("guestRemaining", m.GuestRemaining),
	)
	return nil
}
