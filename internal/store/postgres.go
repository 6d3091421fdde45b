package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/gwentcup/draft-backend/internal/engine"
)

// sessionRow is the durable shape of a session: the code as primary key and
// the aggregate as a jsonb payload, with phase and last_activity lifted out
// for the admin breakdown and the expiry sweep.
type sessionRow struct {
	Code         string         `gorm:"primaryKey;size:12"`
	Phase        string         `gorm:"size:32;index;not null"`
	Payload      datatypes.JSON `gorm:"not null"`
	LastActivity time.Time      `gorm:"index;not null"`
	CreatedAt    time.Time      `gorm:"not null"`
	UpdatedAt    time.Time      `gorm:"not null"`
}

func (sessionRow) TableName() string { return "sessions" }

type Postgres struct {
	db  *gorm.DB
	log *zap.Logger
}

// OpenPostgres connects with bounded retries; container setups often race the
// database coming up.
func OpenPostgres(dsn string, log *zap.Logger) (*Postgres, error) {
	var db *gorm.DB
	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err == nil {
			break
		}
		log.Warn("postgres connection failed, retrying",
			zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(3 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&sessionRow{}); err != nil {
		return nil, fmt.Errorf("migrate sessions: %w", err)
	}
	return &Postgres{db: db, log: log}, nil
}

// DB exposes the underlying handle so the history sink can share it.
func (p *Postgres) DB() *gorm.DB { return p.db }

func (p *Postgres) Create(ctx context.Context, s engine.Session) error {
	row, err := toRow(s)
	if err != nil {
		return err
	}
	res := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row)
	if res.Error != nil {
		return fmt.Errorf("create session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateCode
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, code string) (engine.Session, error) {
	var row sessionRow
	err := p.db.WithContext(ctx).First(&row, "code = ?", NormalizeCode(code)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.Session{}, ErrNotFound
	}
	if err != nil {
		return engine.Session{}, fmt.Errorf("get session: %w", err)
	}
	var s engine.Session
	if err := json.Unmarshal(row.Payload, &s); err != nil {
		return engine.Session{}, fmt.Errorf("decode session %s: %w", row.Code, err)
	}
	return s, nil
}

func (p *Postgres) Save(ctx context.Context, s engine.Session) error {
	row, err := toRow(s)
	if err != nil {
		return err
	}
	err = p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			UpdateAll: true,
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, code string) error {
	err := p.db.WithContext(ctx).
		Delete(&sessionRow{}, "code = ?", NormalizeCode(code)).Error
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (p *Postgres) SweepExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	res := p.db.WithContext(ctx).
		Delete(&sessionRow{}, "last_activity < ?", cutoff)
	if res.Error != nil {
		return 0, fmt.Errorf("sweep sessions: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (p *Postgres) Stats(ctx context.Context) (Stats, error) {
	var rows []struct {
		Phase string
		Count int
	}
	err := p.db.WithContext(ctx).
		Model(&sessionRow{}).
		Select("phase, count(*) as count").
		Group("phase").
		Scan(&rows).Error
	if err != nil {
		return Stats{}, fmt.Errorf("session stats: %w", err)
	}
	stats := Stats{ByPhase: make(map[engine.Phase]int)}
	for _, r := range rows {
		stats.ByPhase[engine.Phase(r.Phase)] = r.Count
		stats.Active += r.Count
	}
	return stats, nil
}

func toRow(s engine.Session) (sessionRow, error) {
	s.Code = NormalizeCode(s.Code)
	s.LastActivity = time.Now().UTC()
	payload, err := json.Marshal(s)
	if err != nil {
		return sessionRow{}, fmt.Errorf("encode session %s: %w", s.Code, err)
	}
	return sessionRow{
		Code:         s.Code,
		Phase:        string(s.Phase),
		Payload:      payload,
		LastActivity: s.LastActivity,
	}, nil
}
