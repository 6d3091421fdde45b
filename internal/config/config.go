package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	AdminAPIKey string `env:"ADMIN_API_KEY"`

	SelectionTimeout time.Duration `env:"SELECTION_TIMEOUT" envDefault:"5m"`
	BanTimeout       time.Duration `env:"BAN_TIMEOUT" envDefault:"3m"`

	SessionMaxAge time.Duration `env:"SESSION_MAX_AGE" envDefault:"2h"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
}

// LoadDotEnv loads a .env file if present. Variables already set in the
// environment win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
