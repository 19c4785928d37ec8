package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/nakedarizona/Pills-bot/internal/domain"
)

// Config holds application configuration loaded from environment variables.
// Read once at startup, static thereafter.
type Config struct {
	BotToken    string `envconfig:"BOT_TOKEN" required:"true"`
	DBPath      string `envconfig:"DB_PATH" default:"./data/pills.db"`
	TZName      string `envconfig:"TZ_NAME" default:"Europe/Moscow"`
	EveningTime string `envconfig:"EVENING_TIME" default:"20:00"` // HH:MM digest time
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`     // debug|info|warn|error
	HTTPAddr    string `envconfig:"HTTP_ADDR" default:":8080"`    // healthz

	// Resolved at Load; not read from the environment.
	Loc      *time.Location `ignored:"true"`
	EveningM int            `ignored:"true"`
}

// Load reads environment variables into Config and validates the timezone
// and evening time. Any failure here is fatal: the process must not enter
// its serving loop with a broken schedule configuration.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}

	loc, err := domain.ValidateTZ(cfg.TZName)
	if err != nil {
		return cfg, fmt.Errorf("invalid TZ_NAME %q: %w", cfg.TZName, err)
	}
	cfg.Loc = loc

	m, err := domain.ParseHHMM(cfg.EveningTime)
	if err != nil {
		return cfg, fmt.Errorf("invalid EVENING_TIME %q: %w", cfg.EveningTime, err)
	}
	cfg.EveningM = m

	return cfg, nil
}
