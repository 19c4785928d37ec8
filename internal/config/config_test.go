package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BOT_TOKEN", "test-token")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TZName != "Europe/Moscow" || cfg.Loc == nil {
		t.Errorf("timezone not resolved: %+v", cfg)
	}
	if cfg.EveningM != 20*60 {
		t.Errorf("EveningM = %d, want 1200", cfg.EveningM)
	}
}

func TestLoad_MissingToken(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")

	if _, err := Load(); err == nil {
		t.Fatal("missing BOT_TOKEN must be fatal")
	}
}

func TestLoad_BadTimezone(t *testing.T) {
	t.Setenv("BOT_TOKEN", "test-token")
	t.Setenv("TZ_NAME", "Nowhere/Void")

	if _, err := Load(); err == nil {
		t.Fatal("malformed timezone must be fatal")
	}
}

func TestLoad_BadEveningTime(t *testing.T) {
	t.Setenv("BOT_TOKEN", "test-token")
	t.Setenv("TZ_NAME", "UTC")
	t.Setenv("EVENING_TIME", "25:99")

	if _, err := Load(); err == nil {
		t.Fatal("malformed evening time must be fatal")
	}
}
