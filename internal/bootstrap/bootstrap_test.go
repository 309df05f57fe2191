package bootstrap

import (
	"log/slog"
	"testing"
	"time"

	"go.uber.org/fx"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.ServerAddr != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.ServerAddr)
	}
	if cfg.PingPeriod != 30*time.Second {
		t.Errorf("expected 30s ping period, got %v", cfg.PingPeriod)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("expected default redis addr, got %s", cfg.RedisAddr)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":9000")
	t.Setenv("DEV_TOKEN", "secret")
	t.Setenv("PING_PERIOD", "5s")
	t.Setenv("CHUNK_DELAY", "not-a-duration")
	t.Setenv("REDIS_DB", "3")

	cfg := LoadConfig()

	if cfg.ServerAddr != ":9000" || cfg.Token != "secret" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.PingPeriod != 5*time.Second {
		t.Errorf("expected 5s, got %v", cfg.PingPeriod)
	}
	if cfg.ChunkDelay != 50*time.Millisecond {
		t.Errorf("expected invalid duration to fall back, got %v", cfg.ChunkDelay)
	}
	if cfg.RedisDB != 3 {
		t.Errorf("expected db 3, got %d", cfg.RedisDB)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("%q: expected %v, got %v", in, want, got)
		}
	}
}

func TestGraphIsComplete(t *testing.T) {
	if err := fx.ValidateApp(fx.Provide(LoadConfig), Options); err != nil {
		t.Fatalf("dependency graph: %v", err)
	}
}
