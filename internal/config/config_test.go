package config

import (
	"testing"
	"time"
)

func TestLoadAPIFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", " postgres://localhost/arena ")
	t.Setenv("ARENA_JWT_SECRET", "s3cret")
	t.Setenv("ARENA_RULES_TTL", "30s")
	t.Setenv("PORT", "9090")

	cfg, err := LoadAPIFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://localhost/arena" {
		t.Fatalf("database url got %q", cfg.DatabaseURL)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("addr got %q want :9090", cfg.Addr)
	}
	if cfg.RulesTTL != 30*time.Second {
		t.Fatalf("rules ttl got %s", cfg.RulesTTL)
	}
	if !cfg.AutoMigrate || cfg.RequestTimeout != 20*time.Second || cfg.DBMaxConns != 20 {
		t.Fatalf("defaults got migrate=%v timeout=%s conns=%d", cfg.AutoMigrate, cfg.RequestTimeout, cfg.DBMaxConns)
	}
}

func TestLoadAPIRequiresSecrets(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/arena")
	t.Setenv("ARENA_JWT_SECRET", "")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatal("expected error without jwt secret")
	}
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ARENA_JWT_SECRET", "x")
	if _, err := LoadAPIFromEnv(); err == nil {
		t.Fatal("expected error without database url")
	}
}

func TestLoadWorkerFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/arena")
	t.Setenv("ARENA_SWEEP_EVERY", "15s")
	t.Setenv("ARENA_WORKER_RUN_ONCE", "true")

	cfg, err := LoadWorkerFromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SweepEvery != 15*time.Second || !cfg.RunOnce || cfg.DBMaxConns != 4 {
		t.Fatalf("got every=%s once=%v conns=%d", cfg.SweepEvery, cfg.RunOnce, cfg.DBMaxConns)
	}

	t.Setenv("ARENA_SWEEP_EVERY", "0s")
	if _, err := LoadWorkerFromEnv(); err == nil {
		t.Fatal("expected error for zero sweep interval")
	}
}

func TestLoadCLIFromEnv(t *testing.T) {
	t.Setenv("ARENACTL_API_BASE_URL", "https://arena.example.com/ ")
	if got := LoadCLIFromEnv().APIBaseURL; got != "https://arena.example.com" {
		t.Fatalf("got %q", got)
	}
}
