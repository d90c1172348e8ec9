package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type APIConfig struct {
	Addr           string        `env:"ARENA_API_ADDR" envDefault:":8080"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	JWTSecret      string        `env:"ARENA_JWT_SECRET"`
	RulesPath      string        `env:"ARENA_RULES_PATH"`
	RulesTTL       time.Duration `env:"ARENA_RULES_TTL" envDefault:"1m"`
	AutoMigrate    bool          `env:"ARENA_AUTO_MIGRATE" envDefault:"true"`
	RequestTimeout time.Duration `env:"ARENA_REQUEST_TIMEOUT" envDefault:"20s"`
	DBMaxConns     int32         `env:"ARENA_DB_MAX_CONNS" envDefault:"20"`
}

type WorkerConfig struct {
	DatabaseURL string        `env:"DATABASE_URL"`
	RulesPath   string        `env:"ARENA_RULES_PATH"`
	SweepEvery  time.Duration `env:"ARENA_SWEEP_EVERY" envDefault:"1m"`
	RunOnce     bool          `env:"ARENA_WORKER_RUN_ONCE" envDefault:"false"`
	DBMaxConns  int32         `env:"ARENA_DB_MAX_CONNS" envDefault:"4"`
}

type CLIConfig struct {
	APIBaseURL string `env:"ARENACTL_API_BASE_URL" envDefault:"http://localhost:8080"`
}

// LoadDotEnv reads a .env file from the working directory when one exists.
// Variables already set in the environment win.
func LoadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load .env: %w", err)
}

func LoadAPIFromEnv() (APIConfig, error) {
	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("ARENA_JWT_SECRET is required")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SweepEvery <= 0 {
		return cfg, fmt.Errorf("ARENA_SWEEP_EVERY must be > 0")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	var cfg CLIConfig
	if err := env.Parse(&cfg); err != nil {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	return cfg
}
