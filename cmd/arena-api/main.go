package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lootarena/internal/api"
	"lootarena/internal/auth"
	"lootarena/internal/config"
	"lootarena/internal/db"
	"lootarena/internal/economy"
	"lootarena/internal/game"
	"lootarena/internal/rules"
	"lootarena/internal/store/pgstore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	rulesCache := rules.NewCache(rules.FileLoader{Path: cfg.RulesPath}, rules.TTLPolicy{TTL: cfg.RulesTTL}, logger)
	initial, err := rulesCache.Get(ctx)
	if err != nil {
		logger.Error("rules load failed", "path", cfg.RulesPath, "err", err)
		os.Exit(1)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{AppName: "arena-api", MaxConns: cfg.DBMaxConns})
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("migrate failed", "err", err)
			os.Exit(1)
		}
	}

	econ := economy.NewService(pool, logger, initial.Rating.Initial)
	if _, err := econ.ActiveSeasonID(ctx); err != nil {
		logger.Error("active season init failed", "err", err)
		os.Exit(1)
	}

	gameSvc := game.NewService(game.Deps{
		Store:    pgstore.New(pool, logger),
		Ledger:   econ,
		Risk:     econ,
		Shop:     econ,
		Seasons:  econ,
		Ratings:  econ,
		Profiles: econ,
	}, logger)

	hub := api.NewHub(logger)
	go hub.Run(ctx)
	gameSvc.SetPublisher(hub)

	verifier := auth.NewVerifier(cfg.JWTSecret, 0)
	server := api.New(cfg, logger, verifier, econ, gameSvc, rulesCache, hub)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("arena api listening", "addr", cfg.Addr, "rules_path", cfg.RulesPath)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
