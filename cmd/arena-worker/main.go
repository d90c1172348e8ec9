package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"lootarena/internal/config"
	"lootarena/internal/db"
	"lootarena/internal/economy"
	"lootarena/internal/game"
	"lootarena/internal/rules"
	"lootarena/internal/store/pgstore"

	"github.com/go-co-op/gocron/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	rulesCache := rules.NewCache(rules.FileLoader{Path: cfg.RulesPath}, rules.TTLPolicy{TTL: cfg.SweepEvery}, logger)
	initial, err := rulesCache.Get(ctx)
	if err != nil {
		logger.Error("rules load failed", "path", cfg.RulesPath, "err", err)
		os.Exit(1)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{AppName: "arena-worker", MaxConns: cfg.DBMaxConns})
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	econ := economy.NewService(pool, logger, initial.Rating.Initial)
	svc := game.NewService(game.Deps{
		Store:    pgstore.New(pool, logger),
		Ledger:   econ,
		Risk:     econ,
		Shop:     econ,
		Seasons:  econ,
		Ratings:  econ,
		Profiles: econ,
	}, logger)

	sweep := func() {
		cfgNow, err := rulesCache.Get(ctx)
		if err != nil {
			logger.Error("rules read failed", "err", err)
			return
		}
		report, err := svc.Sweep(ctx, cfgNow)
		if err != nil {
			logger.Error("sweep failed", "err", err)
			return
		}
		logger.Info("sweep complete",
			"expired_arena", report.ExpiredSessions[game.VariantArena],
			"expired_raid", report.ExpiredSessions[game.VariantRaid],
			"expired_pvp", report.ExpiredSessions[game.VariantPvP],
			"expired_queue", report.ExpiredQueue,
			"boss_wave", report.BossWave,
		)
	}

	if cfg.RunOnce {
		sweep()
		logger.Info("worker run-once completed")
		return
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		logger.Error("scheduler init failed", "err", err)
		os.Exit(1)
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(cfg.SweepEvery),
		gocron.NewTask(sweep),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		logger.Error("schedule sweep failed", "err", err)
		os.Exit(1)
	}
	sched.Start()
	logger.Info("worker started", "sweep_every", cfg.SweepEvery.String())

	<-ctx.Done()
	if err := sched.Shutdown(); err != nil {
		logger.Warn("scheduler shutdown", "err", err)
	}
	logger.Info("worker shutdown")
}
