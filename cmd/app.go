package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/moutai-scheduler/internal/config"
	"github.com/example/moutai-scheduler/internal/db"
	"github.com/example/moutai-scheduler/internal/migrate"
	"github.com/example/moutai-scheduler/internal/moutai"
	"github.com/example/moutai-scheduler/internal/notify"
	"github.com/example/moutai-scheduler/internal/reconcile"
	"github.com/example/moutai-scheduler/internal/reserve"
	"github.com/example/moutai-scheduler/internal/scheduler"
	"github.com/example/moutai-scheduler/internal/store"
	"github.com/example/moutai-scheduler/internal/tokenwatch"
)

// app is the wired service graph shared by the server and the manual
// task runner.
type app struct {
	cfg   config.Config
	log   zerolog.Logger
	db    *db.DB
	sched *scheduler.Service
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).Level(lvl).With().Timestamp().Logger()
}

func newApp(ctx context.Context, migrateUp bool) (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg.LogLevel)

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	d, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := d.Ping(ctx); err != nil {
		d.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if migrateUp {
		if err := migrate.Up(ctx, d); err != nil {
			d.Close()
			return nil, err
		}
	}

	accounts := store.NewAccountRepo(d)
	attempts := store.NewAttemptRepo(d)
	items := store.NewItemRepo(d)

	client := moutai.New(moutai.Config{
		BaseURL:     cfg.APIBaseURL,
		StaticURL:   cfg.StaticBaseURL,
		H5URL:       cfg.H5BaseURL,
		AppStoreURL: cfg.AppStoreURL,
		Timeout:     cfg.HTTPTimeout,
		RatePerSec:  cfg.RatePerSec,
	}, log)
	notifier := notify.New(cfg.Notify, log)

	orch := &reserve.Orchestrator{
		Accounts: accounts,
		Attempts: attempts,
		Catalog:  items,
		Client:   client,
		Notifier: notifier,
		Log:      log.With().Str("component", "reserve").Logger(),
		Workers:  cfg.Workers,
	}
	recon := &reconcile.Reconciler{
		Accounts: accounts,
		Attempts: attempts,
		Client:   client,
		Notifier: notifier,
		Log:      log.With().Str("component", "reconcile").Logger(),
	}
	monitor := &tokenwatch.Monitor{
		Accounts: accounts,
		Notifier: notifier,
		Log:      log.With().Str("component", "tokenwatch").Logger(),
	}

	sched := scheduler.New(log.With().Str("component", "scheduler").Logger(), loc,
		scheduler.WithTimeout(cfg.TickTimeout))

	type line struct {
		kind scheduler.TaskKind
		spec string
		fn   scheduler.TaskFunc
	}
	lines := []line{
		{scheduler.TaskCatalogRefresh, specOr(cfg.Specs.CatalogRefresh, scheduler.SpecCatalogRefresh),
			func(ctx context.Context, _ time.Time) error { return orch.RefreshCatalog(ctx) }},
		{scheduler.TaskReservation, specOr(cfg.Specs.Reservation, scheduler.SpecReservation),
			orch.RunMinute},
		{scheduler.TaskSideQuests, specOr(cfg.Specs.SideQuests, scheduler.SpecSideQuests),
			func(ctx context.Context, _ time.Time) error { return orch.RunSideQuests(ctx) }},
		{scheduler.TaskReconcile, specOr(cfg.Specs.Reconcile, scheduler.SpecReconcile),
			func(ctx context.Context, _ time.Time) error { return recon.Run(ctx) }},
		{scheduler.TaskTokenSweep, specOr(cfg.Specs.TokenSweep, scheduler.SpecTokenSweep),
			func(ctx context.Context, _ time.Time) error { return monitor.Run(ctx) }},
	}
	for _, l := range lines {
		if err := sched.Register(l.kind, l.spec, l.fn); err != nil {
			d.Close()
			return nil, err
		}
	}

	return &app{cfg: cfg, log: log, db: d, sched: sched}, nil
}

func (a *app) Close() { a.db.Close() }

func specOr(override, def string) string {
	if override != "" {
		return override
	}
	return def
}
