package deployctl

import (
	"context"
	"io"
	"net/http"

	"github.com/jinzoro/syseng-scripts/internal/backup"
	"github.com/jinzoro/syseng-scripts/internal/config"
	"github.com/jinzoro/syseng-scripts/internal/constants"
	"github.com/jinzoro/syseng-scripts/internal/db"
	"github.com/jinzoro/syseng-scripts/internal/deploy"
	"github.com/jinzoro/syseng-scripts/internal/health"
	"github.com/jinzoro/syseng-scripts/internal/logging"
	"github.com/jinzoro/syseng-scripts/internal/metrics"
	"github.com/jinzoro/syseng-scripts/internal/servicectl"
	"github.com/jinzoro/syseng-scripts/internal/stage"
	"github.com/jinzoro/syseng-scripts/internal/versionstore"
	"github.com/rs/zerolog"
)

// app is everything a command needs, built from the loaded configuration.
type app struct {
	cfg        *config.Config
	configFile string
	logger     zerolog.Logger
	store      *versionstore.Store
	backups    *backup.Manager
	controller servicectl.Controller
	history    *db.DB
	orch       *deploy.Orchestrator
}

func newApp(ctx context.Context, opts *rootOptions) (context.Context, *app, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, configFile, err := config.Load(opts.configPath)
	if err != nil {
		return ctx, nil, err
	}

	level := cfg.Log.Level
	if opts.debug {
		level = "debug"
	}
	logger, err := logging.New(logging.Config{Level: level, Format: cfg.Log.Format})
	if err != nil {
		return ctx, nil, err
	}
	ctx = logging.WithLogger(ctx, logger)
	if configFile != "" {
		logger.Debug().Str("config", configFile).Msg("Loaded configuration")
	}

	store := versionstore.New(cfg.RootDir)
	backups, err := backup.New(store, backup.Options{AgeRecipient: cfg.Backup.AgeRecipient})
	if err != nil {
		return ctx, nil, err
	}
	controller, err := servicectl.New(cfg, store.Layout())
	if err != nil {
		return ctx, nil, err
	}

	a := &app{
		cfg:        cfg,
		configFile: configFile,
		logger:     logger,
		store:      store,
		backups:    backups,
		controller: controller,
	}

	reporters := []deploy.Reporter{deploy.NewFileReporter(store.Layout())}
	if history, err := db.New(ctx, store.Layout().DBPath()); err != nil {
		logger.Warn().Err(err).Msg("History database unavailable, attempts will not be recorded")
	} else {
		a.history = history
		reporters = append(reporters, db.NewHistoryReporter(history, constants.HistoryAttemptsToKeep))
	}
	if cfg.Metrics.TextfileDir != "" {
		reporters = append(reporters, metrics.NewTextfileReporter(cfg.Metrics.TextfileDir))
	}

	verifier := health.NewVerifier(&http.Client{}, func(attempt int, err error) {
		if err != nil {
			logger.Info().Int("attempt", attempt).Err(err).Msg("Health probe failed")
			return
		}
		logger.Info().Int("attempt", attempt).Msg("Health probe passed")
	})

	a.orch = deploy.New(deploy.Deps{
		Store:      store,
		Backups:    backups,
		Stager:     stage.New(store, nil),
		Controller: controller,
		Verifier:   verifier,
		Reporters:  reporters,
	})
	return ctx, a, nil
}

func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Debug().Err(err).Msg("Failed to close history database")
		}
	}
	if c, ok := a.controller.(io.Closer); ok {
		_ = c.Close()
	}
}
