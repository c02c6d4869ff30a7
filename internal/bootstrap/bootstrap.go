// Package bootstrap wires the configured components into a ready Analyzer.
package bootstrap

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessreview/internal/analysis"
	"github.com/freeeve/chessreview/internal/config"
	"github.com/freeeve/chessreview/internal/eco"
	"github.com/freeeve/chessreview/internal/eval"
	"github.com/freeeve/chessreview/internal/store"
)

// App holds the long-lived components shared by the commands.
type App struct {
	Config    *config.Config
	Logger    zerolog.Logger
	Cache     *store.EvalCache
	Remote    *eval.RemoteClient // nil when disabled
	Openings  *eco.Database      // nil when not loaded
	Scheduler *eval.Scheduler
	Analyzer  *analysis.Analyzer
}

// Setup builds the App. start overrides how engines are launched (nil for
// the real drivers). Missing cache files and ECO data are logged and
// skipped; they never prevent startup.
func Setup(cfg *config.Config, logger zerolog.Logger, start eval.Starter) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	app.Cache = store.NewEvalCache(cfg.Cache.MaxEntries)
	for _, path := range cfg.Cache.Files {
		n, err := app.Cache.LoadFromFile(path)
		if err != nil {
			logger.Warn().Err(err).Str("file", path).Msg("failed to load eval cache")
			continue
		}
		logger.Info().Int("positions", n).Str("file", path).Msg("eval cache loaded")
	}
	lookups := []eval.Lookup{app.Cache}

	if cfg.Remote.Enabled {
		app.Remote = eval.NewRemoteClient(eval.RemoteConfig{
			BaseURL:  cfg.Remote.BaseURL,
			Timeout:  cfg.Remote.Timeout,
			Attempts: cfg.Remote.Attempts,
			Logger:   logger,
		})
		lookups = append(lookups, app.Remote)
	}

	if cfg.ECO.Dir != "" {
		db := eco.NewDatabase()
		if err := db.LoadDir(cfg.ECO.Dir); err != nil {
			logger.Warn().Err(err).Str("dir", cfg.ECO.Dir).Msg("failed to load ECO database")
		} else {
			app.Openings = db
			logger.Info().Int("openings", db.Count()).Msg("ECO database loaded")
		}
	}

	app.Scheduler = eval.NewScheduler(eval.SchedulerConfig{
		Profiles:        cfg.Engine.Profiles,
		Logger:          logger,
		Start:           start,
		TimeoutPerDepth: cfg.Analysis.TimeoutPerDepth,
		MinTimeout:      cfg.Analysis.MinTimeout,
		Lookups:         lookups,
	})

	a, err := analysis.New(analysis.Config{
		Scheduler:   app.Scheduler,
		Openings:    app.Openings,
		Cache:       app.Cache,
		Logger:      logger,
		Depth:       cfg.Analysis.Depth,
		AllowTime:   cfg.Analysis.AllowTime,
		MaxMoveTime: cfg.Analysis.MaxMoveTime,
		PoolSize:    cfg.Analysis.PoolSize,
		MultiPV:     cfg.Analysis.MultiPV,
		Thresholds:  cfg.Analysis.Thresholds,
	})
	if err != nil {
		return nil, fmt.Errorf("create analyzer: %w", err)
	}
	app.Analyzer = a
	return app, nil
}

// Close persists the evaluation cache when cache.save_to is set.
func (a *App) Close() error {
	path := a.Config.Cache.SaveTo
	if path == "" || a.Cache == nil {
		return nil
	}
	// keep the extension so the compression choice survives
	tmp := filepath.Join(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	n, err := a.Cache.SaveToFile(tmp)
	if err != nil {
		return errors.Join(fmt.Errorf("save eval cache: %w", err), os.Remove(tmp))
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("save eval cache: %w", err)
	}
	a.Logger.Info().Int("positions", n).Str("file", path).Msg("eval cache saved")
	return nil
}
