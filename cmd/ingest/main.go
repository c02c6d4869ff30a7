// Command ingest watches a folder for PGN files and writes a JSON review
// for each one.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/freeeve/chessreview/internal/bootstrap"
	"github.com/freeeve/chessreview/internal/config"
	"github.com/freeeve/chessreview/internal/eval"
	"github.com/freeeve/chessreview/internal/ingest"
	"github.com/freeeve/chessreview/internal/logx"
)

func main() {
	var (
		configPath    = flag.String("config", "", "YAML config file (optional)")
		watchDir      = flag.String("dir", "", "Directory to watch for PGN files (overrides ingest.dir)")
		outputDir     = flag.String("out", "", "Directory reviews are written to")
		ratingMin     = flag.Int("rating-min", 0, "Rating floor for games (0 = all games)")
		parallel      = flag.Int("parallel", 0, "Games analyzed concurrently")
		stockfishPath = flag.String("stockfish", "", "path to Stockfish executable (replaces the profile chain)")
		once          = flag.Bool("once", false, "Process the current files and exit")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "dir":
			cfg.Ingest.Dir = *watchDir
		case "out":
			cfg.Ingest.OutputDir = *outputDir
		case "rating-min":
			cfg.Ingest.RatingMin = *ratingMin
		case "parallel":
			cfg.Ingest.Parallel = *parallel
		case "stockfish":
			cfg.Engine.Path = *stockfishPath
			cfg.Engine.Profiles = eval.DefaultProfiles(*stockfishPath)
		}
	})
	if cfg.Ingest.Dir == "" {
		fmt.Fprintln(os.Stderr, "Usage: ingest -dir <watch dir> [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	logger := logx.NewLogger(cfg.Log.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := bootstrap.Setup(cfg, logger, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup")
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error().Err(err).Msg("close")
		}
	}()

	worker, err := newWorker(cfg, app)
	if err != nil {
		logger.Fatal().Err(err).Msg("create ingest worker")
	}

	if *once {
		n, err := worker.ProcessNewFiles(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("ingest failed")
		}
		logger.Info().Int("files", n).Msg("ingest finished")
		return
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("ingest worker stopped")
	}
	logger.Info().Msg("shutdown complete")
}

func newWorker(cfg *config.Config, app *bootstrap.App) (*ingest.Worker, error) {
	return ingest.NewWorker(ingest.Config{
		WatchDir:     cfg.Ingest.Dir,
		ProcessedDir: cfg.Ingest.ProcessedDir,
		OutputDir:    cfg.Ingest.OutputDir,
		RatingMin:    cfg.Ingest.RatingMin,
		Parallel:     cfg.Ingest.Parallel,
		PollInterval: cfg.Ingest.PollInterval,
		Logger:       app.Logger.With().Str("component", "ingest").Logger(),
	}, app.Analyzer)
}
