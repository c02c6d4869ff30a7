package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/freeeve/chessreview/internal/bootstrap"
	"github.com/freeeve/chessreview/internal/config"
	"github.com/freeeve/chessreview/internal/eval"
	"github.com/freeeve/chessreview/internal/httpapi"
	"github.com/freeeve/chessreview/internal/ingest"
	"github.com/freeeve/chessreview/internal/logx"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file (optional)")

		// Server
		addr    = flag.String("addr", "", "listen address (overrides server.addr)")
		maxRuns = flag.Int("max-runs", 0, "concurrent analyses (overrides server.max_runs)")

		// Engine
		stockfishPath = flag.String("stockfish", "", "path to Stockfish executable (replaces the profile chain)")

		// Analysis
		depth    = flag.Int("depth", 0, "search depth per position (overrides analysis.depth)")
		poolSize = flag.Int("pool-size", 0, "engine handles per analysis, 0 = auto")

		// Data
		ecoDir    = flag.String("eco-dir", "", "directory containing ECO .tsv files")
		saveTo    = flag.String("save-cache", "", "write the eval cache here on shutdown")
		ingestDir = flag.String("ingest-dir", "", "Directory to watch for PGN files (empty = disabled)")

		logLevel = flag.String("log-level", "", "debug, info, warn, error")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log := logx.NewLogger("info")
		log.Fatal().Err(err).Msg("load config")
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["addr"] {
		cfg.Server.Addr = *addr
	}
	if set["max-runs"] {
		cfg.Server.MaxRuns = *maxRuns
	}
	if set["stockfish"] {
		cfg.Engine.Path = *stockfishPath
		cfg.Engine.Profiles = eval.DefaultProfiles(*stockfishPath)
	}
	if set["depth"] {
		cfg.Analysis.Depth = *depth
	}
	if set["pool-size"] {
		cfg.Analysis.PoolSize = *poolSize
	}
	if set["eco-dir"] {
		cfg.ECO.Dir = *ecoDir
	}
	if set["save-cache"] {
		cfg.Cache.SaveTo = *saveTo
	}
	if set["ingest-dir"] {
		cfg.Ingest.Dir = *ingestDir
	}
	if set["log-level"] {
		cfg.Log.Level = *logLevel
	}

	logger := logx.NewLogger(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	app, err := bootstrap.Setup(cfg, logger, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup")
	}
	logger.Info().
		Int("profiles", len(cfg.Engine.Profiles)).
		Str("engine", cfg.Engine.Profiles[0].Path).
		Int("depth", cfg.Analysis.Depth).
		Int("cached", app.Cache.Len()).
		Bool("remote", app.Remote != nil).
		Msg("analyzer ready")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpapi.NewRouter(ctx, logger, app),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api server")
		}
	}()

	// Start ingest worker if configured
	worker, err := ingest.NewWorker(ingest.Config{
		WatchDir:     cfg.Ingest.Dir,
		ProcessedDir: cfg.Ingest.ProcessedDir,
		OutputDir:    cfg.Ingest.OutputDir,
		RatingMin:    cfg.Ingest.RatingMin,
		Parallel:     cfg.Ingest.Parallel,
		PollInterval: cfg.Ingest.PollInterval,
		Logger:       logger.With().Str("component", "ingest").Logger(),
	}, app.Analyzer)
	if err != nil {
		logger.Fatal().Err(err).Msg("create ingest worker")
	}
	ingestDone := make(chan struct{})
	if worker != nil {
		go func() {
			defer close(ingestDone)
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("ingest worker stopped")
			}
		}()
		logger.Info().Str("watch_dir", cfg.Ingest.Dir).Msg("started ingest worker")
	} else {
		close(ingestDone)
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}

	<-ingestDone

	// Running analyses were cancelled with ctx; persist what they evaluated
	if err := app.Close(); err != nil {
		logger.Error().Err(err).Msg("close")
		os.Exit(1)
	}

	logger.Info().Msg("shutdown complete")
}
