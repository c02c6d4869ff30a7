// Command review analyzes the games of a PGN file and prints a move-by-move
// review with per-side accuracy.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/freeeve/chessreview/internal/analysis"
	"github.com/freeeve/chessreview/internal/bootstrap"
	"github.com/freeeve/chessreview/internal/config"
	"github.com/freeeve/chessreview/internal/eval"
	"github.com/freeeve/chessreview/internal/game"
	"github.com/freeeve/chessreview/internal/logx"
)

func main() {
	var (
		configPath    = flag.String("config", "", "YAML config file (optional)")
		stockfishPath = flag.String("stockfish", "", "path to Stockfish executable (replaces the profile chain)")
		depth         = flag.Int("depth", 0, "search depth per position (overrides analysis.depth)")
		poolSize      = flag.Int("pool-size", 0, "engine handles per game, 0 = auto")
		parallel      = flag.Int("parallel", 1, "games analyzed concurrently")
		limit         = flag.Int("limit", 0, "analyze at most this many games, 0 = all")
		ecoDir        = flag.String("eco-dir", "", "directory containing ECO .tsv files")
		jsonOut       = flag.Bool("json", false, "print the batch report as JSON")
		logLevel      = flag.String("log-level", "", "debug, info, warn, error")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] games.pgn\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log := logx.NewStderrLogger("info")
		log.Fatal().Err(err).Msg("load config")
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "stockfish":
			cfg.Engine.Path = *stockfishPath
			cfg.Engine.Profiles = eval.DefaultProfiles(*stockfishPath)
		case "depth":
			cfg.Analysis.Depth = *depth
		case "pool-size":
			cfg.Analysis.PoolSize = *poolSize
		case "eco-dir":
			cfg.ECO.Dir = *ecoDir
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})
	if !isFlagSet("log-level") && cfg.Log.Level == "info" {
		cfg.Log.Level = "warn"
	}

	logger := logx.NewStderrLogger(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	games, skipped, err := game.ReadPGNFile(ctx, flag.Arg(0), *limit)
	if err != nil && len(games) == 0 {
		logger.Fatal().Err(err).Str("file", flag.Arg(0)).Msg("read games")
	}
	if skipped > 0 {
		logger.Warn().Int("skipped", skipped).Msg("games with unplayable moves skipped")
	}

	app, err := bootstrap.Setup(cfg, logger, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("setup")
	}

	var mu sync.Mutex
	batch := app.Analyzer.AnalyzeGames(ctx, games, *parallel, func(r *analysis.GameResult) {
		if *jsonOut {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		printGame(os.Stdout, r)
	})

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(batch); err != nil {
			logger.Error().Err(err).Msg("encode report")
		}
	} else if len(games) > 1 {
		printPlayers(os.Stdout, batch)
	}

	if err := app.Close(); err != nil {
		logger.Error().Err(err).Msg("close")
	}
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "interrupted: reports above are partial")
		os.Exit(130)
	}
	if batch.FailedGames > 0 {
		os.Exit(1)
	}
}

func isFlagSet(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
