// Package ingest watches a folder for PGN files and reviews every game in
// them, writing one JSON batch report per file.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessreview/internal/analysis"
	"github.com/freeeve/chessreview/internal/game"
)

// Config configures the ingest worker.
type Config struct {
	WatchDir     string         // Directory to watch for PGN files
	ProcessedDir string         // Directory to move processed files to
	OutputDir    string         // Directory reports are written to
	RatingMin    int            // Skip games where either player is rated below this (0 = no filter)
	Parallel     int            // Games analyzed concurrently per file
	PollInterval time.Duration  // How often to check for new files
	Logger       zerolog.Logger // Logger
}

// Worker watches a folder and reviews PGN files.
type Worker struct {
	cfg      Config
	analyzer *analysis.Analyzer
	log      zerolog.Logger
}

// NewWorker creates a new ingest worker. It returns nil when no watch
// directory is configured.
func NewWorker(cfg Config, a *analysis.Analyzer) (*Worker, error) {
	if cfg.WatchDir == "" {
		return nil, nil // Disabled
	}
	if cfg.ProcessedDir == "" {
		cfg.ProcessedDir = filepath.Join(cfg.WatchDir, "processed")
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(cfg.WatchDir, "reviews")
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 1
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Second
	}

	// Ensure directories exist
	for _, dir := range []string{cfg.WatchDir, cfg.ProcessedDir, cfg.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	return &Worker{
		cfg:      cfg,
		analyzer: a,
		log:      cfg.Logger,
	}, nil
}

// Run polls the watch directory until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().
		Str("watch_dir", w.cfg.WatchDir).
		Str("processed_dir", w.cfg.ProcessedDir).
		Str("output_dir", w.cfg.OutputDir).
		Int("rating_min", w.cfg.RatingMin).
		Msg("ingest worker started")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := w.ProcessNewFiles(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.log.Warn().Err(err).Msg("process files failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ProcessNewFiles reviews every PGN file currently in the watch directory,
// in name order, and returns how many were processed. Files are moved to
// the processed directory once their report is written; a file interrupted
// by cancellation stays where it is and is picked up again next time.
func (w *Worker) ProcessNewFiles(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.cfg.WatchDir)
	if err != nil {
		return 0, err
	}

	// Collect PGN files
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isPGNFile(e.Name()) {
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return 0, nil
	}
	sort.Strings(files)
	w.log.Info().Int("files", len(files)).Msg("found PGN files to review")

	processed, failed := 0, 0
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		srcPath := filepath.Join(w.cfg.WatchDir, name)
		if err := w.processFile(ctx, srcPath); err != nil {
			if ctx.Err() != nil {
				return processed, ctx.Err()
			}
			w.log.Error().Err(err).Str("file", name).Msg("review failed")
			failed++
			continue
		}

		// Move to processed folder
		destPath := filepath.Join(w.cfg.ProcessedDir, name)
		if err := os.Rename(srcPath, destPath); err != nil {
			w.log.Warn().Err(err).Str("file", name).Msg("move to processed failed")
		}
		processed++
	}

	w.log.Info().Int("processed", processed).Int("failed", failed).Msg("batch complete")
	return processed, nil
}

// processFile reviews the games of one file and writes its report.
func (w *Worker) processFile(ctx context.Context, path string) error {
	start := time.Now()
	w.log.Info().Str("path", path).Msg("starting file review")

	games, skipped, err := game.ReadPGNFile(ctx, path, 0)
	if err != nil {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	kept := games[:0]
	for _, g := range games {
		if !w.rated(g) {
			skipped++
			continue
		}
		kept = append(kept, g)
	}

	batch := w.analyzer.AnalyzeGames(ctx, kept, w.cfg.Parallel, func(r *analysis.GameResult) {
		ev := w.log.Debug().Str("file", filepath.Base(path)).Int("game", r.Index).Str("info", r.Info)
		if r.Err != nil {
			ev = w.log.Warn().Err(r.Err).Str("file", filepath.Base(path)).Int("game", r.Index)
		}
		ev.Msg("game reviewed")
	})
	if err := ctx.Err(); err != nil {
		return err
	}

	out := filepath.Join(w.cfg.OutputDir, reportName(path))
	if err := writeReport(out, batch); err != nil {
		return err
	}

	elapsed := time.Since(start)
	w.log.Info().
		Str("file", filepath.Base(path)).
		Int("games", batch.TotalGames).
		Int("failed", batch.FailedGames).
		Int("skipped", skipped).
		Str("report", out).
		Dur("elapsed", elapsed).
		Msg("file review complete")
	return nil
}

// rated applies the rating filter. Unrated players never pass a non-zero
// minimum.
func (w *Worker) rated(g *game.Game) bool {
	if w.cfg.RatingMin <= 0 {
		return true
	}
	return parseRating(g.Tag("WhiteElo")) >= w.cfg.RatingMin &&
		parseRating(g.Tag("BlackElo")) >= w.cfg.RatingMin
}

func writeReport(path string, batch *analysis.BatchReport) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(batch); err != nil {
		f.Close()
		return errors.Join(err, os.Remove(tmp))
	}
	if err := f.Close(); err != nil {
		return errors.Join(err, os.Remove(tmp))
	}
	return os.Rename(tmp, path)
}

// reportName maps games.pgn and games.pgn.zst to games.review.json.
func reportName(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".zst")
	base = strings.TrimSuffix(base, ".pgn")
	return base + ".review.json"
}

func isPGNFile(name string) bool {
	ext := filepath.Ext(name)
	if ext == ".pgn" {
		return true
	}
	if ext == ".zst" {
		// Check for .pgn.zst
		base := name[:len(name)-4]
		return filepath.Ext(base) == ".pgn"
	}
	return false
}

func parseRating(s string) int {
	if s == "" || s == "?" || s == "-" {
		return 0
	}
	r, _ := strconv.Atoi(s)
	return r
}
