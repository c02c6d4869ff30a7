package analysis

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/freeeve/chessreview/internal/classify"
	"github.com/freeeve/chessreview/internal/game"
)

// GameResult is the outcome of reviewing one game of a batch.
type GameResult struct {
	Index  int     `json:"index"`
	Info   string  `json:"info"` // e.g. "Carlsen vs Nakamura"
	Err    error   `json:"-"`
	Report *Report `json:"report,omitempty"`
}

// PlayerStats aggregates one player's games.
type PlayerStats struct {
	Name          string                 `json:"name"`
	GamesPlayed   int                    `json:"games"`
	TotalMoves    int                    `json:"moves"`
	Counts        map[classify.Label]int `json:"counts"`
	TotalAccuracy float64                `json:"-"`
	TotalACPL     float64                `json:"-"`
	AvgAccuracy   float64                `json:"accuracy"`
	AvgACPL       float64                `json:"acpl"`
	AvgRating     int                    `json:"rating"`
}

// BatchReport aggregates the reviews of several games per player.
type BatchReport struct {
	Games           []*GameResult           `json:"games"`
	PlayerStats     map[string]*PlayerStats `json:"players"`
	TotalGames      int                     `json:"total"`
	SuccessfulGames int                     `json:"successful"`
	FailedGames     int                     `json:"failed"`
}

func NewBatchReport() *BatchReport {
	return &BatchReport{
		Games:       make([]*GameResult, 0),
		PlayerStats: make(map[string]*PlayerStats),
	}
}

// AddGameResult records a game and folds its sides into the player stats.
func (b *BatchReport) AddGameResult(r *GameResult) {
	b.Games = append(b.Games, r)
	b.TotalGames++

	if r.Err != nil || r.Report == nil {
		b.FailedGames++
		return
	}
	b.SuccessfulGames++

	for _, side := range r.Report.Sides {
		name := side.Player
		if name == "" {
			name = side.Color.String()
		}
		stats, ok := b.PlayerStats[name]
		if !ok {
			stats = &PlayerStats{Name: name, Counts: make(map[classify.Label]int)}
			b.PlayerStats[name] = stats
		}
		stats.GamesPlayed++
		stats.TotalMoves += side.Moves
		stats.TotalAccuracy += side.Accuracy
		stats.TotalACPL += side.AverageCentipawnLoss
		for label, n := range side.Counts {
			stats.Counts[label] += n
		}
	}
}

// CalculateAverages fills the per-player averages.
func (b *BatchReport) CalculateAverages() {
	for _, stats := range b.PlayerStats {
		if stats.GamesPlayed == 0 {
			continue
		}
		stats.AvgAccuracy = stats.TotalAccuracy / float64(stats.GamesPlayed)
		stats.AvgACPL = stats.TotalACPL / float64(stats.GamesPlayed)
		stats.AvgRating = EstimateRating(stats.AvgAccuracy * 100)
	}
}

// Players returns the player stats sorted by name.
func (b *BatchReport) Players() []*PlayerStats {
	out := make([]*PlayerStats, 0, len(b.PlayerStats))
	for _, s := range b.PlayerStats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GameInfo describes a game by its players.
func GameInfo(g *game.Game) string {
	white, black := g.Tag("White"), g.Tag("Black")
	if white == "" && black == "" {
		return fmt.Sprintf("%d moves", len(g.Moves))
	}
	return fmt.Sprintf("%s vs %s", white, black)
}

// AnalyzeGames reviews games with at most parallel analyses in flight (each
// analysis runs its own engine pool). onGame, if set, is called as each game
// finishes, concurrently when parallel > 1.
func (a *Analyzer) AnalyzeGames(ctx context.Context, games []*game.Game, parallel int, onGame func(*GameResult)) *BatchReport {
	if parallel <= 0 {
		parallel = 1
	}
	results := make([]*GameResult, len(games))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)
	for i, gm := range games {
		g.Go(func() error {
			res := &GameResult{Index: i, Info: GameInfo(gm)}
			if gctx.Err() != nil {
				res.Err = gctx.Err()
			} else {
				res.Report, res.Err = a.Analyze(gctx, gm, nil)
			}
			results[i] = res
			if onGame != nil {
				onGame(res)
			}
			return nil
		})
	}
	_ = g.Wait()

	batch := NewBatchReport()
	for _, r := range results {
		batch.AddGameResult(r)
	}
	batch.CalculateAverages()
	return batch
}
