package analysis

import (
	"math"
	"time"

	"github.com/samber/lo"

	"github.com/freeeve/chessreview/internal/accuracy"
	"github.com/freeeve/chessreview/internal/classify"
	"github.com/freeeve/chessreview/internal/eco"
	"github.com/freeeve/chessreview/internal/eval"
	"github.com/freeeve/chessreview/internal/game"
)

// terminalEngine names results synthesized for finished positions.
const terminalEngine = "terminal"

// EvaluatedMove is a played move with its classification.
type EvaluatedMove struct {
	Move game.Move `json:"move"`
	classify.Output
	BestSAN string      `json:"best_san,omitempty"`
	Lines   []eval.Line `json:"lines,omitempty"` // before the move, relative to the mover
	Engine  string      `json:"engine,omitempty"`
}

// SideSummary aggregates one side's moves.
type SideSummary struct {
	Color    game.Color             `json:"color"`
	Player   string                 `json:"player,omitempty"`
	Moves    int                    `json:"moves"`
	Accuracy float64                `json:"accuracy"` // 0-1
	Rating   int                    `json:"rating"`
	Counts   map[classify.Label]int `json:"counts"`

	AverageCentipawnLoss float64 `json:"acpl"`
	AverageWinLoss       float64 `json:"avg_win_loss"`
	Weighted             float64 `json:"weighted"` // 0-100
	Harmonic             float64 `json:"harmonic"` // 0-100
}

// Report is the review of one game.
type Report struct {
	Tags      map[string]string `json:"tags,omitempty"`
	Start     game.Position     `json:"start"`
	Moves     []EvaluatedMove   `json:"moves"`
	Sides     [2]SideSummary    `json:"sides"`
	Opening   *eco.Opening      `json:"opening,omitempty"`
	Engines   []string          `json:"engines"`
	Positions int               `json:"positions"`
	Evaluated int               `json:"evaluated"`
	Complete  bool              `json:"complete"`
	Cancelled bool              `json:"cancelled"`
	Duration  time.Duration     `json:"duration"`
}

// Assemble classifies and summarizes g from its position evaluations.
// results[i] belongs to position i of g.Positions(); missing or empty
// entries are treated as unevaluated.
func (a *Analyzer) Assemble(g *game.Game, results []eval.EvaluatedPosition, cancelled bool) *Report {
	positions := g.Positions()
	evals := make([]eval.EvaluatedPosition, len(positions))
	for i, pos := range positions {
		if i < len(results) {
			evals[i] = results[i]
		}
		evals[i].Position = pos
	}
	a.recordCache(evals)
	fillTerminal(evals)

	opening, bookMoves := a.cfg.Openings.Classify(g.Moves)

	rep := &Report{
		Tags:      g.Tags,
		Start:     g.Start,
		Moves:     make([]EvaluatedMove, len(g.Moves)),
		Opening:   opening,
		Positions: len(evals),
		Cancelled: cancelled,
	}

	var prev *classify.Output
	for i, m := range g.Moves {
		out := classify.Classify(classify.Input{
			Move:     m,
			Before:   evals[i],
			After:    evals[i+1],
			Previous: prev,
			First:    i == 0,
			Book:     i < bookMoves,
		}, a.cfg.Thresholds)

		em := EvaluatedMove{
			Move:   m,
			Output: out,
			Lines:  evals[i].Lines,
			Engine: evals[i].Engine,
		}
		if out.BestMove != "" {
			if san, err := game.UCIToSAN(m.Before, out.BestMove); err == nil {
				em.BestSAN = san
			}
		}
		rep.Moves[i] = em
		prev = &rep.Moves[i].Output
	}

	rep.Evaluated = lo.CountBy(evals, func(e eval.EvaluatedPosition) bool { return e.Evaluated() })
	rep.Complete = rep.Evaluated == len(evals) && !cancelled
	rep.Engines = lo.Uniq(lo.FilterMap(evals, func(e eval.EvaluatedPosition, _ int) (string, bool) {
		return e.Engine, e.Engine != "" && e.Engine != terminalEngine
	}))

	start := 50.0
	if best, ok := evals[0].Best(); ok {
		start = accuracy.ForColor(accuracy.WinPercent(best.Score), g.Start.SideToMove())
	}
	summaries := accuracy.Aggregate(samples(rep.Moves, start))
	for c := game.White; c <= game.Black; c++ {
		rep.Sides[c] = summarize(c, rep.Moves, summaries[c])
		rep.Sides[c].Player = g.Tag(titleCase(c))
	}
	return rep
}

// samples builds the accuracy input. Unevaluated moves are skipped and the
// last known white win% is carried across them.
func samples(moves []EvaluatedMove, start float64) []accuracy.Sample {
	out := make([]accuracy.Sample, len(moves))
	last := start
	for i, m := range moves {
		s := accuracy.Sample{Color: m.Move.Color, Before: last, After: last, Skip: !m.Evaluated}
		if m.Evaluated {
			s.Before = accuracy.ForColor(m.WinBefore, m.Move.Color)
			s.After = m.Graph
			s.Top = m.Label.IsTopTier()
			last = s.After
		}
		out[i] = s
	}
	return out
}

func summarize(c game.Color, moves []EvaluatedMove, acc accuracy.Summary) SideSummary {
	mine := lo.Filter(moves, func(m EvaluatedMove, _ int) bool { return m.Move.Color == c })
	labels := lo.FilterMap(mine, func(m EvaluatedMove, _ int) (classify.Label, bool) {
		return m.Label, m.Label != classify.Unknown
	})
	scored := lo.Filter(mine, func(m EvaluatedMove, _ int) bool {
		return m.Evaluated && m.Label != classify.Book
	})

	s := SideSummary{
		Color:          c,
		Moves:          len(mine),
		Accuracy:       acc.Accuracy / 100,
		Counts:         lo.CountValues(labels),
		Weighted:       acc.Weighted,
		Harmonic:       acc.Harmonic,
		AverageWinLoss: acc.AvgLoss,
	}
	if len(scored) > 0 {
		total := lo.SumBy(scored, func(m EvaluatedMove) int { return m.CentipawnLoss })
		s.AverageCentipawnLoss = float64(total) / float64(len(scored))
	}
	if acc.HasSamples {
		s.Rating = EstimateRating(acc.Accuracy)
	}
	return s
}

// fillTerminal gives checkmate and stalemate positions the evaluation an
// engine would report for them when none was produced.
func fillTerminal(evals []eval.EvaluatedPosition) {
	for i, e := range evals {
		if e.Evaluated() || game.Validate(e.Position) != nil || game.LegalMoveCount(e.Position) > 0 {
			continue
		}
		score := eval.CP(0)
		if game.InCheck(e.Position) {
			score = eval.MateIn(0)
		}
		evals[i].Lines = []eval.Line{{Rank: 1, Score: score}}
		evals[i].Engine = terminalEngine
	}
}

func (a *Analyzer) recordCache(evals []eval.EvaluatedPosition) {
	if a.cfg.Cache == nil {
		return
	}
	for _, e := range evals {
		if e.Engine != "" && e.Engine != a.cfg.Cache.Name() {
			a.cfg.Cache.Record(e)
		}
	}
}

func titleCase(c game.Color) string {
	if c == game.Black {
		return "Black"
	}
	return "White"
}

var ratingPoints = []struct {
	accuracy float64
	rating   int
}{
	{50, 400}, {60, 800}, {70, 1200}, {76, 1450}, {80, 1650},
	{84, 1850}, {87, 2000}, {90, 2200}, {93, 2400}, {95, 2600},
	{97, 2800}, {99, 3000},
}

// EstimateRating maps a 0-100 game accuracy to an approximate rating by
// interpolating between calibration points.
func EstimateRating(acc float64) int {
	first, last := ratingPoints[0], ratingPoints[len(ratingPoints)-1]
	if acc >= last.accuracy {
		return last.rating
	}
	if acc <= first.accuracy {
		// 8 rating points per accuracy point below the table, floored at 100
		r := float64(first.rating) - 8*(first.accuracy-acc)
		return int(math.Max(100, math.Round(r)))
	}
	for i := 1; i < len(ratingPoints); i++ {
		if acc <= ratingPoints[i].accuracy {
			lower, upper := ratingPoints[i-1], ratingPoints[i]
			t := (acc - lower.accuracy) / (upper.accuracy - lower.accuracy)
			return int(math.Round(float64(lower.rating) + t*float64(upper.rating-lower.rating)))
		}
	}
	return last.rating
}
