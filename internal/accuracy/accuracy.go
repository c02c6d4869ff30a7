// Package accuracy converts evaluations into win percentages and aggregates
// per-move accuracy into a game accuracy per side.
//
// The model follows the volatility-weighted scheme popularized by Lichess:
// every move's accuracy is derived from the mover's win-percentage drop, and
// moves played in sharp phases (high win% standard deviation) weigh more.
// The final figure averages the weighted mean with the harmonic mean, which
// punishes isolated blunders.
package accuracy

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/freeeve/chessreview/internal/eval"
	"github.com/freeeve/chessreview/internal/game"
)

const (
	winK = 0.00368208

	minWindow = 2
	maxWindow = 8

	minWeight = 0.5
	maxWeight = 12
)

// WinPercentFromCP maps a centipawn score to a 0-100 win percentage.
func WinPercentFromCP(cp int) float64 {
	w := 50 + 50*(2/(1+math.Exp(-winK*float64(cp)))-1)
	return clamp(w, 0, 100)
}

// WinPercent maps a score to a win percentage for the side it is relative
// to. Mates saturate to 0 or 100.
func WinPercent(s eval.Score) float64 {
	if s.IsMate() {
		if s.Value > 0 {
			return 100
		}
		return 0
	}
	return WinPercentFromCP(s.Value)
}

// ForColor converts a white win percentage to color c's.
func ForColor(white float64, c game.Color) float64 {
	if c == game.Black {
		return 100 - white
	}
	return white
}

// MoveAccuracy is the accuracy of a move given the mover's win percentage
// before and after it.
func MoveAccuracy(before, after float64) float64 {
	loss := math.Max(0, before-after)
	return clamp(103.1668*math.Exp(-0.04354*loss)-3.1669, 0, 100)
}

// WindowSize is the volatility window length for a game of n moves.
func WindowSize(n int) int {
	return int(clamp(float64(n/10), minWindow, maxWindow))
}

// VolatilityWeights returns one weight per move for the win-percentage
// sequence wp (len(wp) = moves+1). Windows slide over wp; the start is padded
// by repeating the first window so the count matches the move count.
func VolatilityWeights(wp []float64) []float64 {
	moves := len(wp) - 1
	if moves < 1 {
		return nil
	}
	size := WindowSize(moves)
	if size > len(wp) {
		size = len(wp)
	}

	windows := make([][]float64, 0, moves)
	for i := 0; i < size-2; i++ {
		windows = append(windows, wp[:size])
	}
	for i := 0; i+size <= len(wp); i++ {
		windows = append(windows, wp[i:i+size])
	}

	weights := make([]float64, moves)
	for i := range weights {
		w := windows[min(i, len(windows)-1)]
		weights[i] = clamp(stat.PopStdDev(w, nil), minWeight, maxWeight)
	}
	return weights
}

// Sample is one move for aggregation.
type Sample struct {
	Color  game.Color
	Before float64 // white win% before the move
	After  float64 // white win% after the move
	Top    bool    // the engine's first choice: accuracy 100
	Skip   bool    // unevaluated, excluded from the summary
}

// Accuracy returns the move's accuracy from the mover's point of view.
func (s Sample) Accuracy() float64 {
	if s.Top {
		return 100
	}
	return MoveAccuracy(ForColor(s.Before, s.Color), ForColor(s.After, s.Color))
}

// Loss returns the mover's win-percentage drop (never negative).
func (s Sample) Loss() float64 {
	return math.Max(0, ForColor(s.Before, s.Color)-ForColor(s.After, s.Color))
}

// Summary is the accuracy of one side.
type Summary struct {
	Color      game.Color `json:"color"`
	Moves      int        `json:"moves"`
	Weighted   float64    `json:"weighted"`
	Harmonic   float64    `json:"harmonic"`
	HasSamples bool       `json:"-"`
	Accuracy   float64    `json:"accuracy"` // 0-100
	AvgLoss    float64    `json:"avg_loss"` // mean win% lost per move
}

// Aggregate computes both sides' summaries for a game. Weights come from
// the full white win% sequence, so skipped moves still shape the windows.
func Aggregate(samples []Sample) [2]Summary {
	wp := make([]float64, 0, len(samples)+1)
	if len(samples) > 0 {
		wp = append(wp, samples[0].Before)
	}
	for _, s := range samples {
		wp = append(wp, s.After)
	}
	weights := VolatilityWeights(wp)

	var accs, ws, losses [2][]float64
	for i, s := range samples {
		if s.Skip {
			continue
		}
		c := s.Color
		accs[c] = append(accs[c], s.Accuracy())
		ws[c] = append(ws[c], weights[i])
		losses[c] = append(losses[c], s.Loss())
	}

	var out [2]Summary
	for c := game.White; c <= game.Black; c++ {
		out[c] = Side(accs[c], ws[c])
		out[c].Color = c
		if len(losses[c]) > 0 {
			out[c].AvgLoss = stat.Mean(losses[c], nil)
		}
	}
	return out
}

// Side summarizes one side's move accuracies with their volatility weights.
// weights may be nil for an unweighted mean.
func Side(accs, weights []float64) Summary {
	sum := Summary{Moves: len(accs)}
	if len(accs) == 0 {
		return sum
	}
	sum.HasSamples = true

	weighted, okW := weightedMean(accs, weights)
	harmonic, okH := harmonicMean(accs)
	sum.Weighted = weighted
	sum.Harmonic = harmonic

	switch {
	case okW && okH:
		sum.Accuracy = (weighted + harmonic) / 2
	case okW:
		sum.Accuracy = weighted
	case okH:
		sum.Accuracy = harmonic
	}
	sum.Accuracy = clamp(sum.Accuracy, 0, 100)
	return sum
}

func weightedMean(xs, weights []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	if weights != nil {
		total := 0.0
		for _, w := range weights {
			total += w
		}
		if total <= 0 {
			return 0, false
		}
	}
	return stat.Mean(xs, weights), true
}

// harmonicMean floors inputs at 1 so a zero-accuracy move pulls the mean
// down without collapsing it to zero.
func harmonicMean(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	floored := make([]float64, len(xs))
	for i, x := range xs {
		floored[i] = math.Max(1, x)
	}
	return stat.HarmonicMean(floored, nil), true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
