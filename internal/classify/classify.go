// Package classify labels played moves from the engine evaluations around
// them. It is a pure function of its input: no engine access, no state.
package classify

import (
	"math"

	"github.com/freeeve/chessreview/internal/accuracy"
	"github.com/freeeve/chessreview/internal/eval"
	"github.com/freeeve/chessreview/internal/game"
)

// MateCP caps mate scores when computing centipawn loss.
const MateCP = 1000

// Thresholds holds the win-percentage cutoffs. A non-top move losing less
// than Excellent is Excellent, less than Good is Good, and so on; anything at
// or above Mistake is a Blunder (or a Miss).
type Thresholds struct {
	Excellent  float64 `mapstructure:"excellent" json:"excellent"`
	Good       float64 `mapstructure:"good" json:"good"`
	Inaccuracy float64 `mapstructure:"inaccuracy" json:"inaccuracy"`
	Mistake    float64 `mapstructure:"mistake" json:"mistake"`

	// GreatGap is the win% margin by which the best move must beat the
	// second best to count as the only move.
	GreatGap float64 `mapstructure:"great_gap" json:"great_gap"`
	// Winning is the mover win% from which a chance counts as winning.
	Winning float64 `mapstructure:"winning" json:"winning"`
	// Sacrifice is the net material (pawns) given up after the reply.
	Sacrifice int `mapstructure:"sacrifice" json:"sacrifice"`
}

// DefaultThresholds returns the standard cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Excellent:  2,
		Good:       5,
		Inaccuracy: 10,
		Mistake:    20,
		GreatGap:   10,
		Winning:    80,
		Sacrifice:  2,
	}
}

// WithDefaults fills zero fields.
func (t Thresholds) WithDefaults() Thresholds {
	d := DefaultThresholds()
	if t.Excellent <= 0 {
		t.Excellent = d.Excellent
	}
	if t.Good <= 0 {
		t.Good = d.Good
	}
	if t.Inaccuracy <= 0 {
		t.Inaccuracy = d.Inaccuracy
	}
	if t.Mistake <= 0 {
		t.Mistake = d.Mistake
	}
	if t.GreatGap <= 0 {
		t.GreatGap = d.GreatGap
	}
	if t.Winning <= 0 {
		t.Winning = d.Winning
	}
	if t.Sacrifice <= 0 {
		t.Sacrifice = d.Sacrifice
	}
	return t
}

// Input is everything known about one played move.
type Input struct {
	Move game.Move
	// Before holds the lines at Move.Before (relative to the mover).
	Before eval.EvaluatedPosition
	// After holds the lines at Move.After (relative to the opponent).
	After eval.EvaluatedPosition
	// Previous is the classification of the opponent's preceding move.
	Previous *Output

	First bool // first move of the game
	Book  bool // resulting position is a known opening position

	// LegalMoves at Move.Before; zero means compute it.
	LegalMoves int
}

// Output is the classification of one move.
type Output struct {
	Label     Label   `json:"classification"`
	Evaluated bool    `json:"evaluated"`
	IsTop     bool    `json:"is_top"`
	Graph     float64 `json:"graph"` // white win% after the move
	// WinBefore and WinAfter are the mover's win% with the best move and
	// with the move played.
	WinBefore     float64    `json:"win_before"`
	WinAfter      float64    `json:"win_after"`
	WinLoss       float64    `json:"win_loss"`
	CentipawnLoss int        `json:"cp_loss"`
	Accuracy      float64    `json:"accuracy"`
	BestMove      string     `json:"best_move,omitempty"`
	BestScore     eval.Score `json:"best_score"`   // mover-relative
	PlayedScore   eval.Score `json:"played_score"` // mover-relative
}

// Classify labels a move. It never fails: a move without evaluation data
// is Unknown unless the first-move or book rules apply.
func Classify(in Input, t Thresholds) Output {
	t = t.WithDefaults()
	mover := in.Move.Color
	out := Output{Graph: 50}

	best, hasBest := in.Before.Best()
	played, hasPlayed := playedScore(in)

	if hasBest {
		out.BestMove = best.Move()
		out.BestScore = best.Score
		out.WinBefore = accuracy.WinPercent(best.Score)
		out.IsTop = best.Move() != "" && game.SameMove(best.Move(), in.Move.UCI)
	}
	if hasPlayed {
		out.PlayedScore = played
		out.WinAfter = accuracy.WinPercent(played)
		out.Graph = accuracy.ForColor(out.WinAfter, mover)
	}
	out.Evaluated = hasBest && hasPlayed
	if out.Evaluated {
		out.WinLoss = math.Max(0, out.WinBefore-out.WinAfter)
		out.CentipawnLoss = max(0, best.Score.Centipawns(MateCP)-played.Centipawns(MateCP))
	}
	// the best move by definition loses nothing
	if out.IsTop && hasBest && !hasPlayed {
		out.PlayedScore = best.Score
		out.WinAfter = out.WinBefore
		out.Graph = accuracy.ForColor(out.WinAfter, mover)
		out.Evaluated = true
	}

	switch {
	case in.First || in.Book:
		out.Label = Book
		out.Accuracy = Book.Accuracy()
		return out
	case legalMoves(in) == 1:
		out.Label = Forced
		out.Accuracy = Forced.Accuracy()
		return out
	case !out.Evaluated:
		out.Label = Unknown
		return out
	}

	if out.IsTop {
		out.Label = topTier(in, out, t)
		out.WinLoss = 0
		out.CentipawnLoss = 0
		out.Accuracy = 100
		return out
	}

	out.Label = byLoss(out.WinLoss, t)
	if out.Label >= Mistake && missed(in, out, t) {
		out.Label = Miss
	}
	out.Accuracy = accuracy.MoveAccuracy(out.WinBefore, out.WinAfter)
	return out
}

// playedScore returns the played move's score relative to the mover. The
// position after the move is preferred; a finished game or a matching line
// before the move covers positions the engine did not report on.
func playedScore(in Input) (eval.Score, bool) {
	if l, ok := in.After.Best(); ok {
		return l.Score.Negate(), true
	}
	if in.Move.After != "" && game.LegalMoveCount(in.Move.After) == 0 && game.Validate(in.Move.After) == nil {
		if game.InCheck(in.Move.After) {
			return eval.MateIn(1), true
		}
		return eval.CP(0), true
	}
	for _, l := range in.Before.Lines {
		if game.SameMove(l.Move(), in.Move.UCI) {
			return l.Score, true
		}
	}
	return eval.Score{}, false
}

func legalMoves(in Input) int {
	if in.LegalMoves > 0 {
		return in.LegalMoves
	}
	if in.Move.Before == "" {
		return 0
	}
	return game.LegalMoveCount(in.Move.Before)
}

func byLoss(loss float64, t Thresholds) Label {
	switch {
	case loss < t.Excellent:
		return Excellent
	case loss < t.Good:
		return Good
	case loss < t.Inaccuracy:
		return Inaccuracy
	case loss < t.Mistake:
		return Mistake
	}
	return Blunder
}

// topTier upgrades an engine-best move. Brilliant: it gives up material
// after the opponent's best reply and the mover is still not worse. Great:
// every alternative is clearly worse, or it punishes the opponent's error.
func topTier(in Input, out Output, t Thresholds) Label {
	if out.WinAfter >= 50 && out.WinBefore < 100 && sacrifice(in, t.Sacrifice) {
		return Brilliant
	}
	gap, ok := secondGap(in, out)
	if ok && gap >= t.GreatGap {
		return Great
	}
	if ok && gap >= t.GreatGap/2 && in.Previous != nil &&
		(in.Previous.Label == Mistake || in.Previous.Label == Miss || in.Previous.Label == Blunder) {
		return Great
	}
	return Best
}

// secondGap is the mover's win% margin between the best and second line.
func secondGap(in Input, out Output) (float64, bool) {
	second, ok := in.Before.Line(2)
	if !ok {
		return 0, false
	}
	return out.WinBefore - accuracy.WinPercent(second.Score), true
}

// sacrifice reports whether the move, answered by the opponent's best
// reply, leaves the mover down at least threshold pawns of material.
func sacrifice(in Input, threshold int) bool {
	reply := ""
	if l, ok := in.After.Best(); ok {
		reply = l.Move()
	}
	if reply == "" {
		if l, ok := in.Before.Best(); ok && len(l.PV) > 1 {
			reply = l.PV[1]
		}
	}
	if reply == "" || in.Move.Before == "" || in.Move.After == "" {
		return false
	}
	pos, n, err := game.ApplyLine(in.Move.After, []string{reply})
	if err != nil || n != 1 {
		return false
	}
	mover := in.Move.Color
	return game.MaterialBalance(in.Move.Before, mover)-game.MaterialBalance(pos, mover) >= threshold
}

// missed reports whether a costly move threw away a forced mate, a winning
// position, or the only move that held.
func missed(in Input, out Output, t Thresholds) bool {
	if out.BestScore.IsMate() && out.BestScore.Value > 0 &&
		!(out.PlayedScore.IsMate() && out.PlayedScore.Value > 0) {
		return true
	}
	if out.WinBefore >= t.Winning && out.WinAfter < 60 {
		return true
	}
	second, ok := in.Before.Line(2)
	if ok && out.WinBefore >= 40 && accuracy.WinPercent(second.Score) < 100-t.Winning {
		return true
	}
	return false
}
