package eval

import (
	"fmt"
	"strings"

	"github.com/freeeve/chessreview/internal/game"
)

// ScoreKind distinguishes centipawn scores from forced-mate distances.
type ScoreKind uint8

const (
	Centipawn ScoreKind = iota
	Mate
)

func (k ScoreKind) String() string {
	if k == Mate {
		return "mate"
	}
	return "cp"
}

// MarshalText renders the kind as "cp" or "mate".
func (k ScoreKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses "cp" or "mate".
func (k *ScoreKind) UnmarshalText(b []byte) error {
	switch string(b) {
	case "cp", "":
		*k = Centipawn
	case "mate":
		*k = Mate
	default:
		return fmt.Errorf("unknown score kind %q", b)
	}
	return nil
}

// Score is an engine evaluation. For Mate, Value is the number of moves to
// mate: positive when the side the score is relative to delivers it.
type Score struct {
	Kind  ScoreKind `json:"kind"`
	Value int       `json:"value"`
}

// CP returns a centipawn score.
func CP(v int) Score { return Score{Kind: Centipawn, Value: v} }

// MateIn returns a mate score. MateIn(0) (already checkmated) is stored as
// MateIn(-1) so the sign survives re-orientation.
func MateIn(n int) Score {
	if n == 0 {
		n = -1
	}
	return Score{Kind: Mate, Value: n}
}

// IsMate reports whether the score is a forced mate.
func (s Score) IsMate() bool { return s.Kind == Mate }

// Negate returns the score from the other side's point of view.
func (s Score) Negate() Score {
	return Score{Kind: s.Kind, Value: -s.Value}
}

// Centipawns returns the score in centipawns, with mates capped at +/-limit.
func (s Score) Centipawns(limit int) int {
	if s.Kind == Mate {
		if s.Value > 0 {
			return limit
		}
		return -limit
	}
	if s.Value > limit {
		return limit
	}
	if s.Value < -limit {
		return -limit
	}
	return s.Value
}

func (s Score) String() string {
	if s.Kind == Mate {
		return fmt.Sprintf("#%d", s.Value)
	}
	return fmt.Sprintf("%+.2f", float64(s.Value)/100)
}

// Line is one ranked principal variation.
type Line struct {
	Rank  int      `json:"rank"` // 1 = best
	Depth int      `json:"depth"`
	Score Score    `json:"score"`
	PV    []string `json:"pv,omitempty"` // UCI moves
}

// Move returns the first move of the line, or "" when the PV is empty.
func (l Line) Move() string {
	if len(l.PV) == 0 {
		return ""
	}
	return l.PV[0]
}

func (l Line) String() string {
	return fmt.Sprintf("%d. d%d %s %s", l.Rank, l.Depth, l.Score, strings.Join(l.PV, " "))
}

// EvaluatedPosition holds the ranked lines for one position. Scores are
// relative to the side to move at Position. Empty Lines means unevaluated.
type EvaluatedPosition struct {
	Position game.Position `json:"fen"`
	Lines    []Line        `json:"lines"`
	Engine   string        `json:"engine,omitempty"`
	Depth    int           `json:"depth"`
}

// Evaluated reports whether at least one line is present.
func (e EvaluatedPosition) Evaluated() bool {
	return len(e.Lines) > 0
}

// Covers reports whether e can stand in for a search to depth: it reaches
// that depth and its best line names a move.
func (e EvaluatedPosition) Covers(depth int) bool {
	best, ok := e.Best()
	return ok && e.Depth >= depth && best.Move() != ""
}

// Best returns the rank-1 line.
func (e EvaluatedPosition) Best() (Line, bool) {
	if len(e.Lines) == 0 {
		return Line{}, false
	}
	return e.Lines[0], true
}

// Line returns the line with the given rank.
func (e EvaluatedPosition) Line(rank int) (Line, bool) {
	for _, l := range e.Lines {
		if l.Rank == rank {
			return l, true
		}
	}
	return Line{}, false
}

// Perspective names the side a reported score is relative to.
type Perspective uint8

const (
	// SideToMove scores are positive when the side to move is better (UCI).
	SideToMove Perspective = iota
	// WhitePOV scores are positive when white is better.
	WhitePOV
)

// Orient re-signs lines reported in perspective from so they are relative to
// perspective to. Only positions with black to move differ between the two.
func Orient(lines []Line, pos game.Position, from, to Perspective) []Line {
	if from == to || pos.SideToMove() == game.White {
		return lines
	}
	out := make([]Line, len(lines))
	for i, l := range lines {
		l.Score = l.Score.Negate()
		out[i] = l
	}
	return out
}

// WhiteScore returns s (relative to the side to move at pos) from white's view.
func WhiteScore(s Score, pos game.Position) Score {
	if pos.SideToMove() == game.Black {
		return s.Negate()
	}
	return s
}
