// Package game replays chess games into the positions and moves the review
// pipeline evaluates. Board legality is delegated to freeeve/pgn.
package game

import (
	"fmt"
	"strings"
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Color is the side to move.
type Color uint8

const (
	White Color = 0
	Black Color = 1
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	return c ^ 1
}

func (c Color) String() string {
	if c == Black {
		return "black"
	}
	return "white"
}

func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Color) UnmarshalText(b []byte) error {
	switch string(b) {
	case "white", "w":
		*c = White
	case "black", "b":
		*c = Black
	default:
		return fmt.Errorf("unknown color %q", b)
	}
	return nil
}

// Sign is +1 for white and -1 for black.
func (c Color) Sign() int {
	if c == Black {
		return -1
	}
	return 1
}

// Position is an immutable board state serialized as FEN. The review pipeline
// treats it as an opaque token apart from the side to move.
type Position string

// SideToMove reads the active color field of the FEN.
func (p Position) SideToMove() Color {
	fields := strings.Fields(string(p))
	if len(fields) > 1 && fields[1] == "b" {
		return Black
	}
	return White
}

// Key returns the first four FEN fields (placement, side, castling, en
// passant). Positions that differ only by move counters share a key.
func (p Position) Key() string {
	fields := strings.Fields(string(p))
	if len(fields) > 4 {
		fields = fields[:4]
	}
	return strings.Join(fields, " ")
}

func (p Position) String() string {
	return string(p)
}

var pieceValues = map[byte]int{
	'p': 1, 'n': 3, 'b': 3, 'r': 5, 'q': 9,
}

// Material returns the material count of one side in pawns (kings excluded).
func Material(p Position, c Color) int {
	placement, _, _ := strings.Cut(string(p), " ")
	total := 0
	for i := 0; i < len(placement); i++ {
		ch := placement[i]
		isWhite := ch >= 'A' && ch <= 'Z'
		if isWhite != (c == White) {
			continue
		}
		lower := ch
		if isWhite {
			lower = ch + 32
		}
		total += pieceValues[lower]
	}
	return total
}

// MaterialBalance is Material(c) - Material(opponent).
func MaterialBalance(p Position, c Color) int {
	return Material(p, c) - Material(p, c.Opponent())
}
