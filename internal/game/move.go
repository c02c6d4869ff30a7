package game

import (
	"fmt"

	"github.com/freeeve/pgn/v3"
)

// Move is one played half-move together with the positions around it.
type Move struct {
	Ply       int      `json:"ply"`    // 0-based half-move index within the game
	Color     Color    `json:"color"`  // side that made the move
	SAN       string   `json:"san"`    // e.g. "Nf3", "exd8=Q+"
	UCI       string   `json:"uci"`    // e.g. "g1f3", "e7d8q"
	From      string   `json:"from"`   // source square, e.g. "g1"
	To        string   `json:"to"`     // destination square, e.g. "f3"
	Promotion byte     `json:"-"`      // 'q', 'r', 'b', 'n' or 0
	Before    Position `json:"before"` // position the move was played from
	After     Position `json:"after"`  // resulting position
}

// MoveNumber returns the full-move number as printed in PGN.
func (m Move) MoveNumber() int {
	return m.Ply/2 + 1
}

// Label renders the move with its number, e.g. "12. Nf3" or "12... Nc6".
func (m Move) Label() string {
	if m.Color == White {
		return fmt.Sprintf("%d. %s", m.MoveNumber(), m.SAN)
	}
	return fmt.Sprintf("%d... %s", m.MoveNumber(), m.SAN)
}

const (
	files = "abcdefgh"
	ranks = "12345678"
)

// SquareName converts a 0-63 square index (a1=0, h8=63) to algebraic notation.
func SquareName(sq int) string {
	if sq < 0 || sq > 63 {
		return ""
	}
	return string(files[sq%8]) + string(ranks[sq/8])
}

// ParseSquare converts algebraic notation to a 0-63 square index.
func ParseSquare(s string) (int, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("invalid square: %q", s)
	}
	file := int(s[0] - 'a')
	rank := int(s[1] - '1')
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return 0, fmt.Errorf("invalid square: %q", s)
	}
	return rank*8 + file, nil
}

// SplitUCI splits a UCI move into its squares and promotion piece.
func SplitUCI(uci string) (from, to string, promo byte, err error) {
	if len(uci) < 4 || len(uci) > 5 {
		return "", "", 0, fmt.Errorf("invalid UCI move: %q", uci)
	}
	if _, err := ParseSquare(uci[0:2]); err != nil {
		return "", "", 0, err
	}
	if _, err := ParseSquare(uci[2:4]); err != nil {
		return "", "", 0, err
	}
	if len(uci) == 5 {
		switch uci[4] {
		case 'q', 'r', 'b', 'n':
			promo = uci[4]
		case 'Q', 'R', 'B', 'N':
			promo = uci[4] + 32
		default:
			return "", "", 0, fmt.Errorf("invalid promotion piece: %c", uci[4])
		}
	}
	return uci[0:2], uci[2:4], promo, nil
}

// SameMove reports whether two UCI strings describe the same from/to/promotion.
func SameMove(a, b string) bool {
	af, at, ap, err := SplitUCI(a)
	if err != nil {
		return false
	}
	bf, bt, bp, err := SplitUCI(b)
	if err != nil {
		return false
	}
	return af == bf && at == bt && ap == bp
}

// mvToUCI converts a pgn move to UCI notation. Castling is always rendered
// king-to-destination (e1g1) because that is what engines print.
func mvToUCI(mv pgn.Mv) string {
	from := int(mv.From)
	to := int(mv.To)
	if mv.Flags == 4 {
		if to > from {
			to = from + 2
		} else {
			to = from - 2
		}
	}

	uci := SquareName(from) + SquareName(to)

	switch mv.Promo {
	case pgn.PromoQueen:
		uci += "q"
	case pgn.PromoRook:
		uci += "r"
	case pgn.PromoBishop:
		uci += "b"
	case pgn.PromoKnight:
		uci += "n"
	}

	return uci
}

// mvToSAN converts a move to SAN notation given the position it is played from.
func mvToSAN(pos *pgn.GameState, mv pgn.Mv) string {
	// Check for castling
	if mv.Flags == 4 {
		if mv.To > mv.From {
			return "O-O" + checkSuffix(pos, mv)
		}
		return "O-O-O" + checkSuffix(pos, mv)
	}

	fromSq := int(mv.From)
	toSq := int(mv.To)
	fromFile := fromSq % 8
	toFile := toSq % 8
	toRank := toSq / 8

	// Get piece at from square ('P', 'N', ... for white, lowercase for black)
	piece := pos.PieceAt(mv.From)
	isPawn := piece == 'P' || piece == 'p'
	isCapture := pos.PieceAt(mv.To) != 0 || (isPawn && mv.Flags == 2) // en passant

	var san string

	if isPawn {
		if isCapture {
			san = string(files[fromFile]) + "x" + string(files[toFile]) + string(ranks[toRank])
		} else {
			san = string(files[toFile]) + string(ranks[toRank])
		}
		switch mv.Promo {
		case pgn.PromoQueen:
			san += "=Q"
		case pgn.PromoRook:
			san += "=R"
		case pgn.PromoBishop:
			san += "=B"
		case pgn.PromoKnight:
			san += "=N"
		}
	} else {
		pieceChar := piece
		if piece >= 'a' && piece <= 'z' {
			pieceChar = piece - 32
		}
		san = string(rune(pieceChar))

		disambig := ""
		for _, other := range pgn.GenerateLegalMoves(pos) {
			if other.To != mv.To || other.From == mv.From {
				continue
			}
			otherUpper := pos.PieceAt(other.From)
			if otherUpper >= 'a' && otherUpper <= 'z' {
				otherUpper -= 32
			}
			if otherUpper != pieceChar {
				continue
			}
			otherFromFile := int(other.From) % 8
			otherFromRank := int(other.From) / 8
			if fromFile != otherFromFile {
				disambig = string(files[fromFile])
			} else if fromSq/8 != otherFromRank {
				disambig = string(ranks[fromSq/8])
			} else {
				disambig = string(files[fromFile]) + string(ranks[fromSq/8])
			}
			break
		}
		san += disambig

		if isCapture {
			san += "x"
		}
		san += string(files[toFile]) + string(ranks[toRank])
	}

	return san + checkSuffix(pos, mv)
}

func checkSuffix(pos *pgn.GameState, mv pgn.Mv) string {
	posCopy := pos.Pack().Unpack()
	if posCopy == nil {
		return ""
	}
	if err := pgn.ApplyMove(posCopy, mv); err != nil {
		return ""
	}
	if !posCopy.IsInCheck() {
		return ""
	}
	if len(pgn.GenerateLegalMoves(posCopy)) == 0 {
		return "#"
	}
	return "+"
}
