package game

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/freeeve/pgn/v3"
)

// ErrIllegalMove is returned when a move cannot be played in the position.
var ErrIllegalMove = errors.New("illegal move")

// Game is a replayed game: the start position and every move played.
type Game struct {
	Tags  map[string]string
	Start Position
	Moves []Move
}

// Positions returns the start position followed by the position after each
// move, len(Moves)+1 entries in total.
func (g *Game) Positions() []Position {
	out := make([]Position, 0, len(g.Moves)+1)
	out = append(out, g.Start)
	for _, m := range g.Moves {
		out = append(out, m.After)
	}
	return out
}

// Final returns the last position of the game.
func (g *Game) Final() Position {
	if len(g.Moves) == 0 {
		return g.Start
	}
	return g.Moves[len(g.Moves)-1].After
}

// Tag returns a PGN header value or "" when absent.
func (g *Game) Tag(name string) string {
	if g.Tags == nil {
		return ""
	}
	return g.Tags[name]
}

func newState(start Position) (*pgn.GameState, error) {
	if start == "" {
		return pgn.NewStartingPosition(), nil
	}
	gs, err := pgn.NewGame(string(start))
	if err != nil {
		return nil, fmt.Errorf("parse FEN %q: %w", start, err)
	}
	return gs, nil
}

// Replay plays SAN moves from start (empty means the standard start position).
func Replay(start Position, sans []string) (*Game, error) {
	gs, err := newState(start)
	if err != nil {
		return nil, err
	}
	g := &Game{Start: Position(gs.ToFEN()), Moves: make([]Move, 0, len(sans))}
	for i, san := range sans {
		san = cleanSAN(san)
		mv, err := pgn.ParseSAN(gs, san)
		if err != nil {
			return nil, fmt.Errorf("ply %d %q: %w", i, san, errors.Join(ErrIllegalMove, err))
		}
		if err := g.push(gs, mv); err != nil {
			return nil, fmt.Errorf("ply %d %q: %w", i, san, err)
		}
	}
	return g, nil
}

// ReplayUCI plays UCI moves from start (empty means the standard start position).
func ReplayUCI(start Position, ucis []string) (*Game, error) {
	gs, err := newState(start)
	if err != nil {
		return nil, err
	}
	g := &Game{Start: Position(gs.ToFEN()), Moves: make([]Move, 0, len(ucis))}
	for i, uci := range ucis {
		mv, err := findUCI(gs, uci)
		if err != nil {
			return nil, fmt.Errorf("ply %d: %w", i, err)
		}
		if err := g.push(gs, mv); err != nil {
			return nil, fmt.Errorf("ply %d %q: %w", i, uci, err)
		}
	}
	return g, nil
}

func (g *Game) push(gs *pgn.GameState, mv pgn.Mv) error {
	before := Position(gs.ToFEN())
	san := mvToSAN(gs, mv)
	uci := mvToUCI(mv)
	if err := pgn.ApplyMove(gs, mv); err != nil {
		return errors.Join(ErrIllegalMove, err)
	}
	from, to, promo, _ := SplitUCI(uci)
	g.Moves = append(g.Moves, Move{
		Ply:       len(g.Moves),
		Color:     before.SideToMove(),
		SAN:       san,
		UCI:       uci,
		From:      from,
		To:        to,
		Promotion: promo,
		Before:    before,
		After:     Position(gs.ToFEN()),
	})
	return nil
}

func findUCI(gs *pgn.GameState, uci string) (pgn.Mv, error) {
	if _, _, _, err := SplitUCI(uci); err != nil {
		return pgn.Mv{}, errors.Join(ErrIllegalMove, err)
	}
	for _, mv := range pgn.GenerateLegalMoves(gs) {
		if SameMove(mvToUCI(mv), uci) {
			return mv, nil
		}
	}
	return pgn.Mv{}, fmt.Errorf("%w: %s", ErrIllegalMove, uci)
}

// ApplyUCI plays one UCI move on a position and returns the resulting move.
func ApplyUCI(p Position, uci string) (Move, error) {
	gs, err := newState(p)
	if err != nil {
		return Move{}, err
	}
	mv, err := findUCI(gs, uci)
	if err != nil {
		return Move{}, err
	}
	g := &Game{}
	if err := g.push(gs, mv); err != nil {
		return Move{}, err
	}
	m := g.Moves[0]
	m.Before = p
	return m, nil
}

// ApplyLine plays a sequence of UCI moves and returns the final position.
// It stops at the first illegal move, returning the position reached so far.
func ApplyLine(p Position, ucis []string) (Position, int, error) {
	gs, err := newState(p)
	if err != nil {
		return p, 0, err
	}
	for i, uci := range ucis {
		mv, err := findUCI(gs, uci)
		if err != nil {
			return Position(gs.ToFEN()), i, err
		}
		if err := pgn.ApplyMove(gs, mv); err != nil {
			return Position(gs.ToFEN()), i, errors.Join(ErrIllegalMove, err)
		}
	}
	return Position(gs.ToFEN()), len(ucis), nil
}

// LegalMoves returns the UCI strings of every legal move in p.
func LegalMoves(p Position) ([]string, error) {
	gs, err := newState(p)
	if err != nil {
		return nil, err
	}
	moves := pgn.GenerateLegalMoves(gs)
	out := make([]string, 0, len(moves))
	for _, mv := range moves {
		out = append(out, mvToUCI(mv))
	}
	return out, nil
}

// LegalMoveCount returns the number of legal moves in p, or 0 if p does not parse.
func LegalMoveCount(p Position) int {
	gs, err := newState(p)
	if err != nil {
		return 0
	}
	return len(pgn.GenerateLegalMoves(gs))
}

// InCheck reports whether the side to move is in check.
func InCheck(p Position) bool {
	gs, err := newState(p)
	if err != nil {
		return false
	}
	return gs.IsInCheck()
}

// UCIToSAN renders a UCI move in SAN for the given position.
func UCIToSAN(p Position, uci string) (string, error) {
	gs, err := newState(p)
	if err != nil {
		return "", err
	}
	mv, err := findUCI(gs, uci)
	if err != nil {
		return "", err
	}
	return mvToSAN(gs, mv), nil
}

// Validate checks that p parses as a FEN position.
func Validate(p Position) error {
	_, err := newState(p)
	return err
}

var (
	moveNumRe  = regexp.MustCompile(`^\d+\.+`)
	commentRe  = regexp.MustCompile(`\{[^}]*\}|;[^\n]*`)
	variantRe  = regexp.MustCompile(`\([^()]*\)`)
	nagRe      = regexp.MustCompile(`^\$\d+$`)
	resultToks = map[string]bool{"1-0": true, "0-1": true, "1/2-1/2": true, "*": true}
)

// ParseMoveText splits PGN movetext ("1. e4 e5 2. Nf3 {comment} Nc6 1-0")
// into SAN tokens. Comments, NAGs, variations and the result are dropped.
func ParseMoveText(text string) []string {
	text = commentRe.ReplaceAllString(text, " ")
	for variantRe.MatchString(text) {
		text = variantRe.ReplaceAllString(text, " ")
	}
	var sans []string
	for _, tok := range strings.Fields(text) {
		tok = moveNumRe.ReplaceAllString(tok, "")
		if tok == "" || resultToks[tok] || nagRe.MatchString(tok) {
			continue
		}
		sans = append(sans, tok)
	}
	return sans
}

func cleanSAN(san string) string {
	san = strings.TrimSpace(san)
	san = strings.TrimRight(san, "+#!?")
	// Castling written with zeros
	switch san {
	case "0-0":
		return "O-O"
	case "0-0-0":
		return "O-O-O"
	}
	return san
}
