package game

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/freeeve/pgn/v3"
)

// FromPGNGame replays a parsed PGN game. A SetUp/FEN header sets the start
// position; otherwise the standard start position is used.
func FromPGNGame(pg *pgn.Game) (*Game, error) {
	start := Position("")
	if fen := pg.Tags["FEN"]; fen != "" {
		start = Position(fen)
	}
	gs, err := newState(start)
	if err != nil {
		return nil, err
	}
	g := &Game{
		Tags:  make(map[string]string, len(pg.Tags)),
		Start: Position(gs.ToFEN()),
		Moves: make([]Move, 0, len(pg.Moves)),
	}
	for k, v := range pg.Tags {
		g.Tags[k] = v
	}
	for i, mv := range pg.Moves {
		if err := g.push(gs, mv); err != nil {
			return nil, fmt.Errorf("ply %d: %w", i, err)
		}
	}
	return g, nil
}

// ReadPGNFile parses every game in a PGN file (plain, .gz or .zst as supported
// by the parser). Games that fail to replay are skipped and counted.
func ReadPGNFile(ctx context.Context, path string, limit int) ([]*Game, int, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, 0, err
	}
	parser := pgn.Games(path)

	var games []*Game
	skipped := 0
	stopped := false
	for pg := range parser.Games {
		if stopped {
			continue
		}
		if ctx.Err() != nil || (limit > 0 && len(games) >= limit) {
			parser.Stop()
			stopped = true
			continue
		}
		g, err := FromPGNGame(pg)
		if err != nil {
			skipped++
			continue
		}
		games = append(games, g)
	}
	if err := parser.Err(); err != nil {
		return games, skipped, err
	}
	if err := ctx.Err(); err != nil {
		return games, skipped, err
	}
	return games, skipped, nil
}

// ParsePGN parses a single game from PGN text: optional [Tag "value"]
// headers followed by movetext.
func ParsePGN(text string) (*Game, error) {
	tags := map[string]string{}
	var body strings.Builder
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name, value, ok := parseTag(line)
			if ok {
				tags[name] = value
			}
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}

	start := Position("")
	if fen := tags["FEN"]; fen != "" {
		start = Position(fen)
	}
	g, err := Replay(start, ParseMoveText(body.String()))
	if err != nil {
		return nil, err
	}
	g.Tags = tags
	return g, nil
}

func parseTag(line string) (string, string, bool) {
	inner := strings.TrimSuffix(strings.TrimPrefix(line, "["), "]")
	name, rest, ok := strings.Cut(inner, " ")
	if !ok {
		return "", "", false
	}
	rest = strings.TrimSpace(rest)
	if len(rest) < 2 || rest[0] != '"' || rest[len(rest)-1] != '"' {
		return "", "", false
	}
	return name, strings.ReplaceAll(rest[1:len(rest)-1], `\"`, `"`), true
}
