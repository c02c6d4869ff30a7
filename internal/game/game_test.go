package game

import (
	"errors"
	"strings"
	"testing"

	"github.com/matryer/is"
)

func TestSquareName(t *testing.T) {
	tests := []struct {
		sq   int
		want string
	}{
		{0, "a1"},
		{7, "h1"},
		{12, "e2"},
		{28, "e4"},
		{63, "h8"},
		{64, ""},
		{-1, ""},
	}
	for _, tt := range tests {
		if got := SquareName(tt.sq); got != tt.want {
			t.Errorf("SquareName(%d) = %q, want %q", tt.sq, got, tt.want)
		}
		if tt.want == "" {
			continue
		}
		back, err := ParseSquare(tt.want)
		if err != nil || back != tt.sq {
			t.Errorf("ParseSquare(%q) = %d, %v", tt.want, back, err)
		}
	}
}

func TestSplitUCI(t *testing.T) {
	is := is.New(t)

	from, to, promo, err := SplitUCI("e7e8q")
	is.NoErr(err)
	is.Equal(from, "e7")
	is.Equal(to, "e8")
	is.Equal(promo, byte('q'))

	_, _, promo, err = SplitUCI("a2a1N")
	is.NoErr(err)
	is.Equal(promo, byte('n'))

	for _, bad := range []string{"", "e2", "e2e9", "i2e4", "e7e8k", "e2e4qq"} {
		_, _, _, err := SplitUCI(bad)
		is.True(err != nil) // bad input rejected
	}

	is.True(SameMove("e7e8q", "e7e8Q"))
	is.True(!SameMove("e7e8q", "e7e8r"))
	is.True(!SameMove("junk", "junk"))
}

func TestSideToMoveAndKey(t *testing.T) {
	is := is.New(t)

	is.Equal(Position(StartFEN).SideToMove(), White)
	black := Position("rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3 0 1")
	is.Equal(black.SideToMove(), Black)
	is.Equal(black.Key(), "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq e3")
	is.Equal(White.Opponent(), Black)
	is.Equal(Black.Sign(), -1)
	is.Equal(Black.String(), "black")
}

func TestMaterial(t *testing.T) {
	is := is.New(t)

	is.Equal(Material(StartFEN, White), 39)
	is.Equal(Material(StartFEN, Black), 39)
	is.Equal(MaterialBalance(StartFEN, White), 0)

	// white is up a queen
	p := Position("4k3/8/8/8/8/8/8/3QK3 w - - 0 1")
	is.Equal(MaterialBalance(p, White), 9)
	is.Equal(MaterialBalance(p, Black), -9)
}

func TestReplay(t *testing.T) {
	is := is.New(t)

	g, err := Replay("", []string{"e4", "e5", "Nf3", "Nc6", "Bb5"})
	is.NoErr(err)
	is.Equal(len(g.Moves), 5)
	is.Equal(len(g.Positions()), 6)

	is.Equal(g.Moves[0].UCI, "e2e4")
	is.Equal(g.Moves[0].SAN, "e4")
	is.Equal(g.Moves[0].Color, White)
	is.Equal(g.Moves[1].Color, Black)
	is.Equal(g.Moves[2].SAN, "Nf3")
	is.Equal(g.Moves[2].UCI, "g1f3")
	is.Equal(g.Moves[4].Label(), "3. Bb5")
	is.Equal(g.Moves[1].Label(), "1... e5")

	// consecutive positions chain
	for i := 1; i < len(g.Moves); i++ {
		is.Equal(g.Moves[i].Before, g.Moves[i-1].After)
	}
	is.Equal(g.Final().SideToMove(), Black)
}

func TestReplayIllegal(t *testing.T) {
	is := is.New(t)

	_, err := Replay("", []string{"e4", "e4"})
	is.True(err != nil)
	is.True(errors.Is(err, ErrIllegalMove))

	_, err = ReplayUCI("", []string{"e2e4", "e2e4"})
	is.True(errors.Is(err, ErrIllegalMove))
}

func TestReplayUCIMatchesSAN(t *testing.T) {
	is := is.New(t)

	bySAN, err := Replay("", []string{"d4", "d5", "c4", "e6", "Nc3", "Nf6"})
	is.NoErr(err)
	byUCI, err := ReplayUCI("", []string{"d2d4", "d7d5", "c2c4", "e7e6", "b1c3", "g8f6"})
	is.NoErr(err)
	is.Equal(bySAN.Final(), byUCI.Final())
	for i := range bySAN.Moves {
		is.Equal(bySAN.Moves[i].SAN, byUCI.Moves[i].SAN)
	}
}

func TestCastlingUCI(t *testing.T) {
	is := is.New(t)

	g, err := Replay("", ParseMoveText("1. e4 e5 2. Nf3 Nc6 3. Bc4 Bc5 4. O-O"))
	is.NoErr(err)
	last := g.Moves[len(g.Moves)-1]
	is.Equal(last.SAN, "O-O")
	is.Equal(last.UCI, "e1g1")
}

func TestApplyUCIAndLegalMoves(t *testing.T) {
	is := is.New(t)

	is.Equal(LegalMoveCount(StartFEN), 20)
	moves, err := LegalMoves(StartFEN)
	is.NoErr(err)
	is.Equal(len(moves), 20)

	m, err := ApplyUCI(StartFEN, "g1f3")
	is.NoErr(err)
	is.Equal(m.SAN, "Nf3")
	is.Equal(m.Before, Position(StartFEN))
	is.Equal(m.After.SideToMove(), Black)

	_, err = ApplyUCI(StartFEN, "e2e5")
	is.True(errors.Is(err, ErrIllegalMove))

	san, err := UCIToSAN(StartFEN, "b1c3")
	is.NoErr(err)
	is.Equal(san, "Nc3")
}

func TestApplyLine(t *testing.T) {
	is := is.New(t)

	end, n, err := ApplyLine(StartFEN, []string{"e2e4", "e7e5", "g1f3"})
	is.NoErr(err)
	is.Equal(n, 3)
	is.Equal(end.SideToMove(), Black)

	_, n, err = ApplyLine(StartFEN, []string{"e2e4", "e2e4"})
	is.True(err != nil)
	is.Equal(n, 1)
}

func TestCheckAndMate(t *testing.T) {
	is := is.New(t)

	g, err := Replay("", ParseMoveText("1. f3 e5 2. g4 Qh4#"))
	is.NoErr(err)
	last := g.Moves[len(g.Moves)-1]
	is.Equal(last.SAN, "Qh4#")
	is.True(InCheck(last.After))
	is.Equal(LegalMoveCount(last.After), 0)
}

func TestParseMoveText(t *testing.T) {
	is := is.New(t)

	sans := ParseMoveText("1. e4 {best by test} e5 2. Nf3 (2. f4 exf4) Nc6 $1 3... a6 1-0")
	is.Equal(strings.Join(sans, " "), "e4 e5 Nf3 Nc6 a6")
}

func TestParsePGN(t *testing.T) {
	is := is.New(t)

	text := `[Event "Casual"]
[White "Alice"]
[Black "Bob"]
[Result "1-0"]

1. e4 e5 2. Qh5 Nc6 3. Bc4 Nf6 4. Qxf7# 1-0`

	g, err := ParsePGN(text)
	is.NoErr(err)
	is.Equal(g.Tag("White"), "Alice")
	is.Equal(g.Tag("Result"), "1-0")
	is.Equal(g.Tag("Missing"), "")
	is.Equal(len(g.Moves), 7)
	is.Equal(g.Moves[6].SAN, "Qxf7#")
}

func TestParsePGNWithFEN(t *testing.T) {
	is := is.New(t)

	text := `[SetUp "1"]
[FEN "4k3/8/4K3/8/8/8/8/R7 w - - 0 1"]

1. Ra8#`
	g, err := ParsePGN(text)
	is.NoErr(err)
	is.Equal(len(g.Moves), 1)
	is.Equal(g.Start.SideToMove(), White)
	is.Equal(LegalMoveCount(g.Final()), 0)
}
