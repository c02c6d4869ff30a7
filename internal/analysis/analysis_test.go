package analysis

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/matryer/is"
	"github.com/rs/zerolog"

	"github.com/freeeve/chessreview/internal/classify"
	"github.com/freeeve/chessreview/internal/eco"
	"github.com/freeeve/chessreview/internal/eval"
	"github.com/freeeve/chessreview/internal/game"
	"github.com/freeeve/chessreview/internal/store"
)

// scriptEngine answers from a table keyed by position.
type scriptEngine struct {
	script map[string][]eval.Line
	calls  *atomic.Int32
	hang   bool
}

func (e *scriptEngine) Name() string { return "scripted" }

func (e *scriptEngine) Search(ctx context.Context, pos game.Position, lim eval.Limits) ([]eval.Line, error) {
	e.calls.Add(1)
	if e.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return e.script[pos.Key()], nil
}

func (e *scriptEngine) Close() error { return nil }

var scholarsMate = []string{"e4", "e5", "Qh5", "Nc6", "Bc4", "Nf6", "Qxf7#"}

func l(rank int, score eval.Score, pv ...string) eval.Line {
	return eval.Line{Rank: rank, Depth: 12, Score: score, PV: pv}
}

// scholarsScript holds side-to-move relative lines for every position of
// scholarsMate except the final mate.
func scholarsScript(t *testing.T, g *game.Game) map[string][]eval.Line {
	t.Helper()
	pos := g.Positions()
	lines := [][]eval.Line{
		{l(1, eval.CP(30), "e2e4", "e7e5"), l(2, eval.CP(25), "d2d4")},
		{l(1, eval.CP(-30), "e7e5"), l(2, eval.CP(-35), "c7c5")},
		{l(1, eval.CP(35), "g1f3"), l(2, eval.CP(0), "d1h5")},
		{l(1, eval.CP(10), "b8c6"), l(2, eval.CP(-50), "g8f6")},
		{l(1, eval.CP(0), "f1c4")},
		{l(1, eval.CP(0), "g7g6"), l(2, eval.CP(-10), "d8e7")},
		{l(1, eval.MateIn(1), "h5f7")},
	}
	script := make(map[string][]eval.Line)
	for i, ls := range lines {
		script[pos[i].Key()] = ls
	}
	return script
}

func scholarsGame(t *testing.T) *game.Game {
	t.Helper()
	g, err := game.Replay("", scholarsMate)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	g.Tags = map[string]string{"White": "Alice", "Black": "Bob"}
	return g
}

type testSetup struct {
	script   map[string][]eval.Line
	hang     bool
	cache    *store.EvalCache
	openings *eco.Database
}

func newTestAnalyzer(t *testing.T, ts testSetup) (*Analyzer, *atomic.Int32) {
	t.Helper()
	calls := &atomic.Int32{}
	start := func(ctx context.Context, p eval.Profile, log zerolog.Logger) (eval.Engine, error) {
		return &scriptEngine{script: ts.script, calls: calls, hang: ts.hang}, nil
	}
	var lookups []eval.Lookup
	if ts.cache != nil {
		lookups = append(lookups, ts.cache)
	}
	sched := eval.NewScheduler(eval.SchedulerConfig{
		Profiles: []eval.Profile{{Name: "scripted", Path: "fake"}},
		Logger:   zerolog.Nop(),
		Start:    start,
		Lookups:  lookups,
		SizePool: func(n int) int {
			if n <= 0 {
				return 2
			}
			return n
		},
	})
	a, err := New(Config{
		Scheduler: sched,
		Openings:  ts.openings,
		Cache:     ts.cache,
		Logger:    zerolog.Nop(),
		Depth:     12,
	})
	if err != nil {
		t.Fatalf("new analyzer: %v", err)
	}
	return a, calls
}

func labels(rep *Report) []classify.Label {
	out := make([]classify.Label, len(rep.Moves))
	for i, m := range rep.Moves {
		out[i] = m.Label
	}
	return out
}

func TestAnalyzeScholarsMate(t *testing.T) {
	is := is.New(t)
	g := scholarsGame(t)
	a, calls := newTestAnalyzer(t, testSetup{script: scholarsScript(t, g)})

	var mu sync.Mutex
	var progress []float64
	rep, err := a.Analyze(context.Background(), g, func(p float64, engine string) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})
	is.NoErr(err)

	is.Equal(len(rep.Moves), len(scholarsMate))
	is.Equal(labels(rep), []classify.Label{
		classify.Book, classify.Best, classify.Good, classify.Best,
		classify.Best, classify.Blunder, classify.Best,
	})
	for i, m := range rep.Moves {
		is.Equal(m.Move.Ply, i)
	}
	is.Equal(int(calls.Load()), 8)
	is.True(rep.Complete)
	is.True(!rep.Cancelled)
	is.Equal(rep.Positions, 8)
	is.Equal(rep.Evaluated, 8)
	is.Equal(rep.Engines, []string{"scripted"})

	// progress reaches 100 and never decreases
	is.Equal(len(progress), 8)
	for i := 1; i < len(progress); i++ {
		is.True(progress[i] >= progress[i-1])
	}
	is.Equal(progress[len(progress)-1], 100.0)

	qh5 := rep.Moves[2]
	is.Equal(qh5.BestSAN, "Nf3")
	is.Equal(qh5.CentipawnLoss, 45)
	is.True(!qh5.IsTop)

	nf6 := rep.Moves[5]
	is.Equal(nf6.CentipawnLoss, 1000)
	is.Equal(nf6.Graph, 100.0)

	mate := rep.Moves[6]
	is.True(mate.IsTop)
	is.Equal(mate.WinAfter, 100.0)

	white, black := rep.Sides[game.White], rep.Sides[game.Black]
	is.Equal(white.Player, "Alice")
	is.Equal(black.Player, "Bob")
	is.Equal(white.Moves, 4)
	is.Equal(black.Moves, 3)
	is.Equal(white.Counts, map[classify.Label]int{classify.Book: 1, classify.Good: 1, classify.Best: 2})
	is.Equal(black.Counts, map[classify.Label]int{classify.Best: 2, classify.Blunder: 1})
	is.Equal(white.AverageCentipawnLoss, 15.0)
	is.True(black.AverageCentipawnLoss > 333 && black.AverageCentipawnLoss < 334)

	is.True(white.Accuracy > 0.8 && white.Accuracy <= 1)
	is.True(black.Accuracy < 0.65)
	is.True(black.Harmonic < 30)
	is.True(white.Rating > black.Rating)

	b, err := json.Marshal(rep)
	is.NoErr(err)
	is.True(strings.Contains(string(b), `"classification":"blunder"`))
	is.True(strings.Contains(string(b), `"color":"black"`))
}

func TestAnalyzeBookMoves(t *testing.T) {
	is := is.New(t)
	g := scholarsGame(t)

	db := eco.NewDatabase()
	is.NoErr(db.LoadReader(strings.NewReader(
		"B00\tKing's Pawn\t1. e4\n" +
			"C20\tKing's Pawn Game\t1. e4 e5\n" +
			"C20\tWayward Queen Attack\t1. e4 e5 2. Qh5\n")))

	a, _ := newTestAnalyzer(t, testSetup{script: scholarsScript(t, g), openings: db})
	rep, err := a.Analyze(context.Background(), g, nil)
	is.NoErr(err)

	is.True(rep.Opening != nil)
	is.Equal(rep.Opening.Name, "Wayward Queen Attack")
	is.Equal(labels(rep)[:4], []classify.Label{classify.Book, classify.Book, classify.Book, classify.Best})
}

func TestAnalyzeWritesThroughCache(t *testing.T) {
	is := is.New(t)
	g := scholarsGame(t)
	cache := store.NewEvalCache(0)

	a, calls := newTestAnalyzer(t, testSetup{script: scholarsScript(t, g), cache: cache})
	first, err := a.Analyze(context.Background(), g, nil)
	is.NoErr(err)
	is.Equal(int(calls.Load()), 8)
	is.Equal(cache.Len(), 7)

	second, err := a.Analyze(context.Background(), g, nil)
	is.NoErr(err)
	// only the final mate position goes back to the engine
	is.Equal(int(calls.Load()), 9)
	is.Equal(labels(second), labels(first))
	is.Equal(second.Engines, []string{"cache"})
}

func TestAnalyzeCancel(t *testing.T) {
	is := is.New(t)
	g := scholarsGame(t)
	a, _ := newTestAnalyzer(t, testSetup{hang: true})

	run, err := a.Start(context.Background(), g, nil)
	is.NoErr(err)
	run.Cancel()
	run.Cancel()

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled analysis did not settle")
	}
	rep := run.Wait()
	is.True(rep.Cancelled)
	is.True(!rep.Complete)
	is.Equal(len(rep.Moves), len(scholarsMate))
	is.Equal(rep.Moves[0].Label, classify.Book)
	for _, m := range rep.Moves[1:6] {
		is.Equal(m.Label, classify.Unknown)
	}
	for _, s := range run.Slots() {
		is.True(!s.Busy)
	}
	is.True(run.Wait() == rep)
}

func TestAnalyzeContextCancel(t *testing.T) {
	is := is.New(t)
	g := scholarsGame(t)
	a, _ := newTestAnalyzer(t, testSetup{hang: true})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rep, err := a.Analyze(ctx, g, nil)
	is.NoErr(err)
	is.True(!rep.Complete)
	is.Equal(len(rep.Moves), len(scholarsMate))
}

func TestAnalyzeInvalidInput(t *testing.T) {
	is := is.New(t)
	a, _ := newTestAnalyzer(t, testSetup{})

	_, err := a.Analyze(context.Background(), &game.Game{Start: game.StartFEN}, nil)
	is.Equal(err, ErrNoMoves)

	_, err = a.AnalyzeMoves(context.Background(), "", nil, nil)
	is.Equal(err, ErrNoMoves)

	_, err = a.AnalyzeMoves(context.Background(), "", []string{"e4", "Ke3"}, nil)
	is.True(err != nil)

	_, err = New(Config{})
	is.Equal(err, ErrNoScheduler)
}

func TestAssembleHoles(t *testing.T) {
	is := is.New(t)
	g := scholarsGame(t)
	a, _ := newTestAnalyzer(t, testSetup{})

	// only the first three positions were evaluated
	script := scholarsScript(t, g)
	results := make([]eval.EvaluatedPosition, 3)
	for i, pos := range g.Positions()[:3] {
		results[i] = eval.EvaluatedPosition{Position: pos, Lines: script[pos.Key()], Engine: "scripted"}
	}
	rep := a.Assemble(g, results, false)

	is.Equal(len(rep.Moves), len(scholarsMate))
	is.True(!rep.Complete)
	is.Equal(rep.Moves[1].Label, classify.Best)
	// scored from the matching line before the move
	is.Equal(rep.Moves[2].Label, classify.Good)
	is.Equal(rep.Moves[3].Label, classify.Unknown)
	is.Equal(rep.Sides[game.Black].Moves, 3)
	is.Equal(rep.Sides[game.Black].Counts[classify.Unknown], 0)
}

func TestEstimateRating(t *testing.T) {
	is := is.New(t)

	is.Equal(EstimateRating(100), 3000)
	is.Equal(EstimateRating(50), 400)
	is.Equal(EstimateRating(0), 100)
	is.Equal(EstimateRating(85), 1900)

	prev := 0
	for acc := 0.0; acc <= 100; acc += 0.5 {
		r := EstimateRating(acc)
		is.True(r >= prev)
		prev = r
	}
}

func TestBatchReport(t *testing.T) {
	is := is.New(t)
	g := scholarsGame(t)
	a, _ := newTestAnalyzer(t, testSetup{script: scholarsScript(t, g)})

	var finished atomic.Int32
	batch := a.AnalyzeGames(context.Background(), []*game.Game{g, g, {Start: game.StartFEN}}, 2, func(*GameResult) {
		finished.Add(1)
	})
	is.Equal(int(finished.Load()), 3)
	is.Equal(batch.TotalGames, 3)
	is.Equal(batch.SuccessfulGames, 2)
	is.Equal(batch.FailedGames, 1)

	players := batch.Players()
	is.Equal(len(players), 2)
	is.Equal(players[0].Name, "Alice")
	is.Equal(players[0].GamesPlayed, 2)
	is.Equal(players[0].Counts[classify.Best], 4)
	is.True(players[0].AvgAccuracy > players[1].AvgAccuracy)
	is.True(players[0].AvgRating > players[1].AvgRating)
	is.Equal(GameInfo(g), "Alice vs Bob")
}
