// Package analysis reviews whole games: it evaluates every position through
// the scheduler, classifies each move and summarizes accuracy per side.
package analysis

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessreview/internal/classify"
	"github.com/freeeve/chessreview/internal/eco"
	"github.com/freeeve/chessreview/internal/eval"
	"github.com/freeeve/chessreview/internal/game"
	"github.com/freeeve/chessreview/internal/store"
)

// DefaultDepth is the search depth used when none is configured.
const DefaultDepth = 16

var (
	ErrNoMoves     = errors.New("game has no moves")
	ErrNoScheduler = errors.New("analysis: scheduler is required")
)

// Config configures an Analyzer.
type Config struct {
	Scheduler *eval.Scheduler
	Openings  *eco.Database    // optional, marks book moves
	Cache     *store.EvalCache // optional, engine results are written through
	Logger    zerolog.Logger

	Depth       int
	AllowTime   bool
	MaxMoveTime time.Duration
	PoolSize    int // 0 = auto
	MultiPV     int
	Thresholds  classify.Thresholds
}

// Analyzer runs game reviews. It is safe for concurrent use.
type Analyzer struct {
	cfg Config
	log zerolog.Logger
}

// New creates an Analyzer.
func New(cfg Config) (*Analyzer, error) {
	if cfg.Scheduler == nil {
		return nil, ErrNoScheduler
	}
	if cfg.Depth <= 0 {
		cfg.Depth = DefaultDepth
	}
	if cfg.MultiPV <= 0 {
		cfg.MultiPV = 2
	}
	cfg.Thresholds = cfg.Thresholds.WithDefaults()
	return &Analyzer{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "analysis").Logger(),
	}, nil
}

// Run is an analysis in progress. Cancel may be called from any goroutine.
type Run struct {
	a       *Analyzer
	game    *game.Game
	batch   *eval.Batch
	started time.Time

	mu     sync.Mutex
	engine string

	once   sync.Once
	report *Report
}

// Start begins analyzing g and returns immediately.
func (a *Analyzer) Start(ctx context.Context, g *game.Game, onProgress eval.ProgressFunc) (*Run, error) {
	if g == nil || len(g.Moves) == 0 {
		return nil, ErrNoMoves
	}
	r := &Run{a: a, game: g, started: time.Now()}

	positions := g.Positions()
	jobs := eval.NewJobs(positions)
	for i := 1; i < len(jobs); i++ {
		jobs[i].Move = &g.Moves[i-1]
	}

	r.batch = a.cfg.Scheduler.BatchEvaluate(ctx, jobs, eval.Options{
		PoolSize:    a.cfg.PoolSize,
		Depth:       a.cfg.Depth,
		AllowTime:   a.cfg.AllowTime,
		MaxMoveTime: a.cfg.MaxMoveTime,
		MultiPV:     a.cfg.MultiPV,
		OnProgress: func(percent float64, engine string) {
			r.mu.Lock()
			r.engine = engine
			r.mu.Unlock()
			if onProgress != nil {
				onProgress(percent, engine)
			}
		},
	})

	a.log.Info().
		Int("moves", len(g.Moves)).
		Int("depth", a.cfg.Depth).
		Str("white", g.Tag("White")).
		Str("black", g.Tag("Black")).
		Msg("analysis started")
	return r, nil
}

// Analyze evaluates and classifies every move of g. Engine failures never
// fail the analysis; affected moves are reported as unevaluated.
func (a *Analyzer) Analyze(ctx context.Context, g *game.Game, onProgress eval.ProgressFunc) (*Report, error) {
	r, err := a.Start(ctx, g, onProgress)
	if err != nil {
		return nil, err
	}
	return r.Wait(), nil
}

// AnalyzeMoves replays SAN moves from start (empty for the standard
// position) and analyzes them.
func (a *Analyzer) AnalyzeMoves(ctx context.Context, start game.Position, sans []string, onProgress eval.ProgressFunc) (*Report, error) {
	if len(sans) == 0 {
		return nil, ErrNoMoves
	}
	g, err := game.Replay(start, sans)
	if err != nil {
		return nil, err
	}
	return a.Analyze(ctx, g, onProgress)
}

// Cancel stops the analysis. The report keeps whatever was evaluated.
func (r *Run) Cancel() { r.batch.Cancel() }

// Done is closed once every evaluation has settled.
func (r *Run) Done() <-chan struct{} { return r.batch.Done() }

// Progress returns the completed percentage.
func (r *Run) Progress() float64 { return r.batch.Progress() }

// Engine returns the engine that completed the latest position.
func (r *Run) Engine() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine
}

// Game returns the game under analysis.
func (r *Run) Game() *game.Game { return r.game }

// Slots exposes the worker slots of the underlying batch.
func (r *Run) Slots() []eval.SlotState { return r.batch.Slots() }

// Wait blocks until the batch settles and returns the report. Subsequent
// calls return the same report.
func (r *Run) Wait() *Report {
	results := r.batch.Wait()
	r.once.Do(func() {
		r.report = r.a.Assemble(r.game, results, r.batch.Cancelled())
		r.report.Duration = time.Since(r.started)

		r.a.log.Info().
			Int("moves", len(r.report.Moves)).
			Int("evaluated", r.report.Evaluated).
			Bool("cancelled", r.report.Cancelled).
			Float64("white_accuracy", r.report.Sides[game.White].Accuracy).
			Float64("black_accuracy", r.report.Sides[game.Black].Accuracy).
			Dur("took", r.report.Duration).
			Msg("analysis finished")
	})
	return r.report
}
