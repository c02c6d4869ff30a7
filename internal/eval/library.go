package eval

import (
	"context"
	"fmt"
	"sync"

	"github.com/freeeve/uci"
	"github.com/rs/zerolog"

	"github.com/freeeve/chessreview/internal/game"
)

// libraryEngine wraps github.com/freeeve/uci. It only supports depth limits
// and reports a single line without a principal variation, so it serves as
// the last profile of a chain.
type libraryEngine struct {
	name   string
	log    zerolog.Logger
	mu     sync.Mutex
	engine *uci.Engine
	broken bool
	once   sync.Once
}

func startLibraryEngine(p Profile, log zerolog.Logger) (Engine, error) {
	p = p.withDefaults()
	if p.Path == "" {
		return nil, fmt.Errorf("profile %s: engine path required", p.Name)
	}
	log = log.With().Str("engine", p.Name).Logger()

	engine, err := uci.NewEngine(p.Path)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	opts := uci.Options{
		Hash:    p.HashMB,
		Threads: p.Threads,
		MultiPV: 1,
		Ponder:  false,
		OwnBook: false,
	}
	if err := engine.SetOptions(opts); err != nil {
		engine.Close()
		return nil, fmt.Errorf("set options: %w", err)
	}

	// Set nice value after options so the engine is initialized
	if p.Nice > 0 {
		if err := engine.SetNice(p.Nice); err != nil {
			log.Warn().Err(err).Int("nice", p.Nice).Msg("failed to set nice value")
		}
	}

	return &libraryEngine{name: p.Name, log: log, engine: engine}, nil
}

func (e *libraryEngine) Name() string { return e.name }

type libraryResult struct {
	line Line
	err  error
}

func (e *libraryEngine) Search(ctx context.Context, pos game.Position, lim Limits) ([]Line, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.broken {
		return nil, ErrEngineExited
	}

	done := make(chan libraryResult, 1)
	go func() {
		if err := e.engine.SetFEN(string(pos)); err != nil {
			done <- libraryResult{err: fmt.Errorf("set FEN: %w", err)}
			return
		}
		results, err := e.engine.GoDepth(lim.Depth, uci.HighestDepthOnly)
		if err != nil {
			done <- libraryResult{err: err}
			return
		}
		if len(results.Results) == 0 {
			done <- libraryResult{err: fmt.Errorf("no results from engine")}
			return
		}
		best := results.Results[0]
		for _, r := range results.Results {
			if r.Depth > best.Depth {
				best = r
			}
		}
		line := Line{Rank: 1, Depth: int(best.Depth), Score: CP(int(best.Score))}
		if best.Mate {
			line.Score = MateIn(int(best.Score))
		}
		done <- libraryResult{line: line}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return []Line{res.line}, nil
	case <-ctx.Done():
		// The library search cannot be interrupted; drop the engine.
		e.broken = true
		go e.Close()
		return nil, ctx.Err()
	}
}

func (e *libraryEngine) Close() error {
	e.once.Do(func() {
		e.engine.Close()
	})
	return nil
}
