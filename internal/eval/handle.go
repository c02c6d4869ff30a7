package eval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessreview/internal/game"
)

// HandleConfig configures an engine handle.
type HandleConfig struct {
	Profiles        []Profile // substitution chain, tried in order
	Logger          zerolog.Logger
	Start           Starter       // nil = StartEngine
	TimeoutPerDepth time.Duration // per requested ply
	MinTimeout      time.Duration // floor for the per-call timeout
	Perspective     Perspective   // perspective of returned scores
}

// Request is one evaluation request.
type Request struct {
	Depth       int
	AllowTime   bool          // honor MaxMoveTime
	MaxMoveTime time.Duration // 0 = depth only
}

// Limits converts the request into engine search limits.
func (r Request) Limits() Limits {
	lim := Limits{Depth: r.Depth}
	if r.AllowTime && r.MaxMoveTime > 0 {
		lim.MoveTime = r.MaxMoveTime
	}
	return lim
}

// Handle is a long-lived engine worker. It owns a profile chain and
// substitutes the next profile when the current engine fails.
type Handle struct {
	cfg HandleConfig
	log zerolog.Logger

	mu      sync.Mutex // serializes Evaluate
	engine  Engine
	profile int // index of the running profile in cfg.Profiles

	abortMu sync.Mutex
	cancel  context.CancelFunc
	aborted bool
	closed  bool
}

// NewHandle starts the first profile of the chain that initializes. Creation
// failures escalate through the chain; ErrNoProfiles is returned when none
// starts.
func NewHandle(ctx context.Context, cfg HandleConfig) (*Handle, error) {
	if len(cfg.Profiles) == 0 {
		return nil, ErrNoProfiles
	}
	if cfg.Start == nil {
		cfg.Start = StartEngine
	}
	if cfg.TimeoutPerDepth == 0 {
		cfg.TimeoutPerDepth = 3 * time.Second
	}
	if cfg.MinTimeout == 0 {
		cfg.MinTimeout = 10 * time.Second
	}

	h := &Handle{cfg: cfg, log: cfg.Logger, profile: -1}
	if err := h.startFrom(ctx, 0); err != nil {
		return nil, err
	}
	return h, nil
}

// startFrom starts the first profile at or after index i.
func (h *Handle) startFrom(ctx context.Context, i int) error {
	var errs []error
	for ; i < len(h.cfg.Profiles); i++ {
		p := h.cfg.Profiles[i]
		eng, err := h.cfg.Start(ctx, p, h.log)
		if err != nil {
			err = &EngineError{Profile: p.Name, Kind: FailureCreate, Err: err}
			h.log.Warn().Err(err).Str("profile", p.Name).Msg("engine profile failed to start")
			errs = append(errs, err)
			continue
		}
		h.engine = eng
		h.profile = i
		return nil
	}
	h.engine = nil
	h.profile = len(h.cfg.Profiles)
	return fmt.Errorf("%w: %w", ErrNoProfiles, errors.Join(errs...))
}

// Engine returns the name of the running profile, or "" when exhausted.
func (h *Handle) Engine() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.engine == nil {
		return ""
	}
	return h.engine.Name()
}

// Timeout returns the bound applied to one Evaluate attempt.
func (h *Handle) Timeout(req Request) time.Duration {
	t := h.cfg.TimeoutPerDepth * time.Duration(req.Depth)
	if t < h.cfg.MinTimeout {
		t = h.cfg.MinTimeout
	}
	return t + req.Limits().MoveTime
}

// Evaluate searches pos. On engine failure or timeout the next profile is
// substituted and the search retried once; after that an empty result is
// returned along with the failure. Abort and ctx cancellation return an
// empty result with a nil error.
func (h *Handle) Evaluate(ctx context.Context, pos game.Position, req Request) (EvaluatedPosition, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	empty := EvaluatedPosition{Position: pos}
	substituted := false
	for {
		if h.engine == nil {
			return empty, ErrNoEngine
		}
		callCtx, cancel := context.WithTimeout(ctx, h.Timeout(req))
		if !h.begin(cancel) {
			cancel()
			return empty, nil
		}

		start := time.Now()
		lines, err := h.engine.Search(callCtx, pos, req.Limits())
		timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
		aborted := h.end()
		cancel()

		if aborted || ctx.Err() != nil {
			return empty, nil
		}
		name := h.engine.Name()
		if err == nil {
			lines = Orient(lines, pos, SideToMove, h.cfg.Perspective)
			h.log.Debug().
				Str("engine", name).
				Int("lines", len(lines)).
				Dur("took", time.Since(start)).
				Msg("evaluated")
			return EvaluatedPosition{
				Position: pos,
				Lines:    lines,
				Engine:   name,
				Depth:    maxLineDepth(lines),
			}, nil
		}

		kind := FailureRuntime
		if timedOut {
			kind = FailureTimeout
		}
		failure := &EngineError{Profile: name, Kind: kind, Err: err}
		h.log.Warn().Err(failure).Str("fen", string(pos)).Msg("evaluation failed")

		if substituted {
			return empty, failure
		}
		substituted = true
		h.engine.Close()
		if serr := h.startFrom(ctx, h.profile+1); serr != nil {
			return empty, errors.Join(failure, serr)
		}
		h.log.Info().Str("from", name).Str("to", h.engine.Name()).Msg("substituted engine profile")
	}
}

func maxLineDepth(lines []Line) int {
	d := 0
	for _, l := range lines {
		if l.Depth > d {
			d = l.Depth
		}
	}
	return d
}

func (h *Handle) begin(cancel context.CancelFunc) bool {
	h.abortMu.Lock()
	defer h.abortMu.Unlock()
	if h.closed {
		return false
	}
	h.cancel = cancel
	h.aborted = false
	return true
}

func (h *Handle) end() bool {
	h.abortMu.Lock()
	defer h.abortMu.Unlock()
	h.cancel = nil
	return h.aborted
}

// Abort stops the in-flight search, if any. The pending Evaluate returns
// an empty result. The handle stays usable.
func (h *Handle) Abort() {
	h.abortMu.Lock()
	defer h.abortMu.Unlock()
	if h.cancel != nil {
		h.aborted = true
		h.cancel()
	}
}

// Close aborts any search and terminates the engine. Safe to call twice.
func (h *Handle) Close() error {
	h.abortMu.Lock()
	if h.closed {
		h.abortMu.Unlock()
		return nil
	}
	h.closed = true
	if h.cancel != nil {
		h.aborted = true
		h.cancel()
	}
	h.abortMu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.engine == nil {
		return nil
	}
	err := h.engine.Close()
	h.engine = nil
	return err
}
