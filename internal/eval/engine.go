package eval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessreview/internal/game"
)

var (
	// ErrEngineExited is returned when the engine process stopped responding.
	ErrEngineExited = errors.New("engine exited")
	// ErrNoProfiles is returned when no engine profile could be started.
	ErrNoProfiles = errors.New("no engine profile could be started")
	// ErrNoEngine is returned by a handle whose substitution chain is exhausted.
	ErrNoEngine = errors.New("no engine available")
	// ErrNotFound is returned by lookups that have no evaluation for a position.
	ErrNotFound = errors.New("evaluation not found")
)

// FailureKind classifies engine failures.
type FailureKind uint8

const (
	FailureCreate FailureKind = iota
	FailureRuntime
	FailureTimeout
)

func (k FailureKind) String() string {
	switch k {
	case FailureCreate:
		return "create"
	case FailureTimeout:
		return "timeout"
	default:
		return "runtime"
	}
}

// EngineError wraps a failure of one engine profile.
type EngineError struct {
	Profile string
	Kind    FailureKind
	Err     error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s: %s: %v", e.Profile, e.Kind, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Limits bounds one search. Both limits may be active at once; the engine
// stops at whichever is hit first.
type Limits struct {
	Depth    int
	MoveTime time.Duration // 0 = no time bound
}

// Engine is a running analysis engine.
type Engine interface {
	// Name identifies the profile the engine was started with.
	Name() string
	// Search returns the lines reached at the maximum depth, sorted by rank,
	// with scores relative to the side to move. Cancelling ctx stops the search.
	Search(ctx context.Context, pos game.Position, lim Limits) ([]Line, error)
	Close() error
}

// Starter creates an engine for a profile.
type Starter func(ctx context.Context, p Profile, log zerolog.Logger) (Engine, error)

// StartEngine starts p with the driver it names.
func StartEngine(ctx context.Context, p Profile, log zerolog.Logger) (Engine, error) {
	switch p.Driver {
	case DriverLibrary:
		return startLibraryEngine(p, log)
	case DriverProcess, "":
		return startProcessEngine(ctx, p, log)
	default:
		return nil, fmt.Errorf("unknown engine driver %q", p.Driver)
	}
}
