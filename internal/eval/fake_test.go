package eval

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/freeeve/chessreview/internal/game"
)

// fakeEngine answers with a centipawn score equal to the FEN's full-move
// counter so tests can tell which position a result belongs to.
type fakeEngine struct {
	name   string
	hang   bool          // block until ctx is done
	fail   bool          // return an error immediately
	delay  func() time.Duration
	calls  atomic.Int32
	closed atomic.Bool
}

func (f *fakeEngine) Name() string { return f.name }

func (f *fakeEngine) Search(ctx context.Context, pos game.Position, lim Limits) ([]Line, error) {
	f.calls.Add(1)
	if f.closed.Load() {
		return nil, ErrEngineExited
	}
	if f.fail {
		return nil, errors.New("engine crashed")
	}
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.delay != nil {
		select {
		case <-time.After(f.delay()):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return []Line{
		{Rank: 1, Depth: lim.Depth, Score: CP(fenCounter(pos)), PV: []string{"e2e4"}},
		{Rank: 2, Depth: lim.Depth, Score: CP(fenCounter(pos) - 50), PV: []string{"d2d4"}},
	}, nil
}

func (f *fakeEngine) Close() error {
	f.closed.Store(true)
	return nil
}

func fenCounter(pos game.Position) int {
	fields := strings.Fields(string(pos))
	n, _ := strconv.Atoi(fields[len(fields)-1])
	return n
}

// testFEN returns a distinct position whose move counter is n.
func testFEN(n int, black bool) game.Position {
	side := "w"
	if black {
		side = "b"
	}
	return game.Position("4k3/8/8/8/8/8/8/4K3 " + side + " - - 0 " + strconv.Itoa(n))
}

// fakeStarter hands out engines built by mk and remembers them.
type fakeStarter struct {
	mk      func(p Profile, n int) (*fakeEngine, error)
	started atomic.Int32
	engines chan *fakeEngine
}

func newFakeStarter(mk func(p Profile, n int) (*fakeEngine, error)) *fakeStarter {
	return &fakeStarter{mk: mk, engines: make(chan *fakeEngine, 1024)}
}

func (s *fakeStarter) Start(ctx context.Context, p Profile, log zerolog.Logger) (Engine, error) {
	n := int(s.started.Add(1))
	e, err := s.mk(p, n)
	if err != nil {
		return nil, err
	}
	s.engines <- e
	return e, nil
}

// all returns every engine started so far.
func (s *fakeStarter) all() []*fakeEngine {
	var out []*fakeEngine
	for {
		select {
		case e := <-s.engines:
			out = append(out, e)
		default:
			for _, e := range out {
				s.engines <- e
			}
			return out
		}
	}
}

var testProfiles = []Profile{
	{Name: "full", Path: "fake"},
	{Name: "lite", Path: "fake"},
	{Name: "basic", Path: "fake", Driver: DriverLibrary},
}
