package httpapi

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/freeeve/chessreview/internal/analysis"
	"github.com/freeeve/chessreview/internal/game"
)

var (
	errTooManyRuns = errors.New("too many analyses in progress")
	errRunNotFound = errors.New("analysis not found")
)

// Run states reported by the API.
const (
	statusRunning   = "running"
	statusDone      = "done"
	statusCancelled = "cancelled"
)

// progressEvent is one progress notification for websocket subscribers.
type progressEvent struct {
	Percent float64
	Engine  string
}

// runEntry tracks one analysis started through the API.
type runEntry struct {
	id      string
	run     *analysis.Run
	created time.Time

	mu       sync.Mutex
	subs     map[chan progressEvent]struct{}
	report   *analysis.Report
	finished time.Time
}

func (e *runEntry) publish(ev progressEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for ch := range e.subs {
		select {
		case ch <- ev:
		default:
			// slow subscriber; the next event carries a newer percent anyway
		}
	}
}

// subscribe registers for progress events. The channel is closed when the
// run finishes or the returned cancel func is called.
func (e *runEntry) subscribe() (<-chan progressEvent, func()) {
	ch := make(chan progressEvent, 16)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.report != nil {
		close(ch)
		return ch, func() {}
	}
	e.subs[ch] = struct{}{}
	return ch, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if _, ok := e.subs[ch]; ok {
			delete(e.subs, ch)
			close(ch)
		}
	}
}

func (e *runEntry) finish(rep *analysis.Report) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.report = rep
	e.finished = time.Now()
	for ch := range e.subs {
		delete(e.subs, ch)
		close(ch)
	}
}

// Report returns the finished report, or nil while running.
func (e *runEntry) Report() *analysis.Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report
}

func (e *runEntry) status() string {
	rep := e.Report()
	switch {
	case rep == nil:
		return statusRunning
	case rep.Cancelled:
		return statusCancelled
	default:
		return statusDone
	}
}

// runView is the JSON shape of a run.
type runView struct {
	ID       string           `json:"id"`
	Status   string           `json:"status"`
	Percent  float64          `json:"percent"`
	Engine   string           `json:"engine,omitempty"`
	Moves    int              `json:"moves"`
	White    string           `json:"white,omitempty"`
	Black    string           `json:"black,omitempty"`
	Created  time.Time        `json:"created"`
	Finished *time.Time       `json:"finished,omitempty"`
	Report   *analysis.Report `json:"report,omitempty"`
}

func (e *runEntry) view(withReport bool) runView {
	g := e.run.Game()
	v := runView{
		ID:      e.id,
		Status:  e.status(),
		Percent: e.run.Progress(),
		Engine:  e.run.Engine(),
		Moves:   len(g.Moves),
		White:   g.Tag("White"),
		Black:   g.Tag("Black"),
		Created: e.created,
	}
	e.mu.Lock()
	if e.report != nil {
		finished := e.finished
		v.Finished = &finished
		if withReport {
			v.Report = e.report
		}
	}
	e.mu.Unlock()
	return v
}

// runRegistry owns the analyses started through the API. Runs derive from
// the registry's context, so they outlive the request that started them.
type runRegistry struct {
	ctx      context.Context
	analyzer *analysis.Analyzer
	maxRuns  int
	ttl      time.Duration
	log      zerolog.Logger

	mu   sync.Mutex
	runs map[string]*runEntry
}

func newRunRegistry(ctx context.Context, a *analysis.Analyzer, maxRuns int, ttl time.Duration, log zerolog.Logger) *runRegistry {
	return &runRegistry{
		ctx:      ctx,
		analyzer: a,
		maxRuns:  maxRuns,
		ttl:      ttl,
		log:      log,
		runs:     make(map[string]*runEntry),
	}
}

func (r *runRegistry) active() int {
	n := 0
	for _, e := range r.runs {
		if e.Report() == nil {
			n++
		}
	}
	return n
}

// start launches an analysis of g and registers it.
func (r *runRegistry) start(g *game.Game) (*runEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maxRuns > 0 && r.active() >= r.maxRuns {
		return nil, errTooManyRuns
	}

	e := &runEntry{
		id:      uuid.NewString(),
		created: time.Now(),
		subs:    make(map[chan progressEvent]struct{}),
	}
	run, err := r.analyzer.Start(r.ctx, g, func(percent float64, engine string) {
		e.publish(progressEvent{Percent: percent, Engine: engine})
	})
	if err != nil {
		return nil, err
	}
	e.run = run
	r.runs[e.id] = e

	go func() {
		e.finish(run.Wait())
		r.log.Debug().Str("run", e.id).Str("status", e.status()).Msg("analysis run finished")
	}()
	return e, nil
}

func (r *runRegistry) get(id string) (*runEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.runs[id]
	if !ok {
		return nil, errRunNotFound
	}
	return e, nil
}

// list returns the known runs, newest first.
func (r *runRegistry) list() []*runEntry {
	r.mu.Lock()
	out := make([]*runEntry, 0, len(r.runs))
	for _, e := range r.runs {
		out = append(out, e)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].created.After(out[j].created) })
	return out
}

// prune forgets runs that finished more than ttl before now.
func (r *runRegistry) prune(now time.Time) int {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, e := range r.runs {
		e.mu.Lock()
		expired := e.report != nil && now.Sub(e.finished) > r.ttl
		e.mu.Unlock()
		if expired {
			delete(r.runs, id)
			n++
		}
	}
	return n
}

// janitor prunes expired runs until ctx is done.
func (r *runRegistry) janitor() {
	if r.ttl <= 0 {
		return
	}
	interval := r.ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.prune(now); n > 0 {
				r.log.Debug().Int("pruned", n).Msg("expired analysis runs removed")
			}
		}
	}
}
