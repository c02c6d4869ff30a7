package eval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/freeeve/chessreview/internal/game"
)

// Lookup returns a precomputed evaluation for a position, with scores
// relative to the side to move. ErrNotFound means the position is unknown
// or was not searched to depth.
type Lookup interface {
	Name() string
	Lookup(ctx context.Context, pos game.Position, multiPV, depth int) (EvaluatedPosition, error)
}

// ProgressFunc receives the completed percentage and the engine that
// finished the latest job. Calls are serialized and percent never decreases.
type ProgressFunc func(percent float64, engine string)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Profiles        []Profile
	Logger          zerolog.Logger
	Start           Starter
	TimeoutPerDepth time.Duration
	MinTimeout      time.Duration
	Lookups         []Lookup               // tried in order before the engine
	SizePool        func(requested int) int // nil = PoolSize with the chain's largest hash
}

// Options configures one batch.
type Options struct {
	PoolSize    int // 0 = auto
	Depth       int
	AllowTime   bool
	MaxMoveTime time.Duration
	MultiPV     int // lines requested from lookups
	OnProgress  ProgressFunc
}

// Scheduler evaluates batches of positions over a pool of engine handles.
type Scheduler struct {
	cfg SchedulerConfig
	log zerolog.Logger

	// Stats
	batches   int64
	evaluated int64
	looked    int64
	failed    int64
}

// NewScheduler creates a scheduler. Handles are created per batch.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Start == nil {
		cfg.Start = StartEngine
	}
	if cfg.SizePool == nil {
		hash := maxHashMB(cfg.Profiles)
		cfg.SizePool = func(requested int) int { return PoolSize(requested, hash) }
	}
	return &Scheduler{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "scheduler").Logger(),
	}
}

// SchedulerStats are cumulative counters across batches.
type SchedulerStats struct {
	Batches   int64 `json:"batches"`
	Evaluated int64 `json:"evaluated"`
	LookedUp  int64 `json:"looked_up"`
	Failed    int64 `json:"failed"`
}

func (s *Scheduler) Stats() SchedulerStats {
	return SchedulerStats{
		Batches:   atomic.LoadInt64(&s.batches),
		Evaluated: atomic.LoadInt64(&s.evaluated),
		LookedUp:  atomic.LoadInt64(&s.looked),
		Failed:    atomic.LoadInt64(&s.failed),
	}
}

// SlotState is a snapshot of one worker slot.
type SlotState struct {
	ID       int    `json:"id"`
	Busy     bool   `json:"busy"`
	Job      int    `json:"job"` // -1 when idle
	Failures int    `json:"failures"`
	Engine   string `json:"engine"`
	Retired  bool   `json:"retired,omitempty"`
}

type slot struct {
	id       int
	handle   *Handle
	busy     bool
	job      int
	failures int
	engine   string
	retired  bool
}

type completion struct {
	slot    *slot
	job     Job
	engine  string
	failed  bool
	retired bool // no engine left; job was not searched and goes back to the queue
}

// Batch is a running batch evaluation. Cancel may be called from any
// goroutine; Wait returns the results once the batch has settled.
type Batch struct {
	results []EvaluatedPosition
	total   int

	cancelOnce sync.Once
	cancelled  chan struct{}
	done       chan struct{}

	mu        sync.Mutex // guards slots and percent
	slots     []*slot
	percent   float64
	completed int
}

// BatchEvaluate starts evaluating jobs and returns immediately. Job i's
// result is stored at index i regardless of completion order; its Index
// field is set accordingly. A batch never fails: positions whose evaluation
// failed or was cancelled have no lines.
func (s *Scheduler) BatchEvaluate(ctx context.Context, jobs []Job, opts Options) *Batch {
	b := &Batch{
		results:   make([]EvaluatedPosition, len(jobs)),
		total:     len(jobs),
		cancelled: make(chan struct{}),
		done:      make(chan struct{}),
	}
	queued := make([]Job, len(jobs))
	for i, job := range jobs {
		job.Index = i
		queued[i] = job
		b.results[i] = EvaluatedPosition{Position: job.Position}
	}
	if opts.MultiPV == 0 {
		opts.MultiPV = 2
	}
	atomic.AddInt64(&s.batches, 1)
	go s.run(ctx, b, NewJobQueue(queued...), opts)
	return b
}

// NewJobs builds one job per position.
func NewJobs(positions []game.Position) []Job {
	jobs := make([]Job, len(positions))
	for i, p := range positions {
		jobs[i] = Job{Index: i, Position: p}
	}
	return jobs
}

func (s *Scheduler) run(ctx context.Context, b *Batch, queue *JobQueue, opts Options) {
	defer close(b.done)
	if b.total == 0 {
		return
	}

	poolSize := s.cfg.SizePool(opts.PoolSize)
	if poolSize > b.total {
		poolSize = b.total
	}
	log := s.log.With().Int("batch_size", b.total).Int("pool_size", poolSize).Logger()
	log.Info().Int("depth", opts.Depth).Msg("batch started")
	start := time.Now()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	slots := s.createSlots(runCtx, poolSize, log)
	b.mu.Lock()
	b.slots = slots
	b.mu.Unlock()
	defer s.teardown(slots, log)

	req := Request{Depth: opts.Depth, AllowTime: opts.AllowTime, MaxMoveTime: opts.MaxMoveTime}
	idle := make([]*slot, 0, poolSize)
	for i := len(slots) - 1; i >= 0; i-- {
		idle = append(idle, slots[i])
	}
	freed := make(chan completion, poolSize)
	var g errgroup.Group
	busy, live := 0, len(slots)
	lastLog := time.Now()

	for {
		select {
		case <-b.cancelled:
			s.abort(b, slots, cancelRun, &g, queue, log)
			return
		case <-ctx.Done():
			s.abort(b, slots, cancelRun, &g, queue, log)
			return
		default:
		}

		// Assign one queued job to every idle slot.
		for len(idle) > 0 {
			job, ok := queue.TryDequeue()
			if !ok {
				break
			}
			sl := idle[len(idle)-1]
			idle = idle[:len(idle)-1]
			b.assign(sl, job.Index)
			busy++
			g.Go(func() error {
				freed <- s.runJob(runCtx, b, sl, job, req, opts)
				return nil
			})
		}

		if live == 0 {
			s.settleStranded(runCtx, b, queue, opts, log)
			break
		}
		if busy == 0 && queue.Len() == 0 {
			break
		}

		select {
		case c := <-freed:
			busy--
			if c.retired {
				live--
				b.retire(c.slot)
				queue.Enqueue(c.job)
				log.Warn().Int("slot", c.slot.id).Int("live_slots", live).Msg("engine slot retired")
				continue
			}
			idle = append(idle, c.slot)
			percent, engine := b.release(c)
			if opts.OnProgress != nil {
				opts.OnProgress(percent, engine)
			}
			if time.Since(lastLog) > 10*time.Second {
				log.Info().Float64("percent", percent).Int("queued", queue.Len()).Msg("batch progress")
				lastLog = time.Now()
			}
		case <-b.cancelled:
		case <-ctx.Done():
		}
	}

	_ = g.Wait()
	log.Info().Dur("elapsed", time.Since(start)).Msg("batch finished")
}

func (s *Scheduler) createSlots(ctx context.Context, n int, log zerolog.Logger) []*slot {
	slots := make([]*slot, n)
	var g errgroup.Group
	for i := range slots {
		sl := &slot{id: i, job: -1}
		slots[i] = sl
		g.Go(func() error {
			h, err := NewHandle(ctx, HandleConfig{
				Profiles:        s.cfg.Profiles,
				Logger:          log.With().Int("slot", sl.id).Logger(),
				Start:           s.cfg.Start,
				TimeoutPerDepth: s.cfg.TimeoutPerDepth,
				MinTimeout:      s.cfg.MinTimeout,
			})
			if err != nil {
				log.Error().Err(err).Int("slot", sl.id).Msg("failed to create engine handle")
				if n := len(s.cfg.Profiles); n > 0 {
					sl.engine = s.cfg.Profiles[n-1].Name
				}
				return nil
			}
			sl.handle = h
			sl.engine = h.Engine()
			return nil
		})
	}
	_ = g.Wait()
	return slots
}

func (s *Scheduler) runJob(ctx context.Context, b *Batch, sl *slot, job Job, req Request, opts Options) completion {
	if engine, ok := s.lookup(ctx, b, job, opts.MultiPV, req.Depth); ok {
		return completion{slot: sl, job: job, engine: engine}
	}

	if sl.handle == nil {
		return completion{slot: sl, job: job, retired: true}
	}

	res, err := sl.handle.Evaluate(ctx, job.Position, req)
	if errors.Is(err, ErrNoEngine) || errors.Is(err, ErrNoProfiles) {
		return completion{slot: sl, job: job, retired: true}
	}
	b.results[job.Index] = res
	if err != nil {
		atomic.AddInt64(&s.failed, 1)
		return completion{slot: sl, job: job, engine: sl.handle.Engine(), failed: true}
	}
	if res.Evaluated() {
		atomic.AddInt64(&s.evaluated, 1)
	}
	engine := res.Engine
	if engine == "" {
		engine = sl.handle.Engine()
	}
	return completion{slot: sl, job: job, engine: engine}
}

// lookup tries the configured lookups in order and stores the first result
// that covers depth.
func (s *Scheduler) lookup(ctx context.Context, b *Batch, job Job, multiPV, depth int) (string, bool) {
	for _, lk := range s.cfg.Lookups {
		res, err := lk.Lookup(ctx, job.Position, multiPV, depth)
		if err != nil || !res.Covers(depth) {
			continue
		}
		if res.Engine == "" {
			res.Engine = lk.Name()
		}
		res.Position = job.Position
		b.results[job.Index] = res
		atomic.AddInt64(&s.looked, 1)
		return res.Engine, true
	}
	return "", false
}

// settleStranded finishes the queue once every slot is retired. Lookups may
// still answer; everything else stays unevaluated.
func (s *Scheduler) settleStranded(ctx context.Context, b *Batch, queue *JobQueue, opts Options, log zerolog.Logger) {
	jobs := queue.Drain()
	engine := b.lastEngine()
	failed := 0
	for _, job := range jobs {
		name := engine
		if ctx.Err() == nil && !b.Cancelled() {
			if lk, ok := s.lookup(ctx, b, job, opts.MultiPV, opts.Depth); ok {
				name = lk
			} else {
				failed++
			}
		} else {
			failed++
		}
		percent := b.settle()
		if opts.OnProgress != nil {
			opts.OnProgress(percent, name)
		}
	}
	atomic.AddInt64(&s.failed, int64(failed))
	log.Error().Int("unevaluated", failed).Int("stranded", len(jobs)).Msg("no engine slots left")
}

// abort stops in-flight searches, waits for their goroutines, and leaves
// the remaining queued jobs unevaluated.
func (s *Scheduler) abort(b *Batch, slots []*slot, cancelRun context.CancelFunc, g *errgroup.Group, queue *JobQueue, log zerolog.Logger) {
	cancelRun()
	for _, sl := range slots {
		if sl.handle != nil {
			sl.handle.Abort()
		}
	}
	_ = g.Wait()
	abandoned := len(queue.Drain())

	b.mu.Lock()
	for _, sl := range slots {
		sl.busy = false
		sl.job = -1
	}
	completed := b.completed
	b.mu.Unlock()

	log.Info().Int("completed", completed).Int("abandoned", abandoned).Msg("batch cancelled")
}

func (s *Scheduler) teardown(slots []*slot, log zerolog.Logger) {
	var g errgroup.Group
	for _, sl := range slots {
		if sl.handle == nil {
			continue
		}
		h := sl.handle
		g.Go(func() error {
			if err := h.Close(); err != nil {
				log.Debug().Err(err).Msg("engine close")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (b *Batch) assign(sl *slot, job int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sl.busy = true
	sl.job = job
}

// release frees the slot and counts its job as settled. The returned engine
// falls back to the slot's last known engine.
func (b *Batch) release(c completion) (float64, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c.slot.busy = false
	c.slot.job = -1
	if c.failed {
		c.slot.failures++
	}
	if c.engine != "" {
		c.slot.engine = c.engine
	}
	b.completed++
	b.percent = float64(b.completed) / float64(b.total) * 100
	return b.percent, c.slot.engine
}

// retire takes a slot without a working engine out of rotation. Its job is
// not counted as settled.
func (b *Batch) retire(sl *slot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sl.busy = false
	sl.job = -1
	sl.retired = true
	sl.failures++
}

// settle counts a job that no slot ran.
func (b *Batch) settle() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed++
	b.percent = float64(b.completed) / float64(b.total) * 100
	return b.percent
}

func (b *Batch) lastEngine() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.slots) - 1; i >= 0; i-- {
		if e := b.slots[i].engine; e != "" {
			return e
		}
	}
	return ""
}

// Cancel stops the batch. Safe to call more than once and after completion.
func (b *Batch) Cancel() {
	b.cancelOnce.Do(func() {
		close(b.cancelled)
	})
}

// Cancelled reports whether Cancel was called.
func (b *Batch) Cancelled() bool {
	select {
	case <-b.cancelled:
		return true
	default:
		return false
	}
}

// Done is closed once the batch has settled and every handle is closed.
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until the batch settles and returns one entry per job.
func (b *Batch) Wait() []EvaluatedPosition {
	<-b.done
	return b.results
}

// Progress returns the completed percentage.
func (b *Batch) Progress() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.percent
}

// Completed returns the number of settled jobs.
func (b *Batch) Completed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.completed
}

// Len returns the number of jobs in the batch.
func (b *Batch) Len() int {
	return b.total
}

// Slots returns a snapshot of the worker slots.
func (b *Batch) Slots() []SlotState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SlotState, len(b.slots))
	for i, sl := range b.slots {
		out[i] = SlotState{
			ID:       sl.id,
			Busy:     sl.busy,
			Job:      sl.job,
			Failures: sl.failures,
			Engine:   sl.engine,
			Retired:  sl.retired,
		}
	}
	return out
}
