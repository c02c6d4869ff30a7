package eval

import (
	"sync"

	"github.com/freeeve/chessreview/internal/game"
)

// Job is one position to evaluate.
type Job struct {
	Index    int // position in the batch; results are stored at this index
	Position game.Position
	Move     *game.Move // move that produced Position; nil for a start position
}

// JobQueue is a FIFO of unassigned jobs.
type JobQueue struct {
	mu    sync.Mutex
	queue []Job
}

func NewJobQueue(jobs ...Job) *JobQueue {
	q := &JobQueue{
		queue: make([]Job, 0, len(jobs)),
	}
	q.queue = append(q.queue, jobs...)
	return q
}

func (q *JobQueue) Enqueue(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.queue = append(q.queue, job)
}

// TryDequeue pops the oldest job without blocking.
func (q *JobQueue) TryDequeue() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.queue) == 0 {
		return Job{}, false
	}
	job := q.queue[0]
	q.queue[0] = Job{}
	q.queue = q.queue[1:]
	return job, true
}

// Drain removes and returns every queued job.
func (q *JobQueue) Drain() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.queue
	q.queue = nil
	return out
}

func (q *JobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}
