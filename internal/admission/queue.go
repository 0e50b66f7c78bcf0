package admission

import (
	"context"
	"sync"
	"time"

	"github.com/chatgpt-bridge/bridge/internal/bridgeerr"
)

// Job is one unit of FIFO work (conversation listing, stdio ask).
type Job struct {
	Run func(ctx context.Context) (any, error)
}

// Queue is a bounded FIFO with a default per-job timeout. It also exposes
// an add_if_idle variant for completion handlers, which enqueue only when
// both the queue is empty and nothing is running.
type Queue struct {
	mu          sync.Mutex
	items       []*queuedJob
	running     bool
	maxSize     int
	jobTimeout  time.Duration
	retryAfterS int
}

type queuedJob struct {
	job    Job
	future *Future
}

// NewQueue constructs a Queue with the given bound, default per-job
// timeout, and the retry_after_sec hint returned on queue_full (10s
// default per §4.1).
func NewQueue(maxSize int, jobTimeout time.Duration, retryAfterS int) *Queue {
	if maxSize <= 0 {
		maxSize = 20
	}
	if retryAfterS <= 0 {
		retryAfterS = 10
	}
	return &Queue{maxSize: maxSize, jobTimeout: jobTimeout, retryAfterS: retryAfterS}
}

func (q *Queue) queueFullErr() *bridgeerr.Error {
	return bridgeerr.New(bridgeerr.QueueFull, "job queue is full").WithRetryAfter(q.retryAfterS)
}

// Enqueue appends job to the FIFO and returns a future settled once the
// job runs, preserving arrival order. Rejects with queue_full when the
// bound is exceeded.
func (q *Queue) Enqueue(job Job) (*Future, error) {
	return q.submit(job, false)
}

// EnqueueIfIdle implements add_if_idle: enqueues only when both the queue
// is empty and nothing is currently running; otherwise rejects with
// queue_full (callers map this to previous_response_pending for
// completion handlers, per §4.1's add_if_idle note).
func (q *Queue) EnqueueIfIdle(job Job) (*Future, error) {
	return q.submit(job, true)
}

func (q *Queue) submit(job Job, idleOnly bool) (*Future, error) {
	q.mu.Lock()
	if idleOnly && (len(q.items) > 0 || q.running) {
		q.mu.Unlock()
		return nil, q.queueFullErr()
	}
	if len(q.items) >= q.maxSize {
		q.mu.Unlock()
		return nil, q.queueFullErr()
	}

	future := newFuture()
	q.items = append(q.items, &queuedJob{job: job, future: future})
	shouldDrain := !q.running
	if shouldDrain {
		q.running = true
	}
	q.mu.Unlock()

	if shouldDrain {
		go q.drain()
	}
	return future, nil
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		next := q.items[0]
		q.items = q.items[1:]
		timeout := q.jobTimeout
		q.mu.Unlock()

		ctx := context.Background()
		if timeout > 0 {
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			result, err := next.job.Run(runCtx)
			cancel()
			next.future.settle(result, err)
			continue
		}
		result, err := next.job.Run(ctx)
		next.future.settle(result, err)
	}
}

// Depth reports the current queue length, exposed for /health's
// queueDepth field and the metrics gauge.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
