// Package eventloop provides the single-goroutine execution context the
// buffer cache is affine to. All cache operations and all I/O completion
// callbacks for one cache instance run on one Queue, which is what makes
// the cache's unsynchronized state safe.
package eventloop

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	commonutils "github.com/sushant-115/mirrordb/internal/common_utils"
)

// Queue is a FIFO run queue drained by a single goroutine. Tasks posted
// from any goroutine execute one at a time, in order, on the loop
// goroutine. The queue is unbounded so the loop may post to itself
// without risk of blocking on its own backlog.
type Queue struct {
	name   string
	logger *zap.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	tasks  []func()
	closed bool

	wg       sync.WaitGroup
	loopGoID atomic.Int64
}

// New creates a Queue. Run must be called before tasks execute.
func New(name string, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		name:   name,
		logger: logger,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Name returns the queue's name, used in logs and assertion messages.
func (q *Queue) Name() string {
	return q.name
}

// Run starts the loop goroutine. It must be called exactly once.
func (q *Queue) Run() {
	q.wg.Add(1)
	go q.loop()
}

func (q *Queue) loop() {
	defer q.wg.Done()
	q.loopGoID.Store(commonutils.GoID())
	for {
		q.mu.Lock()
		for len(q.tasks) == 0 {
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.cond.Wait()
		}
		batch := q.tasks
		q.tasks = nil
		q.mu.Unlock()
		for _, task := range batch {
			task()
		}
	}
}

// Post schedules task to run on the loop goroutine. It never blocks, so
// tasks running on the loop can post freely. Tasks posted after Stop are
// dropped with a warning.
func (q *Queue) Post(task func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("task posted to stopped event loop, dropping", zap.String("queue", q.name))
		return
	}
	q.tasks = append(q.tasks, task)
	q.cond.Signal()
}

// PostDelayed schedules task to run on the loop goroutine after d.
func (q *Queue) PostDelayed(d time.Duration, task func()) *time.Timer {
	return time.AfterFunc(d, func() {
		q.Post(task)
	})
}

// OnLoop reports whether the caller is running on the loop goroutine.
func (q *Queue) OnLoop() bool {
	return commonutils.GoID() == q.loopGoID.Load()
}

// Stop drains already-posted tasks and stops the loop goroutine. It must
// not be called from the loop itself.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cond.Signal()
	q.mu.Unlock()
	q.wg.Wait()
}
