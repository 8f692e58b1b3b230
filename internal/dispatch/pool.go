package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Capitan-Parrot/distributed-video-system/safety-runner/internal/metrics"
)

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Pool runs fire-and-forget tasks on a fixed set of workers. Submission never
// blocks: when the queue is full the task is dropped. Failed tasks are logged
// and forgotten; nothing is retried.
type Pool struct {
	tasks   chan task
	timeout time.Duration
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewPool(workers, queueSize int, timeout time.Duration, logger *zap.SugaredLogger, m *metrics.Metrics) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		tasks:   make(chan task, queueSize),
		timeout: timeout,
		logger:  logger,
		metrics: m,
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit schedules fn and reports whether it was accepted.
func (p *Pool) Submit(name string, fn func(ctx context.Context) error) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.tasks <- task{name: name, fn: fn}:
		return true
	default:
		p.logger.Warnw("dispatch queue full, dropping task", "task", name)
		if p.metrics != nil {
			p.metrics.DispatchDropped.Inc()
		}
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for t := range p.tasks {
		p.run(id, t)
	}
}

func (p *Pool) run(id int, t task) {
	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("dispatch task panicked", "task", t.name, "worker", id, "panic", r)
		}
	}()

	if err := t.fn(ctx); err != nil {
		p.logger.Warnw("dispatch task failed", "task", t.name, "worker", id, "error", err)
		if p.metrics != nil {
			p.metrics.DispatchFailures.WithLabelValues(t.name).Inc()
		}
	}
}
