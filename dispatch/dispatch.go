// Package dispatch runs blocking work on a fixed pool of workers so the
// calling goroutine only waits at an explicit await point.
//
// A Dispatcher is created once per process and shared by all submissions.
// Work runs detached from the submitter's cancellation: a caller that stops
// waiting does not stop the work. Submissions queue when all workers are
// busy; the queue is unbounded unless Options.QueueSize is set, in which
// case a full queue rejects with ErrOverloaded.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/agentplatform/logging"
)

// DefaultWorkers is the pool size used when Options.Workers is not positive.
const DefaultWorkers = 4

var (
	// ErrOverloaded is returned by Submit when the bounded queue is full.
	ErrOverloaded = errors.New("dispatcher queue is full")

	// ErrStopped is returned by Submit after Stop was called.
	ErrStopped = errors.New("dispatcher is stopped")
)

// PanicError is the error a Future resolves with when its work panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (p *PanicError) Error() string { return fmt.Sprintf("work panicked: %v", p.Value) }

// Options configures a Dispatcher.
type Options struct {
	// Workers is the number of concurrent execution slots.
	Workers int

	// QueueSize bounds the number of waiting submissions. Zero means unbounded.
	QueueSize int

	Logger logging.Logger
}

// Stats is a point-in-time view of the dispatcher.
type Stats struct {
	Workers   int    `json:"workers"`
	Queued    int    `json:"queued"`
	Running   int    `json:"running"`
	Submitted uint64 `json:"submitted"`
	Completed uint64 `json:"completed"`
	Rejected  uint64 `json:"rejected"`
}

type job struct {
	ctx context.Context
	run func(ctx context.Context)
}

// Dispatcher is a fixed-size worker pool with a FIFO queue.
type Dispatcher struct {
	opts   Options
	logger logging.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []job
	running int
	stopped bool
	wg      sync.WaitGroup

	submitted atomic.Uint64
	completed atomic.Uint64
	rejected  atomic.Uint64
}

// New creates a Dispatcher and starts its workers.
func New(optFns ...func(o *Options)) *Dispatcher {
	opts := Options{Workers: DefaultWorkers}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}

	d := &Dispatcher{
		opts:   opts,
		logger: logging.OrNoOp(opts.Logger).With("component", "dispatcher"),
	}
	d.cond = sync.NewCond(&d.mu)

	for i := 0; i < opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	d.logger.Info("dispatch.started", "workers", opts.Workers, "queue_size", opts.QueueSize)
	return d
}

// Submit schedules fn on the pool and returns a Future for its result.
// The work receives a context carrying ctx's values but not its
// cancellation.
func Submit[T any](d *Dispatcher, ctx context.Context, fn func(ctx context.Context) (T, error)) (*Future[T], error) {
	f := newFuture[T]()
	j := job{
		ctx: context.WithoutCancel(ctx),
		run: func(ctx context.Context) {
			var (
				val T
				err error
			)
			defer func() {
				if r := recover(); r != nil {
					pe := &PanicError{Value: r, Stack: debug.Stack()}
					d.logger.Error("dispatch.work.panic", "recover", r)
					var zero T
					val, err = zero, pe
				}
				f.resolve(val, err)
			}()
			val, err = fn(ctx)
		},
	}
	if err := d.enqueue(j); err != nil {
		return nil, err
	}
	return f, nil
}

func (d *Dispatcher) enqueue(j job) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		d.rejected.Add(1)
		return ErrStopped
	}
	if d.opts.QueueSize > 0 && len(d.queue) >= d.opts.QueueSize {
		d.rejected.Add(1)
		d.logger.Warn("dispatch.queue.full", "queued", len(d.queue), "running", d.running)
		return ErrOverloaded
	}

	d.queue = append(d.queue, j)
	d.submitted.Add(1)
	d.cond.Signal()
	return nil
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.stopped {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		j := d.queue[0]
		d.queue[0] = job{}
		d.queue = d.queue[1:]
		d.running++
		d.mu.Unlock()

		j.run(j.ctx)

		d.mu.Lock()
		d.running--
		d.mu.Unlock()
		d.completed.Add(1)
	}
}

// Stats returns current pool counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Workers:   d.opts.Workers,
		Queued:    len(d.queue),
		Running:   d.running,
		Submitted: d.submitted.Load(),
		Completed: d.completed.Load(),
		Rejected:  d.rejected.Load(),
	}
}

// Stop rejects new submissions and waits until queued and running work has
// finished or ctx ends. It is safe to call more than once.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		d.logger.Info("dispatch.stopping", "queued", len(d.queue), "running", d.running)
	}
	d.cond.Broadcast()
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("dispatch.stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
