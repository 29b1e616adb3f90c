package tracker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// queueSize is the per-worker buffer
const queueSize = 64

// Dispatcher fans messages out to a fixed set of workers. A tag always lands
// on the same worker, so its messages are handled one at a time and in order.
type Dispatcher struct {
	queues []chan *ZoneMessage
	handle func(context.Context, *ZoneMessage)
	logger *slog.Logger

	mu      sync.RWMutex
	ctx     context.Context
	stopped bool
	wg      sync.WaitGroup

	// cancelWork ends the handler context once the queues are drained
	cancelWork context.CancelFunc
}

// NewDispatcher creates a dispatcher with the given number of workers
func NewDispatcher(workers int, handle func(context.Context, *ZoneMessage), logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	queues := make([]chan *ZoneMessage, workers)
	for i := range queues {
		queues[i] = make(chan *ZoneMessage, queueSize)
	}
	return &Dispatcher{
		queues: queues,
		handle: handle,
		logger: logger,
		ctx:    context.Background(),
	}
}

// Start launches the workers. Dispatch stops accepting messages when ctx is
// done, but handlers keep a live context until Stop has drained the queues.
func (d *Dispatcher) Start(ctx context.Context) {
	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	d.mu.Lock()
	d.ctx = ctx
	d.cancelWork = cancel
	d.mu.Unlock()

	for i, q := range d.queues {
		d.wg.Add(1)
		go func(worker int, q <-chan *ZoneMessage) {
			defer d.wg.Done()
			for msg := range q {
				d.handle(workCtx, msg)
			}
			d.logger.Debug("Worker stopped", "worker", worker)
		}(i, q)
	}
	d.logger.Info("Dispatcher started", "workers", len(d.queues))
}

// Dispatch queues msg on its tag's worker. It blocks while that worker's queue
// is full and returns false once the dispatcher is stopped or ctx is done.
func (d *Dispatcher) Dispatch(msg *ZoneMessage) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return false
	}

	select {
	case d.queues[shardFor(msg.TagID, len(d.queues))] <- msg:
		return true
	case <-d.ctx.Done():
		return false
	}
}

// Stop closes the queues and waits for queued messages to be handled
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		for _, q := range d.queues {
			close(q)
		}
	}
	cancel := d.cancelWork
	d.mu.Unlock()

	d.wg.Wait()
	if cancel != nil {
		cancel()
	}
}

func shardFor(tagID string, workers int) int {
	return int(xxhash.Sum64String(tagID) % uint64(workers))
}
