package work

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmarin/newswatch/internal/logging"
)

const (
	defaultWorkers   = 4
	defaultHighWater = 256
	defaultLowWater  = 64
)

// Pool is a fixed-size worker pool over a bounded queue. Once the queue
// reaches the high watermark, Submit blocks until workers drain it to the
// low watermark; a failing downstream therefore slows ingestion instead of
// accumulating items.
type Pool struct {
	mu      sync.Mutex
	ready   *sync.Cond // signals workers that items are queued
	notFull *sync.Cond // signals submitters that the queue drained

	queue  []*Item
	paused bool // true between hitting highWater and draining to lowWater
	active int

	workers   int
	highWater int
	lowWater  int

	totalSubmitted int64
	totalCompleted int64
	totalFailed    int64
	totalDropped   int64
	nextID         int64

	onDrop func(*Item)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates a pool. Zero or negative arguments fall back to defaults;
// a low watermark at or above the high watermark is pulled down so the
// backpressure gate can reopen.
func NewPool(workers, highWater, lowWater int) *Pool {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if highWater <= 0 {
		highWater = defaultHighWater
	}
	if lowWater <= 0 {
		lowWater = defaultLowWater
	}
	if lowWater >= highWater {
		lowWater = highWater / 2
	}

	p := &Pool{
		workers:   workers,
		highWater: highWater,
		lowWater:  lowWater,
	}
	p.ready = sync.NewCond(&p.mu)
	p.notFull = sync.NewCond(&p.mu)
	return p
}

// Start launches the worker goroutines. Cancelling ctx is the only stop
// mechanism; queued items are dropped on shutdown.
func (p *Pool) Start(ctx context.Context) {
	p.ctx, p.cancel = context.WithCancel(ctx)

	logging.Info("Work pool starting", "workers", p.workers, "high_water", p.highWater, "low_water", p.lowWater)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}

	// Wake everyone blocked on a cond when the pool context dies, and hand
	// back the items that will never run.
	go func() {
		<-p.ctx.Done()
		p.mu.Lock()
		p.ready.Broadcast()
		p.notFull.Broadcast()
		p.mu.Unlock()
		p.drain()
	}()
}

// SetOnDrop registers a callback invoked once for every item that Submit
// accepted but the pool abandoned on shutdown before a worker picked it up.
// Submitters that pair a completion signal with each accepted item need this
// to balance their accounting; without it a mid-shutdown cycle would wait
// forever on items that never execute. Called from a pool goroutine.
func (p *Pool) SetOnDrop(fn func(*Item)) {
	p.mu.Lock()
	p.onDrop = fn
	p.mu.Unlock()
}

// drain empties the queue, marking each abandoned item dropped and
// notifying the onDrop callback. Safe to call more than once.
func (p *Pool) drain() {
	p.mu.Lock()
	abandoned := p.queue
	p.queue = nil
	p.paused = false
	p.totalDropped += int64(len(abandoned))
	onDrop := p.onDrop
	p.mu.Unlock()

	for _, item := range abandoned {
		item.Status = StatusDropped
		item.FinishedAt = time.Now()
		item.Error = fmt.Errorf("dropped: pool shutting down")
		if onDrop != nil {
			onDrop(item)
		}
	}
	if len(abandoned) > 0 {
		logging.Debug("Dropped queued items on shutdown", "count", len(abandoned))
	}
}

// Stop cancels the pool context and waits for in-flight work to finish.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.drain()

	p.mu.Lock()
	submitted, completed, failed, dropped := p.totalSubmitted, p.totalCompleted, p.totalFailed, p.totalDropped
	p.mu.Unlock()

	logging.Info("Work pool stopped",
		"submitted", submitted,
		"completed", completed,
		"failed", failed,
		"dropped", dropped)
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Submit enqueues fn and returns the assigned item ID. It blocks while the
// backpressure gate is closed and returns the context error if ctx or the
// pool is cancelled before the item is accepted.
func (p *Pool) Submit(ctx context.Context, typ Type, desc, source string, fn func() (string, error)) (string, error) {
	// Either context closing must unblock the cond wait below.
	stop := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		p.notFull.Broadcast()
		p.mu.Unlock()
	})
	defer stop()

	p.mu.Lock()
	defer p.mu.Unlock()

	for p.paused {
		if err := p.submitErr(ctx); err != nil {
			return "", err
		}
		p.notFull.Wait()
	}
	if err := p.submitErr(ctx); err != nil {
		return "", err
	}

	p.nextID++
	item := &Item{
		ID:          fmt.Sprintf("w%d", p.nextID),
		Type:        typ,
		Status:      StatusPending,
		Description: desc,
		Source:      source,
		CreatedAt:   time.Now(),
		workFn:      fn,
	}

	p.queue = append(p.queue, item)
	p.totalSubmitted++
	if len(p.queue) >= p.highWater {
		p.paused = true
		logging.Debug("Work queue at high watermark, pausing submissions", "pending", len(p.queue))
	}

	p.ready.Signal()
	return item.ID, nil
}

// submitErr is called with p.mu held.
func (p *Pool) submitErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.ctx != nil {
		if err := p.ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	logging.Debug("Worker started", "worker", id)

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && p.ctx.Err() == nil {
			p.ready.Wait()
		}
		if p.ctx.Err() != nil {
			p.mu.Unlock()
			logging.Debug("Worker stopped", "worker", id)
			return
		}

		item := p.queue[0]
		p.queue = p.queue[1:]
		item.Status = StatusActive
		item.StartedAt = time.Now()
		p.active++

		if p.paused && len(p.queue) <= p.lowWater {
			p.paused = false
			p.notFull.Broadcast()
			logging.Debug("Work queue drained to low watermark, resuming submissions", "pending", len(p.queue))
		}
		p.mu.Unlock()

		result, err := p.execute(item)

		p.mu.Lock()
		item.FinishedAt = time.Now()
		item.Result = result
		item.Error = err
		if err != nil {
			item.Status = StatusFailed
			p.totalFailed++
		} else {
			item.Status = StatusComplete
			p.totalCompleted++
		}
		p.active--
		p.mu.Unlock()

		logFinished(item)
	}
}

// execute runs one item, converting a panic into a failure so a bad article
// never takes down a worker.
func (p *Pool) execute(item *Item) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Work panicked", "id", item.ID, "desc", item.Description, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if item.workFn == nil {
		return "", fmt.Errorf("no work function")
	}
	return item.workFn()
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		TotalSubmitted: p.totalSubmitted,
		TotalCompleted: p.totalCompleted,
		TotalFailed:    p.totalFailed,
		WorkersActive:  p.active,
		WorkersTotal:   p.workers,
		PendingCount:   len(p.queue),
	}
}

// PendingCount returns the number of queued items.
func (p *Pool) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}
