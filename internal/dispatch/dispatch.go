// Package dispatch runs units of work with per-chat ordering.
//
// Units for one chat run strictly in submission order, one at a time.
// Units for different chats run concurrently, bounded by a global limit.
package dispatch

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	applog "taskcal/internal/log"
)

// Unit is one unit of work. id correlates its log lines.
type Unit func(ctx context.Context, id string)

// Dispatcher serializes units by chat id.
type Dispatcher struct {
	ctx context.Context
	sem *semaphore.Weighted

	mu     sync.Mutex
	queues map[int64][]Unit
	wg     sync.WaitGroup
}

// New builds a dispatcher whose units run under ctx with at most limit
// units in flight across all chats.
func New(ctx context.Context, limit int) *Dispatcher {
	if limit <= 0 {
		limit = 16
	}
	return &Dispatcher{
		ctx:    ctx,
		sem:    semaphore.NewWeighted(int64(limit)),
		queues: make(map[int64][]Unit),
	}
}

// Submit queues fn behind every earlier unit for the same chat.
func (d *Dispatcher) Submit(chatID int64, fn Unit) {
	d.mu.Lock()
	q, running := d.queues[chatID]
	d.queues[chatID] = append(q, fn)
	d.mu.Unlock()
	if running {
		return
	}
	d.wg.Add(1)
	go d.drain(chatID)
}

// drain runs the chat's queue until it is empty, then forgets the chat.
func (d *Dispatcher) drain(chatID int64) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		q := d.queues[chatID]
		if len(q) == 0 {
			delete(d.queues, chatID)
			d.mu.Unlock()
			return
		}
		fn := q[0]
		d.mu.Unlock()

		d.run(chatID, fn)

		d.mu.Lock()
		d.queues[chatID] = d.queues[chatID][1:]
		d.mu.Unlock()
	}
}

func (d *Dispatcher) run(chatID int64, fn Unit) {
	id := uuid.NewString()
	// Acquire only fails once ctx is done; the unit still runs so that no
	// queued event is dropped silently, and sees the cancelled context.
	if err := d.sem.Acquire(d.ctx, 1); err == nil {
		defer d.sem.Release(1)
	}
	defer func() {
		if p := recover(); p != nil {
			applog.Warn("unit panicked", "chat_id", chatID, "unit_id", id, "panic", p)
		}
	}()
	fn(d.ctx, id)
}

// Pending returns the number of chats with queued or running units.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queues)
}

// Wait blocks until every submitted unit has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
