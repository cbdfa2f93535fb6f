package session

import (
	"sync"

	"github.com/roach88/lienwatch/internal/ledger"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeBatch carries an event batch from a ledger stream.
	EventTypeBatch EventType = iota + 1
	// EventTypeReceipt carries the receipt of a submitted transaction.
	EventTypeReceipt
)

// Event wraps batches and receipts for the event queue.
type Event struct {
	Type    EventType
	Batch   *ledger.Batch
	Receipt *ledger.Receipt
}

// eventQueue is a thread-safe, unbounded FIFO.
//
// Ledger pollers and receipt watchers enqueue from their own goroutines; the
// session consumer (Run or Drain) dequeues. Unbounded so a slow consumer
// never blocks a poller mid-delivery.
//
// A 1-buffered signal channel lets the consumer wait with select alongside
// ctx.Done().
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends e. Returns false once the queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.events = append(q.events, e)

	// Buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}
	e := q.events[0]

	// Clear the slot so the backing array does not pin batches.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Wait returns a channel that fires when events may be available. It is
// closed when the queue is closed.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops further enqueues and wakes waiters.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
