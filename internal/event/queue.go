// Package event carries hardware and timer events from interrupt context to
// the interpreter's dispatch loop.
//
// Producers run on arbitrary goroutines (pin watchers, timers, serial
// readers, signal handlers) and may only push. A single consumer pops. Push
// never blocks and never allocates; when the queue is full the newest event
// is dropped and an overflow flag is raised once for the whole episode.
package event

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// Kind identifies the source type of an event.
type Kind uint8

// Event kinds.
const (
	Pin Kind = iota
	Timer
	Serial
	User
)

var kindNames = [...]string{"pin", "timer", "serial", "user"}

func (k Kind) String() string {
	if int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", k)
	}
	return kindNames[k]
}

// ParseKind returns the Kind with the given name.
func ParseKind(s string) (Kind, bool) {
	for i, n := range kindNames {
		if n == s {
			return Kind(i), true
		}
	}
	return 0, false
}

// Record is a single event. It is a plain value so that pushing it copies
// into preallocated storage.
type Record struct {
	Kind Kind
	// Source distinguishes producers of the same kind: a pin number, a timer
	// id, a serial port.
	Source uint8
	// Value is the payload: a pin level, a received byte, a user value.
	Value uint32
}

func (r Record) String() string {
	return fmt.Sprintf("%v/%d=%d", r.Kind, r.Source, r.Value)
}

// ErrCapacity is returned by NewQueue for a capacity that is not a power of
// two of at least 2.
var ErrCapacity = errors.New("event: queue capacity must be a power of two >= 2")

// Queue is a fixed-capacity event queue.
type Queue struct {
	r *ring[Record]

	overflow atomic.Bool
	episodes atomic.Uint64
	dropped  atomic.Uint64

	wake chan struct{}
}

// NewQueue creates a queue that holds up to capacity records.
func NewQueue(capacity int) (*Queue, error) {
	if capacity < 2 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrCapacity, capacity)
	}
	q := &Queue{
		r:    newRing[Record](capacity),
		wake: make(chan struct{}, 1),
	}
	return q, nil
}

// Push enqueues rec. It is safe to call from any goroutine. If the queue is
// full, rec is dropped, the overflow flag is raised, and Push returns false.
func (q *Queue) Push(rec Record) bool {
	if !q.r.put(rec) {
		q.dropped.Add(1)
		if q.overflow.CompareAndSwap(false, true) {
			q.episodes.Add(1)
		}
		return false
	}
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Pop dequeues the oldest record.
func (q *Queue) Pop() (Record, bool) {
	return q.r.take()
}

// Len returns the number of queued records. It may be stale by the time it
// returns if producers are active.
func (q *Queue) Len() int {
	return q.r.len()
}

// Cap returns the capacity of the queue.
func (q *Queue) Cap() int {
	return len(q.r.slots)
}

// Wake returns a channel that receives after a successful Push. Several
// pushes may coalesce into one wake.
func (q *Queue) Wake() <-chan struct{} {
	return q.wake
}

// TakeOverflow reports whether any record was dropped since the last call
// and lowers the flag, ending the overflow episode.
func (q *Queue) TakeOverflow() bool {
	return q.overflow.Swap(false)
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Queued   int
	Dropped  uint64
	Episodes uint64
}

// Stats returns the current queue counters.
func (q *Queue) Stats() Stats {
	return Stats{Queued: q.Len(), Dropped: q.dropped.Load(), Episodes: q.episodes.Load()}
}
