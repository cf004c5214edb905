package event

import (
	"runtime"
	"sync/atomic"
)

type slot[T any] struct {
	seq   atomic.Uint64
	value T
}

// ring is a bounded lock-free queue using per-slot sequence numbers. Any
// number of goroutines may put and take concurrently. Neither operation
// allocates.
type ring[T any] struct {
	mask uint64

	_    [56]byte
	head atomic.Uint64
	_    [56]byte
	tail atomic.Uint64
	_    [56]byte

	slots []slot[T]
}

func newRing[T any](capacity int) *ring[T] {
	r := &ring[T]{mask: uint64(capacity - 1), slots: make([]slot[T], capacity)}
	for i := range r.slots {
		r.slots[i].seq.Store(uint64(i))
	}
	return r
}

// put adds v at the tail. It returns false without blocking if the ring is
// full.
func (r *ring[T]) put(v T) bool {
	for {
		pos := r.tail.Load()
		s := &r.slots[pos&r.mask]
		switch d := int64(s.seq.Load()) - int64(pos); {
		case d == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				s.value = v
				s.seq.Store(pos + 1)
				return true
			}
		case d < 0:
			return false
		default:
			// Another producer claimed pos; reload.
			runtime.Gosched()
		}
	}
}

// take removes the value at the head.
func (r *ring[T]) take() (T, bool) {
	var zero T
	for {
		pos := r.head.Load()
		s := &r.slots[pos&r.mask]
		switch d := int64(s.seq.Load()) - int64(pos+1); {
		case d == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				v := s.value
				s.value = zero
				s.seq.Store(pos + uint64(len(r.slots)))
				return v, true
			}
		case d < 0:
			return zero, false
		default:
			runtime.Gosched()
		}
	}
}

// len returns an approximate count of queued values.
func (r *ring[T]) len() int {
	n := int64(r.tail.Load()) - int64(r.head.Load())
	if n < 0 {
		return 0
	}
	return int(n)
}
