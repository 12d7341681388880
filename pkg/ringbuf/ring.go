// Package ringbuf provides a bounded, byte-budgeted FIFO of variable sized
// items, modelled after no-split ring buffers found on small RTOSes.
//
// Producers reserve space with Acquire, fill the returned Slot and publish
// it with Commit. Consumers see items strictly in acquisition order; an
// acquired but uncommitted item at the head holds back the items behind it.
package ringbuf

import (
	"container/list"
	"context"
	"errors"
	"sync"
)

const (
	// ItemHeader is the bookkeeping overhead charged for every item.
	ItemHeader = 8
	// ItemAlign is the alignment of item storage.
	ItemAlign = 4
	// MinSize is the smallest ring that can be created.
	MinSize = 2 * (ItemHeader + ItemAlign)
)

var (
	// ErrInvalidSize indicates the ring can't be created with the given size.
	ErrInvalidSize = errors.New("invalid ring size")
	// ErrTooLarge indicates the item can never fit into the ring.
	ErrTooLarge = errors.New("item too large")
	// ErrWouldBlock is returned by the Try variants instead of waiting.
	ErrWouldBlock = errors.New("would block")
	// ErrClosed indicates the ring has been closed.
	ErrClosed = errors.New("ring closed")
	// ErrCommitted indicates a slot is committed or released twice.
	ErrCommitted = errors.New("slot already committed")
)

// Ring is the bounded FIFO.
type Ring struct {
	size int

	lock    sync.Mutex
	used    int
	items   list.List
	changed chan struct{}
	closed  bool
}

// Slot is the space reserved for a single item.
type Slot struct {
	buf       []byte
	cost      int
	committed bool
	elem      *list.Element
}

// Bytes returns the storage of the item to be filled before Commit.
func (s *Slot) Bytes() []byte {
	return s.buf
}

// New creates a Ring with size bytes of storage.
func New(size int) (*Ring, error) {
	if size < MinSize {
		return nil, ErrInvalidSize
	}
	return &Ring{size: size, changed: make(chan struct{})}, nil
}

// Cost returns the number of ring bytes taken by an item of n bytes.
func Cost(n int) int {
	return ItemHeader + (n+ItemAlign-1)/ItemAlign*ItemAlign
}

// Size returns the capacity in bytes.
func (r *Ring) Size() int {
	return r.size
}

// MaxItemSize returns the largest item accepted by an empty ring.
func (r *Ring) MaxItemSize() int {
	return (r.size - ItemHeader) / ItemAlign * ItemAlign
}

// Free returns the number of unreserved bytes.
func (r *Ring) Free() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.size - r.used
}

// Len returns the number of items, committed or not.
func (r *Ring) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.items.Len()
}

// Acquire reserves space for an item of n bytes, waiting until space is
// available or ctx is done.
func (r *Ring) Acquire(ctx context.Context, n int) (*Slot, error) {
	for {
		slot, changed, err := r.tryAcquire(n)
		if slot != nil || err != nil {
			return slot, err
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryAcquire reserves space without waiting.
func (r *Ring) TryAcquire(n int) (*Slot, error) {
	slot, _, err := r.tryAcquire(n)
	if slot == nil && err == nil {
		err = ErrWouldBlock
	}
	return slot, err
}

// Commit publishes the item to consumers.
func (r *Ring) Commit(s *Slot) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return ErrClosed
	}
	if s.committed || s.elem == nil {
		return ErrCommitted
	}
	s.committed = true
	r.signal()
	return nil
}

// Release gives back the space of an uncommitted slot.
func (r *Ring) Release(s *Slot) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if s.committed || s.elem == nil {
		return ErrCommitted
	}
	r.items.Remove(s.elem)
	s.elem = nil
	r.used -= s.cost
	r.signal()
	return nil
}

// Receive removes the oldest item, waiting until one is committed
// or ctx is done. The returned bytes are owned by the caller.
func (r *Ring) Receive(ctx context.Context) ([]byte, error) {
	for {
		item, changed, err := r.tryReceive()
		if item != nil || err != nil {
			return item, err
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// TryReceive removes the oldest committed item without waiting.
func (r *Ring) TryReceive() ([]byte, error) {
	item, _, err := r.tryReceive()
	if item == nil && err == nil {
		err = ErrWouldBlock
	}
	return item, err
}

// Close wakes up all waiters; any further operation fails with ErrClosed.
func (r *Ring) Close() {
	r.lock.Lock()
	defer r.lock.Unlock()
	if !r.closed {
		r.closed = true
		r.signal()
	}
}

func (r *Ring) tryAcquire(n int) (*Slot, <-chan struct{}, error) {
	cost := Cost(n)
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return nil, nil, ErrClosed
	}
	if n < 0 || cost > r.size {
		return nil, nil, ErrTooLarge
	}
	if r.used+cost > r.size {
		return nil, r.changed, nil
	}
	s := &Slot{buf: make([]byte, n), cost: cost}
	s.elem = r.items.PushBack(s)
	r.used += cost
	return s, nil, nil
}

func (r *Ring) tryReceive() ([]byte, <-chan struct{}, error) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.closed {
		return nil, nil, ErrClosed
	}
	front := r.items.Front()
	if front == nil || !front.Value.(*Slot).committed {
		return nil, r.changed, nil
	}
	s := r.items.Remove(front).(*Slot)
	s.elem = nil
	r.used -= s.cost
	r.signal()
	return s.buf, nil, nil
}

// signal must be called with lock held.
func (r *Ring) signal() {
	close(r.changed)
	r.changed = make(chan struct{})
}
