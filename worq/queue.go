// Package worq is a bounded multi-producer, single-consumer slot ring used to
// hand work between goroutines without locks.
//
// A slot moves through four states: claimed by one producer, published,
// popped by the consumer, completed. Each transition is carried by a handle
// type, so a consumer can only read a slot after observing its ready flag.
package worq

import (
	"runtime"
	"sync/atomic"

	"github.com/0x5487/matching-core/event"
	"github.com/0x5487/matching-core/wait"
)

// WaitMode selects how Pop behaves when no published slot is available.
type WaitMode uint8

const (
	// NonBlock returns immediately when the queue is empty or the next slot
	// is claimed but not yet published.
	NonBlock WaitMode = iota
	// BlockSlot returns immediately on an empty queue but waits for a
	// claimed slot to be published.
	BlockSlot
	// Block waits for production and for publication.
	Block
)

type slot[T any] struct {
	ready atomic.Uint32
	value T
	// keeps neighbouring ready flags on separate cache lines
	_ [64]byte
}

// Queue 是 MPSC 的環狀佇列
type Queue[T any] struct {
	// Cache line padding to avoid false sharing
	_       [56]byte
	produce atomic.Uint64
	_       [56]byte
	consume atomic.Uint64
	_       [56]byte

	slots    []slot[T]
	mask     uint64
	capacity uint64

	strategy wait.Strategy
	notifier event.Notifier
}

// Option configures a Queue.
type Option func(*options)

type options struct {
	strategy wait.Strategy
	notifier event.Notifier
}

// WithStrategy sets the policy used while Pop waits. Defaults to wait.Spin.
func WithStrategy(s wait.Strategy) Option {
	return func(o *options) {
		o.strategy = s
	}
}

// WithNotifier triggers n after every publish.
func WithNotifier(n event.Notifier) Option {
	return func(o *options) {
		o.notifier = n
	}
}

// New creates a queue; capacity 必須是 2 的冪次方.
func New[T any](capacity uint64, opts ...Option) *Queue[T] {
	if capacity == 0 || (capacity&(capacity-1)) != 0 {
		panic("worq: capacity must be a power of 2")
	}

	o := options{strategy: wait.Spin{}}
	for _, opt := range opts {
		opt(&o)
	}

	return &Queue[T]{
		slots:    make([]slot[T], capacity),
		mask:     capacity - 1,
		capacity: capacity,
		strategy: o.strategy,
		notifier: o.notifier,
	}
}

// Claimed is a producer's exclusive hold on one slot.
type Claimed[T any] struct {
	q   *Queue[T]
	s   *slot[T]
	seq uint64
}

// Value returns the slot payload for writing. It panics once the slot has
// been published.
func (c *Claimed[T]) Value() *T {
	return &c.s.value
}

// Seq returns the monotonic position of the slot.
func (c *Claimed[T]) Seq() uint64 {
	return c.seq
}

// Publish hands the slot to the consumer. The handle is unusable afterwards.
func (c *Claimed[T]) Publish() {
	s, q := c.s, c.q
	c.s = nil
	s.ready.Store(1)

	q.strategy.Signal()
	if q.notifier != nil {
		q.notifier.Trigger()
	}
}

// Popped is the consumer's view of a published slot.
type Popped[T any] struct {
	q   *Queue[T]
	s   *slot[T]
	seq uint64
}

// Value returns the published payload. It panics once the slot has been
// completed.
func (p *Popped[T]) Value() *T {
	return &p.s.value
}

// Seq returns the monotonic position of the slot.
func (p *Popped[T]) Seq() uint64 {
	return p.seq
}

// Complete returns the slot to the ring. It must be called exactly once per
// popped slot, by the consumer.
func (p *Popped[T]) Complete() {
	s := p.s
	p.s = nil

	var zero T
	s.value = zero
	s.ready.Store(0)
	p.q.consume.Add(1)
}

// Claim reserves the next slot. It returns false when produce-consume has
// reached capacity.
func (q *Queue[T]) Claim() (Claimed[T], bool) {
	for {
		consume := q.consume.Load()
		produce := q.produce.Load()

		if produce-consume >= q.capacity {
			return Claimed[T]{}, false
		}

		if q.produce.CompareAndSwap(produce, produce+1) {
			return Claimed[T]{q: q, s: &q.slots[produce&q.mask], seq: produce}, true
		}
		// CAS 失敗，重試
		runtime.Gosched()
	}
}

// Put claims a slot, copies v into it and publishes. It returns false when
// the queue is full.
func (q *Queue[T]) Put(v T) bool {
	c, ok := q.Claim()
	if !ok {
		return false
	}
	*c.Value() = v
	c.Publish()
	return true
}

// Pop returns the slot at the consume cursor once it is published. Only one
// goroutine may pop; until the returned slot is completed, Pop keeps
// returning the same slot.
func (q *Queue[T]) Pop(mode WaitMode) (Popped[T], bool) {
	consume := q.consume.Load()

	for consume == q.produce.Load() {
		if mode != Block {
			return Popped[T]{}, false
		}
		q.strategy.Wait()
	}

	s := &q.slots[consume&q.mask]
	for s.ready.Load() == 0 {
		if mode == NonBlock {
			return Popped[T]{}, false
		}
		q.strategy.Wait()
	}

	return Popped[T]{q: q, s: s, seq: consume}, true
}

// Capacity returns the number of slots.
func (q *Queue[T]) Capacity() uint64 {
	return q.capacity
}

// Len returns the number of claimed but not yet completed slots (用於監控).
func (q *Queue[T]) Len() uint64 {
	consume := q.consume.Load()
	return q.produce.Load() - consume
}

// ProducerSequence returns the produce cursor (用於監控).
func (q *Queue[T]) ProducerSequence() uint64 {
	return q.produce.Load()
}

// ConsumerSequence returns the consume cursor (用於監控).
func (q *Queue[T]) ConsumerSequence() uint64 {
	return q.consume.Load()
}
