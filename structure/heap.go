package structure

import "errors"

// ErrHeapFull is returned by Push when the heap has reached its limit.
var ErrHeapFull = errors.New("structure: heap is full")

// Kind selects whether the smallest or the largest key is on top.
type Kind uint8

const (
	MinHeap Kind = iota
	MaxHeap
)

// Item is a heap entry. The key carries the whole ordering, so callers pack
// any tie-breaker into it.
type Item[T any] struct {
	Key   uint64
	Value T
}

// Heap is a binary heap over uint64 keys. It is not safe for concurrent use.
type Heap[T any] struct {
	kind  Kind
	items []Item[T]
	limit int
}

// HeapOption configures a Heap.
type HeapOption func(*heapOptions)

type heapOptions struct {
	limit int
}

// WithLimit caps the number of entries; Push fails with ErrHeapFull beyond it.
// Zero means unbounded.
func WithLimit(n int) HeapOption {
	return func(o *heapOptions) {
		o.limit = n
	}
}

// NewHeap creates a heap with room for capacity entries before it grows.
func NewHeap[T any](kind Kind, capacity int, opts ...HeapOption) *Heap[T] {
	var o heapOptions
	for _, opt := range opts {
		opt(&o)
	}
	if capacity < 1 {
		capacity = 1
	}

	return &Heap[T]{
		kind:  kind,
		items: make([]Item[T], 0, capacity),
		limit: o.limit,
	}
}

// Len returns the number of entries.
func (h *Heap[T]) Len() int {
	return len(h.items)
}

// Full reports whether Push would fail.
func (h *Heap[T]) Full() bool {
	return h.limit > 0 && len(h.items) >= h.limit
}

// Push inserts value under key.
func (h *Heap[T]) Push(key uint64, value T) error {
	if h.Full() {
		return ErrHeapFull
	}

	if len(h.items) == cap(h.items) {
		grown := make([]Item[T], len(h.items), cap(h.items)*2)
		copy(grown, h.items)
		h.items = grown
	}

	h.items = append(h.items, Item[T]{Key: key, Value: value})
	h.up(len(h.items) - 1)
	return nil
}

// Peek returns the top entry without removing it.
func (h *Heap[T]) Peek() (Item[T], bool) {
	if len(h.items) == 0 {
		return Item[T]{}, false
	}
	return h.items[0], true
}

// Pop removes and returns the top entry.
func (h *Heap[T]) Pop() (Item[T], bool) {
	n := len(h.items)
	if n == 0 {
		return Item[T]{}, false
	}

	top := h.items[0]
	last := n - 1
	h.items[0] = h.items[last]
	h.items[last] = Item[T]{}
	h.items = h.items[:last]

	if last > 0 {
		h.down(0)
	}
	return top, true
}

// Each visits entries in storage order, which is not priority order.
func (h *Heap[T]) Each(fn func(Item[T]) bool) {
	for _, it := range h.items {
		if !fn(it) {
			return
		}
	}
}

func (h *Heap[T]) before(a, b uint64) bool {
	if h.kind == MaxHeap {
		return a > b
	}
	return a < b
}

func (h *Heap[T]) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !h.before(h.items[i].Key, h.items[parent].Key) {
			return
		}
		h.items[i], h.items[parent] = h.items[parent], h.items[i]
		i = parent
	}
}

func (h *Heap[T]) down(i int) {
	n := len(h.items)
	for {
		best := i
		left := 2*i + 1
		right := left + 1

		if left < n && h.before(h.items[left].Key, h.items[best].Key) {
			best = left
		}
		if right < n && h.before(h.items[right].Key, h.items[best].Key) {
			best = right
		}
		if best == i {
			return
		}

		h.items[i], h.items[best] = h.items[best], h.items[i]
		i = best
	}
}
