package idgen

import (
	"errors"
	"math"
	"sync/atomic"
)

// ErrExhausted is returned once the shared cursor can no longer reserve a
// full block without wrapping past the 64-bit maximum.
var ErrExhausted = errors.New("idgen: identifier space exhausted")

// Generator hands out disjoint blocks of identifiers. It is safe for
// concurrent use; the only shared state is the cursor, advanced by one
// atomic add per block.
type Generator struct {
	_         [56]byte
	cursor    atomic.Uint64
	_         [56]byte
	exhausted atomic.Bool
	interval  uint64
}

// Option configures a Generator.
type Option func(*Generator)

// WithStart sets the first identifier the generator will issue.
func WithStart(start uint64) Option {
	return func(g *Generator) {
		g.cursor.Store(start)
	}
}

// NewGenerator creates a generator reserving interval identifiers per block.
// interval must be greater than zero.
func NewGenerator(interval uint64, opts ...Option) *Generator {
	if interval == 0 {
		panic("idgen: interval must be greater than zero")
	}

	g := &Generator{interval: interval}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Interval returns the block size.
func (g *Generator) Interval() uint64 {
	return g.interval
}

// Cursor returns the first identifier not yet reserved by any block.
func (g *Generator) Cursor() uint64 {
	return g.cursor.Load()
}

// reserve claims [start, start+interval). A block that would wrap marks the
// generator exhausted for good. A concurrent reservation racing the first
// wrapping one may still see a wrapped cursor before the flag is set.
func (g *Generator) reserve() (uint64, error) {
	if g.exhausted.Load() {
		return 0, ErrExhausted
	}

	start := g.cursor.Add(g.interval) - g.interval
	if start > math.MaxUint64-g.interval {
		g.exhausted.Store(true)
		return 0, ErrExhausted
	}
	return start, nil
}

// Block is an owner-local reservation [cursor, finish). The zero value is an
// empty block that refills on first use. A Block must not be shared between
// goroutines.
type Block struct {
	cursor uint64
	finish uint64
}

// Next returns the next identifier from the block, refilling it from g when
// exhausted.
func (b *Block) Next(g *Generator) (uint64, error) {
	if b.cursor == b.finish {
		start, err := g.reserve()
		if err != nil {
			return 0, err
		}
		b.cursor = start
		b.finish = start + g.interval
	}

	id := b.cursor
	b.cursor++
	return id, nil
}

// Remaining returns how many identifiers the block can still issue without
// touching the generator.
func (b *Block) Remaining() uint64 {
	return b.finish - b.cursor
}
