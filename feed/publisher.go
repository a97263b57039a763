// Package feed forwards logged executions to downstream consumers (drop
// copy) off the matching path.
package feed

import (
	"context"
	"sync"

	"github.com/0x5487/matching-core/protocol"
)

// Publisher is an interface for publishing executions.
//
// Publish receives values, not pointers into the matching core, so
// implementations may keep them.
type Publisher interface {
	Publish(ctx context.Context, execs ...protocol.Execution) error
	Close() error
}

// MemoryPublisher stores executions in memory, useful for testing.
type MemoryPublisher struct {
	mu    sync.RWMutex
	execs []protocol.Execution
}

// NewMemoryPublisher creates a new MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{
		execs: make([]protocol.Execution, 0),
	}
}

// Publish appends executions to the in-memory slice.
func (m *MemoryPublisher) Publish(_ context.Context, execs ...protocol.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs = append(m.execs, execs...)
	return nil
}

// Count returns the number of executions stored.
func (m *MemoryPublisher) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.execs)
}

// Get returns the execution at the specified index.
func (m *MemoryPublisher) Get(index int) protocol.Execution {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.execs[index]
}

// Executions returns a copy of all executions stored.
func (m *MemoryPublisher) Executions() []protocol.Execution {
	m.mu.RLock()
	defer m.mu.RUnlock()

	execs := make([]protocol.Execution, len(m.execs))
	copy(execs, m.execs)
	return execs
}

func (m *MemoryPublisher) Close() error {
	return nil
}

// DiscardPublisher discards all executions, useful for benchmarking.
type DiscardPublisher struct{}

// NewDiscardPublisher creates a new DiscardPublisher.
func NewDiscardPublisher() *DiscardPublisher {
	return &DiscardPublisher{}
}

// Publish does nothing.
func (p *DiscardPublisher) Publish(context.Context, ...protocol.Execution) error {
	return nil
}

func (p *DiscardPublisher) Close() error {
	return nil
}
