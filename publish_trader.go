package match

import (
	"sync"

	"github.com/0x5487/matching-core/protocol"
)

// ExecutionSink receives a copy of every logged execution. Offer is called on
// a matching thread and must not block; false means the copy was dropped.
type ExecutionSink interface {
	Offer(e *protocol.Execution) bool
}

type MemoryExecutionSink struct {
	mu         sync.RWMutex
	Executions []protocol.Execution
}

func NewMemoryExecutionSink() *MemoryExecutionSink {
	return &MemoryExecutionSink{
		Executions: make([]protocol.Execution, 0),
	}
}

func (m *MemoryExecutionSink) Offer(e *protocol.Execution) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Executions = append(m.Executions, *e)
	return true
}

func (m *MemoryExecutionSink) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Executions)
}

func (m *MemoryExecutionSink) Get(index int) protocol.Execution {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.Executions[index]
}

type DiscardExecutionSink struct {
}

func NewDiscardExecutionSink() *DiscardExecutionSink {
	return &DiscardExecutionSink{}
}

func (s *DiscardExecutionSink) Offer(*protocol.Execution) bool {
	return true
}
