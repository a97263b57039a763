// Package event is a small single-goroutine dispatcher for user-triggered
// ("managed") events and periodic timers.
package event

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Handler is invoked on the manager's goroutine.
type Handler func()

// Notifier is anything that can be triggered from another goroutine.
type Notifier interface {
	Trigger()
}

// Managed is an event fired by calling Trigger. Triggers that arrive before
// the manager dispatches the event are coalesced into one call.
type Managed struct {
	name    string
	handler Handler
	pending atomic.Bool
	mgr     *Manager
}

// Name returns the name given at registration.
func (e *Managed) Name() string {
	return e.name
}

// Trigger marks the event pending and wakes the manager. Safe for concurrent
// use.
func (e *Managed) Trigger() {
	if e.pending.CompareAndSwap(false, true) {
		e.mgr.wakeup()
	}
}

// Timer is a periodic event.
type Timer struct {
	name     string
	handler  Handler
	interval time.Duration
	deadline time.Time
}

// Name returns the name given at registration.
func (t *Timer) Name() string {
	return t.name
}

// Manager runs registered events on the goroutine calling Run.
type Manager struct {
	mu      sync.Mutex
	managed []*Managed
	timers  []*Timer
	wake    chan struct{}
	running atomic.Bool
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		wake: make(chan struct{}, 1),
	}
}

// AddManaged registers a managed event.
func (m *Manager) AddManaged(name string, h Handler) *Managed {
	e := &Managed{name: name, handler: h, mgr: m}

	m.mu.Lock()
	m.managed = append(m.managed, e)
	m.mu.Unlock()
	return e
}

// AddTimer registers a periodic event firing every interval.
func (m *Manager) AddTimer(name string, interval time.Duration, h Handler) *Timer {
	t := &Timer{
		name:     name,
		handler:  h,
		interval: interval,
		deadline: time.Now().Add(interval),
	}

	m.mu.Lock()
	m.timers = append(m.timers, t)
	m.mu.Unlock()
	m.wakeup()
	return t
}

// Remove unregisters a managed event or timer.
func (m *Manager) Remove(e any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch v := e.(type) {
	case *Managed:
		for i, x := range m.managed {
			if x == v {
				m.managed = append(m.managed[:i], m.managed[i+1:]...)
				return
			}
		}
	case *Timer:
		for i, x := range m.timers {
			if x == v {
				m.timers = append(m.timers[:i], m.timers[i+1:]...)
				return
			}
		}
	}
}

// Running reports whether Run is active.
func (m *Manager) Running() bool {
	return m.running.Load()
}

func (m *Manager) wakeup() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run dispatches events until ctx is cancelled. Pending managed events are
// dispatched once more before Run returns.
func (m *Manager) Run(ctx context.Context) error {
	m.running.Store(true)
	defer m.running.Store(false)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next, ok := m.nextDeadline()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if ok {
			timer.Reset(time.Until(next))
		} else {
			timer.Reset(time.Hour)
		}

		select {
		case <-ctx.Done():
			m.dispatchManaged()
			return nil
		case <-m.wake:
		case <-timer.C:
		}

		m.dispatchManaged()
		m.dispatchTimers(time.Now())
	}
}

func (m *Manager) nextDeadline() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next time.Time
	for _, t := range m.timers {
		if next.IsZero() || t.deadline.Before(next) {
			next = t.deadline
		}
	}
	return next, !next.IsZero()
}

func (m *Manager) dispatchManaged() {
	m.mu.Lock()
	events := make([]*Managed, len(m.managed))
	copy(events, m.managed)
	m.mu.Unlock()

	for _, e := range events {
		if e.pending.Swap(false) {
			e.handler()
		}
	}
}

func (m *Manager) dispatchTimers(now time.Time) {
	m.mu.Lock()
	var due []*Timer
	for _, t := range m.timers {
		if !now.Before(t.deadline) {
			due = append(due, t)
			t.deadline = now.Add(t.interval)
		}
	}
	m.mu.Unlock()

	for _, t := range due {
		t.handler()
	}
}
