// Package wait holds the blocking policies shared by the work queue and the
// trade log rotation hand-off.
package wait

import (
	"fmt"
	"runtime"
	"time"
)

// Strategy decides what a poller does between two failed checks of a
// condition, and how a producer wakes it.
//
// Wait may return spuriously; callers always re-check their condition.
type Strategy interface {
	Wait()
	Signal()
}

// Spin yields the processor and returns immediately. It keeps the latency
// profile of a busy loop without starving other goroutines.
type Spin struct{}

func (Spin) Wait() {
	runtime.Gosched()
}

func (Spin) Signal() {}

// Park blocks the waiter on a single-token channel until Signal is called or
// the timeout elapses. A Signal sent while nobody waits is kept, so a waiter
// that checks its condition and then parks never misses it.
type Park struct {
	token   chan struct{}
	timeout time.Duration
}

// NewPark creates a parking strategy. A timeout of zero defaults to one
// millisecond.
func NewPark(timeout time.Duration) *Park {
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	return &Park{
		token:   make(chan struct{}, 1),
		timeout: timeout,
	}
}

func (p *Park) Wait() {
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-p.token:
	case <-timer.C:
	}
}

func (p *Park) Signal() {
	select {
	case p.token <- struct{}{}:
	default:
	}
}

// ByName maps a configuration value to a strategy: "spin" (or empty) and
// "park".
func ByName(name string) (Strategy, error) {
	switch name {
	case "", "spin":
		return Spin{}, nil
	case "park":
		return NewPark(0), nil
	default:
		return nil, fmt.Errorf("wait: unknown strategy %q", name)
	}
}
