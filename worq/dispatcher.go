package worq

import (
	"context"
	"errors"
	"runtime"
	"sync/atomic"
)

// ErrDispatcherTimeout is returned when shutdown times out
var ErrDispatcherTimeout = errors.New("worq: dispatcher shutdown timeout")

// EventHandler 是事件處理器介面
type EventHandler[T any] interface {
	OnEvent(event *T)
}

// HandlerFunc adapts a function to EventHandler.
type HandlerFunc[T any] func(event *T)

func (f HandlerFunc[T]) OnEvent(event *T) {
	f(event)
}

// Dispatcher is the single consumer of a Queue: it pops published slots,
// hands them to the handler and completes them, in order.
type Dispatcher[T any] struct {
	queue      *Queue[T]
	handler    EventHandler[T]
	lockThread bool

	isShutdown atomic.Bool
	started    atomic.Bool
	processed  atomic.Uint64
	done       chan struct{}
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	lockThread bool
}

// WithLockOSThread pins the consumer goroutine to its OS thread.
func WithLockOSThread() DispatcherOption {
	return func(o *dispatcherOptions) {
		o.lockThread = true
	}
}

// NewDispatcher creates a dispatcher consuming q.
func NewDispatcher[T any](q *Queue[T], handler EventHandler[T], opts ...DispatcherOption) *Dispatcher[T] {
	var o dispatcherOptions
	for _, opt := range opts {
		opt(&o)
	}

	return &Dispatcher[T]{
		queue:      q,
		handler:    handler,
		lockThread: o.lockThread,
		done:       make(chan struct{}),
	}
}

// Start 啟動 consumer worker
func (d *Dispatcher[T]) Start() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	go d.run()
}

// Run is the consumer loop on the calling goroutine. It returns after
// Shutdown once every published slot has been handled.
func (d *Dispatcher[T]) Run() {
	if !d.started.CompareAndSwap(false, true) {
		return
	}
	d.run()
}

func (d *Dispatcher[T]) run() {
	defer close(d.done)

	if d.lockThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}

	for {
		if d.next() {
			continue
		}

		if d.isShutdown.Load() {
			// 關機時處理剩餘事件
			for d.next() {
			}
			return
		}

		// 沒有事件，讓出 CPU
		d.queue.strategy.Wait()
	}
}

func (d *Dispatcher[T]) next() bool {
	p, ok := d.queue.Pop(BlockSlot)
	if !ok {
		return false
	}

	d.handler.OnEvent(p.Value())
	p.Complete()
	d.processed.Add(1)
	return true
}

// Shutdown 停止 dispatcher and waits until the remaining events are handled.
func (d *Dispatcher[T]) Shutdown(ctx context.Context) error {
	d.isShutdown.Store(true)
	d.queue.strategy.Signal()

	if !d.started.Load() {
		return nil
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ErrDispatcherTimeout
	}
}

// Processed returns how many events have been handled (用於監控).
func (d *Dispatcher[T]) Processed() uint64 {
	return d.processed.Load()
}

// GetPendingEvents 獲取待處理事件數量 (用於監控)
func (d *Dispatcher[T]) GetPendingEvents() uint64 {
	return d.queue.Len()
}
