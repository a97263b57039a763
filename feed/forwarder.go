package feed

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/0x5487/matching-core/protocol"
	"github.com/0x5487/matching-core/wait"
	"github.com/0x5487/matching-core/worq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))

// SetLogger allows setting a custom logger
func SetLogger(l *slog.Logger) {
	logger = l
}

var (
	publishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_published_total",
		Help: "Executions handed to the downstream publisher.",
	})
	droppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_dropped_total",
		Help: "Executions dropped because the forwarder queue was full.",
	})
	publishErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feed_publish_errors_total",
		Help: "Batches the publisher failed to accept.",
	})
)

// Forwarder decouples matching threads from the publisher: Offer never
// blocks, and a dispatcher goroutine publishes in batches.
type Forwarder struct {
	queue      *worq.Queue[protocol.Execution]
	dispatcher *worq.Dispatcher[protocol.Execution]
	publisher  Publisher

	batch    []protocol.Execution
	maxBatch int
	timeout  time.Duration
}

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithMaxBatch caps the number of executions per Publish call.
func WithMaxBatch(n int) ForwarderOption {
	return func(f *Forwarder) {
		f.maxBatch = n
	}
}

// WithPublishTimeout bounds each Publish call.
func WithPublishTimeout(d time.Duration) ForwarderOption {
	return func(f *Forwarder) {
		f.timeout = d
	}
}

// NewForwarder creates a forwarder with a queue of capacity slots, which
// must be a power of two.
func NewForwarder(p Publisher, capacity uint64, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		queue:     worq.New[protocol.Execution](capacity, worq.WithStrategy(wait.NewPark(time.Millisecond))),
		publisher: p,
		maxBatch:  256,
		timeout:   5 * time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.batch = make([]protocol.Execution, 0, f.maxBatch)
	f.dispatcher = worq.NewDispatcher[protocol.Execution](f.queue, f)
	return f
}

// Offer queues e for publishing. It returns false, and counts a drop, when
// the queue is full.
func (f *Forwarder) Offer(e *protocol.Execution) bool {
	if !f.queue.Put(*e) {
		droppedTotal.Inc()
		return false
	}
	return true
}

// Start launches the dispatcher goroutine.
func (f *Forwarder) Start() {
	f.dispatcher.Start()
}

// OnEvent runs on the dispatcher goroutine.
func (f *Forwarder) OnEvent(e *protocol.Execution) {
	f.batch = append(f.batch, *e)
	// the current slot is still counted until it completes
	if len(f.batch) >= f.maxBatch || f.queue.Len() <= 1 {
		f.flush()
	}
}

func (f *Forwarder) flush() {
	if len(f.batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), f.timeout)
	defer cancel()

	if err := f.publisher.Publish(ctx, f.batch...); err != nil {
		publishErrorsTotal.Inc()
		logger.Error("feed publish failed", "count", len(f.batch), "error", err)
	} else {
		publishedTotal.Add(float64(len(f.batch)))
	}
	f.batch = f.batch[:0]
}

// Shutdown drains queued executions and closes the publisher.
func (f *Forwarder) Shutdown(ctx context.Context) error {
	err := f.dispatcher.Shutdown(ctx)
	if err == nil {
		f.flush()
	}
	return errors.Join(err, f.publisher.Close())
}
