package match

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/0x5487/matching-core/idgen"
	"github.com/0x5487/matching-core/protocol"
	"github.com/0x5487/matching-core/tradelog"
	"github.com/0x5487/matching-core/wait"
	"github.com/0x5487/matching-core/worq"
)

// MarketConfig is what a Market needs at construction.
type MarketConfig struct {
	Symbols []protocol.Symbol
	// Threads is the number of matching threads; each owns a work queue, a
	// trade log and a disjoint set of books.
	Threads       int
	QueueCapacity uint64
	// OutboxCapacity sizes the outboxes handed out by NewOutbox.
	OutboxCapacity uint64
	// SubmitRetries bounds how often a producer retries a full queue.
	SubmitRetries int
	// WaitStrategy names the blocking policy, see wait.ByName.
	WaitStrategy string

	TradeLogPath     string
	TradeLogCapacity uint64
	SyncInterval     time.Duration
	RetryDelay       time.Duration

	BookCapacity     int
	SizeHints        map[protocol.Symbol]int
	MaxRestingOrders int

	IDInterval uint64
}

// DefaultMarketConfig returns a single threaded configuration without
// symbols.
func DefaultMarketConfig() MarketConfig {
	return MarketConfig{
		Threads:          1,
		QueueCapacity:    1 << 12,
		OutboxCapacity:   DefaultOutboxCapacity,
		SubmitRetries:    64,
		WaitStrategy:     "spin",
		TradeLogPath:     "data/tradelog",
		TradeLogCapacity: tradelog.DefaultRecordCapacity,
		BookCapacity:     DefaultBookCapacity,
		IDInterval:       DefaultIDInterval,
	}
}

// Router assigns each symbol to a matching thread. It is consulted once per
// symbol, in configuration order, when the market is built.
type Router interface {
	Route(symbol protocol.Symbol, threads int) int
}

type roundRobinRouter struct {
	next int
}

func (r *roundRobinRouter) Route(_ protocol.Symbol, threads int) int {
	t := r.next % threads
	r.next++
	return t
}

// MarketOption configures a Market.
type MarketOption func(*marketOptions)

type marketOptions struct {
	router    Router
	anomalies AnomalyRecorder
	sink      ExecutionSink
	fatal     func(error)
}

// WithRouter replaces the default round-robin symbol assignment.
func WithRouter(r Router) MarketOption {
	return func(o *marketOptions) {
		o.router = r
	}
}

// WithAnomalyStore records executions logged with the sentinel id.
func WithAnomalyStore(r AnomalyRecorder) MarketOption {
	return func(o *marketOptions) {
		o.anomalies = r
	}
}

// WithExecutionSink copies every logged execution to s.
func WithExecutionSink(s ExecutionSink) MarketOption {
	return func(o *marketOptions) {
		o.sink = s
	}
}

// WithFatalHook replaces the process exit on trade log failure.
func WithFatalHook(fn func(error)) MarketOption {
	return func(o *marketOptions) {
		o.fatal = fn
	}
}

type commandType uint8

const (
	cmdOrder commandType = iota + 1
	cmdCancel
	cmdDepth
	cmdStats
)

// command is one work queue slot of a matching thread.
type command struct {
	typ     commandType
	order   Order
	cancel  protocol.CancelMessage
	session Session
	symbol  protocol.Symbol
	limit   uint32
	resp    chan any
}

// Market owns the matching threads and routes work to them.
type Market struct {
	isShutdown atomic.Bool
	retries    int
	outboxCap  uint64
	matchers   []*matcher
	routes     map[protocol.Symbol]*matcher
}

// NewMarket opens one trade log per matching thread and builds the books.
func NewMarket(cfg MarketConfig, opts ...MarketOption) (*Market, error) {
	if cfg.Threads <= 0 || len(cfg.Symbols) == 0 || cfg.IDInterval == 0 {
		return nil, ErrInvalidParam
	}
	if cfg.QueueCapacity == 0 || cfg.QueueCapacity&(cfg.QueueCapacity-1) != 0 {
		return nil, fmt.Errorf("%w: queue capacity %d is not a power of two", ErrInvalidParam, cfg.QueueCapacity)
	}
	if cfg.OutboxCapacity&(cfg.OutboxCapacity-1) != 0 {
		return nil, fmt.Errorf("%w: outbox capacity %d is not a power of two", ErrInvalidParam, cfg.OutboxCapacity)
	}

	o := marketOptions{router: &roundRobinRouter{}}
	for _, opt := range opts {
		opt(&o)
	}

	// order and execution ids never collide with the sentinel
	orderGen := idgen.NewGenerator(cfg.IDInterval, idgen.WithStart(1))
	execGen := idgen.NewGenerator(cfg.IDInterval, idgen.WithStart(1))

	mkt := &Market{
		retries:   cfg.SubmitRetries,
		outboxCap: cfg.OutboxCapacity,
		matchers:  make([]*matcher, 0, cfg.Threads),
		routes:    make(map[protocol.Symbol]*matcher, len(cfg.Symbols)),
	}
	if mkt.outboxCap == 0 {
		mkt.outboxCap = DefaultOutboxCapacity
	}

	for i := 0; i < cfg.Threads; i++ {
		m, err := newMatcher(i, cfg, orderGen, execGen, o.sink)
		if err != nil {
			return nil, errors.Join(err, mkt.closeLogs())
		}
		mkt.matchers = append(mkt.matchers, m)
	}

	for _, symbol := range cfg.Symbols {
		if symbol.IsZero() {
			return nil, errors.Join(fmt.Errorf("%w: empty symbol", ErrInvalidParam), mkt.closeLogs())
		}
		if _, dup := mkt.routes[symbol]; dup {
			return nil, errors.Join(fmt.Errorf("%w: duplicate symbol %s", ErrInvalidParam, symbol), mkt.closeLogs())
		}

		idx := o.router.Route(symbol, cfg.Threads)
		if idx < 0 || idx >= cfg.Threads {
			return nil, errors.Join(fmt.Errorf("%w: symbol %s routed to thread %d", ErrInvalidParam, symbol, idx), mkt.closeLogs())
		}
		m := mkt.matchers[idx]

		capacity := cfg.BookCapacity
		if hint, ok := cfg.SizeHints[symbol]; ok && hint > 0 {
			capacity = hint
		}
		if capacity <= 0 {
			capacity = DefaultBookCapacity
		}

		bookOpts := []BookOption{
			WithCapacity(capacity),
			WithExecutionIDs(m.execIDs),
			WithExecutionListener(m),
		}
		if cfg.MaxRestingOrders > 0 {
			bookOpts = append(bookOpts, WithMaxRestingOrders(cfg.MaxRestingOrders))
		}
		if o.anomalies != nil {
			bookOpts = append(bookOpts, WithAnomalyRecorder(o.anomalies))
		}
		if o.fatal != nil {
			bookOpts = append(bookOpts, WithFatalHandler(o.fatal))
		}

		m.books[symbol] = NewOrderBook(symbol, m.log, bookOpts...)
		mkt.routes[symbol] = m
	}

	return mkt, nil
}

// Start starts every matching thread.
func (mkt *Market) Start() {
	for _, m := range mkt.matchers {
		m.dispatcher.Start()
	}
}

// SubmitOrder hands o to the thread owning its symbol. It never blocks for
// long: a queue that stays full for the configured retries yields
// ErrQueueFull. Every refusal is also acknowledged to o.Session.
func (mkt *Market) SubmitOrder(o *Order) error {
	err := mkt.submitOrder(o)
	if err != nil {
		reason := rejectReason(err)
		ordersRejectedTotal.WithLabelValues(reason.String()).Inc()
		if o.Session != nil {
			msg := NewAckMessage(o, protocol.AckRejected, reason)
			o.Session.Deliver(&msg)
		}
	}
	return err
}

func (mkt *Market) submitOrder(o *Order) error {
	if mkt.isShutdown.Load() {
		return ErrShutdown
	}
	if !o.Side.Valid() || o.Quantity == 0 || o.Price == 0 {
		return ErrInvalidParam
	}

	m, ok := mkt.routes[o.Symbol]
	if !ok {
		return ErrUnknownSymbol
	}

	return m.enqueue(mkt.retries, func(c *command) {
		c.typ = cmdOrder
		c.order = *o
	})
}

// SubmitCancel forwards a cancel request. Cancellation is not implemented:
// the request is answered with a rejected ack in sequence with the
// session's orders.
func (mkt *Market) SubmitCancel(session Session, cancel *protocol.CancelMessage) error {
	if mkt.isShutdown.Load() {
		return ErrShutdown
	}

	m, ok := mkt.routes[cancel.Symbol]
	if !ok {
		return ErrUnknownSymbol
	}

	return m.enqueue(mkt.retries, func(c *command) {
		c.typ = cmdCancel
		c.cancel = *cancel
		c.session = session
	})
}

// Depth returns the aggregated price levels of a book up to limit. It is
// answered by the owning matching thread.
func (mkt *Market) Depth(symbol protocol.Symbol, limit uint32) (*Depth, error) {
	if limit == 0 {
		return nil, ErrInvalidParam
	}

	res, err := mkt.query(symbol, cmdDepth, limit)
	if err != nil {
		return nil, err
	}
	result, _ := res.(*Depth)
	return result, nil
}

// Stats returns usage statistics of a book.
func (mkt *Market) Stats(symbol protocol.Symbol) (*BookStats, error) {
	res, err := mkt.query(symbol, cmdStats, 0)
	if err != nil {
		return nil, err
	}
	result, _ := res.(*BookStats)
	return result, nil
}

func (mkt *Market) query(symbol protocol.Symbol, typ commandType, limit uint32) (any, error) {
	if mkt.isShutdown.Load() {
		return nil, ErrShutdown
	}

	m, ok := mkt.routes[symbol]
	if !ok {
		return nil, ErrUnknownSymbol
	}

	respChan := make(chan any, 1)
	err := m.enqueue(mkt.retries, func(c *command) {
		c.typ = typ
		c.symbol = symbol
		c.limit = limit
		c.resp = respChan
	})
	if err != nil {
		return nil, err
	}

	select {
	case res := <-respChan:
		return res, nil
	case <-time.After(time.Second):
		return nil, ErrTimeout
	}
}

// NewOutbox creates a session outbox sized by the market configuration.
func (mkt *Market) NewOutbox(userID uint64, opts ...worq.Option) *Outbox {
	return NewOutbox(userID, mkt.outboxCap, opts...)
}

// Symbols returns the traded symbols.
func (mkt *Market) Symbols() []protocol.Symbol {
	symbols := make([]protocol.Symbol, 0, len(mkt.routes))
	for s := range mkt.routes {
		symbols = append(symbols, s)
	}
	return symbols
}

// TradeLogDirs returns the trade log directory of every matching thread.
func (mkt *Market) TradeLogDirs() []string {
	dirs := make([]string, 0, len(mkt.matchers))
	for _, m := range mkt.matchers {
		dirs = append(dirs, m.log.Dir())
	}
	return dirs
}

// Shutdown stops accepting work, drains every matching thread and then
// closes the trade logs. A thread that does not drain before ctx is done
// keeps its trade log open.
func (mkt *Market) Shutdown(ctx context.Context) error {
	mkt.isShutdown.Store(true)

	var wg sync.WaitGroup
	var errs []error
	var errMu sync.Mutex

	// Shutdown all matching threads in parallel
	for _, m := range mkt.matchers {
		wg.Add(1)
		go func(m *matcher) {
			defer wg.Done()
			err := m.dispatcher.Shutdown(ctx)
			if err == nil {
				err = m.log.Close()
			} else {
				err = fmt.Errorf("matching thread %d: %w", m.id, err)
			}
			if err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		}(m)
	}

	wg.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (mkt *Market) closeLogs() error {
	var errs []error
	for _, m := range mkt.matchers {
		if err := m.log.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func rejectReason(err error) protocol.RejectReason {
	switch {
	case errors.Is(err, ErrShutdown):
		return protocol.RejectReasonShutdown
	case errors.Is(err, ErrUnknownSymbol):
		return protocol.RejectReasonUnknownSymbol
	case errors.Is(err, ErrQueueFull):
		return protocol.RejectReasonQueueFull
	case errors.Is(err, ErrBookFull):
		return protocol.RejectReasonBookFull
	case errors.Is(err, idgen.ErrExhausted):
		return protocol.RejectReasonIDExhausted
	default:
		return protocol.RejectReasonInvalidOrder
	}
}

// matcher is one matching thread.
type matcher struct {
	id         int
	queue      *worq.Queue[command]
	dispatcher *worq.Dispatcher[command]
	log        *tradelog.Manager
	books      map[protocol.Symbol]*OrderBook
	orderIDs   *IDSource
	execIDs    *IDSource
	sink       ExecutionSink
}

func newMatcher(id int, cfg MarketConfig, orderGen, execGen *idgen.Generator, sink ExecutionSink) (*matcher, error) {
	queueStrategy, err := wait.ByName(cfg.WaitStrategy)
	if err != nil {
		return nil, err
	}
	logStrategy, err := wait.ByName(cfg.WaitStrategy)
	if err != nil {
		return nil, err
	}

	logOpts := []tradelog.Option{tradelog.WithStrategy(logStrategy)}
	if cfg.TradeLogCapacity > 0 {
		logOpts = append(logOpts, tradelog.WithRecordCapacity(cfg.TradeLogCapacity))
	}
	if cfg.SyncInterval > 0 {
		logOpts = append(logOpts, tradelog.WithSyncInterval(cfg.SyncInterval))
	}
	if cfg.RetryDelay > 0 {
		logOpts = append(logOpts, tradelog.WithRetryDelay(cfg.RetryDelay))
	}

	log, err := tradelog.Open(filepath.Join(cfg.TradeLogPath, fmt.Sprintf("thread-%02d", id)), logOpts...)
	if err != nil {
		return nil, fmt.Errorf("matching thread %d: %w", id, err)
	}

	m := &matcher{
		id:       id,
		queue:    worq.New[command](cfg.QueueCapacity, worq.WithStrategy(queueStrategy)),
		log:      log,
		books:    make(map[protocol.Symbol]*OrderBook),
		orderIDs: NewIDSource(orderGen),
		execIDs:  NewIDSource(execGen),
		sink:     sink,
	}
	m.dispatcher = worq.NewDispatcher[command](m.queue, m, worq.WithLockOSThread())
	return m, nil
}

// enqueue claims a slot, lets fill write the command and publishes it.
func (m *matcher) enqueue(retries int, fill func(c *command)) error {
	for i := 0; i <= retries; i++ {
		c, ok := m.queue.Claim()
		if ok {
			fill(c.Value())
			c.Publish()
			return nil
		}
		runtime.Gosched()
	}

	submitQueueFullTotal.Inc()
	return ErrQueueFull
}

// OnEvent runs on the matching thread for every dequeued command.
func (m *matcher) OnEvent(cmd *command) {
	switch cmd.typ {
	case cmdOrder:
		m.placeOrder(cmd)
	case cmdCancel:
		ordersRejectedTotal.WithLabelValues(protocol.RejectReasonCancelNotSupported.String()).Inc()
		msg := NewCancelAckMessage(&cmd.cancel)
		deliver(cmd.session, &msg)
	case cmdDepth:
		if book, ok := m.books[cmd.symbol]; ok {
			respond(cmd.resp, book.Depth(cmd.limit))
		}
	case cmdStats:
		if book, ok := m.books[cmd.symbol]; ok {
			respond(cmd.resp, book.Stats())
		}
	default:
		logger.Error("unknown command type", "thread", m.id, "type", cmd.typ)
	}
}

func (m *matcher) placeOrder(cmd *command) {
	ordersReceivedTotal.Inc()

	order := new(Order)
	*order = cmd.order

	book, ok := m.books[order.Symbol]
	if !ok {
		m.reject(order, protocol.RejectReasonUnknownSymbol)
		return
	}

	id, err := m.orderIDs.Next()
	if err != nil {
		logger.Error("order id unavailable", "thread", m.id, "symbol", order.Symbol.String(), "error", err)
		m.reject(order, protocol.RejectReasonIDExhausted)
		return
	}
	order.ID = id

	// a rejected order must not leave partial executions behind
	if !book.CanRest(order.Side) {
		m.reject(order, protocol.RejectReasonBookFull)
		return
	}

	ack := NewAckMessage(order, protocol.AckAccepted, protocol.RejectReasonNone)
	deliver(order.Session, &ack)

	if err := book.Order(order); err != nil {
		logger.Error("order failed", "thread", m.id, "symbol", order.Symbol.String(), "order_id", order.ID, "error", err)
	}
}

func (m *matcher) reject(order *Order, reason protocol.RejectReason) {
	ordersRejectedTotal.WithLabelValues(reason.String()).Inc()
	msg := NewAckMessage(order, protocol.AckRejected, reason)
	deliver(order.Session, &msg)
}

// OnExecution reports e to both counterparties and copies it to the sink.
func (m *matcher) OnExecution(e *protocol.Execution, bid, offer *Order) {
	buyer := NewExecutionReportMessage(e, bid)
	deliver(bid.Session, &buyer)

	seller := NewExecutionReportMessage(e, offer)
	deliver(offer.Session, &seller)

	if m.sink != nil && !m.sink.Offer(e) {
		logger.Warn("execution sink full, copy dropped", "thread", m.id, "execution_id", e.ID)
	}
}

func deliver(s Session, msg *protocol.Message) {
	if s == nil {
		return
	}
	s.Deliver(msg)
}

func respond(resp chan any, v any) {
	if resp == nil {
		return
	}
	select {
	case resp <- v:
	default:
		// 沒人在等，丟棄
	}
}
