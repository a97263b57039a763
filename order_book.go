package match

import (
	"fmt"
	"os"

	"github.com/0x5487/matching-core/idgen"
	"github.com/0x5487/matching-core/protocol"
	"github.com/0x5487/matching-core/structure"
)

const (
	// DefaultBookCapacity is the initial heap size per side.
	DefaultBookCapacity = 1 << 8

	// DefaultIDInterval is the number of identifiers reserved per block.
	DefaultIDInterval = 1 << 14

	// DefaultOutboxCapacity is the slot count of a session outbox.
	DefaultOutboxCapacity = 1 << 10

	// SentinelExecutionID marks an execution logged without a real ID.
	SentinelExecutionID uint64 = 0
)

// TradeLog is the system of record for executions.
type TradeLog interface {
	Append(e *protocol.Execution) error
}

// AnomalyRecorder keeps executions that were logged in a compromised state.
type AnomalyRecorder interface {
	Record(reason string, e *protocol.Execution) error
}

// ExecutionListener is told about every logged execution, on the book's
// goroutine, after the trade log accepted it.
type ExecutionListener interface {
	OnExecution(e *protocol.Execution, bid, offer *Order)
}

// IDSource hands out identifiers from a block owned by one goroutine.
type IDSource struct {
	gen   *idgen.Generator
	block idgen.Block
}

func NewIDSource(gen *idgen.Generator) *IDSource {
	return &IDSource{gen: gen}
}

func (s *IDSource) Next() (uint64, error) {
	return s.block.Next(s.gen)
}

// OrderBook type
//
// A book is owned by exactly one goroutine; none of its methods are safe for
// concurrent use.
type OrderBook struct {
	symbol protocol.Symbol

	bids      *structure.Heap[*Order]
	offers    *structure.Heap[*Order]
	bidLadder *priceLadder
	askLadder *priceLadder

	recvCounter uint64

	log       TradeLog
	execIDs   *IDSource
	anomalies AnomalyRecorder
	listener  ExecutionListener
	fatal     func(error)
}

// BookOption configures an OrderBook.
type BookOption func(*bookOptions)

type bookOptions struct {
	capacity  int
	limit     int
	execIDs   *IDSource
	anomalies AnomalyRecorder
	listener  ExecutionListener
	fatal     func(error)
}

// WithCapacity sets the initial heap size per side.
func WithCapacity(n int) BookOption {
	return func(o *bookOptions) {
		o.capacity = n
	}
}

// WithMaxRestingOrders caps each side; orders that would rest beyond it are
// rejected with ErrBookFull.
func WithMaxRestingOrders(n int) BookOption {
	return func(o *bookOptions) {
		o.limit = n
	}
}

// WithExecutionIDs shares an ID source between the books of one goroutine.
func WithExecutionIDs(s *IDSource) BookOption {
	return func(o *bookOptions) {
		o.execIDs = s
	}
}

func WithAnomalyRecorder(r AnomalyRecorder) BookOption {
	return func(o *bookOptions) {
		o.anomalies = r
	}
}

func WithExecutionListener(l ExecutionListener) BookOption {
	return func(o *bookOptions) {
		o.listener = l
	}
}

// WithFatalHandler replaces the default reaction to a trade log failure,
// which is to log and exit the process.
func WithFatalHandler(fn func(error)) BookOption {
	return func(o *bookOptions) {
		o.fatal = fn
	}
}

func exitOnFatal(err error) {
	logger.Error("unrecoverable matching failure, exiting", "error", err)
	os.Exit(1)
}

// NewOrderBook creates a new order book instance.
func NewOrderBook(symbol protocol.Symbol, log TradeLog, opts ...BookOption) *OrderBook {
	o := bookOptions{
		capacity: DefaultBookCapacity,
		fatal:    exitOnFatal,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.execIDs == nil {
		o.execIDs = NewIDSource(idgen.NewGenerator(DefaultIDInterval, idgen.WithStart(1)))
	}

	var heapOpts []structure.HeapOption
	if o.limit > 0 {
		heapOpts = append(heapOpts, structure.WithLimit(o.limit))
	}

	return &OrderBook{
		symbol:    symbol,
		bids:      structure.NewHeap[*Order](structure.MaxHeap, o.capacity, heapOpts...),
		offers:    structure.NewHeap[*Order](structure.MinHeap, o.capacity, heapOpts...),
		bidLadder: newBidLadder(),
		askLadder: newAskLadder(),
		log:       log,
		execIDs:   o.execIDs,
		anomalies: o.anomalies,
		listener:  o.listener,
		fatal:     o.fatal,
	}
}

// bidKey orders bids by highest price, then earliest arrival, under a
// max-heap: the complemented sequence is largest for the earliest order.
func bidKey(price protocol.Price, seq uint64) uint64 {
	return uint64(price)<<32 | uint64(^uint32(seq))
}

// offerKey orders offers by lowest price, then earliest arrival, under a
// min-heap.
func offerKey(price protocol.Price, seq uint64) uint64 {
	return uint64(price)<<32 | uint64(uint32(seq))
}

// Symbol returns the book's symbol.
func (book *OrderBook) Symbol() protocol.Symbol {
	return book.symbol
}

// CanRest reports whether an order on side could be added to the book
// should it not fully match. It panics on an unknown side.
func (book *OrderBook) CanRest(side Side) bool {
	switch side {
	case Buy:
		return !book.bids.Full()
	case Sell:
		return !book.offers.Full()
	default:
		panic(fmt.Sprintf("match: unknown order side %d", side))
	}
}

// Order matches o against the opposite side and rests any remainder.
// Executions are logged in match order before Order returns. An unknown side
// panics; a trade log failure is handed to the fatal handler.
func (book *OrderBook) Order(o *Order) error {
	if !book.CanRest(o.Side) {
		return ErrBookFull
	}

	o.Remaining = o.Quantity
	o.RecvSeq = book.recvCounter
	book.recvCounter++

	if o.Side == Buy {
		return book.buy(o)
	}
	return book.sell(o)
}

func (book *OrderBook) buy(bid *Order) error {
	for bid.Remaining > 0 {
		top, ok := book.offers.Peek()
		if !ok || bid.Price < top.Value.Price {
			break
		}

		offer := top.Value
		qty, err := book.execute(bid, offer, offer)
		if err != nil {
			return err
		}
		book.askLadder.fill(offer.Price, qty, offer.Remaining == 0)

		if offer.Remaining > 0 {
			break
		}
		book.offers.Pop()
	}

	if bid.Remaining > 0 {
		if err := book.bids.Push(bidKey(bid.Price, bid.RecvSeq), bid); err != nil {
			return fmt.Errorf("%w: %w", ErrBookFull, err)
		}
		book.bidLadder.add(bid.Price, bid.Remaining)
	}
	return nil
}

func (book *OrderBook) sell(offer *Order) error {
	for offer.Remaining > 0 {
		top, ok := book.bids.Peek()
		if !ok || offer.Price > top.Value.Price {
			break
		}

		bid := top.Value
		qty, err := book.execute(bid, offer, bid)
		if err != nil {
			return err
		}
		book.bidLadder.fill(bid.Price, qty, bid.Remaining == 0)

		if bid.Remaining > 0 {
			break
		}
		book.bids.Pop()
	}

	if offer.Remaining > 0 {
		if err := book.offers.Push(offerKey(offer.Price, offer.RecvSeq), offer); err != nil {
			return fmt.Errorf("%w: %w", ErrBookFull, err)
		}
		book.askLadder.add(offer.Price, offer.Remaining)
	}
	return nil
}

// execute trades bid against offer at the resting order's price.
func (book *OrderBook) execute(bid, offer, resting *Order) (protocol.Quantity, error) {
	qty := min(bid.Remaining, offer.Remaining)

	exec := protocol.Execution{
		Buyer:    bid.UserID,
		Seller:   offer.UserID,
		Symbol:   book.symbol,
		Quantity: qty,
		Price:    resting.Price,
	}

	id, idErr := book.execIDs.Next()
	if idErr != nil {
		executionIDFailuresTotal.Inc()
		logger.Error("execution id unavailable, logging with sentinel id",
			"symbol", book.symbol.String(), "buyer", exec.Buyer, "seller", exec.Seller, "error", idErr)
		id = SentinelExecutionID
	}
	exec.ID = id

	if err := book.log.Append(&exec); err != nil {
		err = fmt.Errorf("%w: %w", ErrTradeLog, err)
		book.fatal(err)
		return 0, err
	}

	if idErr != nil && book.anomalies != nil {
		if err := book.anomalies.Record(idErr.Error(), &exec); err != nil {
			logger.Error("failed to record anomaly", "symbol", book.symbol.String(), "error", err)
		}
	}

	bid.Remaining -= qty
	offer.Remaining -= qty
	executionsTotal.Inc()

	if book.listener != nil {
		book.listener.OnExecution(&exec, bid, offer)
	}
	return qty, nil
}

// BestBid returns the highest priority resting bid.
func (book *OrderBook) BestBid() (*Order, bool) {
	top, ok := book.bids.Peek()
	return top.Value, ok
}

// BestOffer returns the highest priority resting offer.
func (book *OrderBook) BestOffer() (*Order, bool) {
	top, ok := book.offers.Peek()
	return top.Value, ok
}

// Depth returns the aggregated price levels of both sides up to limit.
func (book *OrderBook) Depth(limit uint32) *Depth {
	return &Depth{
		Asks: book.askLadder.depth(limit),
		Bids: book.bidLadder.depth(limit),
	}
}

// Stats returns usage statistics for the order book.
func (book *OrderBook) Stats() *BookStats {
	return &BookStats{
		AskDepthCount: book.askLadder.depthCount(),
		AskOrderCount: book.askLadder.orderCount(),
		BidDepthCount: book.bidLadder.depthCount(),
		BidOrderCount: book.bidLadder.orderCount(),
		RecvCounter:   book.recvCounter,
	}
}
