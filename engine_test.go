package match

import (
	"context"
	"testing"
	"time"

	"github.com/0x5487/matching-core/protocol"
	"github.com/0x5487/matching-core/tradelog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var otherSymbol = protocol.MustSymbol("AAPL")

func createTestMarket(t *testing.T, mutate func(cfg *MarketConfig), opts ...MarketOption) *Market {
	t.Helper()

	cfg := DefaultMarketConfig()
	cfg.Symbols = []protocol.Symbol{testSymbol, otherSymbol}
	cfg.Threads = 2
	cfg.QueueCapacity = 64
	cfg.TradeLogPath = t.TempDir()
	cfg.TradeLogCapacity = 16
	cfg.WaitStrategy = "park"
	if mutate != nil {
		mutate(&cfg)
	}

	opts = append([]MarketOption{WithFatalHook(func(err error) {
		t.Errorf("unexpected fatal: %v", err)
	})}, opts...)

	mkt, err := NewMarket(cfg, opts...)
	require.NoError(t, err)
	return mkt
}

func shutdownMarket(t *testing.T, mkt *Market) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, mkt.Shutdown(ctx))
}

type inbox struct {
	outbox   *Outbox
	messages []protocol.Message
}

func newInbox(userID uint64) *inbox {
	return &inbox{outbox: NewOutbox(userID, 64)}
}

func (in *inbox) waitFor(t *testing.T, n int) []protocol.Message {
	t.Helper()

	assert.Eventually(t, func() bool {
		in.outbox.Drain(func(msg *protocol.Message) {
			in.messages = append(in.messages, *msg)
		})
		return len(in.messages) >= n
	}, 2*time.Second, time.Millisecond)
	return in.messages
}

func marketOrder(session *inbox, symbol protocol.Symbol, side Side, price protocol.Price, qty protocol.Quantity, ext string) *Order {
	msg := protocol.OrderMessage{
		Symbol:     symbol,
		Side:       side,
		Price:      price,
		Quantity:   qty,
		ExternalID: protocol.ExternalID{},
	}
	copy(msg.ExternalID[:], ext)

	o := OrderFromMessage(&msg, session.outbox)
	return &o
}

func TestMarket_SubmitAndMatch(t *testing.T) {
	sink := NewMemoryExecutionSink()
	mkt := createTestMarket(t, nil, WithExecutionSink(sink))
	mkt.Start()

	seller := newInbox(11)
	buyer := newInbox(21)

	require.NoError(t, mkt.SubmitOrder(marketOrder(seller, testSymbol, Sell, 1000, 100, "s-1")))
	sellerMsgs := seller.waitFor(t, 1)
	require.Equal(t, protocol.MsgAck, sellerMsgs[0].Type)
	assert.Equal(t, protocol.AckAccepted, sellerMsgs[0].Ack.Status)
	assert.Equal(t, "s-1", sellerMsgs[0].Ack.ExternalID.String())
	sellOrderID := sellerMsgs[0].Ack.OrderID
	assert.NotZero(t, sellOrderID)

	require.NoError(t, mkt.SubmitOrder(marketOrder(buyer, testSymbol, Buy, 1000, 150, "b-1")))

	buyerMsgs := buyer.waitFor(t, 2)
	require.Equal(t, protocol.MsgAck, buyerMsgs[0].Type)
	assert.Equal(t, protocol.AckAccepted, buyerMsgs[0].Ack.Status)
	require.Equal(t, protocol.MsgExecution, buyerMsgs[1].Type)

	report := buyerMsgs[1].Execution
	assert.Equal(t, buyerMsgs[0].Ack.OrderID, report.OrderID)
	assert.Equal(t, Buy, report.Side)
	assert.Equal(t, protocol.Quantity(100), report.Quantity)
	assert.Equal(t, protocol.Price(1000), report.Price)
	assert.Equal(t, "b-1", report.ExternalID.String())

	sellerMsgs = seller.waitFor(t, 2)
	require.Equal(t, protocol.MsgExecution, sellerMsgs[1].Type)
	assert.Equal(t, sellOrderID, sellerMsgs[1].Execution.OrderID)
	assert.Equal(t, Sell, sellerMsgs[1].Execution.Side)
	assert.Equal(t, report.ExecutionID, sellerMsgs[1].Execution.ExecutionID)

	stats, err := mkt.Stats(testSymbol)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.BidOrderCount)
	assert.Equal(t, int64(0), stats.AskOrderCount)
	assert.Equal(t, uint64(2), stats.RecvCounter)

	depth, err := mkt.Depth(testSymbol, 5)
	require.NoError(t, err)
	require.Len(t, depth.Bids, 1)
	assert.Equal(t, uint64(50), depth.Bids[0].Size)

	shutdownMarket(t, mkt)

	require.Equal(t, 1, sink.Count())
	assert.Equal(t, report.ExecutionID, sink.Get(0).ID)

	var logged []protocol.Execution
	for _, dir := range mkt.TradeLogDirs() {
		require.NoError(t, tradelog.Replay(dir, func(e *protocol.Execution) error {
			logged = append(logged, *e)
			return nil
		}))
	}
	require.Len(t, logged, 1)
	assert.Equal(t, protocol.Execution{
		ID:       report.ExecutionID,
		Buyer:    21,
		Seller:   11,
		Symbol:   testSymbol,
		Quantity: 100,
		Price:    1000,
	}, logged[0])
}

type routerFunc func(symbol protocol.Symbol, threads int) int

func (f routerFunc) Route(symbol protocol.Symbol, threads int) int {
	return f(symbol, threads)
}

func TestMarket_Routing(t *testing.T) {
	t.Run("round robin", func(t *testing.T) {
		mkt := createTestMarket(t, nil)
		defer shutdownMarket(t, mkt)

		assert.Len(t, mkt.TradeLogDirs(), 2)
		assert.NotSame(t, mkt.routes[testSymbol], mkt.routes[otherSymbol])
		assert.ElementsMatch(t, []protocol.Symbol{testSymbol, otherSymbol}, mkt.Symbols())
	})

	t.Run("custom", func(t *testing.T) {
		mkt := createTestMarket(t, nil, WithRouter(routerFunc(func(protocol.Symbol, int) int {
			return 1
		})))
		defer shutdownMarket(t, mkt)

		assert.Same(t, mkt.routes[testSymbol], mkt.routes[otherSymbol])
		assert.Equal(t, 1, mkt.routes[testSymbol].id)
		assert.Empty(t, mkt.matchers[0].books)
	})

	t.Run("out of range", func(t *testing.T) {
		cfg := DefaultMarketConfig()
		cfg.Symbols = []protocol.Symbol{testSymbol}
		cfg.TradeLogPath = t.TempDir()
		cfg.TradeLogCapacity = 16

		_, err := NewMarket(cfg, WithRouter(routerFunc(func(protocol.Symbol, int) int {
			return 3
		})))
		assert.ErrorIs(t, err, ErrInvalidParam)
	})
}

func TestMarket_InvalidConfig(t *testing.T) {
	cfg := DefaultMarketConfig()
	cfg.TradeLogPath = t.TempDir()

	_, err := NewMarket(cfg)
	assert.ErrorIs(t, err, ErrInvalidParam, "no symbols")

	cfg.Symbols = []protocol.Symbol{testSymbol}
	cfg.QueueCapacity = 100
	_, err = NewMarket(cfg)
	assert.ErrorIs(t, err, ErrInvalidParam, "capacity not a power of two")

	cfg.QueueCapacity = 64
	cfg.Symbols = []protocol.Symbol{testSymbol, testSymbol}
	_, err = NewMarket(cfg)
	assert.ErrorIs(t, err, ErrInvalidParam, "duplicate symbol")

	cfg.Symbols = []protocol.Symbol{testSymbol}
	cfg.OutboxCapacity = 100
	_, err = NewMarket(cfg)
	assert.ErrorIs(t, err, ErrInvalidParam, "outbox capacity not a power of two")

	cfg.OutboxCapacity = 0
	cfg.Symbols = []protocol.Symbol{testSymbol}
	cfg.WaitStrategy = "sleep"
	_, err = NewMarket(cfg)
	assert.Error(t, err)
}

func TestMarket_NewOutbox(t *testing.T) {
	mkt := createTestMarket(t, func(cfg *MarketConfig) {
		cfg.OutboxCapacity = 2
	})
	defer shutdownMarket(t, mkt)

	out := mkt.NewOutbox(9)
	assert.Equal(t, uint64(9), out.UserID())

	msg := NewCancelAckMessage(&protocol.CancelMessage{})
	assert.True(t, out.Deliver(&msg))
	assert.True(t, out.Deliver(&msg))
	assert.False(t, out.Deliver(&msg), "outbox is full")
	assert.Equal(t, 2, out.Drain(func(*protocol.Message) {}))
}

func TestMarket_SubmitRejections(t *testing.T) {
	mkt := createTestMarket(t, nil)
	mkt.Start()

	session := newInbox(7)

	err := mkt.SubmitOrder(marketOrder(session, testSymbol, Side(0), 1000, 1, "bad-side"))
	assert.ErrorIs(t, err, ErrInvalidParam)

	err = mkt.SubmitOrder(marketOrder(session, protocol.MustSymbol("MSFT"), Buy, 1000, 1, "unknown"))
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	msgs := session.waitFor(t, 2)
	assert.Equal(t, protocol.AckRejected, msgs[0].Ack.Status)
	assert.Equal(t, protocol.RejectReasonInvalidOrder, msgs[0].Ack.Reason)
	assert.Equal(t, "bad-side", msgs[0].Ack.ExternalID.String())
	assert.Equal(t, protocol.RejectReasonUnknownSymbol, msgs[1].Ack.Reason)

	shutdownMarket(t, mkt)

	err = mkt.SubmitOrder(marketOrder(session, testSymbol, Buy, 1000, 1, "late"))
	assert.ErrorIs(t, err, ErrShutdown)
	_, err = mkt.Depth(testSymbol, 1)
	assert.ErrorIs(t, err, ErrShutdown)

	msgs = session.waitFor(t, 3)
	assert.Equal(t, protocol.RejectReasonShutdown, msgs[2].Ack.Reason)
}

func TestMarket_QueueFull(t *testing.T) {
	mkt := createTestMarket(t, func(cfg *MarketConfig) {
		cfg.Threads = 1
		cfg.QueueCapacity = 2
		cfg.SubmitRetries = 0
	})

	session := newInbox(7)
	require.NoError(t, mkt.SubmitOrder(marketOrder(session, testSymbol, Buy, 1000, 1, "1")))
	require.NoError(t, mkt.SubmitOrder(marketOrder(session, testSymbol, Buy, 1000, 1, "2")))

	err := mkt.SubmitOrder(marketOrder(session, testSymbol, Buy, 1000, 1, "3"))
	assert.ErrorIs(t, err, ErrQueueFull)

	msgs := session.waitFor(t, 1)
	assert.Equal(t, protocol.RejectReasonQueueFull, msgs[0].Ack.Reason)
	assert.Equal(t, "3", msgs[0].Ack.ExternalID.String())

	// the queued orders are drained on shutdown
	mkt.Start()
	shutdownMarket(t, mkt)

	msgs = session.waitFor(t, 3)
	assert.Equal(t, protocol.AckAccepted, msgs[1].Ack.Status)
	assert.Equal(t, protocol.AckAccepted, msgs[2].Ack.Status)
	assert.Less(t, msgs[1].Ack.OrderID, msgs[2].Ack.OrderID)
}

func TestMarket_BookFull(t *testing.T) {
	mkt := createTestMarket(t, func(cfg *MarketConfig) {
		cfg.MaxRestingOrders = 1
	})
	mkt.Start()
	defer shutdownMarket(t, mkt)

	session := newInbox(7)
	require.NoError(t, mkt.SubmitOrder(marketOrder(session, testSymbol, Buy, 1000, 1, "1")))
	require.NoError(t, mkt.SubmitOrder(marketOrder(session, testSymbol, Buy, 990, 1, "2")))

	msgs := session.waitFor(t, 2)
	assert.Equal(t, protocol.AckAccepted, msgs[0].Ack.Status)
	assert.Equal(t, protocol.AckRejected, msgs[1].Ack.Status)
	assert.Equal(t, protocol.RejectReasonBookFull, msgs[1].Ack.Reason)
	assert.NotZero(t, msgs[1].Ack.OrderID)
}

func TestMarket_CancelIsAcknowledged(t *testing.T) {
	mkt := createTestMarket(t, nil)
	mkt.Start()
	defer shutdownMarket(t, mkt)

	session := newInbox(7)
	cancel := &protocol.CancelMessage{Symbol: testSymbol, Side: Buy, OrderID: 42}
	copy(cancel.ExternalID[:], "c-1")

	require.NoError(t, mkt.SubmitCancel(session.outbox, cancel))

	msgs := session.waitFor(t, 1)
	assert.Equal(t, protocol.AckRejected, msgs[0].Ack.Status)
	assert.Equal(t, protocol.RejectReasonCancelNotSupported, msgs[0].Ack.Reason)
	assert.Equal(t, uint64(42), msgs[0].Ack.OrderID)
	assert.Equal(t, "c-1", msgs[0].Ack.ExternalID.String())

	err := mkt.SubmitCancel(session.outbox, &protocol.CancelMessage{Symbol: protocol.MustSymbol("MSFT")})
	assert.ErrorIs(t, err, ErrUnknownSymbol)
}

func TestMarket_Queries(t *testing.T) {
	mkt := createTestMarket(t, nil)
	mkt.Start()
	defer shutdownMarket(t, mkt)

	_, err := mkt.Depth(testSymbol, 0)
	assert.ErrorIs(t, err, ErrInvalidParam)

	_, err = mkt.Stats(protocol.MustSymbol("MSFT"))
	assert.ErrorIs(t, err, ErrUnknownSymbol)

	session := newInbox(7)
	for i := 0; i < 5; i++ {
		require.NoError(t, mkt.SubmitOrder(marketOrder(session, otherSymbol, Sell, protocol.Price(1000+i*10), 2, "s")))
	}

	depth, err := mkt.Depth(otherSymbol, 3)
	require.NoError(t, err)
	require.Len(t, depth.Asks, 3)
	assert.Equal(t, protocol.Price(1000), depth.Asks[0].Price)
	assert.Equal(t, protocol.Price(1020), depth.Asks[2].Price)
	assert.Empty(t, depth.Bids)

	stats, err := mkt.Stats(testSymbol)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.RecvCounter)
}
