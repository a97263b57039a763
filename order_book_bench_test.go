package match

import (
	"math/rand"
	"testing"

	"github.com/0x5487/matching-core/protocol"
)

type discardTradeLog struct{}

func (discardTradeLog) Append(*protocol.Execution) error { return nil }

func BenchmarkOrderBook_Resting(b *testing.B) {
	book := NewOrderBook(testSymbol, discardTradeLog{}, WithCapacity(b.N+1))
	orders := make([]Order, b.N)
	for i := range orders {
		orders[i] = Order{ID: uint64(i), Side: Buy, Price: protocol.Price(1 + i%1000), Quantity: 1}
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = book.Order(&orders[i])
	}
}

func BenchmarkOrderBook_Matching(b *testing.B) {
	book := NewOrderBook(testSymbol, discardTradeLog{})
	rnd := rand.New(rand.NewSource(1))
	orders := make([]Order, b.N)
	for i := range orders {
		side := Buy
		if rnd.Intn(2) == 0 {
			side = Sell
		}
		orders[i] = Order{
			ID:       uint64(i),
			Side:     side,
			Price:    protocol.Price(990 + rnd.Intn(20)),
			Quantity: protocol.Quantity(1 + rnd.Intn(100)),
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = book.Order(&orders[i])
	}

	stats := book.Stats()
	b.Logf("bid orders: %d, ask orders: %d", stats.BidOrderCount, stats.AskOrderCount)
}
