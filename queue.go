package match

import (
	"github.com/0x5487/matching-core/protocol"
	"github.com/huandu/skiplist"
)

type priceUnit struct {
	totalSize uint64
	count     int64
}

// priceLadder aggregates one side of a book by price level so depth queries
// do not have to walk the heap. Matching never reads it.
type priceLadder struct {
	side        Side
	totalOrders int64
	depths      int64
	depthList   *skiplist.SkipList
	priceList   map[protocol.Price]*skiplist.Element
}

// newBidLadder creates a ladder for buy orders (bids).
// The levels are sorted by price in descending order (highest price first).
func newBidLadder() *priceLadder {
	return &priceLadder{
		side: Buy,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			p1, _ := lhs.(protocol.Price)
			p2, _ := rhs.(protocol.Price)

			if p1 < p2 {
				return 1
			} else if p1 > p2 {
				return -1
			}

			return 0
		})),
		priceList: make(map[protocol.Price]*skiplist.Element),
	}
}

// newAskLadder creates a ladder for sell orders (asks).
// The levels are sorted by price in ascending order (lowest price first).
func newAskLadder() *priceLadder {
	return &priceLadder{
		side: Sell,
		depthList: skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
			p1, _ := lhs.(protocol.Price)
			p2, _ := rhs.(protocol.Price)

			if p1 > p2 {
				return 1
			} else if p1 < p2 {
				return -1
			}

			return 0
		})),
		priceList: make(map[protocol.Price]*skiplist.Element),
	}
}

// add records a resting order.
func (l *priceLadder) add(price protocol.Price, qty protocol.Quantity) {
	if el, ok := l.priceList[price]; ok {
		unit, _ := el.Value.(*priceUnit)
		unit.totalSize += uint64(qty)
		unit.count++
		l.totalOrders++
		return
	}

	unit := &priceUnit{totalSize: uint64(qty), count: 1}
	l.priceList[price] = l.depthList.Set(price, unit)
	l.totalOrders++
	l.depths++
}

// fill reduces a level by a traded quantity; filled marks the resting order
// as gone.
func (l *priceLadder) fill(price protocol.Price, qty protocol.Quantity, filled bool) {
	el, ok := l.priceList[price]
	if !ok {
		return
	}
	unit, _ := el.Value.(*priceUnit)

	unit.totalSize -= uint64(qty)
	if filled {
		unit.count--
		l.totalOrders--
	}

	if unit.count == 0 {
		l.depthList.RemoveElement(el)
		delete(l.priceList, price)
		l.depths--
	}
}

// orderCount returns the total number of orders in the ladder.
func (l *priceLadder) orderCount() int64 {
	return l.totalOrders
}

// depthCount returns the number of price levels in the ladder.
func (l *priceLadder) depthCount() int64 {
	return l.depths
}

// size returns the resting quantity at price.
func (l *priceLadder) size(price protocol.Price) uint64 {
	el, ok := l.priceList[price]
	if !ok {
		return 0
	}
	unit, _ := el.Value.(*priceUnit)
	return unit.totalSize
}

// depth returns the order book depth up to the specified limit.
func (l *priceLadder) depth(limit uint32) []*DepthItem {
	result := make([]*DepthItem, 0, limit)

	el := l.depthList.Front()

	var i uint32 = 0
	for i < limit && el != nil {
		unit, _ := el.Value.(*priceUnit)
		price, _ := el.Key().(protocol.Price)
		result = append(result, &DepthItem{
			ID:    i,
			Price: price,
			Size:  unit.totalSize,
			Count: unit.count,
		})

		el = el.Next()
		i++
	}

	return result
}
