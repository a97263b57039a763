package match

import (
	"github.com/0x5487/matching-core/protocol"
)

type Side = protocol.Side

const (
	Buy  Side = protocol.SideBuy
	Sell Side = protocol.SideSell
)

// Session is the connection an order arrived on. The core only needs the
// owner's user ID and a non-blocking way to hand it outbound messages.
type Session interface {
	UserID() uint64
	// Deliver queues msg for the session and reports whether it was
	// accepted. It must not block.
	Deliver(msg *protocol.Message) bool
}

// Order represents the state of an order in the order book.
type Order struct {
	ID         uint64              `json:"id"`
	ExternalID protocol.ExternalID `json:"external_id"`
	Symbol     protocol.Symbol     `json:"symbol"`
	Side       Side                `json:"side"`
	Price      protocol.Price      `json:"price"`
	Quantity   protocol.Quantity   `json:"quantity"`
	Remaining  protocol.Quantity   `json:"remaining"`
	UserID     uint64              `json:"user_id"`
	// RecvSeq is assigned by the book and breaks price ties.
	RecvSeq uint64 `json:"recv_seq"`

	Session Session `json:"-"`
}

// OrderFromMessage builds an order from a decoded wire message.
func OrderFromMessage(msg *protocol.OrderMessage, session Session) Order {
	o := Order{
		ExternalID: msg.ExternalID,
		Symbol:     msg.Symbol,
		Side:       msg.Side,
		Price:      msg.Price,
		Quantity:   msg.Quantity,
		Session:    session,
	}
	if session != nil {
		o.UserID = session.UserID()
	}
	return o
}

type DepthItem struct {
	ID    uint32         `json:"id"`
	Price protocol.Price `json:"price"`
	Size  uint64         `json:"size"`
	Count int64          `json:"count"`
}

type Depth struct {
	Asks []*DepthItem `json:"asks"`
	Bids []*DepthItem `json:"bids"`
}

// BookStats contains statistics about the order book queues
type BookStats struct {
	AskDepthCount int64
	AskOrderCount int64
	BidDepthCount int64
	BidOrderCount int64
	RecvCounter   uint64
}
