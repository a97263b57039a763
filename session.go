package match

import (
	"github.com/0x5487/matching-core/protocol"
	"github.com/0x5487/matching-core/worq"
)

// Outbox is a Session whose outbound messages wait in a work queue until the
// network side drains them. Any number of matching threads may deliver to
// it; only one goroutine may drain it.
type Outbox struct {
	userID uint64
	queue  *worq.Queue[protocol.Message]
}

// NewOutbox creates an outbox for userID. capacity must be a power of two.
// Pass worq.WithNotifier to wake the draining goroutine on delivery.
func NewOutbox(userID uint64, capacity uint64, opts ...worq.Option) *Outbox {
	return &Outbox{
		userID: userID,
		queue:  worq.New[protocol.Message](capacity, opts...),
	}
}

func (o *Outbox) UserID() uint64 {
	return o.userID
}

// Deliver queues msg without blocking. A full outbox drops the message.
func (o *Outbox) Deliver(msg *protocol.Message) bool {
	c, ok := o.queue.Claim()
	if !ok {
		outboxDroppedTotal.Inc()
		logger.Warn("session outbox full, message dropped",
			"user_id", o.userID, "type", msg.Type.String())
		return false
	}
	*c.Value() = *msg
	c.Publish()
	return true
}

// Drain hands every queued message to fn in delivery order and returns how
// many were handled. fn must not retain the pointer.
func (o *Outbox) Drain(fn func(msg *protocol.Message)) int {
	n := 0
	for {
		p, ok := o.queue.Pop(worq.BlockSlot)
		if !ok {
			return n
		}
		fn(p.Value())
		p.Complete()
		n++
	}
}

// Len returns the number of claimed messages not yet drained.
func (o *Outbox) Len() uint64 {
	return o.queue.Len()
}
