package match

import (
	"github.com/0x5487/matching-core/protocol"
)

// NewAckMessage acknowledges an order; a rejection carries the reason.
func NewAckMessage(order *Order, status protocol.AckStatus, reason protocol.RejectReason) protocol.Message {
	return protocol.Message{
		Type: protocol.MsgAck,
		Ack: protocol.Ack{
			OrderID:    order.ID,
			ExternalID: order.ExternalID,
			Status:     status,
			Reason:     reason,
		},
	}
}

// NewCancelAckMessage answers a cancel request. Cancellation is not
// implemented, so the answer is always a rejection.
func NewCancelAckMessage(cancel *protocol.CancelMessage) protocol.Message {
	return protocol.Message{
		Type: protocol.MsgAck,
		Ack: protocol.Ack{
			OrderID:    cancel.OrderID,
			ExternalID: cancel.ExternalID,
			Status:     protocol.AckRejected,
			Reason:     protocol.RejectReasonCancelNotSupported,
		},
	}
}

// NewExecutionReportMessage reports e to the owner of order.
func NewExecutionReportMessage(e *protocol.Execution, order *Order) protocol.Message {
	return protocol.Message{
		Type: protocol.MsgExecution,
		Execution: protocol.ExecutionReport{
			OrderID:     order.ID,
			ExecutionID: e.ID,
			ExternalID:  order.ExternalID,
			Symbol:      e.Symbol,
			Side:        order.Side,
			Quantity:    e.Quantity,
			Price:       e.Price,
		},
	}
}
