package protocol

import (
	"encoding/binary"
	"fmt"
)

// MessageType is the single-byte tag in front of every wire message. The
// payload length is a pure function of the tag.
type MessageType uint8

const (
	MsgUnknown   MessageType = 0
	MsgOrder     MessageType = 'O'
	MsgCancel    MessageType = 'C'
	MsgExecution MessageType = 'E'
	MsgAck       MessageType = 'A'
)

func (t MessageType) String() string {
	switch t {
	case MsgOrder:
		return "order"
	case MsgCancel:
		return "cancel"
	case MsgExecution:
		return "execution"
	case MsgAck:
		return "ack"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

const (
	orderPayloadLen     = 8 + 4 + 4 + 1 + ExternalIDLength
	cancelPayloadLen    = 8 + 1 + 8 + ExternalIDLength
	executionPayloadLen = 8 + 8 + ExternalIDLength + 8 + 1 + 4 + 4
	ackPayloadLen       = 8 + ExternalIDLength + 1 + 1
)

// PayloadLength returns the payload size for t, excluding the tag byte.
func PayloadLength(t MessageType) (int, error) {
	switch t {
	case MsgOrder:
		return orderPayloadLen, nil
	case MsgCancel:
		return cancelPayloadLen, nil
	case MsgExecution:
		return executionPayloadLen, nil
	case MsgAck:
		return ackPayloadLen, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownType, uint8(t))
	}
}

// OrderMessage is a new limit order from a client.
type OrderMessage struct {
	Symbol     Symbol     `json:"symbol"`
	Quantity   Quantity   `json:"quantity"`
	Price      Price      `json:"price"`
	Side       Side       `json:"side"`
	ExternalID ExternalID `json:"external_id"`
}

// CancelMessage asks to cancel a resting order.
type CancelMessage struct {
	Symbol     Symbol     `json:"symbol"`
	Side       Side       `json:"side"`
	OrderID    uint64     `json:"order_id"`
	ExternalID ExternalID `json:"external_id"`
}

// ExecutionReport tells one counterparty about a fill.
type ExecutionReport struct {
	OrderID     uint64     `json:"order_id"`
	ExecutionID uint64     `json:"execution_id"`
	ExternalID  ExternalID `json:"external_id"`
	Symbol      Symbol     `json:"symbol"`
	Side        Side       `json:"side"`
	Quantity    Quantity   `json:"quantity"`
	Price       Price      `json:"price"`
}

// AckStatus is the outcome carried by an Ack.
type AckStatus uint8

const (
	AckAccepted AckStatus = 1
	AckRejected AckStatus = 2
)

// RejectReason explains an AckRejected.
type RejectReason uint8

const (
	RejectReasonNone RejectReason = iota
	RejectReasonQueueFull
	RejectReasonBookFull
	RejectReasonInvalidOrder
	RejectReasonUnknownSymbol
	RejectReasonIDExhausted
	RejectReasonCancelNotSupported
	RejectReasonShutdown
)

func (r RejectReason) String() string {
	switch r {
	case RejectReasonNone:
		return "none"
	case RejectReasonQueueFull:
		return "queue_full"
	case RejectReasonBookFull:
		return "book_full"
	case RejectReasonInvalidOrder:
		return "invalid_order"
	case RejectReasonUnknownSymbol:
		return "unknown_symbol"
	case RejectReasonIDExhausted:
		return "id_exhausted"
	case RejectReasonCancelNotSupported:
		return "cancel_not_supported"
	case RejectReasonShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// Ack acknowledges receipt of an order or cancel.
type Ack struct {
	OrderID    uint64       `json:"order_id"`
	ExternalID ExternalID   `json:"external_id"`
	Status     AckStatus    `json:"status"`
	Reason     RejectReason `json:"reason"`
}

// Message is a decoded wire message; only the field matching Type is
// meaningful.
type Message struct {
	Type      MessageType     `json:"type"`
	Order     OrderMessage    `json:"order"`
	Cancel    CancelMessage   `json:"cancel"`
	Execution ExecutionReport `json:"execution"`
	Ack       Ack             `json:"ack"`
}

// Size returns the framed length of m, tag included.
func (m *Message) Size() (int, error) {
	n, err := PayloadLength(m.Type)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

// AppendBinary appends the framed encoding of m to dst.
func (m *Message) AppendBinary(dst []byte) ([]byte, error) {
	size, err := m.Size()
	if err != nil {
		return dst, err
	}

	start := len(dst)
	dst = append(dst, make([]byte, size)...)
	b := dst[start:]
	b[0] = byte(m.Type)
	p := b[1:]

	switch m.Type {
	case MsgOrder:
		o := &m.Order
		copy(p[0:8], o.Symbol[:])
		binary.LittleEndian.PutUint32(p[8:12], uint32(o.Quantity))
		binary.LittleEndian.PutUint32(p[12:16], uint32(o.Price))
		p[16] = byte(o.Side)
		copy(p[17:33], o.ExternalID[:])
	case MsgCancel:
		c := &m.Cancel
		copy(p[0:8], c.Symbol[:])
		p[8] = byte(c.Side)
		binary.LittleEndian.PutUint64(p[9:17], c.OrderID)
		copy(p[17:33], c.ExternalID[:])
	case MsgExecution:
		e := &m.Execution
		binary.LittleEndian.PutUint64(p[0:8], e.OrderID)
		binary.LittleEndian.PutUint64(p[8:16], e.ExecutionID)
		copy(p[16:32], e.ExternalID[:])
		copy(p[32:40], e.Symbol[:])
		p[40] = byte(e.Side)
		binary.LittleEndian.PutUint32(p[41:45], uint32(e.Quantity))
		binary.LittleEndian.PutUint32(p[45:49], uint32(e.Price))
	case MsgAck:
		a := &m.Ack
		binary.LittleEndian.PutUint64(p[0:8], a.OrderID)
		copy(p[8:24], a.ExternalID[:])
		p[24] = byte(a.Status)
		p[25] = byte(a.Reason)
	}
	return dst, nil
}

// MarshalBinary returns the framed encoding of m.
func (m *Message) MarshalBinary() ([]byte, error) {
	return m.AppendBinary(nil)
}

// Decode reads one framed message from the front of data and returns the
// number of bytes consumed. ErrShortBuffer means more input is needed.
func Decode(data []byte) (Message, int, error) {
	var m Message
	if len(data) == 0 {
		return m, 0, ErrShortBuffer
	}

	m.Type = MessageType(data[0])
	n, err := PayloadLength(m.Type)
	if err != nil {
		return Message{}, 0, err
	}
	if len(data) < n+1 {
		return Message{}, 0, ErrShortBuffer
	}
	p := data[1 : n+1]

	switch m.Type {
	case MsgOrder:
		o := &m.Order
		copy(o.Symbol[:], p[0:8])
		o.Quantity = Quantity(binary.LittleEndian.Uint32(p[8:12]))
		o.Price = Price(binary.LittleEndian.Uint32(p[12:16]))
		o.Side = Side(p[16])
		copy(o.ExternalID[:], p[17:33])
		if err := validateSymbol(o.Symbol); err != nil {
			return Message{}, 0, err
		}
		if !o.Side.Valid() {
			return Message{}, 0, fmt.Errorf("%w: %d", ErrInvalidSide, p[16])
		}
	case MsgCancel:
		c := &m.Cancel
		copy(c.Symbol[:], p[0:8])
		c.Side = Side(p[8])
		c.OrderID = binary.LittleEndian.Uint64(p[9:17])
		copy(c.ExternalID[:], p[17:33])
		if err := validateSymbol(c.Symbol); err != nil {
			return Message{}, 0, err
		}
	case MsgExecution:
		e := &m.Execution
		e.OrderID = binary.LittleEndian.Uint64(p[0:8])
		e.ExecutionID = binary.LittleEndian.Uint64(p[8:16])
		copy(e.ExternalID[:], p[16:32])
		copy(e.Symbol[:], p[32:40])
		e.Side = Side(p[40])
		e.Quantity = Quantity(binary.LittleEndian.Uint32(p[41:45]))
		e.Price = Price(binary.LittleEndian.Uint32(p[45:49]))
	case MsgAck:
		a := &m.Ack
		a.OrderID = binary.LittleEndian.Uint64(p[0:8])
		copy(a.ExternalID[:], p[8:24])
		a.Status = AckStatus(p[24])
		a.Reason = RejectReason(p[25])
	}

	return m, n + 1, nil
}

func validateSymbol(s Symbol) error {
	if s.IsZero() || s[MaxSymbolLength] != 0 {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, s.String())
	}
	return nil
}
