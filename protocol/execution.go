package protocol

import "encoding/binary"

// RecordSize is the on-disk width of one Execution:
// id, buyer, seller (u64 each), symbol (8 bytes), quantity, price (u32 each).
const RecordSize = 40

// Execution is the immutable record of one match.
type Execution struct {
	ID       uint64   `json:"id"`
	Buyer    uint64   `json:"buyer"`
	Seller   uint64   `json:"seller"`
	Symbol   Symbol   `json:"symbol"`
	Quantity Quantity `json:"quantity"`
	Price    Price    `json:"price"`
}

// PutRecord writes e into b[:RecordSize] in little-endian order.
func (e *Execution) PutRecord(b []byte) {
	_ = b[RecordSize-1]
	binary.LittleEndian.PutUint64(b[0:8], e.ID)
	binary.LittleEndian.PutUint64(b[8:16], e.Buyer)
	binary.LittleEndian.PutUint64(b[16:24], e.Seller)
	copy(b[24:32], e.Symbol[:])
	binary.LittleEndian.PutUint32(b[32:36], uint32(e.Quantity))
	binary.LittleEndian.PutUint32(b[36:40], uint32(e.Price))
}

// DecodeRecord reads an Execution from b[:RecordSize].
func DecodeRecord(b []byte) Execution {
	_ = b[RecordSize-1]
	var e Execution
	e.ID = binary.LittleEndian.Uint64(b[0:8])
	e.Buyer = binary.LittleEndian.Uint64(b[8:16])
	e.Seller = binary.LittleEndian.Uint64(b[16:24])
	copy(e.Symbol[:], b[24:32])
	e.Quantity = Quantity(binary.LittleEndian.Uint32(b[32:36]))
	e.Price = Price(binary.LittleEndian.Uint32(b[36:40]))
	return e
}

// IsUnwritten reports whether b holds the zero fill of a fresh log file. A
// written record always carries a symbol.
func IsUnwritten(b []byte) bool {
	return b[24] == 0
}

// Notional returns quantity times price, in cents.
func (e *Execution) Notional() uint64 {
	return uint64(e.Quantity) * uint64(e.Price)
}
