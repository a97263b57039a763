package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidSide     = errors.New("protocol: invalid side")
	ErrInvalidSymbol   = errors.New("protocol: invalid symbol")
	ErrInvalidPrice    = errors.New("protocol: invalid price")
	ErrExternalIDLen   = errors.New("protocol: external id too long")
	ErrUnknownType     = errors.New("protocol: unknown message type")
	ErrShortBuffer     = errors.New("protocol: short buffer")
	ErrUnsupportedType = errors.New("protocol: unsupported value type")
)

// Side represents the order side (Buy/Sell). The zero value is invalid.
type Side uint8

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// MaxSymbolLength is the longest ticker accepted; the last byte of a Symbol
// is always zero.
const MaxSymbolLength = 7

// Symbol is a fixed-width, zero-padded ticker.
type Symbol [MaxSymbolLength + 1]byte

// NewSymbol validates and packs s.
func NewSymbol(s string) (Symbol, error) {
	var sym Symbol
	if len(s) == 0 || len(s) > MaxSymbolLength {
		return sym, fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return sym, fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
		}
	}
	copy(sym[:], s)
	return sym, nil
}

// MustSymbol is NewSymbol for constants; it panics on invalid input.
func MustSymbol(s string) Symbol {
	sym, err := NewSymbol(s)
	if err != nil {
		panic(err)
	}
	return sym
}

func (s Symbol) String() string {
	if i := bytes.IndexByte(s[:], 0); i >= 0 {
		return string(s[:i])
	}
	return string(s[:])
}

func (s Symbol) IsZero() bool {
	return s[0] == 0
}

func (s Symbol) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Symbol) UnmarshalText(text []byte) error {
	sym, err := NewSymbol(string(text))
	if err != nil {
		return err
	}
	*s = sym
	return nil
}

// ExternalIDLength is the width of a client supplied identifier.
const ExternalIDLength = 16

// ExternalID is the client's own order identifier, echoed back verbatim.
type ExternalID [ExternalIDLength]byte

// NewExternalID packs s, which may be at most ExternalIDLength bytes.
func NewExternalID(s string) (ExternalID, error) {
	var id ExternalID
	if len(s) > ExternalIDLength {
		return id, ErrExternalIDLen
	}
	copy(id[:], s)
	return id, nil
}

func (id ExternalID) String() string {
	return string(bytes.TrimRight(id[:], "\x00"))
}

func (id ExternalID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ExternalID) UnmarshalText(text []byte) error {
	v, err := NewExternalID(string(text))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

const (
	// PriceMultiplier converts between whole currency units and Price.
	PriceMultiplier = 100
	// PriceDecimals is the number of fractional digits a Price carries.
	PriceDecimals int32 = 2
)

// Price is a limit or trade price in integer cents.
type Price uint32

// ParsePrice reads a decimal amount such as "10.25".
func ParsePrice(s string) (Price, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	return PriceFromDecimal(d)
}

// PriceFromDecimal converts d, rejecting sub-cent precision and values that
// do not fit.
func PriceFromDecimal(d decimal.Decimal) (Price, error) {
	cents := d.Shift(PriceDecimals)
	if !cents.IsInteger() || cents.IsNegative() || cents.GreaterThan(decimal.NewFromInt(math.MaxUint32)) {
		return 0, fmt.Errorf("%w: %s", ErrInvalidPrice, d.String())
	}
	return Price(cents.IntPart()), nil
}

// Decimal returns the price in whole currency units.
func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p), -PriceDecimals)
}

func (p Price) String() string {
	return p.Decimal().StringFixed(PriceDecimals)
}

// Quantity is a share count.
type Quantity uint32
