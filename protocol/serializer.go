package protocol

import (
	"encoding/json"
	"fmt"
)

// Serializer defines the contract for serializing and deserializing the
// values that leave the matching core (executions, outbound messages).
// This allows downstream consumers to pick their preferred format.
type Serializer interface {
	// Marshal serializes a value (e.g. *Execution) into bytes.
	Marshal(v any) ([]byte, error)

	// Unmarshal deserializes bytes into a value.
	// v must be a pointer to the target struct.
	Unmarshal(data []byte, v any) error
}

// JSONSerializer encodes values with encoding/json.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// BinarySerializer uses the fixed-width layouts: the 40-byte trade log
// record for *Execution and the framed wire encoding for *Message.
type BinarySerializer struct{}

func (BinarySerializer) Marshal(v any) ([]byte, error) {
	switch x := v.(type) {
	case *Execution:
		b := make([]byte, RecordSize)
		x.PutRecord(b)
		return b, nil
	case Execution:
		b := make([]byte, RecordSize)
		x.PutRecord(b)
		return b, nil
	case *Message:
		return x.MarshalBinary()
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func (BinarySerializer) Unmarshal(data []byte, v any) error {
	switch x := v.(type) {
	case *Execution:
		if len(data) < RecordSize {
			return ErrShortBuffer
		}
		*x = DecodeRecord(data)
		return nil
	case *Message:
		m, _, err := Decode(data)
		if err != nil {
			return err
		}
		*x = m
		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}
