// Package reconcile keeps executions that were logged in a compromised state
// (for example with a sentinel execution ID) so they can be repaired offline.
package reconcile

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/0x5487/matching-core/protocol"
	"github.com/cockroachdb/pebble"
)

var keyPrefix = []byte("anomaly/")

var ErrInvalidRecord = errors.New("reconcile: invalid anomaly record")

// Anomaly is one recorded execution and why it needs attention.
type Anomaly struct {
	Seq       uint64
	Reason    string
	Execution protocol.Execution
	At        time.Time
}

// Store is a pebble-backed append-only list of anomalies. Safe for
// concurrent use.
type Store struct {
	db  *pebble.DB
	seq atomic.Uint64
}

// Open opens or creates the store in dir.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	last, err := s.lastSeq()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.seq.Store(last)
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record durably stores e with reason.
func (s *Store) Record(reason string, e *protocol.Execution) error {
	a := Anomaly{
		Seq:       s.seq.Add(1),
		Reason:    reason,
		Execution: *e,
		At:        time.Now().UTC(),
	}
	return s.db.Set(keyFor(a.Seq), encode(&a), pebble.Sync)
}

// Scan calls fn for every anomaly in recording order.
func (s *Store) Scan(fn func(Anomaly) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: []byte("anomaly/~"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		a, err := decode(iter.Value())
		if err != nil {
			return err
		}
		a.Seq = binary.BigEndian.Uint64(bytes.TrimPrefix(iter.Key(), keyPrefix))
		if err := fn(a); err != nil {
			return err
		}
	}
	return iter.Error()
}

// Delete removes a repaired anomaly.
func (s *Store) Delete(seq uint64) error {
	return s.db.Delete(keyFor(seq), pebble.Sync)
}

func (s *Store) lastSeq() (uint64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: []byte("anomaly/~"),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return binary.BigEndian.Uint64(bytes.TrimPrefix(iter.Key(), keyPrefix)), nil
}

// keys sort by sequence: prefix + big-endian u64
func keyFor(seq uint64) []byte {
	key := make([]byte, len(keyPrefix)+8)
	copy(key, keyPrefix)
	binary.BigEndian.PutUint64(key[len(keyPrefix):], seq)
	return key
}

// binary encoding: [record:40][at:8][reason...]
func encode(a *Anomaly) []byte {
	buf := make([]byte, protocol.RecordSize+8+len(a.Reason))
	a.Execution.PutRecord(buf)
	binary.BigEndian.PutUint64(buf[protocol.RecordSize:], uint64(a.At.UnixNano()))
	copy(buf[protocol.RecordSize+8:], a.Reason)
	return buf
}

func decode(b []byte) (Anomaly, error) {
	if len(b) < protocol.RecordSize+8 {
		return Anomaly{}, fmt.Errorf("%w: length %d", ErrInvalidRecord, len(b))
	}
	return Anomaly{
		Execution: protocol.DecodeRecord(b),
		At:        time.Unix(0, int64(binary.BigEndian.Uint64(b[protocol.RecordSize:]))).UTC(),
		Reason:    string(b[protocol.RecordSize+8:]),
	}, nil
}
