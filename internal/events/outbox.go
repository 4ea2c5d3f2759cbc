package events

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cockroachdb/pebble"
)

// State is the delivery state of an outbox record.
type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	default:
		return "UNKNOWN"
	}
}

// Record is one encoded event waiting for delivery.
type Record struct {
	Seq     uint64
	State   State
	Key     string // partition key, the event symbol
	Payload []byte
}

// binary encoding: [state:1][keyLen:2][key][payload]
func encodeRecord(r Record) []byte {
	buf := make([]byte, 3+len(r.Key)+len(r.Payload))
	buf[0] = byte(r.State)
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(r.Key)))
	copy(buf[3:], r.Key)
	copy(buf[3+len(r.Key):], r.Payload)
	return buf
}

func decodeRecord(seq uint64, b []byte) (Record, error) {
	if len(b) < 3 {
		return Record{}, errors.New("invalid outbox record length")
	}
	keyLen := int(binary.BigEndian.Uint16(b[1:3]))
	if len(b) < 3+keyLen {
		return Record{}, errors.New("invalid outbox record key length")
	}
	payload := make([]byte, len(b)-3-keyLen)
	copy(payload, b[3+keyLen:])
	return Record{
		Seq:     seq,
		State:   State(b[0]),
		Key:     string(b[3 : 3+keyLen]),
		Payload: payload,
	}, nil
}

const outboxPrefix = "outbox/"

// Outbox is a durable queue of encoded events in pebble. Records move
// NEW → SENT → ACKED; acked records are removed by Purge.
type Outbox struct {
	db *pebble.DB

	mu  sync.Mutex
	seq uint64
}

// NewOutbox opens the outbox stored in db and resumes its sequence.
func NewOutbox(db *pebble.DB) (*Outbox, error) {
	o := &Outbox{db: db}
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(outboxPrefix),
		UpperBound: []byte("outbox0"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	if iter.Last() {
		seq, err := parseOutboxKey(iter.Key())
		if err != nil {
			return nil, err
		}
		o.seq = seq
	}
	return o, iter.Error()
}

// Append encodes e and stores it as a NEW record.
func (o *Outbox) Append(e Event) (uint64, error) {
	payload, err := Encode(e)
	if err != nil {
		return 0, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	rec := Record{Seq: o.seq, State: StateNew, Key: e.Symbol, Payload: payload}
	if err := o.db.Set(outboxKey(rec.Seq), encodeRecord(rec), pebble.Sync); err != nil {
		return 0, fmt.Errorf("outbox append: %w", err)
	}
	return rec.Seq, nil
}

// Mark updates the state of a record.
func (o *Outbox) Mark(rec Record, state State) error {
	rec.State = state
	return o.db.Set(outboxKey(rec.Seq), encodeRecord(rec), pebble.Sync)
}

// ScanPending calls fn for every record not yet acked, in sequence order.
// Records left SENT by a crash are delivered again.
func (o *Outbox) ScanPending(fn func(rec Record) error) error {
	return o.scan(func(rec Record) error {
		if rec.State == StateAcked {
			return nil
		}
		return fn(rec)
	})
}

// Purge deletes acked records.
func (o *Outbox) Purge() (int, error) {
	b := o.db.NewBatch()
	defer b.Close()

	n := 0
	err := o.scan(func(rec Record) error {
		if rec.State != StateAcked {
			return nil
		}
		n++
		return b.Delete(outboxKey(rec.Seq), nil)
	})
	if err != nil || n == 0 {
		return 0, err
	}
	return n, b.Commit(pebble.Sync)
}

func (o *Outbox) scan(fn func(rec Record) error) error {
	iter, err := o.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(outboxPrefix),
		UpperBound: []byte("outbox0"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseOutboxKey(iter.Key())
		if err != nil {
			return err
		}
		rec, err := decodeRecord(seq, iter.Value())
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return iter.Error()
}

func outboxKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", outboxPrefix, seq))
}

func parseOutboxKey(b []byte) (uint64, error) {
	return strconv.ParseUint(string(b[len(outboxPrefix):]), 10, 64)
}
