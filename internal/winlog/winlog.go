// Package winlog keeps the bounded history of won messages for the admin API.
package winlog

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity bounds the log; the oldest record is evicted on overflow.
const DefaultCapacity = 100

// Record is one win: who flashed first, when, and which message.
type Record struct {
	Flasher   uuid.UUID
	Timestamp uint64 // unix seconds
	MsgID     uuid.UUID
}

// Log is a bounded FIFO of win records. Safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	cap     int
	records []Record
	now     func() time.Time
}

// New creates a Log with the given capacity; capacity <= 0 selects
// DefaultCapacity.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{cap: capacity, now: time.Now}
}

// Append stamps the current unix-seconds time and pushes a record at the
// tail, evicting the oldest when at capacity.
func (l *Log) Append(flasher, msgID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) >= l.cap {
		copy(l.records, l.records[1:])
		l.records = l.records[:len(l.records)-1]
	}
	l.records = append(l.records, Record{
		Flasher:   flasher,
		Timestamp: uint64(l.now().Unix()),
		MsgID:     msgID,
	})
}

// Snapshot returns a copy of the current records in insertion order.
func (l *Log) Snapshot() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}

// Len reports the number of records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}
