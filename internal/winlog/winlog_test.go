package winlog

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestLog_AppendAndSnapshot(t *testing.T) {
	l := New(0)
	flasher := uuid.New()
	msg := uuid.New()
	before := uint64(time.Now().Unix())
	l.Append(flasher, msg)
	after := uint64(time.Now().Unix())

	snap := l.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("len=%d want 1", len(snap))
	}
	r := snap[0]
	if r.Flasher != flasher || r.MsgID != msg {
		t.Fatalf("wrong record: %+v", r)
	}
	if r.Timestamp < before || r.Timestamp > after {
		t.Fatalf("timestamp %d outside [%d,%d]", r.Timestamp, before, after)
	}
}

func TestLog_BoundKeepsNewest(t *testing.T) {
	const capacity = 5
	l := New(capacity)
	msgs := make([]uuid.UUID, 0, capacity*3)
	for i := 0; i < capacity*3; i++ {
		m := uuid.New()
		msgs = append(msgs, m)
		l.Append(uuid.New(), m)
	}
	if l.Len() != capacity {
		t.Fatalf("len=%d want %d", l.Len(), capacity)
	}
	snap := l.Snapshot()
	tail := msgs[len(msgs)-capacity:]
	for i, r := range snap {
		if r.MsgID != tail[i] {
			t.Fatalf("record %d: got %s want %s", i, r.MsgID, tail[i])
		}
	}
}

func TestLog_SnapshotIsACopy(t *testing.T) {
	l := New(0)
	l.Append(uuid.New(), uuid.New())
	snap := l.Snapshot()
	snap[0].Flasher = uuid.Nil
	if l.Snapshot()[0].Flasher == uuid.Nil {
		t.Fatalf("snapshot aliases internal storage")
	}
}
