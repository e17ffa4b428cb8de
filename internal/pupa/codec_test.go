package pupa

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/google/uuid"
)

func mkBody(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

func allVariants() []Frame {
	return []Frame{
		Authorize(uuid.New()),
		{Tag: TagNonAuthorized},
		Content(uuid.New(), mkBody(42)),
		Content(uuid.New(), nil),
		Flash(uuid.New()),
		Win(uuid.New(), mkBody(100)),
		{Tag: TagShowWinners},
		{Tag: TagWinnerRecord, Identity: uuid.New(), Online: true, Wins: 7, MessagesReceived: 19, MessagesSent: 23},
		{Tag: TagShowWinnersLog},
		{Tag: TagWinLogRecord, Identity: uuid.New(), Timestamp: 1700000000, MsgID: uuid.New()},
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	c := Codec{}
	for _, in := range allVariants() {
		wire := c.Encode(in)
		if len(wire) != c.EncodedLen(in) {
			t.Fatalf("%s: encoded %d bytes, EncodedLen says %d", in.Tag, len(wire), c.EncodedLen(in))
		}
		d := NewDecoder()
		d.Feed(wire)
		out, err := d.Next()
		if err != nil {
			t.Fatalf("%s: decode: %v", in.Tag, err)
		}
		if !in.Equal(out) {
			t.Fatalf("%s: round trip mismatch\nin=%+v\nout=%+v", in.Tag, in, out)
		}
		if d.Buffered() != 0 {
			t.Fatalf("%s: %d trailing bytes after decode", in.Tag, d.Buffered())
		}
	}
}

func TestCodec_EncodeToMatchesEncode(t *testing.T) {
	c := Codec{}
	for _, f := range allVariants() {
		a := c.Encode(f)
		var buf bytes.Buffer
		n, err := c.EncodeTo(&buf, f)
		if err != nil {
			t.Fatalf("EncodeTo error: %v", err)
		}
		if n != len(a) || !bytes.Equal(a, buf.Bytes()) {
			t.Fatalf("%s: Encode vs EncodeTo mismatch\nenc=% X\nencTo=% X", f.Tag, a, buf.Bytes())
		}
	}
}

func TestDecoder_Pipelined(t *testing.T) {
	c := Codec{}
	f1 := Content(uuid.New(), []byte{1, 2, 3, 4, 5})
	f2 := Content(uuid.New(), []byte{1, 2, 3, 4, 5, 6, 7, 8})
	d := NewDecoder()
	d.Feed(c.Encode(f1))
	d.Feed(c.Encode(f2))

	out1, err := d.Next()
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	out2, err := d.Next()
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if !f1.Equal(out1) || !f2.Equal(out2) {
		t.Fatalf("pipelined decode mismatch")
	}
	if d.Buffered() != 0 {
		t.Fatalf("expected empty buffer, have %d bytes", d.Buffered())
	}
}

// Every split point of an encoded frame must yield ErrIncomplete on the first
// half and the full frame after the second feed.
func TestDecoder_Fragmentation(t *testing.T) {
	c := Codec{}
	f := Win(uuid.New(), mkBody(64))
	wire := c.Encode(f)
	for k := 0; k < len(wire); k++ {
		d := NewDecoder()
		d.Feed(wire[:k])
		if k > 0 {
			if _, err := d.Next(); !errors.Is(err, ErrIncomplete) {
				t.Fatalf("split %d: want ErrIncomplete, got %v", k, err)
			}
		}
		d.Feed(wire[k:])
		out, err := d.Next()
		if err != nil {
			t.Fatalf("split %d: decode after second feed: %v", k, err)
		}
		if !f.Equal(out) {
			t.Fatalf("split %d: frame mismatch", k)
		}
	}
}

func TestDecoder_DesyncDropsBuffer(t *testing.T) {
	d := NewDecoder()
	// An unknown discriminant never parses; the first attempt waits, the
	// second drops the buffer.
	d.Feed([]byte{0xFF, 0xFF, 0xFF, 0xFF, 1, 2, 3})
	if _, err := d.Next(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("first attempt: want ErrIncomplete, got %v", err)
	}
	if _, err := d.Next(); !errors.Is(err, ErrDesync) {
		t.Fatalf("second attempt: want ErrDesync, got %v", err)
	}
	if d.Buffered() != 0 {
		t.Fatalf("buffer not dropped after desync")
	}

	// The decoder recovers: a clean frame decodes normally afterwards.
	c := Codec{}
	f := Flash(uuid.New())
	d.Feed(c.Encode(f))
	out, err := d.Next()
	if err != nil {
		t.Fatalf("decode after desync: %v", err)
	}
	if !f.Equal(out) {
		t.Fatalf("frame mismatch after desync recovery")
	}
}

func TestDecoder_SuccessClearsWaited(t *testing.T) {
	c := Codec{}
	f := Content(uuid.New(), mkBody(30))
	wire := c.Encode(f)
	d := NewDecoder()
	d.Feed(wire[:5])
	if _, err := d.Next(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("want ErrIncomplete, got %v", err)
	}
	d.Feed(wire[5:])
	if _, err := d.Next(); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// waited was reset by the success; a fresh partial frame gets a full
	// wait cycle again rather than an immediate desync.
	d.Feed(wire[:5])
	if _, err := d.Next(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("want ErrIncomplete after reset, got %v", err)
	}
}

func TestDecoder_EmptyBuffer(t *testing.T) {
	d := NewDecoder()
	if _, err := d.Next(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("want ErrIncomplete on empty buffer, got %v", err)
	}
	// Empty-buffer calls must not burn the wait bit.
	if _, err := d.Next(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("want ErrIncomplete again, got %v", err)
	}
}

func TestDecoder_RejectsAbsurdBodyLength(t *testing.T) {
	d := NewDecoder()
	wire := Codec{}.Encode(Content(uuid.New(), []byte{1}))
	// Corrupt the length prefix to a value past maxBodyLen.
	wire[20] = 0xFF
	wire[21] = 0xFF
	wire[22] = 0xFF
	wire[23] = 0xFF
	d.Feed(wire)
	if _, err := d.Next(); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("first attempt: want ErrIncomplete, got %v", err)
	}
	if _, err := d.Next(); !errors.Is(err, ErrDesync) {
		t.Fatalf("second attempt: want ErrDesync, got %v", err)
	}
}
