package pupa

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Wire layout: a 32-bit LE discriminant followed by the variant's fields in
// declaration order. UUIDs are raw 16 bytes, fixed integers are LE, booleans
// are one byte, byte bodies carry a 64-bit LE length prefix, timestamps are
// 128-bit LE. There is no outer frame length; the decoder resynchronizes via
// the waited-bit heuristic below.

const (
	tagLen  = 4
	uuidLen = 16
	u128Len = 16

	// maxBodyLen bounds the body length a decoder will accept. Conforming
	// clients send 30..100 bytes; anything past this is a desynced stream,
	// not a frame.
	maxBodyLen = 1 << 20
)

// ErrInvalidBody marks a length prefix that exceeds maxBodyLen. Decoder.Next
// counts it as a failed decode attempt like any other, so callers of Next
// see ErrIncomplete or ErrDesync rather than this error.
var ErrInvalidBody = errors.New("pupa: invalid body length")

// ErrIncomplete signals the buffer holds no complete frame yet; feed more
// bytes and retry.
var ErrIncomplete = errors.New("pupa: incomplete frame")

// ErrDesync is returned after two consecutive failed decode attempts; the
// decoder has discarded its buffer and is ready for a fresh stream position.
var ErrDesync = errors.New("pupa: stream desynchronized, buffer dropped")

// Codec encodes pupa frames. Stateless and safe for concurrent use.
type Codec struct{}

// EncodedLen reports the exact wire size of f.
func (Codec) EncodedLen(f Frame) int {
	n := tagLen
	switch f.Tag {
	case TagAuthorize:
		n += uuidLen
	case TagContent, TagWin:
		n += uuidLen + 8 + len(f.Body)
	case TagFlash:
		n += uuidLen
	case TagWinnerRecord:
		n += uuidLen + 1 + 4 + 4 + 4
	case TagWinLogRecord:
		n += uuidLen + u128Len + uuidLen
	}
	return n
}

// Encode returns the wire representation of f.
func (c Codec) Encode(f Frame) []byte {
	var buf bytes.Buffer
	buf.Grow(c.EncodedLen(f))
	_, _ = c.EncodeTo(&buf, f)
	return buf.Bytes()
}

// EncodeTo writes the wire representation of f to w and returns bytes written.
func (c Codec) EncodeTo(w io.Writer, f Frame) (int, error) {
	scratch := make([]byte, 0, c.EncodedLen(f))
	scratch = binary.LittleEndian.AppendUint32(scratch, uint32(f.Tag))
	switch f.Tag {
	case TagAuthorize:
		scratch = append(scratch, f.Identity[:]...)
	case TagContent, TagWin:
		scratch = append(scratch, f.MsgID[:]...)
		scratch = binary.LittleEndian.AppendUint64(scratch, uint64(len(f.Body)))
		scratch = append(scratch, f.Body...)
	case TagFlash:
		scratch = append(scratch, f.MsgID[:]...)
	case TagWinnerRecord:
		scratch = append(scratch, f.Identity[:]...)
		if f.Online {
			scratch = append(scratch, 1)
		} else {
			scratch = append(scratch, 0)
		}
		scratch = binary.LittleEndian.AppendUint32(scratch, f.Wins)
		scratch = binary.LittleEndian.AppendUint32(scratch, f.MessagesReceived)
		scratch = binary.LittleEndian.AppendUint32(scratch, f.MessagesSent)
	case TagWinLogRecord:
		scratch = append(scratch, f.Identity[:]...)
		scratch = binary.LittleEndian.AppendUint64(scratch, f.Timestamp)
		scratch = append(scratch, make([]byte, 8)...) // high half of the u128
		scratch = append(scratch, f.MsgID[:]...)
	}
	n, err := w.Write(scratch)
	if err != nil {
		return n, fmt.Errorf("pupa encode %s: %w", f.Tag, err)
	}
	return n, nil
}

// Decoder incrementally decodes one direction of a pupa byte stream. Bytes
// arrive via Feed; Next pops frames off the head of the buffer.
//
// The encoding carries no outer length, so a decode attempt cannot tell a
// truncated frame from a corrupt one. The decoder keeps a one-bit waited
// flag: the first failed attempt since the last success returns ErrIncomplete
// (the caller reads more bytes and retries); a second consecutive failure
// drops the buffered bytes and returns ErrDesync. Not safe for concurrent
// use; each stream direction owns its Decoder.
type Decoder struct {
	buf    []byte
	waited bool
}

func NewDecoder() *Decoder { return &Decoder{} }

// Feed appends stream bytes to the decode buffer.
func (d *Decoder) Feed(p []byte) { d.buf = append(d.buf, p...) }

// Buffered reports the bytes currently held.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Next decodes one frame from the head of the buffer. It returns
// ErrIncomplete when more bytes are needed, ErrDesync after the buffer is
// dropped, and leaves trailing bytes intact for the next call.
func (d *Decoder) Next() (Frame, error) {
	if len(d.buf) == 0 {
		return Frame{}, ErrIncomplete
	}
	f, n, err := parseFrame(d.buf)
	if err != nil {
		if d.waited {
			d.waited = false
			d.buf = d.buf[:0]
			return Frame{}, ErrDesync
		}
		d.waited = true
		return Frame{}, ErrIncomplete
	}
	d.buf = d.buf[n:]
	d.waited = false
	return f, nil
}

// ReadFrom reads a chunk from r into the buffer. The returned count is the
// number of bytes consumed from r; decode errors never originate here.
func (d *Decoder) ReadFrom(r io.Reader) (int, error) {
	var chunk [4096]byte
	n, err := r.Read(chunk[:])
	if n > 0 {
		d.Feed(chunk[:n])
	}
	return n, err
}

var errTruncated = errors.New("pupa: truncated frame")

// parseFrame deserializes one frame from the head of b, returning the frame
// and the bytes consumed. Short buffers and malformed heads are both decode
// failures; Next folds them into the waited heuristic.
func parseFrame(b []byte) (Frame, int, error) {
	if len(b) < tagLen {
		return Frame{}, 0, errTruncated
	}
	var f Frame
	f.Tag = Tag(binary.LittleEndian.Uint32(b))
	off := tagLen
	takeUUID := func(dst *uuid.UUID) bool {
		if len(b) < off+uuidLen {
			return false
		}
		copy(dst[:], b[off:off+uuidLen])
		off += uuidLen
		return true
	}
	switch f.Tag {
	case TagAuthorize:
		if !takeUUID(&f.Identity) {
			return Frame{}, 0, errTruncated
		}
	case TagNonAuthorized, TagShowWinners, TagShowWinnersLog:
		// field-free
	case TagContent, TagWin:
		if !takeUUID(&f.MsgID) {
			return Frame{}, 0, errTruncated
		}
		if len(b) < off+8 {
			return Frame{}, 0, errTruncated
		}
		ln := binary.LittleEndian.Uint64(b[off:])
		off += 8
		if ln > maxBodyLen {
			return Frame{}, 0, ErrInvalidBody
		}
		if uint64(len(b)-off) < ln {
			return Frame{}, 0, errTruncated
		}
		f.Body = append([]byte(nil), b[off:off+int(ln)]...)
		off += int(ln)
	case TagFlash:
		if !takeUUID(&f.MsgID) {
			return Frame{}, 0, errTruncated
		}
	case TagWinnerRecord:
		if !takeUUID(&f.Identity) {
			return Frame{}, 0, errTruncated
		}
		if len(b) < off+1+4+4+4 {
			return Frame{}, 0, errTruncated
		}
		f.Online = b[off] != 0
		off++
		f.Wins = binary.LittleEndian.Uint32(b[off:])
		off += 4
		f.MessagesReceived = binary.LittleEndian.Uint32(b[off:])
		off += 4
		f.MessagesSent = binary.LittleEndian.Uint32(b[off:])
		off += 4
	case TagWinLogRecord:
		if !takeUUID(&f.Identity) {
			return Frame{}, 0, errTruncated
		}
		if len(b) < off+u128Len {
			return Frame{}, 0, errTruncated
		}
		f.Timestamp = binary.LittleEndian.Uint64(b[off:])
		off += u128Len
		if !takeUUID(&f.MsgID) {
			return Frame{}, 0, errTruncated
		}
	default:
		return Frame{}, 0, fmt.Errorf("pupa: unknown tag %d", uint32(f.Tag))
	}
	return f, off, nil
}
