package transport

import (
	"io"

	"github.com/raventid/go-pupa-server/internal/pupa"
)

// FrameEncoder serializes frames for the wire.
type FrameEncoder interface {
	Encode(pupa.Frame) []byte
	EncodeTo(w io.Writer, f pupa.Frame) (int, error)
	EncodedLen(pupa.Frame) int
}

// StreamDecoder incrementally decodes one direction of a byte stream. Each
// connection direction owns its own instance; implementations keep resync
// state across calls.
type StreamDecoder interface {
	Feed(p []byte)
	Next() (pupa.Frame, error)
	ReadFrom(r io.Reader) (int, error)
	Buffered() int
}

// DecoderFactory mints a fresh StreamDecoder per accepted connection.
type DecoderFactory func() StreamDecoder

// DefaultCodec and DefaultDecoderFactory wire the pupa codec pair.
var (
	DefaultCodec FrameEncoder = pupa.Codec{}

	DefaultDecoderFactory DecoderFactory = func() StreamDecoder { return pupa.NewDecoder() }
)

// Compile-time assertions that the pupa codec satisfies the capabilities.
var (
	_ FrameEncoder  = pupa.Codec{}
	_ StreamDecoder = (*pupa.Decoder)(nil)
)
