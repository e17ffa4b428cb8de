package pupa

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func BenchmarkCodec_Encode(b *testing.B) {
	c := Codec{}
	f := Content(uuid.New(), mkBody(100))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = c.Encode(f)
	}
}

func BenchmarkCodec_EncodeTo(b *testing.B) {
	c := Codec{}
	f := Content(uuid.New(), mkBody(100))
	var buf bytes.Buffer
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf.Reset()
		_, _ = c.EncodeTo(&buf, f)
	}
}

func BenchmarkDecoder_Next(b *testing.B) {
	c := Codec{}
	wire := c.Encode(Content(uuid.New(), mkBody(100)))
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		d := NewDecoder()
		d.Feed(wire)
		if _, err := d.Next(); err != nil {
			b.Fatal(err)
		}
	}
}
