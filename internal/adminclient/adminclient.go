// Package adminclient is the shared plumbing of the read-only admin CLIs:
// connect, send one query frame, stream records until the reply goes idle.
package adminclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/raventid/go-pupa-server/internal/pupa"
)

// idleTimeout ends the record stream: the protocol has no terminator frame,
// so a quiet socket after the burst of records means the reply is complete.
const idleTimeout = 2 * time.Second

// Run connects to 127.0.0.1:$API_SERVER_PORT, sends the query frame for tag,
// and invokes onRecord for every frame of the reply.
func Run(query pupa.Tag, onRecord func(pupa.Frame)) error {
	port := os.Getenv("API_SERVER_PORT")
	if port == "" {
		return errors.New("API_SERVER_PORT environment variable not set")
	}
	addr := net.JoinHostPort("127.0.0.1", port)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := (pupa.Codec{}).EncodeTo(conn, pupa.Frame{Tag: query}); err != nil {
		return fmt.Errorf("send query: %w", err)
	}

	dec := pupa.NewDecoder()
	for {
		for {
			fr, err := dec.Next()
			if err == nil {
				onRecord(fr)
				continue
			}
			if errors.Is(err, pupa.ErrIncomplete) {
				break
			}
			return fmt.Errorf("decode reply: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(idleTimeout))
		if _, err := dec.ReadFrom(conn); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return nil // reply stream went idle
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read reply: %w", err)
		}
	}
}
