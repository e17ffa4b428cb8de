// Command pupa-client is a load-generating game client: it authorizes,
// emits a random Content every 5 seconds, and answers every received
// Content with a Flash after a randomized delay.
package main

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/raventid/go-pupa-server/internal/logging"
	"github.com/raventid/go-pupa-server/internal/pupa"
)

const (
	contentInterval = 5 * time.Second
	minBodySize     = 30
	maxBodySize     = 100
	flashDelayMin   = 1000 * time.Millisecond
	flashDelayMax   = 1500 * time.Millisecond
)

const alphanumeric = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

func main() {
	l := logging.L().With("app", "pupa-client")

	port := os.Getenv("GAME_SERVER_PORT")
	if port == "" {
		l.Error("GAME_SERVER_PORT environment variable not set")
		os.Exit(2)
	}
	addr := net.JoinHostPort("127.0.0.1", port)

	// Reusing a persisted SIGNATURE keeps the lifetime counters across
	// reconnects; a fresh identity is minted otherwise.
	signature := uuid.New()
	if s := os.Getenv("SIGNATURE"); s != "" {
		var err error
		if signature, err = uuid.Parse(s); err != nil {
			l.Error("invalid SIGNATURE", "error", err)
			os.Exit(2)
		}
	}
	l.Info("connecting", "addr", addr, "signature", signature)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		l.Error("dial failed", "error", err)
		os.Exit(1)
	}
	defer conn.Close()
	l.Info("connected", "addr", addr)

	codec := pupa.Codec{}
	if _, err := codec.EncodeTo(conn, pupa.Authorize(signature)); err != nil {
		l.Error("authorize failed", "error", err)
		os.Exit(1)
	}

	// The reader pushes msg-ids to flash; the main loop owns all writes.
	flashCh := make(chan uuid.UUID, 16)
	readErr := make(chan error, 1)
	go func() {
		dec := pupa.NewDecoder()
		for {
			for {
				fr, err := dec.Next()
				if err == nil {
					switch fr.Tag {
					case pupa.TagContent:
						id := fr.MsgID
						delay := flashDelayMin + rand.N(flashDelayMax-flashDelayMin)
						time.AfterFunc(delay, func() {
							select {
							case flashCh <- id:
							default: // overloaded; skip the bid
							}
						})
					case pupa.TagWin:
						fmt.Printf("We are the winner for message %s\n", fr.MsgID)
					default:
						// The server only ever sends Content and Win.
					}
					continue
				}
				if errors.Is(err, pupa.ErrIncomplete) {
					break
				}
				l.Warn("decode_error", "error", err)
			}
			if _, err := dec.ReadFrom(conn); err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
					readErr <- err
				} else {
					readErr <- nil
				}
				return
			}
		}
	}()

	ticker := time.NewTicker(contentInterval)
	defer ticker.Stop()
	for {
		select {
		case msgID := <-flashCh:
			l.Info("sending_flash", "msg_id", msgID)
			if _, err := codec.EncodeTo(conn, pupa.Flash(msgID)); err != nil {
				l.Error("flash write failed", "error", err)
				os.Exit(1)
			}
		case <-ticker.C:
			msgID := uuid.New()
			l.Info("sending_content", "msg_id", msgID)
			if _, err := codec.EncodeTo(conn, pupa.Content(msgID, randomBody())); err != nil {
				l.Error("content write failed", "error", err)
				os.Exit(1)
			}
		case err := <-readErr:
			if err != nil {
				l.Error("read failed", "error", err)
				os.Exit(1)
			}
			l.Info("server closed the connection")
			return
		}
	}
}

// randomBody produces 30..100 alphanumeric bytes.
func randomBody() []byte {
	size := minBodySize + rand.N(maxBodySize-minBodySize+1)
	b := make([]byte, size)
	for i := range b {
		b[i] = alphanumeric[rand.N(len(alphanumeric))]
	}
	return b
}
