package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/raventid/go-pupa-server/internal/metrics"
	"github.com/raventid/go-pupa-server/internal/pupa"
	"github.com/raventid/go-pupa-server/internal/registry"
	"github.com/raventid/go-pupa-server/internal/transport"
)

// session drives one game connection through its state machine:
// AwaitingAuth (first frame must be Authorize), then Active (multiplex
// inbound frames and the outbound mailbox), then Closed.
type session struct {
	srv    *Server
	conn   net.Conn
	connID uint64
	logger *slog.Logger
	dec    transport.StreamDecoder
	client *registry.Client
}

func (s *session) run(ctx context.Context) {
	defer func() { _ = s.conn.Close() }()
	s.dec = s.srv.Decoders()

	identity, ok := s.awaitAuthorize()
	if !ok {
		s.srv.totalAuthFail.Add(1)
		metrics.IncAuthFailure()
		return
	}
	s.client = s.srv.Registry.Attach(identity)
	s.logger = s.logger.With("identity", identity)
	s.srv.totalConnected.Add(1)
	s.logger.Info("client_connected")
	s.startWriter(ctx)
	s.readLoop()
	s.client.Close() // wake the writer; it detaches on the way out
}

// awaitAuthorize reads until the first complete frame decodes. Only an
// Authorize admits the peer; any other variant, a desynced stream, or EOF
// closes the connection with no registry mutation.
func (s *session) awaitAuthorize() (identity uuid.UUID, ok bool) {
	for {
		fr, err := s.dec.Next()
		switch {
		case err == nil:
			if fr.Tag != pupa.TagAuthorize {
				s.logger.Warn("auth_rejected", "tag", fr.Tag.String())
				return identity, false
			}
			return fr.Identity, true
		case errors.Is(err, pupa.ErrIncomplete):
			if !s.fill() {
				return identity, false
			}
		default: // desync
			metrics.IncMalformed()
			wrap := fmt.Errorf("%w: %v", ErrAuth, err)
			metrics.IncError(mapErrToMetric(wrap))
			s.logger.Warn("auth_malformed", "error", err)
			return identity, false
		}
	}
}

// fill performs one socket read into the decoder. Returns false when the
// connection is done (EOF, closed, or a hard read error).
func (s *session) fill() bool {
	if s.srv.readDeadline > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.srv.readDeadline))
	}
	n, err := s.dec.ReadFrom(s.conn)
	if n > 0 {
		// Process what arrived; a trailing EOF surfaces on the next fill.
		return true
	}
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return false
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		s.logger.Info("client_read_timeout")
		return false
	}
	wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
	metrics.IncError(mapErrToMetric(wrap))
	s.srv.setError(wrap)
	return false
}

// readLoop is the Active state: drain decoded frames, then block for more
// bytes. A desynced buffer is logged and the session stays open; EOF or a
// socket error ends it.
func (s *session) readLoop() {
	for {
		for {
			fr, err := s.dec.Next()
			if err == nil {
				metrics.IncGameRx()
				s.handleFrame(fr)
				continue
			}
			if errors.Is(err, pupa.ErrIncomplete) {
				break
			}
			// Hard decode error: buffer dropped, connection lives on.
			metrics.IncMalformed()
			s.logger.Error("decode_error", "error", err)
		}
		if !s.fill() {
			return
		}
	}
}

func (s *session) handleFrame(fr pupa.Frame) {
	switch fr.Tag {
	case pupa.TagContent:
		s.srv.Store.Insert(fr.MsgID, s.client.Identity, fr.Body)
		metrics.SetPendingMessages(s.srv.Store.Len())
		s.logger.Debug("content", "msg_id", fr.MsgID, "body_len", len(fr.Body))
		s.srv.Registry.Broadcast(s.client.Identity, pupa.Content(fr.MsgID, fr.Body))
	case pupa.TagFlash:
		s.handleFlash(fr.MsgID)
	case pupa.TagAuthorize:
		// Repeated mid-session Authorize is ignored.
		s.logger.Debug("repeated_authorize_ignored")
	default:
		// Unknown or server-to-client variants: ignore for forward compatibility.
		s.logger.Debug("frame_ignored", "tag", fr.Tag.String())
	}
}

// handleFlash resolves the first-wins race: Extract on the pending pool is
// the linearization point. A miss is a late or duplicate flash and is
// silently dropped.
func (s *session) handleFlash(msgID uuid.UUID) {
	pending, ok := s.srv.Store.Extract(msgID)
	if !ok {
		metrics.IncLateFlash()
		s.logger.Debug("late_flash", "msg_id", msgID)
		return
	}
	s.srv.Registry.CreditWin(s.client.Identity)
	s.srv.WinLog.Append(s.client.Identity, pending.MsgID)
	s.srv.totalWins.Add(1)
	metrics.SetPendingMessages(s.srv.Store.Len())
	metrics.SetWinLogRecords(s.srv.WinLog.Len())
	s.logger.Info("win", "msg_id", pending.MsgID, "sender", pending.Sender)
	if !s.srv.Registry.Deliver(pending.Sender, pupa.Win(pending.MsgID, pending.Body)) {
		s.logger.Debug("win_undeliverable", "sender", pending.Sender)
	}
}

// startWriter launches the goroutine draining the peer's mailbox to the
// socket. It owns detach: when it exits the peer goes offline and queued
// frames are discarded with the mailbox.
func (s *session) startWriter(ctx context.Context) {
	s.srv.wg.Add(1)
	go func() {
		defer s.srv.wg.Done()
		defer func() {
			_ = s.conn.Close()
			s.srv.Registry.Detach(s.client)
			s.srv.totalDisconnected.Add(1)
			s.logger.Info("client_disconnected")
		}()
		for {
			select {
			case fr := <-s.client.Out:
				if _, err := s.srv.Codec.EncodeTo(s.conn, fr); err != nil {
					wrap := fmt.Errorf("%w: %v", ErrConnWrite, err)
					metrics.IncError(mapErrToMetric(wrap))
					s.srv.setError(wrap)
					return
				}
				metrics.IncGameTx()
			case <-s.client.Closed:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}
