package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raventid/go-pupa-server/internal/logging"
	"github.com/raventid/go-pupa-server/internal/metrics"
	"github.com/raventid/go-pupa-server/internal/pupa"
	"github.com/raventid/go-pupa-server/internal/registry"
	"github.com/raventid/go-pupa-server/internal/transport"
	"github.com/raventid/go-pupa-server/internal/winlog"
)

// AdminServer serves the read-only query port. Sessions are stateless per
// frame and require no authorization.
type AdminServer struct {
	mu       sync.RWMutex
	addr     string
	Registry *registry.Registry
	WinLog   *winlog.Log
	Codec    transport.FrameEncoder
	Decoders transport.DecoderFactory

	readyOnce  sync.Once
	readyCh    chan struct{}
	listener   net.Listener
	connsMu    sync.Mutex
	conns      map[uint64]net.Conn
	wg         sync.WaitGroup
	logger     *slog.Logger
	nextConnID uint64
}

type AdminOption func(*AdminServer)

func NewAdminServer(opts ...AdminOption) *AdminServer {
	s := &AdminServer{
		readyCh: make(chan struct{}),
		conns:   make(map[uint64]net.Conn),
		logger:  logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	if s.Registry == nil {
		s.Registry = registry.New()
	}
	if s.WinLog == nil {
		s.WinLog = winlog.New(0)
	}
	if s.Codec == nil {
		s.Codec = transport.DefaultCodec
	}
	if s.Decoders == nil {
		s.Decoders = transport.DefaultDecoderFactory
	}
	return s
}

func WithAdminListenAddr(a string) AdminOption { return func(s *AdminServer) { s.addr = a } }
func WithAdminRegistry(r *registry.Registry) AdminOption {
	return func(s *AdminServer) { s.Registry = r }
}
func WithAdminWinLog(l *winlog.Log) AdminOption { return func(s *AdminServer) { s.WinLog = l } }
func WithAdminLogger(l *slog.Logger) AdminOption {
	return func(s *AdminServer) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *AdminServer) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *AdminServer) SetListenAddr(a string) { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *AdminServer) Ready() <-chan struct{} { return s.readyCh }

// Serve accepts admin clients and answers queries until ctx is cancelled.
func (s *AdminServer) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	s.mu.Unlock()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		return wrap
	}
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("admin_listen", "addr", s.Addr())
	go func() {
		<-ctx.Done()
		_ = ln.Close()
		s.closeAllConns()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if _, ok := err.(net.Error); ok { // transient
				time.Sleep(200 * time.Millisecond)
				continue
			}
			wrap := fmt.Errorf("%w: %v", ErrAccept, err)
			metrics.IncError(mapErrToMetric(wrap))
			return wrap
		}
		connID := atomic.AddUint64(&s.nextConnID, 1)
		connLogger := s.logger.With("admin_conn_id", connID, "remote", conn.RemoteAddr().String())
		s.connsMu.Lock()
		s.conns[connID] = conn
		s.connsMu.Unlock()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				_ = conn.Close()
				s.connsMu.Lock()
				delete(s.conns, connID)
				s.connsMu.Unlock()
			}()
			s.serveConn(conn, connLogger)
		}()
	}
}

func (s *AdminServer) closeAllConns() {
	s.connsMu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.connsMu.Unlock()
}

// Shutdown closes the listener and open sessions, then waits for drain.
func (s *AdminServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	s.closeAllConns()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		return nil
	}
}

// serveConn answers queries on one admin connection until EOF.
func (s *AdminServer) serveConn(conn net.Conn, logger *slog.Logger) {
	logger.Info("admin_connected")
	defer logger.Info("admin_disconnected")
	dec := s.Decoders()
	for {
		for {
			fr, err := dec.Next()
			if err == nil {
				s.handleQuery(conn, fr, logger)
				continue
			}
			if errors.Is(err, pupa.ErrIncomplete) {
				break
			}
			metrics.IncMalformed()
			logger.Error("admin_decode_error", "error", err)
		}
		n, err := dec.ReadFrom(conn)
		if n > 0 {
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				wrap := fmt.Errorf("%w: %v", ErrAdminRead, err)
				metrics.IncError(mapErrToMetric(wrap))
				logger.Error("admin_read_error", "error", err)
			}
			return
		}
	}
}

func (s *AdminServer) handleQuery(conn net.Conn, fr pupa.Frame, logger *slog.Logger) {
	switch fr.Tag {
	case pupa.TagShowWinners:
		metrics.IncAdminQuery()
		peers := s.Registry.SnapshotSorted()
		logger.Info("show_winners", "peers", len(peers))
		sent := 0
		for _, p := range peers {
			rec := pupa.Frame{
				Tag:              pupa.TagWinnerRecord,
				Identity:         p.Identity,
				Online:           p.Online,
				Wins:             p.Wins,
				MessagesReceived: p.MessagesReceived,
				MessagesSent:     p.MessagesSent,
			}
			if !s.writeRecord(conn, rec, logger) {
				return
			}
			sent++
		}
		metrics.AddAdminTx(sent)
	case pupa.TagShowWinnersLog:
		metrics.IncAdminQuery()
		records := s.WinLog.Snapshot()
		logger.Info("show_winners_log", "records", len(records))
		sent := 0
		for _, r := range records {
			rec := pupa.Frame{
				Tag:       pupa.TagWinLogRecord,
				Identity:  r.Flasher,
				Timestamp: r.Timestamp,
				MsgID:     r.MsgID,
			}
			if !s.writeRecord(conn, rec, logger) {
				return
			}
			sent++
		}
		metrics.AddAdminTx(sent)
	default:
		logger.Debug("admin_frame_ignored", "tag", fr.Tag.String())
	}
}

func (s *AdminServer) writeRecord(conn net.Conn, fr pupa.Frame, logger *slog.Logger) bool {
	if _, err := s.Codec.EncodeTo(conn, fr); err != nil {
		wrap := fmt.Errorf("%w: %v", ErrAdminWrite, err)
		metrics.IncError(mapErrToMetric(wrap))
		logger.Error("admin_write_error", "error", err)
		return false
	}
	return true
}
