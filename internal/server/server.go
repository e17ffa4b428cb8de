package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raventid/go-pupa-server/internal/logging"
	"github.com/raventid/go-pupa-server/internal/metrics"
	"github.com/raventid/go-pupa-server/internal/registry"
	"github.com/raventid/go-pupa-server/internal/store"
	"github.com/raventid/go-pupa-server/internal/transport"
	"github.com/raventid/go-pupa-server/internal/winlog"
)

// Server owns the game TCP listener and coordinates session lifecycle.
type Server struct {
	mu       sync.RWMutex
	addr     string
	Registry *registry.Registry
	Store    *store.Store
	WinLog   *winlog.Log
	Codec    transport.FrameEncoder
	Decoders transport.DecoderFactory

	readDeadline time.Duration
	maxClients   int
	readyOnce    sync.Once
	readyCh      chan struct{}
	lastErrMu    sync.Mutex
	lastErr      error
	errCh        chan error
	listener     net.Listener
	connsMu      sync.Mutex
	conns        map[uint64]net.Conn
	wg           sync.WaitGroup
	logger       *slog.Logger
	nextConnID   uint64

	totalAccepted     atomic.Uint64
	totalAuthFail     atomic.Uint64
	totalConnected    atomic.Uint64
	totalDisconnected atomic.Uint64
	totalWins         atomic.Uint64
}

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		readyCh: make(chan struct{}),
		errCh:   make(chan error, 1),
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
	if s.Store == nil {
		s.Store = store.New(0)
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

func WithListenAddr(a string) ServerOption                 { return func(s *Server) { s.addr = a } }
func WithRegistry(r *registry.Registry) ServerOption       { return func(s *Server) { s.Registry = r } }
func WithStore(st *store.Store) ServerOption               { return func(s *Server) { s.Store = st } }
func WithWinLog(l *winlog.Log) ServerOption                { return func(s *Server) { s.WinLog = l } }
func WithCodec(c transport.FrameEncoder) ServerOption      { return func(s *Server) { s.Codec = c } }
func WithDecoders(f transport.DecoderFactory) ServerOption { return func(s *Server) { s.Decoders = f } }

// WithReadDeadline arms a per-connection inactivity deadline; zero leaves
// sockets without timeouts.
func WithReadDeadline(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.readDeadline = d
		}
	}
}

func WithMaxClients(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.maxClients = n
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) SetListenAddr(a string) { s.setAddr(a) }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}
func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Serve accepts game clients and spawns a session goroutine per connection.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	addr := s.addr
	if addr == "" {
		addr = ":0"
	}
	s.mu.Unlock()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("game_listen", "addr", s.Addr())
	go func() {
		<-ctx.Done()
		_ = ln.Close()
		s.closeAllConns()
	}()
	for {
		if err := s.acceptOnce(ctx, ln); err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// acceptOnce accepts a single connection and spawns its session.
// Returns nil on success; a wrapped error on fatal listener errors.
func (s *Server) acceptOnce(ctx context.Context, ln net.Listener) error {
	conn, err := ln.Accept()
	if err != nil {
		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}
		if _, ok := err.(net.Error); ok { // transient
			time.Sleep(200 * time.Millisecond)
			return nil
		}
		wrap := fmt.Errorf("%w: %v", ErrAccept, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.totalAccepted.Add(1)
	connID := atomic.AddUint64(&s.nextConnID, 1)
	connLogger := s.logger.With("conn_id", connID, "remote", conn.RemoteAddr().String())
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(30 * time.Second)
	}
	if s.maxClients > 0 && s.Registry.OnlineCount() >= s.maxClients {
		metrics.IncReject()
		connLogger.Warn("client_reject_max", "max_clients", s.maxClients)
		_ = conn.Close()
		return nil
	}
	s.trackConn(connID, conn)
	sess := &session{srv: s, conn: conn, connID: connID, logger: connLogger}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrackConn(connID)
		sess.run(ctx)
	}()
	return nil
}

func (s *Server) trackConn(id uint64, c net.Conn) {
	s.connsMu.Lock()
	s.conns[id] = c
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(id uint64) {
	s.connsMu.Lock()
	delete(s.conns, id)
	s.connsMu.Unlock()
}

func (s *Server) closeAllConns() {
	s.connsMu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.connsMu.Unlock()
}

// Shutdown gracefully closes all resources.
func (s *Server) Shutdown(ctx context.Context) error {
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
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"auth_fail", s.totalAuthFail.Load(),
			"connected", s.totalConnected.Load(),
			"disconnected", s.totalDisconnected.Load(),
			"wins", s.totalWins.Load())
		return nil
	}
}
