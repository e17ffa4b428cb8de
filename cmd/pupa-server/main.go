package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/raventid/go-pupa-server/internal/metrics"
	"github.com/raventid/go-pupa-server/internal/server"
	"github.com/raventid/go-pupa-server/internal/store"
	"github.com/raventid/go-pupa-server/internal/winlog"
)

// Populated via -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("pupa-server %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	reg := initRegistry(cfg, l)
	pool := store.New(cfg.pendingCap)
	wlog := winlog.New(cfg.winlogCap)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)
	metrics.InitBuildInfo(version, commit, date)

	gameSrv := server.NewServer(
		server.WithListenAddr(cfg.gameListen),
		server.WithRegistry(reg),
		server.WithStore(pool),
		server.WithWinLog(wlog),
		server.WithLogger(l),
		server.WithMaxClients(cfg.maxClients),
		server.WithReadDeadline(cfg.clientReadTO),
	)
	adminSrv := server.NewAdminServer(
		server.WithAdminListenAddr(cfg.apiListen),
		server.WithAdminRegistry(reg),
		server.WithAdminWinLog(wlog),
		server.WithAdminLogger(l),
	)

	go func() {
		if err := gameSrv.Serve(ctx); err != nil {
			l.Error("game_server_error", "error", err)
			cancel()
		}
	}()
	go func() {
		if err := adminSrv.Serve(ctx); err != nil {
			l.Error("admin_server_error", "error", err)
			cancel()
		}
	}()

	// Start mDNS advertisement once the game listener is ready.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-gameSrv.Ready():
		case <-ctx.Done():
			return
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, listenPort(gameSrv.Addr()))
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", listenPort(gameSrv.Addr()))
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	// Ready when both listeners are bound and context not cancelled.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-gameSrv.Ready():
		default:
			return false
		}
		select {
		case <-adminSrv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		msrv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() {
			shCtx, shCancel := context.WithTimeout(context.Background(), time.Second)
			defer shCancel()
			_ = msrv.Shutdown(shCtx)
		}()
	}

	<-ctx.Done()
	l.Info("shutting_down")
	shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shCancel()
	if err := gameSrv.Shutdown(shCtx); err != nil {
		l.Error("game_shutdown_error", "error", err)
	}
	if err := adminSrv.Shutdown(shCtx); err != nil {
		l.Error("admin_shutdown_error", "error", err)
	}
	wg.Wait()
	l.Info("bye")
}

// listenPort extracts the numeric port from a bound address (host:port or :port).
func listenPort(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if pn, perr := strconv.Atoi(p); perr == nil {
			return pn
		}
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if pn, err := strconv.Atoi(addr[i+1:]); err == nil {
			return pn
		}
	}
	return 0
}
