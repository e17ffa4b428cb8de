package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/raventid/go-pupa-server/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"game_rx", snap.GameRx,
					"game_tx", snap.GameTx,
					"admin_queries", snap.AdminQueries,
					"wins", snap.Wins,
					"late_flashes", snap.LateFlashes,
					"mailbox_drops", snap.MailboxDrops,
					"online_peers", snap.OnlinePeers,
					"pending", snap.Pending,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
