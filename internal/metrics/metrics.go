package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/raventid/go-pupa-server/internal/logging"
)

// Prometheus counters
var (
	GameRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "game_rx_frames_total",
		Help: "Total frames decoded from game clients.",
	})
	GameTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "game_tx_frames_total",
		Help: "Total frames written to game clients.",
	})
	AdminQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "admin_queries_total",
		Help: "Total admin queries served (ShowWinners and ShowWinnersLog).",
	})
	AdminTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "admin_tx_frames_total",
		Help: "Total record frames written to admin clients.",
	})
	WinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wins_total",
		Help: "Total first-flash wins credited.",
	})
	LateFlashes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "late_flashes_total",
		Help: "Total flashes dropped because the message was no longer pending.",
	})
	MailboxDroppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailbox_dropped_frames_total",
		Help: "Total frames dropped by full peer mailboxes.",
	})
	MailboxKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mailbox_kicked_clients_total",
		Help: "Total peers disconnected by the backpressure kick policy.",
	})
	RejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rejected_clients_total",
		Help: "Total connection attempts rejected (e.g., max-clients).",
	})
	AuthFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_failures_total",
		Help: "Total game connections closed before a successful Authorize (wrong first frame, decode error, EOF or read error).",
	})
	OnlinePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "online_peers",
		Help: "Current number of online peers.",
	})
	BroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "broadcast_fanout",
		Help: "Number of peers targeted in the most recent broadcast.",
	})
	PendingMessages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pending_messages",
		Help: "Current size of the pending message pool.",
	})
	WinLogRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "winlog_records",
		Help: "Current size of the win log.",
	})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total desynchronized decode buffers dropped (protocol violations).",
	})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrGameRead   = "game_read"
	ErrGameWrite  = "game_write"
	ErrAdminRead  = "admin_read"
	ErrAdminWrite = "admin_write"
	ErrAuth       = "auth"
	ErrAccept     = "accept"
)

// StartHTTP serves Prometheus metrics at /metrics on the given address.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters for easy logging (avoid Prometheus scraping in-process)
var (
	localGameRx      uint64
	localGameTx      uint64
	localAdminQ      uint64
	localAdminTx     uint64
	localWins        uint64
	localLateFlash   uint64
	localMailboxDrop uint64
	localMailboxKick uint64
	localRejects     uint64
	localAuthFail    uint64
	localErrors      uint64
	localOnline      uint64
	localFanout      uint64
	localMalformed   uint64
	localPending     uint64
	localWinLog      uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	GameRx       uint64
	GameTx       uint64
	AdminQueries uint64
	AdminTx      uint64
	Wins         uint64
	LateFlashes  uint64
	MailboxDrops uint64
	MailboxKicks uint64
	Rejects      uint64
	AuthFailures uint64
	Errors       uint64 // sum across error labels
	OnlinePeers  uint64
	Fanout       uint64
	Malformed    uint64
	Pending      uint64
	WinLog       uint64
}

func Snap() Snapshot {
	return Snapshot{
		GameRx:       atomic.LoadUint64(&localGameRx),
		GameTx:       atomic.LoadUint64(&localGameTx),
		AdminQueries: atomic.LoadUint64(&localAdminQ),
		AdminTx:      atomic.LoadUint64(&localAdminTx),
		Wins:         atomic.LoadUint64(&localWins),
		LateFlashes:  atomic.LoadUint64(&localLateFlash),
		MailboxDrops: atomic.LoadUint64(&localMailboxDrop),
		MailboxKicks: atomic.LoadUint64(&localMailboxKick),
		Rejects:      atomic.LoadUint64(&localRejects),
		AuthFailures: atomic.LoadUint64(&localAuthFail),
		Errors:       atomic.LoadUint64(&localErrors),
		OnlinePeers:  atomic.LoadUint64(&localOnline),
		Fanout:       atomic.LoadUint64(&localFanout),
		Malformed:    atomic.LoadUint64(&localMalformed),
		Pending:      atomic.LoadUint64(&localPending),
		WinLog:       atomic.LoadUint64(&localWinLog),
	}
}

// Wrapper helpers to keep call sites simple.
func IncGameRx() {
	GameRxFrames.Inc()
	atomic.AddUint64(&localGameRx, 1)
}

func IncGameTx() {
	GameTxFrames.Inc()
	atomic.AddUint64(&localGameTx, 1)
}

func IncAdminQuery() {
	AdminQueries.Inc()
	atomic.AddUint64(&localAdminQ, 1)
}

// AddAdminTx counts a burst of record frames written to one admin client.
func AddAdminTx(n int) {
	AdminTxFrames.Add(float64(n))
	atomic.AddUint64(&localAdminTx, uint64(n))
}

func IncWins() {
	WinsTotal.Inc()
	atomic.AddUint64(&localWins, 1)
}

func IncLateFlash() {
	LateFlashes.Inc()
	atomic.AddUint64(&localLateFlash, 1)
}

func IncMailboxDrop() {
	MailboxDroppedFrames.Inc()
	atomic.AddUint64(&localMailboxDrop, 1)
}

func IncMailboxKick() {
	MailboxKickedClients.Inc()
	atomic.AddUint64(&localMailboxKick, 1)
}

func IncReject() {
	RejectedClients.Inc()
	atomic.AddUint64(&localRejects, 1)
}

func IncAuthFailure() {
	AuthFailures.Inc()
	atomic.AddUint64(&localAuthFail, 1)
}

func SetOnlinePeers(n int) {
	OnlinePeers.Set(float64(n))
	atomic.StoreUint64(&localOnline, uint64(n))
}

func SetBroadcastFanout(n int) {
	BroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

func SetPendingMessages(n int) {
	PendingMessages.Set(float64(n))
	atomic.StoreUint64(&localPending, uint64(n))
}

func SetWinLogRecords(n int) {
	WinLogRecords.Set(float64(n))
	atomic.StoreUint64(&localWinLog, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	// Pre-register common error label series so first error does not log a registration latency.
	for _, lbl := range []string{
		ErrGameRead, ErrGameWrite, ErrAdminRead, ErrAdminWrite,
		ErrAuth, ErrAccept,
	} {
		Errors.WithLabelValues(lbl).Add(0)
	}
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil { // if not set yet, treat as ready so metrics endpoint doesn't flap
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
