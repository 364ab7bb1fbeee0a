// Package metrics exposes the module's Prometheus instrumentation: frame
// codec health (frames/resyncs/garbage/decode errors), hub fan-out
// behavior, transport throughput, and a small in-process snapshot for
// environments without a Prometheus scraper.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gsprotocol/gsp/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus series.
var (
	FramesDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gsp_frames_decoded_total",
		Help: "Total frames successfully decoded by a Channel.",
	})
	FramesResynced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gsp_frames_resynced_total",
		Help: "Total mid-frame resyncs triggered by an unexpected start byte.",
	})
	GarbageBytesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gsp_garbage_bytes_skipped_total",
		Help: "Total raw bytes discarded while seeking the next start byte.",
	})
	DecodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gsp_decode_errors_total",
		Help: "Total frames that parsed but whose payload failed catalog decoding.",
	})

	SerialRxMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_rx_messages_total",
		Help: "Total messages received from the serial transport.",
	})
	SerialTxMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_tx_messages_total",
		Help: "Total messages sent to the serial transport.",
	})
	UnixRxMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unix_rx_messages_total",
		Help: "Total messages received from the Unix socket transport.",
	})
	UnixTxMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "unix_tx_messages_total",
		Help: "Total messages sent to the Unix socket transport.",
	})
	TCPRxMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_rx_messages_total",
		Help: "Total messages received from TCP subscriber clients.",
	})
	TCPTxMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tcp_tx_messages_total",
		Help: "Total messages sent to TCP subscriber clients.",
	})

	HubDroppedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_dropped_messages_total",
		Help: "Total messages dropped by the hub due to slow subscribers.",
	})
	HubKickedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_kicked_clients_total",
		Help: "Total subscribers disconnected due to the backpressure kick policy.",
	})
	HubRejectedClients = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hub_rejected_clients_total",
		Help: "Total subscriber connection attempts rejected (e.g., max-clients).",
	})
	HubActiveClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_active_clients",
		Help: "Current number of active hub subscribers.",
	})
	HubBroadcastFanout = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_broadcast_fanout",
		Help: "Number of subscribers targeted in the most recent broadcast.",
	})
	HubQueueDepthMax = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_max",
		Help: "Observed max queued messages among subscribers in the last sample.",
	})
	HubQueueDepthAvg = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hub_queue_depth_avg",
		Help: "Approximate average queued messages per subscriber in the last sample.",
	})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Error label constants (stable label values to bound cardinality).
const (
	ErrTCPRead    = "tcp_read"
	ErrTCPWrite   = "tcp_write"
	ErrHandshake  = "handshake"
	ErrSerialIO   = "serial_io"
	ErrUnixIO     = "unix_io"
	ErrAsyncTxOverflow = "async_tx_overflow"
	ErrRedis      = "redis"
)

// StartHTTP serves Prometheus metrics at /metrics and readiness at /ready.
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

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}

// Local mirrored counters so non-Prometheus setups can log a snapshot.
var (
	localFrames    uint64
	localResyncs   uint64
	localGarbage   uint64
	localDecodeErr uint64
	localSerialRx  uint64
	localSerialTx  uint64
	localUnixRx    uint64
	localUnixTx    uint64
	localTCPRx     uint64
	localTCPTx     uint64
	localHubDrop   uint64
	localHubKick   uint64
	localHubReject uint64
	localErrors    uint64
	localHubClients uint64
	localFanout    uint64
)

// Snapshot is a cheap copy of the local counters.
type Snapshot struct {
	Frames      uint64
	Resyncs     uint64
	Garbage     uint64
	DecodeErr   uint64
	SerialRx    uint64
	SerialTx    uint64
	UnixRx      uint64
	UnixTx      uint64
	TCPRx       uint64
	TCPTx       uint64
	HubDrops    uint64
	HubKicks    uint64
	HubRejects  uint64
	Errors      uint64
	HubClients  uint64
	Fanout      uint64
}

func Snap() Snapshot {
	return Snapshot{
		Frames:     atomic.LoadUint64(&localFrames),
		Resyncs:    atomic.LoadUint64(&localResyncs),
		Garbage:    atomic.LoadUint64(&localGarbage),
		DecodeErr:  atomic.LoadUint64(&localDecodeErr),
		SerialRx:   atomic.LoadUint64(&localSerialRx),
		SerialTx:   atomic.LoadUint64(&localSerialTx),
		UnixRx:     atomic.LoadUint64(&localUnixRx),
		UnixTx:     atomic.LoadUint64(&localUnixTx),
		TCPRx:      atomic.LoadUint64(&localTCPRx),
		TCPTx:      atomic.LoadUint64(&localTCPTx),
		HubDrops:   atomic.LoadUint64(&localHubDrop),
		HubKicks:   atomic.LoadUint64(&localHubKick),
		HubRejects: atomic.LoadUint64(&localHubReject),
		Errors:     atomic.LoadUint64(&localErrors),
		HubClients: atomic.LoadUint64(&localHubClients),
		Fanout:     atomic.LoadUint64(&localFanout),
	}
}

// FrameStats adapts the package counters to the frame.Stats interface so a
// Channel can be wired straight into Prometheus via gsp.WithStats(metrics.FrameStats{}).
type FrameStats struct{}

func (FrameStats) IncFrame() {
	FramesDecoded.Inc()
	atomic.AddUint64(&localFrames, 1)
}

func (FrameStats) IncResync() {
	FramesResynced.Inc()
	atomic.AddUint64(&localResyncs, 1)
}

func (FrameStats) IncGarbage(n int) {
	GarbageBytesSkipped.Add(float64(n))
	atomic.AddUint64(&localGarbage, uint64(n))
}

func (FrameStats) IncDecodeError() {
	DecodeErrors.Inc()
	atomic.AddUint64(&localDecodeErr, 1)
}

func IncSerialRx() { SerialRxMessages.Inc(); atomic.AddUint64(&localSerialRx, 1) }
func IncSerialTx() { SerialTxMessages.Inc(); atomic.AddUint64(&localSerialTx, 1) }
func IncUnixRx()   { UnixRxMessages.Inc(); atomic.AddUint64(&localUnixRx, 1) }
func IncUnixTx()   { UnixTxMessages.Inc(); atomic.AddUint64(&localUnixTx, 1) }
func IncTCPRx()    { TCPRxMessages.Inc(); atomic.AddUint64(&localTCPRx, 1) }

func AddTCPTx(n int) {
	TCPTxMessages.Add(float64(n))
	atomic.AddUint64(&localTCPTx, uint64(n))
}

func IncHubDrop() {
	HubDroppedMessages.Inc()
	atomic.AddUint64(&localHubDrop, 1)
}

func IncHubKick() {
	HubKickedClients.Inc()
	atomic.AddUint64(&localHubKick, 1)
}

func IncHubReject() {
	HubRejectedClients.Inc()
	atomic.AddUint64(&localHubReject, 1)
}

func SetHubClients(n int) {
	HubActiveClients.Set(float64(n))
	atomic.StoreUint64(&localHubClients, uint64(n))
}

func SetBroadcastFanout(n int) {
	HubBroadcastFanout.Set(float64(n))
	atomic.StoreUint64(&localFanout, uint64(n))
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// SetQueueDepth records a snapshot of max and avg queue depth.
func SetQueueDepth(max, avg int) {
	HubQueueDepthMax.Set(float64(max))
	HubQueueDepthAvg.Set(float64(avg))
}

// InitBuildInfo sets the build info gauge (call once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
	for _, lbl := range []string{ErrTCPRead, ErrTCPWrite, ErrHandshake, ErrSerialIO, ErrUnixIO, ErrAsyncTxOverflow, ErrRedis} {
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
	if fn == nil {
		return true
	}
	return fn()
}

// Ready is a concise alias used at call sites.
func Ready() bool { return IsReady() }
