// Package metrics exposes Prometheus instrumentation for the frame reception
// and transmission paths, plus cheap atomic mirrors for log-based snapshots
// on hosts without a scraper.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kstaniek/go-canstream/internal/logging"
)

// Prometheus collectors
var (
	RxFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canstream_rx_frames_total",
		Help: "Total CAN frames delivered to consumers, by consumption path.",
	}, []string{"source"})
	TxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canstream_tx_frames_total",
		Help: "Total CAN frames written to the device.",
	})
	ReceiveTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canstream_receive_timeouts_total",
		Help: "Total bounded reads that expired without a frame (listener ticks excluded).",
	})
	ListenerErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canstream_listener_errors_total",
		Help: "Total fatal listener read errors (each one ends a listening session).",
	})
	TxOverflow = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canstream_tx_overflow_total",
		Help: "Total frames rejected because the async TX queue was full.",
	})
	DroppedEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "canstream_unhandled_error_events_total",
		Help: "Total error events emitted with no registered observer (logged instead).",
	})
	ActiveListeners = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "canstream_active_listeners",
		Help: "Number of sockets currently in the Listening state.",
	})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "canstream_errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "canstream_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})
	readinessMu sync.RWMutex
	readinessFn func() bool
)

// Source label values for RxFrames.
const (
	SrcListener = "listener"
	SrcStream   = "stream"
	SrcReceive  = "receive"
)

// Error label constants (stable values to bound cardinality)
const (
	ErrDeviceRead  = "device_read"
	ErrDeviceWrite = "device_write"
	ErrDeviceOpen  = "device_open"
	ErrSetFilters  = "set_filters"
)

// Local mirrored counters for log-based snapshots.
var (
	localRxListener uint64
	localRxStream   uint64
	localRxReceive  uint64
	localTx         uint64
	localTimeouts   uint64
	localListenErrs uint64
	localErrors     uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	RxListener      uint64
	RxStream        uint64
	RxReceive       uint64
	Tx              uint64
	ReceiveTimeouts uint64
	ListenerErrors  uint64
	Errors          uint64
}

func Snap() Snapshot {
	return Snapshot{
		RxListener:      atomic.LoadUint64(&localRxListener),
		RxStream:        atomic.LoadUint64(&localRxStream),
		RxReceive:       atomic.LoadUint64(&localRxReceive),
		Tx:              atomic.LoadUint64(&localTx),
		ReceiveTimeouts: atomic.LoadUint64(&localTimeouts),
		ListenerErrors:  atomic.LoadUint64(&localListenErrs),
		Errors:          atomic.LoadUint64(&localErrors),
	}
}

// IncRx counts one delivered frame for the given source label.
func IncRx(source string) {
	RxFrames.WithLabelValues(source).Inc()
	switch source {
	case SrcListener:
		atomic.AddUint64(&localRxListener, 1)
	case SrcStream:
		atomic.AddUint64(&localRxStream, 1)
	case SrcReceive:
		atomic.AddUint64(&localRxReceive, 1)
	}
}

func IncTx() {
	TxFrames.Inc()
	atomic.AddUint64(&localTx, 1)
}

func IncReceiveTimeout() {
	ReceiveTimeouts.Inc()
	atomic.AddUint64(&localTimeouts, 1)
}

func IncListenerError() {
	ListenerErrors.Inc()
	atomic.AddUint64(&localListenErrs, 1)
}

func IncTxOverflow() {
	TxOverflow.Inc()
	atomic.AddUint64(&localErrors, 1)
}

// IncError increments the labeled error counter.
func IncError(where string) {
	Errors.WithLabelValues(where).Inc()
	atomic.AddUint64(&localErrors, 1)
}

// SetReadinessFunc installs the probe used by the /ready endpoint.
func SetReadinessFunc(fn func() bool) {
	readinessMu.Lock()
	readinessFn = fn
	readinessMu.Unlock()
}

func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return false
	}
	return fn()
}

// InitBuildInfo publishes build metadata.
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
}

// StartHTTP serves Prometheus metrics at /metrics and a readiness probe at
// /ready on the given address.
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
