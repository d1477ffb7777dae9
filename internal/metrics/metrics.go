// Package metrics exposes the protocol's Stats snapshot both as local
// atomic counters (cheap, in-process) and as Prometheus series.
package metrics

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus counters mirroring the Stats snapshot fields.
var (
	PacketsRx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brewos_packets_rx_total",
		Help: "Total frames accepted by the parser.",
	})
	PacketsTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brewos_packets_tx_total",
		Help: "Total frames transmitted on the link.",
	})
	BytesRx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brewos_bytes_rx_total",
		Help: "Total bytes read from the UART.",
	})
	BytesTx = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brewos_bytes_tx_total",
		Help: "Total bytes written to the UART.",
	})
	CRCErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brewos_crc_errors_total",
		Help: "Total frames rejected for a CRC mismatch.",
	})
	FramingErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brewos_framing_errors_total",
		Help: "Total frames rejected for a framing violation.",
	})
	ParserTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brewos_parser_timeouts_total",
		Help: "Total parser watchdog resets.",
	})
	Duplicates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brewos_duplicates_total",
		Help: "Total duplicate sequence numbers dropped.",
	})
	OutOfOrder = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brewos_out_of_order_total",
		Help: "Total out-of-order sequence numbers dropped.",
	})
	Retries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brewos_retries_total",
		Help: "Total command retransmissions.",
	})
	AckTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brewos_ack_timeouts_total",
		Help: "Total commands that exhausted retries without an ACK.",
	})
	NacksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brewos_nacks_received_total",
		Help: "Total NACKs received for pending commands.",
	})
	NacksSentBusy = promauto.NewCounter(prometheus.CounterOpts{
		Name: "brewos_nacks_sent_busy_total",
		Help: "Total NACK{BUSY} replies sent due to backpressure.",
	})
	SafetyFlagsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brewos_safety_flags_active",
		Help: "Current safety bitmask value.",
	})
	ControlState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "brewos_control_state",
		Help: "Current control state machine state (tagged enum ordinal).",
	})
	SensorFaults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "brewos_sensor_fault_latched",
		Help: "1 if the sensor's fault is latched, else 0.",
	}, []string{"kind"})
	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "brewos_build_info",
		Help: "Build metadata (value is always 1).",
	}, []string{"version", "commit", "date"})

	readinessMu sync.RWMutex
	readinessFn func() bool
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
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Local atomic mirrors, cheap to read in-process without scraping Prometheus.
var (
	localPacketsRx, localPacketsTx     uint64
	localBytesRx, localBytesTx         uint64
	localCRCErrors, localFramingErrors uint64
	localParserTimeouts                uint64
	localDuplicates, localOutOfOrder   uint64
	localRetries, localAckTimeouts     uint64
	localNacksReceived                 uint64
	localNacksSentBusy                 uint64
)

// Snapshot is the protocol's Stats snapshot, plus handshake state.
type Snapshot struct {
	PacketsRx         uint64
	PacketsTx         uint64
	BytesRx           uint64
	BytesTx           uint64
	CRCErrors         uint64
	FramingErrors     uint64
	ParserTimeouts    uint64
	Duplicates        uint64
	OutOfOrder        uint64
	Retries           uint64
	AckTimeouts       uint64
	NacksReceived     uint64
	NacksSentBusy     uint64
	HandshakeComplete bool
	NegotiatedMajor   uint8
	NegotiatedMinor   uint8
}

var (
	handshakeMu     sync.RWMutex
	handshakeDone   bool
	negotiatedMajor uint8
	negotiatedMinor uint8
)

// SetHandshakeComplete records the negotiated version.
func SetHandshakeComplete(major, minor uint8) {
	handshakeMu.Lock()
	handshakeDone = true
	negotiatedMajor, negotiatedMinor = major, minor
	handshakeMu.Unlock()
}

// Snap returns a cheap copy of all local counters, never decremented except
// by Reset.
func Snap() Snapshot {
	handshakeMu.RLock()
	defer handshakeMu.RUnlock()
	return Snapshot{
		PacketsRx:         atomic.LoadUint64(&localPacketsRx),
		PacketsTx:         atomic.LoadUint64(&localPacketsTx),
		BytesRx:           atomic.LoadUint64(&localBytesRx),
		BytesTx:           atomic.LoadUint64(&localBytesTx),
		CRCErrors:         atomic.LoadUint64(&localCRCErrors),
		FramingErrors:     atomic.LoadUint64(&localFramingErrors),
		ParserTimeouts:    atomic.LoadUint64(&localParserTimeouts),
		Duplicates:        atomic.LoadUint64(&localDuplicates),
		OutOfOrder:        atomic.LoadUint64(&localOutOfOrder),
		Retries:           atomic.LoadUint64(&localRetries),
		AckTimeouts:       atomic.LoadUint64(&localAckTimeouts),
		NacksReceived:     atomic.LoadUint64(&localNacksReceived),
		NacksSentBusy:     atomic.LoadUint64(&localNacksSentBusy),
		HandshakeComplete: handshakeDone,
		NegotiatedMajor:   negotiatedMajor,
		NegotiatedMinor:   negotiatedMinor,
	}
}

// Reset zeroes every local counter. It does not touch the Prometheus series
// (those are cumulative for the process lifetime by convention).
func Reset() {
	atomic.StoreUint64(&localPacketsRx, 0)
	atomic.StoreUint64(&localPacketsTx, 0)
	atomic.StoreUint64(&localBytesRx, 0)
	atomic.StoreUint64(&localBytesTx, 0)
	atomic.StoreUint64(&localCRCErrors, 0)
	atomic.StoreUint64(&localFramingErrors, 0)
	atomic.StoreUint64(&localParserTimeouts, 0)
	atomic.StoreUint64(&localDuplicates, 0)
	atomic.StoreUint64(&localOutOfOrder, 0)
	atomic.StoreUint64(&localRetries, 0)
	atomic.StoreUint64(&localAckTimeouts, 0)
	atomic.StoreUint64(&localNacksReceived, 0)
	atomic.StoreUint64(&localNacksSentBusy, 0)
}

func IncPacketsRx()     { PacketsRx.Inc(); atomic.AddUint64(&localPacketsRx, 1) }
func IncPacketsTx()     { PacketsTx.Inc(); atomic.AddUint64(&localPacketsTx, 1) }
func AddBytesRx(n int)  { BytesRx.Add(float64(n)); atomic.AddUint64(&localBytesRx, uint64(n)) }
func AddBytesTx(n int)  { BytesTx.Add(float64(n)); atomic.AddUint64(&localBytesTx, uint64(n)) }
func IncCRCError()      { CRCErrors.Inc(); atomic.AddUint64(&localCRCErrors, 1) }
func IncFramingError()  { FramingErrors.Inc(); atomic.AddUint64(&localFramingErrors, 1) }
func IncParserTimeout() { ParserTimeouts.Inc(); atomic.AddUint64(&localParserTimeouts, 1) }
func IncDuplicate()     { Duplicates.Inc(); atomic.AddUint64(&localDuplicates, 1) }
func IncOutOfOrder()    { OutOfOrder.Inc(); atomic.AddUint64(&localOutOfOrder, 1) }
func IncRetry()         { Retries.Inc(); atomic.AddUint64(&localRetries, 1) }
func IncAckTimeout()    { AckTimeouts.Inc(); atomic.AddUint64(&localAckTimeouts, 1) }
func IncNackReceived()  { NacksReceived.Inc(); atomic.AddUint64(&localNacksReceived, 1) }
func IncNackSentBusy()  { NacksSentBusy.Inc(); atomic.AddUint64(&localNacksSentBusy, 1) }

// SetSafetyFlags publishes the current safety bitmask.
func SetSafetyFlags(mask uint16) { SafetyFlagsActive.Set(float64(mask)) }

// SetControlState publishes the current control state ordinal.
func SetControlState(state uint8) { ControlState.Set(float64(state)) }

// SetSensorFault publishes a per-kind fault-latch gauge.
func SetSensorFault(kind string, latched bool) {
	v := 0.0
	if latched {
		v = 1.0
	}
	SensorFaults.WithLabelValues(kind).Set(v)
}

// InitBuildInfo sets the build info gauge (should be called once at startup).
func InitBuildInfo(version, commit, date string) {
	BuildInfo.WithLabelValues(version, commit, date).Set(1)
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
