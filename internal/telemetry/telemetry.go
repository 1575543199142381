// Package telemetry aggregates process-wide network and sync counters. Reads
// are safe from any goroutine but reflect eventual, not transactional,
// consistency with concurrent writers.
package telemetry

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// Logger exposes the logging capability required by network components.
type Logger interface {
	Printf(format string, args ...any)
}

// LoggerFunc adapts functions into the Logger interface.
type LoggerFunc func(format string, args ...any)

// Printf implements Logger for LoggerFunc.
func (f LoggerFunc) Printf(format string, args ...any) {
	if f == nil {
		return
	}
	f(format, args...)
}

// WrapLogger adapts a standard library logger to the Logger interface.
func WrapLogger(logger *log.Logger) Logger {
	return &loggerAdapter{logger: logger}
}

type loggerAdapter struct {
	logger *log.Logger
}

func (l *loggerAdapter) Printf(format string, args ...any) {
	if l == nil || l.logger == nil {
		return
	}
	l.logger.Printf(format, args...)
}

// NetworkMetrics counts packet and byte flow through a manager instance.
type NetworkMetrics struct {
	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	packetsLost     atomic.Uint64
	packetsDropped  atomic.Uint64
	latencyMillis   atomic.Int64

	mu    sync.Mutex
	extra map[string]uint64
}

// NetworkSnapshot is a point-in-time copy of the network counters.
type NetworkSnapshot struct {
	PacketsSent     uint64 `json:"packetsSent"`
	PacketsReceived uint64 `json:"packetsReceived"`
	BytesSent       uint64 `json:"bytesSent"`
	BytesReceived   uint64 `json:"bytesReceived"`
	PacketsLost     uint64 `json:"packetsLost"`
	PacketsDropped  uint64 `json:"packetsDropped"`
	LatencyMillis   int64  `json:"latencyMillis"`
}

// NewNetworkMetrics constructs an empty counter set.
func NewNetworkMetrics() *NetworkMetrics {
	return &NetworkMetrics{extra: make(map[string]uint64)}
}

// RecordSend notes one transmitted packet of the given size.
func (m *NetworkMetrics) RecordSend(bytes int) {
	if m == nil || bytes < 0 {
		return
	}
	m.packetsSent.Add(1)
	m.bytesSent.Add(uint64(bytes))
}

// RecordReceive notes one received packet of the given size.
func (m *NetworkMetrics) RecordReceive(bytes int) {
	if m == nil || bytes < 0 {
		return
	}
	m.packetsReceived.Add(1)
	m.bytesReceived.Add(uint64(bytes))
}

// RecordLoss notes a packet the transport failed to deliver.
func (m *NetworkMetrics) RecordLoss() {
	if m == nil {
		return
	}
	m.packetsLost.Add(1)
}

// RecordDrop notes a packet discarded before transmission, typically under
// queue backpressure or rate limiting.
func (m *NetworkMetrics) RecordDrop() {
	if m == nil {
		return
	}
	m.packetsDropped.Add(1)
}

// RecordLatency stores the most recent round-trip measurement.
func (m *NetworkMetrics) RecordLatency(rtt time.Duration) {
	if m == nil {
		return
	}
	millis := rtt.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	m.latencyMillis.Store(millis)
}

// Add implements the generic counter surface used by the packet queues.
func (m *NetworkMetrics) Add(key string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.extra == nil {
		m.extra = make(map[string]uint64)
	}
	m.extra[key] += delta
}

// Store implements the generic gauge surface used by the packet queues.
func (m *NetworkMetrics) Store(key string, value uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.extra == nil {
		m.extra = make(map[string]uint64)
	}
	m.extra[key] = value
}

// Extra returns a copy of the ad hoc counter map.
func (m *NetworkMetrics) Extra() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.extra))
	for k, v := range m.extra {
		out[k] = v
	}
	return out
}

// Snapshot copies the counters for diagnostics output.
func (m *NetworkMetrics) Snapshot() NetworkSnapshot {
	if m == nil {
		return NetworkSnapshot{}
	}
	return NetworkSnapshot{
		PacketsSent:     m.packetsSent.Load(),
		PacketsReceived: m.packetsReceived.Load(),
		BytesSent:       m.bytesSent.Load(),
		BytesReceived:   m.bytesReceived.Load(),
		PacketsLost:     m.packetsLost.Load(),
		PacketsDropped:  m.packetsDropped.Load(),
		LatencyMillis:   m.latencyMillis.Load(),
	}
}

// Reset zeroes every counter.
func (m *NetworkMetrics) Reset() {
	if m == nil {
		return
	}
	m.packetsSent.Store(0)
	m.packetsReceived.Store(0)
	m.bytesSent.Store(0)
	m.bytesReceived.Store(0)
	m.packetsLost.Store(0)
	m.packetsDropped.Store(0)
	m.latencyMillis.Store(0)
	m.mu.Lock()
	m.extra = make(map[string]uint64)
	m.mu.Unlock()
}

// SyncMetrics tracks snapshot production and application.
type SyncMetrics struct {
	snapshotsCreated  atomic.Uint64
	snapshotsSent     atomic.Uint64
	snapshotsApplied  atomic.Uint64
	snapshotsStale    atomic.Uint64
	deltasSent        atomic.Uint64
	resyncsSent       atomic.Uint64
	reconcileSnaps    atomic.Uint64
	rawBytes          atomic.Uint64
	compressedBytes   atomic.Uint64
	snapshotLatencyMS atomic.Int64
}

// SyncSnapshot is a point-in-time copy of the sync counters.
type SyncSnapshot struct {
	SnapshotsCreated  uint64  `json:"snapshotsCreated"`
	SnapshotsSent     uint64  `json:"snapshotsSent"`
	SnapshotsApplied  uint64  `json:"snapshotsApplied"`
	SnapshotsStale    uint64  `json:"snapshotsStale"`
	DeltasSent        uint64  `json:"deltasSent"`
	ResyncsSent       uint64  `json:"resyncsSent"`
	ReconcileSnaps    uint64  `json:"reconcileSnaps"`
	CompressionRatio  float64 `json:"compressionRatio"`
	SnapshotLatencyMS int64   `json:"snapshotLatencyMs"`
}

// NewSyncMetrics constructs an empty counter set.
func NewSyncMetrics() *SyncMetrics {
	return &SyncMetrics{}
}

// RecordCreated notes a freshly assembled snapshot.
func (m *SyncMetrics) RecordCreated() {
	if m == nil {
		return
	}
	m.snapshotsCreated.Add(1)
}

// RecordEncoded notes one serialized snapshot and its compression outcome.
func (m *SyncMetrics) RecordEncoded(rawBytes, wireBytes int, delta bool) {
	if m == nil {
		return
	}
	m.snapshotsSent.Add(1)
	if delta {
		m.deltasSent.Add(1)
	}
	if rawBytes > 0 {
		m.rawBytes.Add(uint64(rawBytes))
	}
	if wireBytes > 0 {
		m.compressedBytes.Add(uint64(wireBytes))
	}
}

// RecordResync notes a full snapshot forced by a missing delta baseline.
func (m *SyncMetrics) RecordResync() {
	if m == nil {
		return
	}
	m.resyncsSent.Add(1)
}

// RecordApplied notes a snapshot accepted by the client, with its age.
func (m *SyncMetrics) RecordApplied(latency time.Duration) {
	if m == nil {
		return
	}
	m.snapshotsApplied.Add(1)
	millis := latency.Milliseconds()
	if millis < 0 {
		millis = 0
	}
	m.snapshotLatencyMS.Store(millis)
}

// RecordStale notes an out-of-order snapshot dropped before application.
func (m *SyncMetrics) RecordStale() {
	if m == nil {
		return
	}
	m.snapshotsStale.Add(1)
}

// RecordReconcileSnap notes a prediction divergence that forced a snap.
func (m *SyncMetrics) RecordReconcileSnap() {
	if m == nil {
		return
	}
	m.reconcileSnaps.Add(1)
}

// Snapshot copies the counters for diagnostics output.
func (m *SyncMetrics) Snapshot() SyncSnapshot {
	if m == nil {
		return SyncSnapshot{}
	}
	snap := SyncSnapshot{
		SnapshotsCreated:  m.snapshotsCreated.Load(),
		SnapshotsSent:     m.snapshotsSent.Load(),
		SnapshotsApplied:  m.snapshotsApplied.Load(),
		SnapshotsStale:    m.snapshotsStale.Load(),
		DeltasSent:        m.deltasSent.Load(),
		ResyncsSent:       m.resyncsSent.Load(),
		ReconcileSnaps:    m.reconcileSnaps.Load(),
		SnapshotLatencyMS: m.snapshotLatencyMS.Load(),
	}
	if raw := m.rawBytes.Load(); raw > 0 {
		snap.CompressionRatio = float64(m.compressedBytes.Load()) / float64(raw)
	}
	return snap
}

// Reset zeroes every counter.
func (m *SyncMetrics) Reset() {
	if m == nil {
		return
	}
	m.snapshotsCreated.Store(0)
	m.snapshotsSent.Store(0)
	m.snapshotsApplied.Store(0)
	m.snapshotsStale.Store(0)
	m.deltasSent.Store(0)
	m.resyncsSent.Store(0)
	m.reconcileSnaps.Store(0)
	m.rawBytes.Store(0)
	m.compressedBytes.Store(0)
	m.snapshotLatencyMS.Store(0)
}
