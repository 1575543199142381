package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector bridges the atomic counter sets into a Prometheus registry so
// the server's /metrics endpoint can expose them without a second set of
// bookkeeping calls on the hot path.
type Collector struct {
	network *NetworkMetrics
	sync    *SyncMetrics

	packetsSent     *prometheus.Desc
	packetsReceived *prometheus.Desc
	bytesSent       *prometheus.Desc
	bytesReceived   *prometheus.Desc
	packetsLost     *prometheus.Desc
	packetsDropped  *prometheus.Desc
	latencyMillis   *prometheus.Desc

	snapshotsSent    *prometheus.Desc
	snapshotsApplied *prometheus.Desc
	snapshotsStale   *prometheus.Desc
	deltasSent       *prometheus.Desc
	resyncsSent      *prometheus.Desc
	compressionRatio *prometheus.Desc
}

// NewCollector wires the counter sets into Prometheus descriptors. Either
// argument may be nil when only one side of the pipeline runs in-process.
func NewCollector(network *NetworkMetrics, syncMetrics *SyncMetrics) *Collector {
	return &Collector{
		network:          network,
		sync:             syncMetrics,
		packetsSent:      prometheus.NewDesc("net_packets_sent_total", "Packets handed to the transport.", nil, nil),
		packetsReceived:  prometheus.NewDesc("net_packets_received_total", "Packets decoded off the transport.", nil, nil),
		bytesSent:        prometheus.NewDesc("net_bytes_sent_total", "Wire bytes transmitted.", nil, nil),
		bytesReceived:    prometheus.NewDesc("net_bytes_received_total", "Wire bytes received.", nil, nil),
		packetsLost:      prometheus.NewDesc("net_packets_lost_total", "Packets the transport failed to deliver.", nil, nil),
		packetsDropped:   prometheus.NewDesc("net_packets_dropped_total", "Packets discarded under backpressure or rate limits.", nil, nil),
		latencyMillis:    prometheus.NewDesc("net_latency_millis", "Most recent round-trip measurement.", nil, nil),
		snapshotsSent:    prometheus.NewDesc("sync_snapshots_sent_total", "Snapshots serialized for transmission.", nil, nil),
		snapshotsApplied: prometheus.NewDesc("sync_snapshots_applied_total", "Snapshots accepted by the receiver.", nil, nil),
		snapshotsStale:   prometheus.NewDesc("sync_snapshots_stale_total", "Out-of-order snapshots dropped.", nil, nil),
		deltasSent:       prometheus.NewDesc("sync_deltas_sent_total", "Snapshots encoded as baseline deltas.", nil, nil),
		resyncsSent:      prometheus.NewDesc("sync_resyncs_sent_total", "Full snapshots forced by evicted baselines.", nil, nil),
		compressionRatio: prometheus.NewDesc("sync_compression_ratio", "Compressed over raw snapshot bytes.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.packetsSent
	ch <- c.packetsReceived
	ch <- c.bytesSent
	ch <- c.bytesReceived
	ch <- c.packetsLost
	ch <- c.packetsDropped
	ch <- c.latencyMillis
	ch <- c.snapshotsSent
	ch <- c.snapshotsApplied
	ch <- c.snapshotsStale
	ch <- c.deltasSent
	ch <- c.resyncsSent
	ch <- c.compressionRatio
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.network != nil {
		snap := c.network.Snapshot()
		ch <- prometheus.MustNewConstMetric(c.packetsSent, prometheus.CounterValue, float64(snap.PacketsSent))
		ch <- prometheus.MustNewConstMetric(c.packetsReceived, prometheus.CounterValue, float64(snap.PacketsReceived))
		ch <- prometheus.MustNewConstMetric(c.bytesSent, prometheus.CounterValue, float64(snap.BytesSent))
		ch <- prometheus.MustNewConstMetric(c.bytesReceived, prometheus.CounterValue, float64(snap.BytesReceived))
		ch <- prometheus.MustNewConstMetric(c.packetsLost, prometheus.CounterValue, float64(snap.PacketsLost))
		ch <- prometheus.MustNewConstMetric(c.packetsDropped, prometheus.CounterValue, float64(snap.PacketsDropped))
		ch <- prometheus.MustNewConstMetric(c.latencyMillis, prometheus.GaugeValue, float64(snap.LatencyMillis))
	}
	if c.sync != nil {
		snap := c.sync.Snapshot()
		ch <- prometheus.MustNewConstMetric(c.snapshotsSent, prometheus.CounterValue, float64(snap.SnapshotsSent))
		ch <- prometheus.MustNewConstMetric(c.snapshotsApplied, prometheus.CounterValue, float64(snap.SnapshotsApplied))
		ch <- prometheus.MustNewConstMetric(c.snapshotsStale, prometheus.CounterValue, float64(snap.SnapshotsStale))
		ch <- prometheus.MustNewConstMetric(c.deltasSent, prometheus.CounterValue, float64(snap.DeltasSent))
		ch <- prometheus.MustNewConstMetric(c.resyncsSent, prometheus.CounterValue, float64(snap.ResyncsSent))
		ch <- prometheus.MustNewConstMetric(c.compressionRatio, prometheus.GaugeValue, snap.CompressionRatio)
	}
}

var _ prometheus.Collector = (*Collector)(nil)
