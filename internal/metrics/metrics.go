// Package metrics exports Prometheus counters, histograms and gauges for
// every component of the node (spec §6 observability). Grounded on
// storage-node/internal/metrics/prometheus.go's layout - one promauto
// metric per concern, a node_id const label, and small Record*/Update*
// helper methods - generalized from the teacher's memtable/SSTable/
// compaction concerns to this node's WAL, cluster quorum, repair and
// transport concerns.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the node registers.
type Metrics struct {
	UploadRequestsTotal    prometheus.Counter
	UploadRequestsDuration prometheus.Histogram
	DownloadRequestsTotal  prometheus.Counter
	DownloadDuration       prometheus.Histogram
	RemoveRequestsTotal    prometheus.Counter

	QuorumWritesSucceeded prometheus.Counter
	QuorumWritesExhausted prometheus.Counter
	QuorumFanOutDuration  prometheus.Histogram
	PartitionsHealthy     prometheus.Gauge
	PartitionsDead        prometheus.Gauge

	WALAppendsTotal      prometheus.Counter
	WALAppendDuration    prometheus.Histogram
	WALSegmentsTotal     prometheus.Gauge
	WALSegmentRotations  prometheus.Counter
	WALRecoveredRecords  prometheus.Counter
	WALHandoffFailures   prometheus.Counter

	LocalStoreEntriesTotal prometheus.Gauge
	LocalStoreChunksTotal  prometheus.Gauge
	ExtractionRunsTotal    prometheus.Counter
	ExtractionTombstonesGC prometheus.Counter

	RepairCyclesTotal      prometheus.Counter
	RepairCycleDuration    prometheus.Histogram
	RepairRecordsPulled    prometheus.Counter
	RepairRebalancePushed  prometheus.Counter

	DiscoveryResolvesTotal prometheus.CounterVec
	DiscoveryRevision      prometheus.Gauge

	RPCErrorsTotal prometheus.CounterVec
}

// New creates and registers every metric, labelling them with nodeID so a
// shared Prometheus deployment can distinguish nodes.
func New(nodeID string) *Metrics {
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		UploadRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtstore", Subsystem: "transport", Name: "upload_requests_total",
			Help: "Total number of upload requests handled.", ConstLabels: labels,
		}),
		UploadRequestsDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crdtstore", Subsystem: "transport", Name: "upload_duration_seconds",
			Help: "Histogram of upload request durations.", ConstLabels: labels, Buckets: prometheus.DefBuckets,
		}),
		DownloadRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtstore", Subsystem: "transport", Name: "download_requests_total",
			Help: "Total number of download requests handled.", ConstLabels: labels,
		}),
		DownloadDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crdtstore", Subsystem: "transport", Name: "download_duration_seconds",
			Help: "Histogram of download request durations.", ConstLabels: labels, Buckets: prometheus.DefBuckets,
		}),
		RemoveRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtstore", Subsystem: "transport", Name: "remove_requests_total",
			Help: "Total number of remove requests handled.", ConstLabels: labels,
		}),

		QuorumWritesSucceeded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtstore", Subsystem: "cluster", Name: "quorum_writes_succeeded_total",
			Help: "Uploads that reached write quorum.", ConstLabels: labels,
		}),
		QuorumWritesExhausted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtstore", Subsystem: "cluster", Name: "quorum_writes_exhausted_total",
			Help: "Uploads that could not reach write quorum.", ConstLabels: labels,
		}),
		QuorumFanOutDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crdtstore", Subsystem: "cluster", Name: "quorum_fanout_duration_seconds",
			Help: "Histogram of quorum fan-out durations.", ConstLabels: labels, Buckets: prometheus.DefBuckets,
		}),
		PartitionsHealthy: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "crdtstore", Subsystem: "cluster", Name: "partitions_healthy",
			Help: "Number of partitions currently marked healthy.", ConstLabels: labels,
		}),
		PartitionsDead: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "crdtstore", Subsystem: "cluster", Name: "partitions_dead",
			Help: "Number of partitions currently marked dead.", ConstLabels: labels,
		}),

		WALAppendsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtstore", Subsystem: "wal", Name: "appends_total",
			Help: "Total number of WAL appends.", ConstLabels: labels,
		}),
		WALAppendDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crdtstore", Subsystem: "wal", Name: "append_duration_seconds",
			Help: "Histogram of WAL append durations.", ConstLabels: labels, Buckets: prometheus.DefBuckets,
		}),
		WALSegmentsTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "crdtstore", Subsystem: "wal", Name: "segments_total",
			Help: "Current number of WAL segments on disk.", ConstLabels: labels,
		}),
		WALSegmentRotations: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtstore", Subsystem: "wal", Name: "segment_rotations_total",
			Help: "Total number of WAL segment rotations.", ConstLabels: labels,
		}),
		WALRecoveredRecords: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtstore", Subsystem: "wal", Name: "recovered_records_total",
			Help: "Total number of records replayed during WAL recovery.", ConstLabels: labels,
		}),
		WALHandoffFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtstore", Subsystem: "wal", Name: "handoff_failures_total",
			Help: "Total number of WAL segment handoffs that failed.", ConstLabels: labels,
		}),

		LocalStoreEntriesTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "crdtstore", Subsystem: "local", Name: "entries_total",
			Help: "Current number of distinct keys held by local storage.", ConstLabels: labels,
		}),
		LocalStoreChunksTotal: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "crdtstore", Subsystem: "local", Name: "chunks_total",
			Help: "Current number of on-disk chunks held by local storage.", ConstLabels: labels,
		}),
		ExtractionRunsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtstore", Subsystem: "local", Name: "extraction_runs_total",
			Help: "Total number of read-time GC extraction passes.", ConstLabels: labels,
		}),
		ExtractionTombstonesGC: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtstore", Subsystem: "local", Name: "extraction_tombstones_collected_total",
			Help: "Total number of tombstones collected during extraction.", ConstLabels: labels,
		}),

		RepairCyclesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtstore", Subsystem: "repair", Name: "cycles_total",
			Help: "Total number of anti-entropy repair cycles run.", ConstLabels: labels,
		}),
		RepairCycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crdtstore", Subsystem: "repair", Name: "cycle_duration_seconds",
			Help: "Histogram of repair cycle durations.", ConstLabels: labels, Buckets: prometheus.DefBuckets,
		}),
		RepairRecordsPulled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtstore", Subsystem: "repair", Name: "records_pulled_total",
			Help: "Total number of records pulled from a peer during repair.", ConstLabels: labels,
		}),
		RepairRebalancePushed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "crdtstore", Subsystem: "repair", Name: "rebalance_records_pushed_total",
			Help: "Total number of records pushed to a rebalancing target.", ConstLabels: labels,
		}),

		DiscoveryResolvesTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crdtstore", Subsystem: "discovery", Name: "resolves_total",
			Help: "Total number of scheme resolutions by backend kind.", ConstLabels: labels,
		}, []string{"kind"}),
		DiscoveryRevision: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "crdtstore", Subsystem: "discovery", Name: "scheme_revision",
			Help: "Current observed scheme revision.", ConstLabels: labels,
		}),

		RPCErrorsTotal: *promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crdtstore", Subsystem: "rpc", Name: "errors_total",
			Help: "Total number of RPC strategy send errors by kind.", ConstLabels: labels,
		}, []string{"kind"}),
	}
}

func (m *Metrics) RecordUpload(durationSeconds float64) {
	m.UploadRequestsTotal.Inc()
	m.UploadRequestsDuration.Observe(durationSeconds)
}

func (m *Metrics) RecordDownload(durationSeconds float64) {
	m.DownloadRequestsTotal.Inc()
	m.DownloadDuration.Observe(durationSeconds)
}

func (m *Metrics) RecordRemove() {
	m.RemoveRequestsTotal.Inc()
}

func (m *Metrics) RecordQuorumWrite(succeeded bool, durationSeconds float64) {
	if succeeded {
		m.QuorumWritesSucceeded.Inc()
	} else {
		m.QuorumWritesExhausted.Inc()
	}
	m.QuorumFanOutDuration.Observe(durationSeconds)
}

func (m *Metrics) UpdatePartitionHealth(healthy, dead int) {
	m.PartitionsHealthy.Set(float64(healthy))
	m.PartitionsDead.Set(float64(dead))
}

func (m *Metrics) RecordWALAppend(durationSeconds float64) {
	m.WALAppendsTotal.Inc()
	m.WALAppendDuration.Observe(durationSeconds)
}

func (m *Metrics) RecordWALRotation() {
	m.WALSegmentRotations.Inc()
}

func (m *Metrics) RecordWALRecovery(records int) {
	m.WALRecoveredRecords.Add(float64(records))
}

func (m *Metrics) RecordWALHandoffFailure() {
	m.WALHandoffFailures.Inc()
}

func (m *Metrics) UpdateLocalStoreStats(entries, chunks int) {
	m.LocalStoreEntriesTotal.Set(float64(entries))
	m.LocalStoreChunksTotal.Set(float64(chunks))
}

func (m *Metrics) RecordExtraction(tombstonesCollected int) {
	m.ExtractionRunsTotal.Inc()
	m.ExtractionTombstonesGC.Add(float64(tombstonesCollected))
}

func (m *Metrics) RecordRepairCycle(durationSeconds float64, recordsPulled int) {
	m.RepairCyclesTotal.Inc()
	m.RepairCycleDuration.Observe(durationSeconds)
	m.RepairRecordsPulled.Add(float64(recordsPulled))
}

func (m *Metrics) RecordRebalancePush(records int) {
	m.RepairRebalancePushed.Add(float64(records))
}

func (m *Metrics) RecordDiscoveryResolve(kind string) {
	m.DiscoveryResolvesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) UpdateDiscoveryRevision(revision int64) {
	m.DiscoveryRevision.Set(float64(revision))
}

func (m *Metrics) RecordRPCError(kind string) {
	m.RPCErrorsTotal.WithLabelValues(kind).Inc()
}
