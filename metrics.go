package nvme

import (
	"sync/atomic"
	"time"

	"github.com/behrlich/go-nvme-queue/internal/queue"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// logarithmically spaced from 1us to 10s.
var LatencyBuckets = []uint64{
	1_000,
	10_000,
	100_000,
	1_000_000,
	10_000_000,
	100_000_000,
	1_000_000_000,
	10_000_000_000,
}

const numLatencyBuckets = 8

// Metrics tracks per-queue-pair operation counters and latency.
type Metrics struct {
	ReadOps    atomic.Uint64
	WriteOps   atomic.Uint64
	FlushOps   atomic.Uint64
	DiscardOps atomic.Uint64

	ReadBytes    atomic.Uint64
	WriteBytes   atomic.Uint64
	DiscardBytes atomic.Uint64

	ReadErrors    atomic.Uint64
	WriteErrors   atomic.Uint64
	FlushErrors   atomic.Uint64
	DiscardErrors atomic.Uint64

	TotalLatencyNs atomic.Uint64
	OpCount        atomic.Uint64

	LatencyBucketCounts [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

func (m *Metrics) record(kind queue.CmdKind, bytes int, latencyNs uint64, success bool) {
	switch kind {
	case queue.CmdRead:
		m.ReadOps.Add(1)
		if success {
			m.ReadBytes.Add(uint64(bytes))
		} else {
			m.ReadErrors.Add(1)
		}
	case queue.CmdWrite:
		m.WriteOps.Add(1)
		if success {
			m.WriteBytes.Add(uint64(bytes))
		} else {
			m.WriteErrors.Add(1)
		}
	case queue.CmdFlush:
		m.FlushOps.Add(1)
		if !success {
			m.FlushErrors.Add(1)
		}
	case queue.CmdDiscard:
		m.DiscardOps.Add(1)
		if success {
			m.DiscardBytes.Add(uint64(bytes))
		} else {
			m.DiscardErrors.Add(1)
		}
	}
	m.recordLatency(latencyNs)
}

func (m *Metrics) recordLatency(latencyNs uint64) {
	m.TotalLatencyNs.Add(latencyNs)
	m.OpCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyBucketCounts[i].Add(1)
		}
	}
}

// Stop marks the queue pair as stopped for uptime accounting.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics plus derived rates.
type MetricsSnapshot struct {
	ReadOps    uint64
	WriteOps   uint64
	FlushOps   uint64
	DiscardOps uint64

	ReadBytes    uint64
	WriteBytes   uint64
	DiscardBytes uint64

	ReadErrors    uint64
	WriteErrors   uint64
	FlushErrors   uint64
	DiscardErrors uint64

	AvgLatencyNs uint64
	UptimeNs     uint64

	LatencyHistogram [numLatencyBuckets]uint64

	ReadIOPS       float64
	WriteIOPS      float64
	ReadBandwidth  float64
	WriteBandwidth float64
	TotalOps       uint64
	TotalBytes     uint64
	ErrorRate      float64
}

// Snapshot returns a consistent point-in-time view of the metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		ReadOps:       m.ReadOps.Load(),
		WriteOps:      m.WriteOps.Load(),
		FlushOps:      m.FlushOps.Load(),
		DiscardOps:    m.DiscardOps.Load(),
		ReadBytes:     m.ReadBytes.Load(),
		WriteBytes:    m.WriteBytes.Load(),
		DiscardBytes:  m.DiscardBytes.Load(),
		ReadErrors:    m.ReadErrors.Load(),
		WriteErrors:   m.WriteErrors.Load(),
		FlushErrors:   m.FlushErrors.Load(),
		DiscardErrors: m.DiscardErrors.Load(),
	}

	snap.TotalOps = snap.ReadOps + snap.WriteOps + snap.FlushOps + snap.DiscardOps
	snap.TotalBytes = snap.ReadBytes + snap.WriteBytes + snap.DiscardBytes

	opCount := m.OpCount.Load()
	if opCount > 0 {
		snap.AvgLatencyNs = m.TotalLatencyNs.Load() / opCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		seconds := float64(snap.UptimeNs) / 1e9
		snap.ReadIOPS = float64(snap.ReadOps) / seconds
		snap.WriteIOPS = float64(snap.WriteOps) / seconds
		snap.ReadBandwidth = float64(snap.ReadBytes) / seconds
		snap.WriteBandwidth = float64(snap.WriteBytes) / seconds
	}

	totalErrors := snap.ReadErrors + snap.WriteErrors + snap.FlushErrors + snap.DiscardErrors
	if snap.TotalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(snap.TotalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyBucketCounts[i].Load()
	}

	return snap
}

// Reset zeroes all counters, useful between test cases.
func (m *Metrics) Reset() {
	m.ReadOps.Store(0)
	m.WriteOps.Store(0)
	m.FlushOps.Store(0)
	m.DiscardOps.Store(0)
	m.ReadBytes.Store(0)
	m.WriteBytes.Store(0)
	m.DiscardBytes.Store(0)
	m.ReadErrors.Store(0)
	m.WriteErrors.Store(0)
	m.FlushErrors.Store(0)
	m.DiscardErrors.Store(0)
	m.TotalLatencyNs.Store(0)
	m.OpCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyBucketCounts[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// MetricsObserver adapts Metrics to internal/queue.Observer so the
// façade can record submissions and completions without depending on
// the root package.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver wraps m as a queue.Observer.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSubmit(queue.CmdKind) {}

func (o *MetricsObserver) ObserveCompletion(kind queue.CmdKind, bytes int, latency time.Duration, err error) {
	o.metrics.record(kind, bytes, uint64(latency.Nanoseconds()), err == nil)
}

var _ queue.Observer = (*MetricsObserver)(nil)
