package websocket

import (
	"sync/atomic"
	"time"
)

// Metrics collects lightweight client counters and latency stats.
type Metrics struct {
	published       uint64
	queued          uint64
	queueDrops      uint64
	flushed         uint64
	delivered       uint64
	decodeErrors    uint64
	opens           uint64
	losses          uint64
	connectTimeouts uint64
	requestTimeouts uint64
	heartbeatMisses uint64

	dialLatency    LatencyStats
	requestLatency LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	Published       uint64
	Queued          uint64
	QueueDrops      uint64
	Flushed         uint64
	Delivered       uint64
	DecodeErrors    uint64
	Opens           uint64
	Losses          uint64
	ConnectTimeouts uint64
	RequestTimeouts uint64
	HeartbeatMisses uint64
	DialLatency     LatencySnapshot
	RequestLatency  LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) inc(counter *uint64) {
	if m == nil {
		return
	}
	atomic.AddUint64(counter, 1)
}

func (m *Metrics) add(counter *uint64, n int) {
	if m == nil || n <= 0 {
		return
	}
	atomic.AddUint64(counter, uint64(n))
}

// ObserveDial measures how long a successful transport open took.
func (m *Metrics) ObserveDial(d time.Duration) {
	if m == nil {
		return
	}
	m.dialLatency.Observe(d)
}

// ObserveRequest measures a request/response round trip.
func (m *Metrics) ObserveRequest(d time.Duration) {
	if m == nil {
		return
	}
	m.requestLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		Published:       atomic.LoadUint64(&m.published),
		Queued:          atomic.LoadUint64(&m.queued),
		QueueDrops:      atomic.LoadUint64(&m.queueDrops),
		Flushed:         atomic.LoadUint64(&m.flushed),
		Delivered:       atomic.LoadUint64(&m.delivered),
		DecodeErrors:    atomic.LoadUint64(&m.decodeErrors),
		Opens:           atomic.LoadUint64(&m.opens),
		Losses:          atomic.LoadUint64(&m.losses),
		ConnectTimeouts: atomic.LoadUint64(&m.connectTimeouts),
		RequestTimeouts: atomic.LoadUint64(&m.requestTimeouts),
		HeartbeatMisses: atomic.LoadUint64(&m.heartbeatMisses),
		DialLatency:     m.dialLatency.Snapshot(),
		RequestLatency:  m.requestLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
