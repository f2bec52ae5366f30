// Package monitor tracks runtime health of the trading loop.
package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// SystemMetrics tracks overall bot performance.
type SystemMetrics struct {
	// Latency histograms
	CycleLatency *LatencyHistogram
	FetchLatency *LatencyHistogram
	OrderLatency *LatencyHistogram
	APILatency   *LatencyHistogram

	// Counters
	cyclesRun        uint64
	signalsGenerated uint64
	ordersPlaced     uint64
	ordersFailed     uint64
	positionsOpened  uint64
	positionsClosed  uint64
	errorsCount      uint64
	apiRequests      uint64
	apiErrors        uint64

	reasonMu       sync.Mutex
	closesByReason map[string]uint64
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		CycleLatency:   NewLatencyHistogram(1000),
		FetchLatency:   NewLatencyHistogram(1000),
		OrderLatency:   NewLatencyHistogram(1000),
		APILatency:     NewLatencyHistogram(1000),
		closesByReason: make(map[string]uint64),
	}
}

// LatencyHistogram tracks latency samples with a sliding window and lazy
// stats computation.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// Stats returns min, max, avg, p50, p95, p99. Recomputes only when samples
// have changed since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	p95 := int(float64(n) * 0.95)
	p99 := int(float64(n) * 0.99)
	if p95 >= n {
		p95 = n - 1
	}
	if p99 >= n {
		p99 = n - 1
	}

	h.cachedStats = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[p95],
		P99:   sorted[p99],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// IncrementCycles counts one completed loop cycle.
func (m *SystemMetrics) IncrementCycles() {
	atomic.AddUint64(&m.cyclesRun, 1)
}

// IncrementSignals counts one non-none generator signal.
func (m *SystemMetrics) IncrementSignals() {
	atomic.AddUint64(&m.signalsGenerated, 1)
}

// IncrementOrdersPlaced counts one accepted order.
func (m *SystemMetrics) IncrementOrdersPlaced() {
	atomic.AddUint64(&m.ordersPlaced, 1)
}

// IncrementOrdersFailed counts one rejected or failed order.
func (m *SystemMetrics) IncrementOrdersFailed() {
	atomic.AddUint64(&m.ordersFailed, 1)
}

// IncrementOpens counts one registered open.
func (m *SystemMetrics) IncrementOpens() {
	atomic.AddUint64(&m.positionsOpened, 1)
}

// IncrementCloses counts one registered close, bucketed by close reason.
func (m *SystemMetrics) IncrementCloses(reason string) {
	atomic.AddUint64(&m.positionsClosed, 1)
	m.reasonMu.Lock()
	m.closesByReason[reason]++
	m.reasonMu.Unlock()
}

// IncrementErrors counts one cycle error.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// IncrementAPI counts one handled HTTP request.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors counts one HTTP request answered with a 4xx or 5xx.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// MetricsSnapshot is a point-in-time view for the API.
type MetricsSnapshot struct {
	CycleLatency     LatencyStats      `json:"cycle_latency"`
	FetchLatency     LatencyStats      `json:"fetch_latency"`
	OrderLatency     LatencyStats      `json:"order_latency"`
	APILatency       LatencyStats      `json:"api_latency"`
	CyclesRun        uint64            `json:"cycles_run"`
	SignalsGenerated uint64            `json:"signals_generated"`
	OrdersPlaced     uint64            `json:"orders_placed"`
	OrdersFailed     uint64            `json:"orders_failed"`
	PositionsOpened  uint64            `json:"positions_opened"`
	PositionsClosed  uint64            `json:"positions_closed"`
	ErrorsCount      uint64            `json:"errors_count"`
	ClosesByReason   map[string]uint64 `json:"closes_by_reason"`
	APIRequests      uint64            `json:"api_requests"`
	APIErrors        uint64            `json:"api_errors"`
	GoroutineCount   int               `json:"goroutine_count"`
	HeapAlloc        uint64            `json:"heap_alloc_bytes"`
	HeapSys          uint64            `json:"heap_sys_bytes"`
	Timestamp        time.Time         `json:"timestamp"`
}

func (m *SystemMetrics) closeReasonCounts() map[string]uint64 {
	m.reasonMu.Lock()
	defer m.reasonMu.Unlock()
	out := make(map[string]uint64, len(m.closesByReason))
	for k, v := range m.closesByReason {
		out[k] = v
	}
	return out
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return MetricsSnapshot{
		CycleLatency:     m.CycleLatency.Stats(),
		FetchLatency:     m.FetchLatency.Stats(),
		OrderLatency:     m.OrderLatency.Stats(),
		APILatency:       m.APILatency.Stats(),
		CyclesRun:        atomic.LoadUint64(&m.cyclesRun),
		SignalsGenerated: atomic.LoadUint64(&m.signalsGenerated),
		OrdersPlaced:     atomic.LoadUint64(&m.ordersPlaced),
		OrdersFailed:     atomic.LoadUint64(&m.ordersFailed),
		PositionsOpened:  atomic.LoadUint64(&m.positionsOpened),
		PositionsClosed:  atomic.LoadUint64(&m.positionsClosed),
		ErrorsCount:      atomic.LoadUint64(&m.errorsCount),
		ClosesByReason:   m.closeReasonCounts(),
		APIRequests:      atomic.LoadUint64(&m.apiRequests),
		APIErrors:        atomic.LoadUint64(&m.apiErrors),
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		HeapSys:          memStats.HeapSys,
		Timestamp:        time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records elapsed time to the histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
