package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu             sync.Mutex
	requestCount   map[string]int64
	errorCount     map[string]int64
	safetyCount    map[string]int64
	safetyLatency  map[string]time.Duration
	safetyMax      time.Duration
	broadcastDrops int64
	sweeps         map[string]int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:  make(map[string]int64),
		errorCount:    make(map[string]int64),
		safetyCount:   make(map[string]int64),
		safetyLatency: make(map[string]time.Duration),
		sweeps:        make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// ObserveSafetyEvaluation records one gate evaluation by outcome reason.
func (m *Metrics) ObserveSafetyEvaluation(reason string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.safetyCount[reason]++
	m.safetyLatency[reason] += elapsed
	if elapsed > m.safetyMax {
		m.safetyMax = elapsed
	}
}

// RecordBroadcastDrop counts an event skipped for a lagging subscriber.
func (m *Metrics) RecordBroadcastDrop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcastDrops++
}

// RecordSweep counts records transitioned by a background sweep.
func (m *Metrics) RecordSweep(kind string, transitioned int) {
	if m == nil || transitioned == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweeps[kind] += int64(transitioned)
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Requests          map[string]int64 `json:"requests"`
	Errors            map[string]int64 `json:"errors"`
	SafetyEvaluations map[string]int64 `json:"safety_evaluations"`
	SafetyAvgMicros   map[string]int64 `json:"safety_avg_micros"`
	SafetyMaxMicros   int64            `json:"safety_max_micros"`
	BroadcastDrops    int64            `json:"broadcast_drops"`
	Sweeps            map[string]int64 `json:"sweeps"`
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := MetricsSnapshot{
		Requests:          copyCounts(m.requestCount),
		Errors:            copyCounts(m.errorCount),
		SafetyEvaluations: copyCounts(m.safetyCount),
		SafetyAvgMicros:   make(map[string]int64, len(m.safetyLatency)),
		SafetyMaxMicros:   m.safetyMax.Microseconds(),
		BroadcastDrops:    m.broadcastDrops,
		Sweeps:            copyCounts(m.sweeps),
	}
	for reason, total := range m.safetyLatency {
		if count := m.safetyCount[reason]; count > 0 {
			snap.SafetyAvgMicros[reason] = total.Microseconds() / count
		}
	}
	return snap
}

func copyCounts(src map[string]int64) map[string]int64 {
	dst := make(map[string]int64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
