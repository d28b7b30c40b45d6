package monitoring

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics holds the gateway counters. All mutation is atomic; the struct is
// read by the Prometheus handler.
type Metrics struct {
	RequestsTotal   uint64
	RequestsSuccess uint64
	RequestsFailed  uint64

	StreamsActive int64

	PromptTokens     uint64
	CompletionTokens uint64

	ToolCallsTotal uint64

	TokenRefreshes  uint64
	UpstreamRetries uint64

	RequestLatencySum   uint64 // nanoseconds
	RequestLatencyCount uint64

	StartTime time.Time
}

// Monitor collects runtime metrics for the gateway.
type Monitor struct {
	metrics *Metrics
	logger  *zap.Logger
}

// NewMonitor builds a monitor.
func NewMonitor(logger *zap.Logger) *Monitor {
	return &Monitor{
		metrics: &Metrics{StartTime: time.Now()},
		logger:  logger,
	}
}

func (m *Monitor) IncRequestTotal()   { atomic.AddUint64(&m.metrics.RequestsTotal, 1) }
func (m *Monitor) IncRequestSuccess() { atomic.AddUint64(&m.metrics.RequestsSuccess, 1) }
func (m *Monitor) IncRequestFailed()  { atomic.AddUint64(&m.metrics.RequestsFailed, 1) }
func (m *Monitor) IncTokenRefresh()   { atomic.AddUint64(&m.metrics.TokenRefreshes, 1) }
func (m *Monitor) IncUpstreamRetry()  { atomic.AddUint64(&m.metrics.UpstreamRetries, 1) }

func (m *Monitor) StreamStarted() { atomic.AddInt64(&m.metrics.StreamsActive, 1) }
func (m *Monitor) StreamEnded()   { atomic.AddInt64(&m.metrics.StreamsActive, -1) }

func (m *Monitor) AddPromptTokens(n int) {
	if n > 0 {
		atomic.AddUint64(&m.metrics.PromptTokens, uint64(n))
	}
}

func (m *Monitor) AddCompletionTokens(n int) {
	if n > 0 {
		atomic.AddUint64(&m.metrics.CompletionTokens, uint64(n))
	}
}

func (m *Monitor) AddToolCalls(n int) {
	if n > 0 {
		atomic.AddUint64(&m.metrics.ToolCallsTotal, uint64(n))
	}
}

func (m *Monitor) RecordRequestLatency(d time.Duration) {
	atomic.AddUint64(&m.metrics.RequestLatencySum, uint64(d.Nanoseconds()))
	atomic.AddUint64(&m.metrics.RequestLatencyCount, 1)
}

// Uptime reports time since construction.
func (m *Monitor) Uptime() time.Duration {
	return time.Since(m.metrics.StartTime)
}
