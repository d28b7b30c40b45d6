package monitoring

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// PrometheusHandler returns an http.Handler serving Prometheus text format.
// Hand-rolled exposition keeps prometheus/client_golang out of the module;
// the metric set is small and write-only. Mount at "/metrics".
func (m *Monitor) PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(m.metrics.StartTime).Seconds()

		lines := []struct {
			name string
			help string
			typ  string
			val  interface{}
		}{
			{"kirogate_requests_total", "Total completion requests received", "counter", atomic.LoadUint64(&m.metrics.RequestsTotal)},
			{"kirogate_requests_success_total", "Completion requests that finished cleanly", "counter", atomic.LoadUint64(&m.metrics.RequestsSuccess)},
			{"kirogate_requests_failed_total", "Completion requests that returned an error", "counter", atomic.LoadUint64(&m.metrics.RequestsFailed)},

			{"kirogate_streams_active", "Streams currently open to clients", "gauge", atomic.LoadInt64(&m.metrics.StreamsActive)},

			{"kirogate_prompt_tokens_total", "Prompt tokens accounted across requests", "counter", atomic.LoadUint64(&m.metrics.PromptTokens)},
			{"kirogate_completion_tokens_total", "Completion tokens accounted across requests", "counter", atomic.LoadUint64(&m.metrics.CompletionTokens)},

			{"kirogate_tool_calls_total", "Tool calls surfaced to clients", "counter", atomic.LoadUint64(&m.metrics.ToolCallsTotal)},

			{"kirogate_token_refreshes_total", "Upstream access-token refreshes", "counter", atomic.LoadUint64(&m.metrics.TokenRefreshes)},
			{"kirogate_upstream_retries_total", "Upstream attempts beyond the first", "counter", atomic.LoadUint64(&m.metrics.UpstreamRetries)},

			{"kirogate_uptime_seconds", "Process uptime in seconds", "gauge", uptime},
			{"kirogate_memory_alloc_bytes", "Current heap allocation in bytes", "gauge", memStats.Alloc},
			{"kirogate_goroutines", "Number of goroutines", "gauge", runtime.NumGoroutine()},
		}

		for _, l := range lines {
			fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
			fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.typ)
			switch v := l.val.(type) {
			case uint64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int64:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case int:
				fmt.Fprintf(w, "%s %d\n", l.name, v)
			case float64:
				fmt.Fprintf(w, "%s %f\n", l.name, v)
			}
			fmt.Fprintln(w)
		}

		count := atomic.LoadUint64(&m.metrics.RequestLatencyCount)
		fmt.Fprintf(w, "# HELP kirogate_request_latency_avg_ms Mean request latency in milliseconds\n")
		fmt.Fprintf(w, "# TYPE kirogate_request_latency_avg_ms gauge\n")
		if count > 0 {
			avg := float64(atomic.LoadUint64(&m.metrics.RequestLatencySum)) / float64(count) / 1e6
			fmt.Fprintf(w, "kirogate_request_latency_avg_ms %f\n", avg)
		} else {
			fmt.Fprintf(w, "kirogate_request_latency_avg_ms 0\n")
		}
	})
}
