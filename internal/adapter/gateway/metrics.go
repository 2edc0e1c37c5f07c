package gateway

import (
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"sync"
	"time"

	"agent-market/internal/domain"
)

// Metrics counts gateway calls per method and failures per error code.
type Metrics struct {
	start  time.Time
	mu     sync.Mutex
	calls  map[string]int64
	errors map[string]int64 // "method code" -> count
}

// NewMetrics creates an empty counter set.
func NewMetrics() *Metrics {
	return &Metrics{
		start:  time.Now(),
		calls:  make(map[string]int64),
		errors: make(map[string]int64),
	}
}

func (m *Metrics) observe(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[method]++
	if err != nil {
		m.errors[method+" "+string(domain.ErrorCodeOf(err))]++
	}
}

// Calls returns the number of calls recorded for method.
func (m *Metrics) Calls(method string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Errors returns the number of failed calls for method with the given code.
func (m *Metrics) Errors(method string, code domain.ErrorCode) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[method+" "+string(code)]
}

// metricsHandler serves GET /metrics in the Prometheus text format.
func metricsHandler(m *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		m.mu.Lock()
		calls := sortedKeys(m.calls)
		errs := sortedKeys(m.errors)

		fmt.Fprintf(w, "# HELP market_calls_total Gateway calls by method.\n")
		fmt.Fprintf(w, "# TYPE market_calls_total counter\n")
		for _, method := range calls {
			fmt.Fprintf(w, "market_calls_total{method=%q} %d\n", method, m.calls[method])
		}

		fmt.Fprintf(w, "# HELP market_errors_total Failed gateway calls by method and code.\n")
		fmt.Fprintf(w, "# TYPE market_errors_total counter\n")
		for _, key := range errs {
			var method, code string
			fmt.Sscanf(key, "%s %s", &method, &code)
			fmt.Fprintf(w, "market_errors_total{method=%q,code=%q} %d\n", method, code, m.errors[key])
		}
		m.mu.Unlock()

		fmt.Fprintf(w, "# HELP market_uptime_seconds Seconds since the gateway started.\n")
		fmt.Fprintf(w, "# TYPE market_uptime_seconds gauge\n")
		fmt.Fprintf(w, "market_uptime_seconds %.0f\n", time.Since(m.start).Seconds())

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		fmt.Fprintf(w, "# HELP go_goroutines Number of goroutines.\n")
		fmt.Fprintf(w, "# TYPE go_goroutines gauge\n")
		fmt.Fprintf(w, "go_goroutines %d\n", runtime.NumGoroutine())

		fmt.Fprintf(w, "# HELP go_memstats_alloc_bytes Bytes of allocated heap objects.\n")
		fmt.Fprintf(w, "# TYPE go_memstats_alloc_bytes gauge\n")
		fmt.Fprintf(w, "go_memstats_alloc_bytes %d\n", mem.Alloc)
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
