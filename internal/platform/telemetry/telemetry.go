// Package telemetry records HTTP server metrics and application event
// counters, and serves them in the Prometheus text exposition format.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
)

// Event counters recorded by the portal.
const (
	EventLogin      = "logins_total"
	EventSignup     = "signups_total"
	EventPrediction = "predictions_total"
	EventRecord     = "records_added_total"
	EventAttachment = "attachments_served_total"
)

// eventHelp describes each event counter, and also fixes the label name used
// when it is exported.
var eventHelp = map[string][2]string{
	EventLogin:      {"result", "Login attempts by result."},
	EventSignup:     {"result", "Signup attempts by result."},
	EventPrediction: {"condition", "Symptom predictions by predicted condition."},
	EventRecord:     {"result", "Add-record submissions by result."},
	EventAttachment: {"disposition", "Attachments served by disposition."},
}

var defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// histogram is a thread-safe histogram with fixed bucket boundaries.
// Bucket counts are non-cumulative in storage; cumulative counts are computed
// at export time.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits, for atomic add
	mu           sync.Mutex
}

func newHistogram(boundaries []float64) *histogram {
	return &histogram{
		boundaries:   boundaries,
		bucketCounts: make([]int64, len(boundaries)),
	}
}

// Observe records a single value.
func (h *histogram) Observe(v float64) {
	atomic.AddInt64(&h.count, 1)
	atomicAddFloat64(&h.sum, v)

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
}

func (h *histogram) Count() int64 {
	return atomic.LoadInt64(&h.count)
}

func (h *histogram) Sum() float64 {
	return math.Float64frombits(atomic.LoadUint64(&h.sum))
}

func (h *histogram) cumulativeBuckets() []int64 {
	h.mu.Lock()
	raw := make([]int64, len(h.bucketCounts))
	copy(raw, h.bucketCounts)
	h.mu.Unlock()

	cum := make([]int64, len(raw))
	var running int64
	for i, c := range raw {
		running += c
		cum[i] = running
	}
	return cum
}

func atomicAddFloat64(addr *uint64, delta float64) {
	for {
		old := atomic.LoadUint64(addr)
		newVal := math.Float64frombits(old) + delta
		if atomic.CompareAndSwapUint64(addr, old, math.Float64bits(newVal)) {
			return
		}
	}
}

// Provider holds every metric of the process.
type Provider struct {
	mu        sync.RWMutex
	durations map[string]*histogram // method|route|status
	counters  map[string]*int64     // event|label
	active    int64
}

func NewProvider() *Provider {
	return &Provider{
		durations: make(map[string]*histogram),
		counters:  make(map[string]*int64),
	}
}

// LabelsKey builds the map key for a request duration histogram.
func LabelsKey(method, route, statusCode string) string {
	return method + "|" + route + "|" + statusCode
}

func (p *Provider) duration(key string) *histogram {
	p.mu.RLock()
	h, ok := p.durations[key]
	p.mu.RUnlock()
	if ok {
		return h
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok = p.durations[key]; !ok {
		h = newHistogram(defaultDurationBuckets)
		p.durations[key] = h
	}
	return h
}

// Count increments an event counter.
func (p *Provider) Count(event, label string) {
	key := event + "|" + label
	p.mu.RLock()
	c, ok := p.counters[key]
	p.mu.RUnlock()
	if ok {
		atomic.AddInt64(c, 1)
		return
	}
	p.mu.Lock()
	if c, ok = p.counters[key]; !ok {
		c = new(int64)
		p.counters[key] = c
	}
	p.mu.Unlock()
	atomic.AddInt64(c, 1)
}

// Counter returns the current value of an event counter.
func (p *Provider) Counter(event, label string) int64 {
	p.mu.RLock()
	c, ok := p.counters[event+"|"+label]
	p.mu.RUnlock()
	if !ok {
		return 0
	}
	return atomic.LoadInt64(c)
}

// MetricsMiddleware records request duration by method, route and status, and
// the number of in-flight requests.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&p.active, 1)
			defer atomic.AddInt64(&p.active, -1)

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			key := LabelsKey(c.Request().Method, route, fmt.Sprintf("%d", status))
			p.duration(key).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler serves all metrics in Prometheus text format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		p.mu.RLock()
		durations := make(map[string]*histogram, len(p.durations))
		for k, v := range p.durations {
			durations[k] = v
		}
		counters := make(map[string]int64, len(p.counters))
		for k, v := range p.counters {
			counters[k] = atomic.LoadInt64(v)
		}
		p.mu.RUnlock()

		const durName = "http_server_request_duration_seconds"
		fmt.Fprintf(&b, "# HELP %s Duration of HTTP requests in seconds.\n", durName)
		fmt.Fprintf(&b, "# TYPE %s histogram\n", durName)
		for _, key := range sortedKeys(durations) {
			parts := strings.SplitN(key, "|", 3)
			labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
			writeHistogram(&b, durName, labels, durations[key])
		}
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_active_requests Number of active HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", atomic.LoadInt64(&p.active))

		for _, event := range sortedKeys(eventHelp) {
			meta := eventHelp[event]
			name := "healthassist_" + event
			fmt.Fprintf(&b, "# HELP %s %s\n", name, meta[1])
			fmt.Fprintf(&b, "# TYPE %s counter\n", name)
			for _, key := range sortedKeys(counters) {
				parts := strings.SplitN(key, "|", 2)
				if parts[0] == event {
					fmt.Fprintf(&b, "%s{%s=%q} %d\n", name, meta[0], parts[1], counters[key])
				}
			}
			b.WriteByte('\n')
		}

		return c.String(http.StatusOK, b.String())
	}
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.Count())
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, h.Count())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
