// Package telemetry records HTTP and report-access metrics and exposes them
// in the Prometheus text exposition format. It uses only standard library
// constructs, so no metrics SDK is linked into the binary.
package telemetry

import (
	"fmt"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/metabolic-panel/internal/platform/middleware"
)

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// histogram is a thread-safe histogram with fixed bucket boundaries. Bucket
// counts are stored non-cumulative; cumulative counts are computed at export.
type histogram struct {
	boundaries   []float64
	bucketCounts []int64
	count        int64
	sum          uint64 // math.Float64bits, updated with CAS
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
	for {
		old := atomic.LoadUint64(&h.sum)
		next := math.Float64bits(math.Float64frombits(old) + v)
		if atomic.CompareAndSwapUint64(&h.sum, old, next) {
			break
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.boundaries {
		if v <= b {
			h.bucketCounts[i]++
			return
		}
	}
	// Above every boundary: only the +Inf bucket, which is the total count.
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

	var running int64
	for i, c := range raw {
		running += c
		raw[i] = running
	}
	return raw
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// durationBuckets are the request duration boundaries in seconds. Report
// generation includes PDF assembly, so the upper buckets matter.
var durationBuckets = []float64{
	0.005, 0.010, 0.025, 0.050, 0.100, 0.250, 0.500, 1.0, 2.5, 5.0,
}

// Metrics holds every metric the service exports.
type Metrics struct {
	activeRequests int64

	durMu     sync.RWMutex
	durations map[string]*histogram // method|route|status

	accessMu sync.Mutex
	access   map[string]int64 // action|status
}

// New creates an empty metrics registry.
func New() *Metrics {
	return &Metrics{
		durations: make(map[string]*histogram),
		access:    make(map[string]int64),
	}
}

// LabelsKey builds the key of a labeled duration histogram.
func LabelsKey(method, route string, status int) string {
	return method + "|" + route + "|" + strconv.Itoa(status)
}

func (m *Metrics) duration(key string) *histogram {
	m.durMu.RLock()
	h, ok := m.durations[key]
	m.durMu.RUnlock()
	if ok {
		return h
	}
	m.durMu.Lock()
	defer m.durMu.Unlock()
	if h, ok = m.durations[key]; !ok {
		h = newHistogram(durationBuckets)
		m.durations[key] = h
	}
	return h
}

// RequestCount returns how many requests were observed for a label set.
func (m *Metrics) RequestCount(method, route string, status int) int64 {
	m.durMu.RLock()
	defer m.durMu.RUnlock()
	if h, ok := m.durations[LabelsKey(method, route, status)]; ok {
		return h.Count()
	}
	return 0
}

// ActiveRequests returns the number of requests currently in flight.
func (m *Metrics) ActiveRequests() int64 {
	return atomic.LoadInt64(&m.activeRequests)
}

// RecordAccess counts report accesses by action and status. It satisfies
// middleware.AuditRecorder.
func (m *Metrics) RecordAccess(entry middleware.AuditEntry) error {
	key := entry.Action + "|" + strconv.Itoa(entry.StatusCode)
	m.accessMu.Lock()
	m.access[key]++
	m.accessMu.Unlock()
	return nil
}

// AccessCount returns the report access counter for action and status.
func (m *Metrics) AccessCount(action string, status int) int64 {
	m.accessMu.Lock()
	defer m.accessMu.Unlock()
	return m.access[action+"|"+strconv.Itoa(status)]
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

// Middleware records the duration of every request by method, route pattern
// and final status. Mounted outside the access logger, the error response has
// already been written when the status is read.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			atomic.AddInt64(&m.activeRequests, 1)
			defer atomic.AddInt64(&m.activeRequests, -1)

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if !c.Response().Committed && err != nil {
				status = http.StatusInternalServerError
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.duration(LabelsKey(c.Request().Method, route, status)).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// Prometheus exposition
// ---------------------------------------------------------------------------

// PrometheusHandler serves the metrics in text exposition format.
func (m *Metrics) PrometheusHandler() echo.HandlerFunc {
	return func(c echo.Context) error {
		var b strings.Builder

		b.WriteString("# HELP http_server_request_duration_seconds Duration of HTTP requests in seconds.\n")
		b.WriteString("# TYPE http_server_request_duration_seconds histogram\n")
		m.durMu.RLock()
		keys := make([]string, 0, len(m.durations))
		for k := range m.durations {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts := strings.SplitN(k, "|", 3)
			labels := fmt.Sprintf("method=%q,route=%q,status_code=%q", parts[0], parts[1], parts[2])
			writeHistogram(&b, "http_server_request_duration_seconds", labels, m.durations[k])
		}
		m.durMu.RUnlock()
		b.WriteByte('\n')

		b.WriteString("# HELP http_server_active_requests Number of in-flight HTTP requests.\n")
		b.WriteString("# TYPE http_server_active_requests gauge\n")
		fmt.Fprintf(&b, "http_server_active_requests %d\n\n", m.ActiveRequests())

		b.WriteString("# HELP report_access_total Report generations and downloads by outcome.\n")
		b.WriteString("# TYPE report_access_total counter\n")
		m.accessMu.Lock()
		keys = keys[:0]
		for k := range m.access {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts := strings.SplitN(k, "|", 2)
			fmt.Fprintf(&b, "report_access_total{action=%q,status_code=%q} %d\n", parts[0], parts[1], m.access[k])
		}
		m.accessMu.Unlock()

		return c.Blob(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
	}
}

func writeHistogram(b *strings.Builder, name, labels string, h *histogram) {
	cum := h.cumulativeBuckets()
	total := h.Count()
	for i, boundary := range h.boundaries {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%g\"} %d\n", name, labels, boundary, cum[i])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, total)
	fmt.Fprintf(b, "%s_sum{%s} %g\n", name, labels, h.Sum())
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, total)
}
