// Package metrics is a small Prometheus-compatible registry for the relay
// bot. It renders the text exposition format directly.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felii30/angel-and-mortal-bot/internal/domain"
)

// Default is the process-wide registry.
var Default = NewRegistry()

// Registry aggregates counters, gauges, and histograms.
type Registry struct {
	mu         sync.Mutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
	startTime  time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		startTime:  time.Now(),
	}
}

// Uptime returns how long the registry has existed.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.startTime)
}

type series struct {
	name   string
	help   string
	labels string
}

func (s series) key() string { return s.name + "{" + s.labels + "}" }

// Counter is a monotonically increasing counter.
type Counter struct {
	series
	value atomic.Int64
}

func (c *Counter) Inc() { c.value.Add(1) }
func (c *Counter) Add(n int64) { c.value.Add(n) }
func (c *Counter) Value() int64 { return c.value.Load() }

// Gauge is a value that can go up and down.
type Gauge struct {
	series
	value atomic.Int64
}

func (g *Gauge) Set(v int64) { g.value.Store(v) }
func (g *Gauge) Value() int64 { return g.value.Load() }

// Histogram tracks the distribution of observed values.
type Histogram struct {
	series
	mu      sync.Mutex
	count   int64
	sum     float64
	bounds  []float64
	buckets []int64
}

func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	for i, le := range h.bounds {
		if v <= le {
			h.buckets[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Counter returns or creates a counter.
func (r *Registry) Counter(name, help, labels string) *Counter {
	s := series{name, help, labels}
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.counters[s.key()]; ok {
		return c
	}
	c := &Counter{series: s}
	r.counters[s.key()] = c
	return c
}

// Gauge returns or creates a gauge.
func (r *Registry) Gauge(name, help, labels string) *Gauge {
	s := series{name, help, labels}
	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.gauges[s.key()]; ok {
		return g
	}
	g := &Gauge{series: s}
	r.gauges[s.key()] = g
	return g
}

// Histogram returns or creates a histogram with the given upper bounds.
func (r *Registry) Histogram(name, help, labels string, bounds []float64) *Histogram {
	s := series{name, help, labels}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.histograms[s.key()]; ok {
		return h
	}
	sorted := append([]float64(nil), bounds...)
	sort.Float64s(sorted)
	if len(sorted) == 0 || !math.IsInf(sorted[len(sorted)-1], 1) {
		sorted = append(sorted, math.Inf(1))
	}
	h := &Histogram{series: s, bounds: sorted, buckets: make([]int64, len(sorted))}
	r.histograms[s.key()] = h
	return h
}

// WriteText renders every series in Prometheus text format, sorted by name.
func (r *Registry) WriteText(w io.Writer) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# HELP angelbot_uptime_seconds Time since start in seconds\n")
	fmt.Fprintf(&sb, "# TYPE angelbot_uptime_seconds gauge\n")
	fmt.Fprintf(&sb, "angelbot_uptime_seconds %d\n", int64(r.Uptime().Seconds()))

	r.mu.Lock()
	counters := sortedValues(r.counters)
	gauges := sortedValues(r.gauges)
	histograms := sortedValues(r.histograms)
	r.mu.Unlock()

	written := make(map[string]bool)
	header := func(s series, kind string) {
		if written[s.name] {
			return
		}
		written[s.name] = true
		fmt.Fprintf(&sb, "# HELP %s %s\n# TYPE %s %s\n", s.name, s.help, s.name, kind)
	}

	for _, c := range counters {
		header(c.series, "counter")
		fmt.Fprintf(&sb, "%s %d\n", sampleName(c.name, c.labels), c.Value())
	}
	for _, g := range gauges {
		header(g.series, "gauge")
		fmt.Fprintf(&sb, "%s %d\n", sampleName(g.name, g.labels), g.Value())
	}
	for _, h := range histograms {
		header(h.series, "histogram")
		h.mu.Lock()
		for i, le := range h.bounds {
			bound := fmt.Sprintf("%g", le)
			if math.IsInf(le, 1) {
				bound = "+Inf"
			}
			labels := `le="` + bound + `"`
			if h.labels != "" {
				labels = h.labels + "," + labels
			}
			fmt.Fprintf(&sb, "%s_bucket{%s} %d\n", h.name, labels, h.buckets[i])
		}
		fmt.Fprintf(&sb, "%s %d\n", sampleName(h.name+"_count", h.labels), h.count)
		fmt.Fprintf(&sb, "%s %f\n", sampleName(h.name+"_sum", h.labels), h.sum)
		h.mu.Unlock()
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

// Handler serves the registry in Prometheus text format.
func (r *Registry) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_ = r.WriteText(w)
	}
}

// Serve exposes the registry on addr+path until ctx is cancelled.
func (r *Registry) Serve(ctx context.Context, addr, path string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle(path, r.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics endpoint listening", "addr", addr, "path", path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func sampleName(name, labels string) string {
	if labels == "" {
		return name
	}
	return name + "{" + labels + "}"
}

type keyed interface {
	*Counter | *Gauge | *Histogram
}

func sortedValues[T keyed](m map[string]T) []T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// --- Relay metrics ---

var (
	UpdatesTotal     = Default.Counter("angelbot_updates_total", "Inbound updates handled", "")
	AngelDeliveries  = Default.Counter("angelbot_deliveries_total", "Messages relayed by recipient role", `role="angel"`)
	MortalDeliveries = Default.Counter("angelbot_deliveries_total", "Messages relayed by recipient role", `role="mortal"`)
	DeliveryFailures = Default.Counter("angelbot_delivery_failures_total", "Relays that failed at the transport", "")
	RateLimited      = Default.Counter("angelbot_rate_limited_total", "Send attempts rejected by the rate limiter", "")
	Registrations    = Default.Counter("angelbot_registrations_total", "Successful /start registrations", "")
	ActiveSessions   = Default.Gauge("angelbot_active_sessions", "Chats in a non-idle conversation state", "")

	DeliveryLatency = Default.Histogram("angelbot_delivery_latency_seconds", "Transport latency of relayed messages", "",
		[]float64{0.1, 0.25, 0.5, 1, 2, 5, 10})
)

// Deliveries returns the delivery counter for recipients holding role r.
func Deliveries(r domain.Role) *Counter {
	if r == domain.RoleAngel {
		return AngelDeliveries
	}
	return MortalDeliveries
}
