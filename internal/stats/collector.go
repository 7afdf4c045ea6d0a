// Package stats exposes prometheus metrics for the detection pipeline and
// the HTTP surface, plus an in-process summary for status endpoints.
package stats

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"piiguard/internal/detect"
)

const namespace = "piiguard"

type Stats struct {
	Status        string         `json:"status"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Predictions   int64          `json:"predictions"`
	Entities      EntityStats    `json:"entities"`
	Detectors     []DetectorStat `json:"detectors"`
}

type EntityStats struct {
	Total   int            `json:"total"`
	ByLabel map[string]int `json:"by_label"`
}

type DetectorStat struct {
	Name        string  `json:"name"`
	Calls       int64   `json:"calls"`
	Errors      int64   `json:"errors"`
	Spans       int64   `json:"spans"`
	SkippedRows int64   `json:"skipped_rows"`
	AvgMs       float64 `json:"avg_ms"`
}

type detectorTotals struct {
	calls, errors, spans, skipped int64
	elapsed                       time.Duration
}

// Collector implements detect.Recorder. It owns its registry so tests and
// multiple servers in one process do not collide.
type Collector struct {
	registry *prometheus.Registry
	started  time.Time

	detectorDuration *prometheus.HistogramVec
	detectorSpans    *prometheus.CounterVec
	skippedRows      *prometheus.CounterVec
	detectorErrors   *prometheus.CounterVec
	entities         *prometheus.CounterVec
	predictions      prometheus.Counter
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec

	mu          sync.Mutex
	detectors   map[string]*detectorTotals
	byLabel     map[string]int
	predictCnt  int64
	entityCount int
}

func NewCollector() *Collector {
	c := &Collector{
		registry:  prometheus.NewRegistry(),
		started:   time.Now(),
		detectors: map[string]*detectorTotals{},
		byLabel:   map[string]int{},
		detectorDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detector_duration_seconds",
			Help:      "Time spent in one detector for one text.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"detector"}),
		detectorSpans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_spans_total",
			Help:      "Candidate spans produced per detector.",
		}, []string{"detector"}),
		skippedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_skipped_rows_total",
			Help:      "Malformed backend rows ignored during decoding.",
		}, []string{"detector"}),
		detectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_errors_total",
			Help:      "Detector failures.",
		}, []string{"detector"}),
		entities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "entities_total",
			Help:      "Entities returned, by label.",
		}, []string{"label"}),
		predictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "predictions_total",
			Help:      "Completed predictions.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
	c.registry.MustRegister(
		c.detectorDuration, c.detectorSpans, c.skippedRows, c.detectorErrors,
		c.entities, c.predictions, c.httpRequests, c.httpDuration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{Namespace: namespace}),
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (c *Collector) ObserveDetector(name string, elapsed time.Duration, spans, skipped int, err error) {
	c.detectorDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		c.detectorErrors.WithLabelValues(name).Inc()
	} else {
		c.detectorSpans.WithLabelValues(name).Add(float64(spans))
		c.skippedRows.WithLabelValues(name).Add(float64(skipped))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.detectors[name]
	if !ok {
		t = &detectorTotals{}
		c.detectors[name] = t
	}
	t.calls++
	t.elapsed += elapsed
	if err != nil {
		t.errors++
		return
	}
	t.spans += int64(spans)
	t.skipped += int64(skipped)
}

func (c *Collector) ObserveEntities(entities []detect.Entity) {
	c.predictions.Inc()
	for _, e := range entities {
		c.entities.WithLabelValues(e.Label).Inc()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.predictCnt++
	for _, e := range entities {
		c.byLabel[e.Label]++
		c.entityCount++
	}
}

// ObserveHTTP records one served request. route is the matched pattern,
// never the raw path.
func (c *Collector) ObserveHTTP(route, method string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// Snapshot summarises counters since start-up.
func (c *Collector) Snapshot(status string) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := Stats{
		Status:        status,
		UptimeSeconds: int64(time.Since(c.started).Seconds()),
		Predictions:   c.predictCnt,
		Entities:      EntityStats{Total: c.entityCount, ByLabel: make(map[string]int, len(c.byLabel))},
		Detectors:     make([]DetectorStat, 0, len(c.detectors)),
	}
	for l, n := range c.byLabel {
		out.Entities.ByLabel[l] = n
	}
	for name, t := range c.detectors {
		d := DetectorStat{Name: name, Calls: t.calls, Errors: t.errors, Spans: t.spans, SkippedRows: t.skipped}
		if t.calls > 0 {
			d.AvgMs = float64(t.elapsed.Microseconds()) / 1000 / float64(t.calls)
		}
		out.Detectors = append(out.Detectors, d)
	}
	sort.Slice(out.Detectors, func(i, j int) bool { return out.Detectors[i].Name < out.Detectors[j].Name })
	return out
}
