// Package metrics exposes Prometheus metrics for the mock server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungtweek/mock-openai/internal/mock"
)

// Collector owns a private registry so tests and multiple servers never collide
// on the global one. It implements mock.Observer.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	tokensTotal      *prometheus.CounterVec
	streamChunks     prometheus.Counter
	streamTokens     prometheus.Counter
	streamsActive    prometheus.Gauge
	streamsCompleted prometheus.Counter
	streamsAborted   prometheus.Counter
	poolArticles     prometheus.Gauge
	poolMinChars     prometheus.Gauge
}

var _ mock.Observer = (*Collector)(nil)

// NewCollector registers all metrics under namespace, plus Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Collector{
		registry: reg,
		requestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of completion requests",
		}, []string{"transport", "endpoint", "mode", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from request start to last byte written",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"transport", "endpoint", "mode"}),
		tokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_total",
			Help:      "Tokens accounted in responses",
		}, []string{"type"}), // type: prompt, completion
		streamChunks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_chunks_total",
			Help:      "Content chunks written to streaming clients",
		}),
		streamTokens: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_tokens_total",
			Help:      "Tokens carried by content chunks written to streaming clients",
		}),
		streamsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Streams currently being driven",
		}),
		streamsCompleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_completed_total",
			Help:      "Streams that reached their terminal chunk",
		}),
		streamsAborted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_aborted_total",
			Help:      "Streams ended early by disconnect or cancellation",
		}),
		poolArticles: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_articles",
			Help:      "Articles in the content pool",
		}),
		poolMinChars: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_article_min_chars",
			Help:      "Minimum article length guaranteed by the pool",
		}),
	}
}

// Registry returns the registry backing this collector.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// RecordPool publishes the content pool shape once it is built.
func (c *Collector) RecordPool(p *mock.Pool) {
	c.poolArticles.Set(float64(p.Len()))
	c.poolMinChars.Set(float64(p.MinChars()))
}

// RecordRequest counts one finished request.
func (c *Collector) RecordRequest(transport, endpoint string, stream bool, status int, d time.Duration) {
	mode := "unary"
	if stream {
		mode = "stream"
	}
	c.requestsTotal.WithLabelValues(transport, endpoint, mode, strconv.Itoa(status)).Inc()
	c.requestDuration.WithLabelValues(transport, endpoint, mode).Observe(d.Seconds())
}

// RecordUsage adds a response's token accounting.
func (c *Collector) RecordUsage(u mock.Usage) {
	c.tokensTotal.WithLabelValues("prompt").Add(float64(u.PromptTokens))
	c.tokensTotal.WithLabelValues("completion").Add(float64(u.CompletionTokens))
}

func (c *Collector) StreamOpened() { c.streamsActive.Inc() }

func (c *Collector) ChunkSent(tokens int) {
	c.streamChunks.Inc()
	c.streamTokens.Add(float64(tokens))
}

func (c *Collector) StreamClosed(completed bool) {
	c.streamsActive.Dec()
	if completed {
		c.streamsCompleted.Inc()
		return
	}
	c.streamsAborted.Inc()
}
