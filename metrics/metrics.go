package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// RequestsTotal counts dispatched requests by pipeline outcome
	// (served, redirect, forbidden, not_found, fault, invalid_response,
	// init_error, emit_error).
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webtree_requests_total",
		Help: "The total number of requests dispatched, by pipeline outcome",
	}, []string{"outcome"})

	// PipelineDuration records the full pipeline roundtrip duration
	PipelineDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "webtree_pipeline_duration_seconds",
		Help:    "Request pipeline roundtrip duration",
		Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 2.5, 10},
	})

	// ServingTime records the time spent serving static files
	ServingTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "webtree_static_serving_time_seconds",
		Help: "The time (in seconds) taken to serve a static file",
	})

	// StaticFileSize records served static file sizes
	StaticFileSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "webtree_static_file_size_bytes",
		Help:    "The size (in bytes) of static files served",
		Buckets: []float64{100, 1000, 10000, 100000, 1000000, 10000000},
	})

	// RenderDuration records template render duration
	RenderDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "webtree_template_render_duration_seconds",
		Help: "The time (in seconds) taken to render a template",
	})

	// TemplateCacheHit counts parsed template cache hits
	TemplateCacheHit = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webtree_template_cache_hit",
		Help: "The number of parsed template cache hits",
	})

	// TemplateCacheMiss counts parsed template cache misses
	TemplateCacheMiss = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webtree_template_cache_miss",
		Help: "The number of parsed template cache misses",
	})

	// StaticCacheHit counts static metadata cache hits
	StaticCacheHit = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webtree_static_cache_hit",
		Help: "The number of static file metadata cache hits",
	})

	// StaticCacheMiss counts static metadata cache misses
	StaticCacheMiss = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "webtree_static_cache_miss",
		Help: "The number of static file metadata cache misses",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(PipelineDuration)
	prometheus.MustRegister(ServingTime)
	prometheus.MustRegister(StaticFileSize)
	prometheus.MustRegister(RenderDuration)
	prometheus.MustRegister(TemplateCacheHit)
	prometheus.MustRegister(TemplateCacheMiss)
	prometheus.MustRegister(StaticCacheHit)
	prometheus.MustRegister(StaticCacheMiss)
}
