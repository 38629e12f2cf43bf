package middleware

import (
	"sync"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrors counts failed Redis commands, excluding cache misses.
	RedisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_redis_errors_total",
		Help: "Total number of Redis command errors by command",
	}, []string{"command"})

	// PostMutations counts successful post writes by operation.
	PostMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quill_post_mutations_total",
		Help: "Total number of post mutations by operation",
	}, []string{"op"})

	// CoverUploadBytes records the size of stored cover images.
	CoverUploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quill_cover_upload_bytes",
		Help:    "Size of stored cover uploads in bytes",
		Buckets: prometheus.ExponentialBuckets(16*1024, 4, 7),
	})

	promOnce sync.Once
	prom     *fiberprometheus.FiberPrometheus
)

// InitMetrics returns the process-wide HTTP metrics collector. The collector
// registers with the default Prometheus registry, so it is created once.
func InitMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		prom = fiberprometheus.New(serviceName)
	})
	return prom
}

// MetricsMiddleware records request count and latency for every route.
func MetricsMiddleware(p *fiberprometheus.FiberPrometheus) fiber.Handler {
	return p.Middleware
}
