package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMiddleware HTTP-метрики для Gin:
// * <service>_http_request_duration_seconds{method,path,status}: histogram
// * <service>_http_requests_inflight: gauge
// * <service>_http_request_errors_total{method,path,status}: 4xx/5xx
// * <service>_http_upload_bytes_total: принятые байты записей
type PrometheusMiddleware struct {
	reqDuration *prometheus.HistogramVec
	reqInflight prometheus.Gauge
	reqErrors   *prometheus.CounterVec
	uploadBytes prometheus.Counter
	gatherer    prometheus.Gatherer
}

// NewPrometheusMiddleware регистрирует метрики в reg; gatherer отдаётся на /metrics
func NewPrometheusMiddleware(service string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *PrometheusMiddleware {
	pm := &PrometheusMiddleware{
		reqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: service,
			Name:      "http_request_duration_seconds",
			Help:      "Длительность HTTP-запросов.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "path", "status"}),
		reqInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: service,
			Name:      "http_requests_inflight",
			Help:      "Текущее количество обрабатываемых HTTP-запросов.",
		}),
		reqErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: service,
			Name:      "http_request_errors_total",
			Help:      "Запросы, завершившиеся ошибкой (4xx/5xx).",
		}, []string{"method", "path", "status"}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: service,
			Name:      "http_upload_bytes_total",
			Help:      "Байты принятых файлов записей.",
		}),
		gatherer: gatherer,
	}
	reg.MustRegister(pm.reqDuration, pm.reqInflight, pm.reqErrors, pm.uploadBytes)
	return pm
}

// Handler для router.Use()
func (pm *PrometheusMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		pm.reqInflight.Inc()
		c.Next()
		pm.reqInflight.Dec()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method

		pm.reqDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		if c.Writer.Status() >= 400 {
			pm.reqErrors.WithLabelValues(method, path, status).Inc()
		}
	}
}

// ObserveUpload
func (pm *PrometheusMiddleware) ObserveUpload(n int) {
	pm.uploadBytes.Add(float64(n))
}

// RegisterMetricsEndpoint GET /metrics
func (pm *PrometheusMiddleware) RegisterMetricsEndpoint(r *gin.Engine) {
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(pm.gatherer, promhttp.HandlerOpts{})))
}
