package metrics

/* adapted from https://github.com/zsais/go-gin-prometheus
edits:
- zap logger
- no push gateway, no basic auth, single business metric list
*/

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var reqCnt = &Metric{
	ID:          "reqCnt",
	Name:        "req_total",
	Description: "How many HTTP requests processed, partitioned by status code and HTTP method.",
	Type:        "counter_vec",
	Args:        []string{"code", "method", "url", "ref"},
}

var reqDur = &Metric{
	ID:          "reqDur",
	Name:        "req_dur_ms",
	Description: "The HTTP request latencies in milliseconds.",
	Type:        "histogram_vec",
	Args:        []string{"code", "method", "url", "ref"},
}

var resSz = &Metric{
	ID:          "resSz",
	Name:        "resp_sz_bytes",
	Description: "The HTTP response sizes in bytes.",
	Type:        "summary_vec",
	Args:        []string{"code", "method", "url", "ref"},
}

var reqSz = &Metric{
	ID:          "reqSz",
	Name:        "req_sz_bytes",
	Description: "The HTTP request sizes in bytes.",
	Type:        "summary_vec",
	Args:        []string{"code", "method", "url", "ref"},
}

var standardMetrics = []*Metric{reqCnt, reqDur, resSz, reqSz}

var defaultMetricPath = "/metrics"

// RequestCounterURLLabelMappingFn controls the cardinality of the "url" label.
type RequestCounterURLLabelMappingFn func(c *gin.Context) string

// Prometheus contains the metrics gathered by the instance and its path
type Prometheus struct {
	reqCnt        *prometheus.CounterVec
	reqDur        *prometheus.HistogramVec
	reqSz, resSz  *prometheus.SummaryVec
	router        *gin.Engine
	listenAddress string
	registerer    prometheus.Registerer
	gatherer      prometheus.Gatherer

	MetricsList []*Metric
	MetricsPath string

	ReqCntURLLabelMappingFn RequestCounterURLLabelMappingFn

	logger *zap.SugaredLogger
}

type NewPrometheusOptions struct {
	Subsystem               string
	MetricsList             []*Metric
	MetricsPath             string
	ReqCntURLLabelMappingFn func(c *gin.Context) string
	Logger                  *zap.SugaredLogger
	// Registry defaults to the global prometheus registry.
	Registry *prometheus.Registry
}

// NewPrometheus generates a new set of metrics with a certain subsystem name
func NewPrometheus(options NewPrometheusOptions) *Prometheus {
	p := &Prometheus{
		MetricsList: append(append([]*Metric{}, options.MetricsList...), standardMetrics...),
		MetricsPath: options.MetricsPath,
		logger:      options.Logger,
		registerer:  prometheus.DefaultRegisterer,
		gatherer:    prometheus.DefaultGatherer,
	}
	if options.Registry != nil {
		p.registerer = options.Registry
		p.gatherer = options.Registry
	}
	if p.MetricsPath == "" {
		p.MetricsPath = defaultMetricPath
	}
	p.ReqCntURLLabelMappingFn = options.ReqCntURLLabelMappingFn
	if p.ReqCntURLLabelMappingFn == nil {
		p.ReqCntURLLabelMappingFn = func(c *gin.Context) string {
			return c.Request.URL.Path
		}
	}
	if p.logger == nil {
		p.logger = zap.NewNop().Sugar()
	}

	p.registerMetrics(options.Subsystem)

	return p
}

// SetListenAddress exposes metrics on a separate address. If empty, metrics are served by the
// gin engine passed to Use.
func (p *Prometheus) SetListenAddress(address string) {
	p.listenAddress = address
	if p.listenAddress != "" {
		p.router = gin.New()
	}
}

// SetMetricsPath set metrics paths
func (p *Prometheus) SetMetricsPath(e *gin.Engine) {
	if p.listenAddress != "" {
		p.router.GET(p.MetricsPath, p.prometheusHandler())
		p.runServer()
		return
	}
	e.GET(p.MetricsPath, p.prometheusHandler())
}

func (p *Prometheus) runServer() {
	go func() {
		if err := p.router.Run(p.listenAddress); err != nil {
			p.logger.Errorw("metrics server stopped", "addr", p.listenAddress, "error", err)
		}
	}()
}

func (p *Prometheus) registerMetrics(subsystem string) {
	for _, metricDef := range p.MetricsList {
		metric := NewMetric(metricDef, subsystem)
		if metric == nil {
			p.logger.Errorf("%s has unsupported metric type %s", metricDef.Name, metricDef.Type)
			continue
		}
		if err := p.registerer.Register(metric); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				metric = already.ExistingCollector
			} else {
				p.logger.Errorf("%s could not be registered in Prometheus, err=%v", metricDef.Name, err)
				continue
			}
		}
		switch metricDef {
		case reqCnt:
			p.reqCnt = metric.(*prometheus.CounterVec)
		case reqDur:
			p.reqDur = metric.(*prometheus.HistogramVec)
		case resSz:
			p.resSz = metric.(*prometheus.SummaryVec)
		case reqSz:
			p.reqSz = metric.(*prometheus.SummaryVec)
		}
		metricDef.MetricCollector = metric
	}
}

// Use adds the middleware to a gin engine.
func (p *Prometheus) Use(e *gin.Engine) {
	e.Use(p.HandlerFunc())
	p.SetMetricsPath(e)
}

// HandlerFunc defines handler function for middleware
func (p *Prometheus) HandlerFunc() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == p.MetricsPath {
			c.Next()
			return
		}

		start := time.Now()
		reqSize := computeApproximateRequestSize(c.Request)

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		elapsed := MillisecondsSince(start)
		respSize := float64(c.Writer.Size())
		url := p.ReqCntURLLabelMappingFn(c)
		ref := c.Request.Header.Get(RefererKey)

		p.reqDur.WithLabelValues(status, c.Request.Method, url, ref).Observe(elapsed)
		p.reqCnt.WithLabelValues(status, c.Request.Method, url, ref).Inc()
		p.reqSz.WithLabelValues(status, c.Request.Method, url, ref).Observe(float64(reqSize))
		p.resSz.WithLabelValues(status, c.Request.Method, url, ref).Observe(respSize)
	}
}

func (p *Prometheus) prometheusHandler() gin.HandlerFunc {
	h := promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// computeApproximateRequestSize mirrors promhttp's request size estimate.
func computeApproximateRequestSize(r *http.Request) int {
	s := 0
	if r.URL != nil {
		s = len(r.URL.Path)
	}
	s += len(r.Method)
	s += len(r.Proto)
	for name, values := range r.Header {
		s += len(name)
		for _, value := range values {
			s += len(value)
		}
	}
	s += len(r.Host)
	if r.ContentLength != -1 {
		s += int(r.ContentLength)
	}
	return s
}
