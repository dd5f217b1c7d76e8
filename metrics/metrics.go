package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tus_client"

// Collector 上传客户端的 Prometheus 指标，nil 值可安全使用
type Collector struct {
	requests      *prometheus.CounterVec
	uploadedBytes prometheus.Counter
	retries       prometheus.Counter
	stalls        prometheus.Counter
	uploads       *prometheus.CounterVec
}

// NewCollector 创建指标并注册到 registerer，registerer 为 nil 时不注册
func NewCollector(registerer prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Number of HTTP requests sent, partitioned by method and response code.",
		}, []string{"method", "code"}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploaded_bytes_total",
			Help:      "Number of bytes accepted by the server.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Number of scheduled retries.",
		}),
		stalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stalls_total",
			Help:      "Number of requests aborted because no progress was made.",
		}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Number of finished uploads, partitioned by result.",
		}, []string{"result"}),
	}
	if registerer != nil {
		registerer.MustRegister(c)
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.requests.Describe(ch)
	c.uploadedBytes.Describe(ch)
	c.retries.Describe(ch)
	c.stalls.Describe(ch)
	c.uploads.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.requests.Collect(ch)
	c.uploadedBytes.Collect(ch)
	c.retries.Collect(ch)
	c.stalls.Collect(ch)
	c.uploads.Collect(ch)
}

// ObserveRequest 记录一次请求，statusCode 为 0 表示没有收到响应
func (c *Collector) ObserveRequest(method string, statusCode int) {
	if c == nil {
		return
	}
	code := "none"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	c.requests.WithLabelValues(method, code).Inc()
}

func (c *Collector) AddUploadedBytes(n uint64) {
	if c == nil || n == 0 {
		return
	}
	c.uploadedBytes.Add(float64(n))
}

func (c *Collector) IncRetries() {
	if c == nil {
		return
	}
	c.retries.Inc()
}

func (c *Collector) IncStalls() {
	if c == nil {
		return
	}
	c.stalls.Inc()
}

// ObserveUpload 记录上传结果：success、failure 或 aborted
func (c *Collector) ObserveUpload(result string) {
	if c == nil {
		return
	}
	c.uploads.WithLabelValues(result).Inc()
}
