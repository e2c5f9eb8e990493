package monitor

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace 指标前缀
const Namespace = "secubox_waf"

// Metrics Prometheus 指标, 每个实例使用独立的 Registry
// 所有方法在接收者为 nil 时为空操作
type Metrics struct {
	registry *prometheus.Registry

	requests    prometheus.Counter
	threats     *prometheus.CounterVec
	bans        *prometheus.CounterVec
	rateLimited prometheus.Counter
	bots        *prometheus.CounterVec
	behaviors   *prometheus.CounterVec
	upstream    *prometheus.CounterVec
	inspection  prometheus.Histogram
	hookPanics  prometheus.Counter
	buildInfo   *prometheus.GaugeVec
}

// NewMetrics 创建并注册指标
func NewMetrics(version string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Name: "requests_total",
			Help: "Total number of inspected requests",
		}),
		threats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "threats_total",
			Help: "Classified threats by category and severity",
		}, []string{"category", "severity"}),
		bans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "ban_requests_total",
			Help: "Auto-ban requests emitted by severity",
		}, []string{"severity"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Name: "rate_limited_total",
			Help: "Requests over the per-source rate limit",
		}),
		bots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "bots_total",
			Help: "Requests from detected bots by bot type",
		}, []string{"bot_type"}),
		behaviors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "bot_behaviors_total",
			Help: "Probing behaviors by type",
		}, []string{"behavior"}),
		upstream: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace, Name: "upstream_responses_total",
			Help: "Upstream responses by status class",
		}, []string{"class"}),
		inspection: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace, Name: "inspection_seconds",
			Help:    "Time spent in the request inspection hook",
			Buckets: []float64{.0001, .00025, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		hookPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace, Name: "hook_panics_total",
			Help: "Recovered panics in inspection hooks",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: Namespace, Name: "build_info",
			Help: "Build information",
		}, []string{"version"}),
	}

	reg.MustRegister(
		m.requests, m.threats, m.bans, m.rateLimited, m.bots, m.behaviors,
		m.upstream, m.inspection, m.hookPanics, m.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.buildInfo.WithLabelValues(version).Set(1)
	return m
}

// Registry 指标注册表
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler /metrics 处理器
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterGaugeFunc 注册按需取值的仪表
func (m *Metrics) RegisterGaugeFunc(name, help string, fn func() float64) error {
	if m == nil {
		return nil
	}
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: Namespace, Name: name, Help: help}, fn)
	if err := m.registry.Register(g); err != nil {
		return fmt.Errorf("注册指标 %s 失败: %w", name, err)
	}
	return nil
}

// RegisterCounterFunc 注册按需取值的计数器
func (m *Metrics) RegisterCounterFunc(name, help string, fn func() float64) error {
	if m == nil {
		return nil
	}
	c := prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: Namespace, Name: name, Help: help}, fn)
	if err := m.registry.Register(c); err != nil {
		return fmt.Errorf("注册指标 %s 失败: %w", name, err)
	}
	return nil
}

// ObserveRequest 记录一次请求及检查耗时
func (m *Metrics) ObserveRequest(d time.Duration) {
	if m == nil {
		return
	}
	m.requests.Inc()
	m.inspection.Observe(d.Seconds())
}

// ObserveThreat 记录威胁
func (m *Metrics) ObserveThreat(category, severity string) {
	if m == nil {
		return
	}
	m.threats.WithLabelValues(category, severity).Inc()
}

// ObserveBan 记录封禁请求
func (m *Metrics) ObserveBan(severity string) {
	if m == nil {
		return
	}
	m.bans.WithLabelValues(severity).Inc()
}

// ObserveRateLimited 记录限流
func (m *Metrics) ObserveRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// ObserveBot 记录机器人
func (m *Metrics) ObserveBot(botType string) {
	if m == nil {
		return
	}
	m.bots.WithLabelValues(botType).Inc()
}

// ObserveBehavior 记录探测行为
func (m *Metrics) ObserveBehavior(behavior string) {
	if m == nil {
		return
	}
	m.behaviors.WithLabelValues(behavior).Inc()
}

// ObserveUpstream 按状态码类别记录上游响应, status 为 0 表示上游错误
func (m *Metrics) ObserveUpstream(status int) {
	if m == nil {
		return
	}
	m.upstream.WithLabelValues(StatusClass(status)).Inc()
}

// ObservePanic 记录恢复的 panic
func (m *Metrics) ObservePanic() {
	if m == nil {
		return
	}
	m.hookPanics.Inc()
}

// StatusClass 2xx/3xx/4xx/5xx, 0 为 error
func StatusClass(status int) string {
	if status < 100 || status > 599 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
