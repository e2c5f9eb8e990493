package analytics

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-gost/core/logger"
	"github.com/google/uuid"

	"github.com/secubox/secubox-waf/pkg/forward"
	"github.com/secubox/secubox-waf/pkg/iplib"
	applog "github.com/secubox/secubox-waf/pkg/logger"
	"github.com/secubox/secubox-waf/pkg/logs"
	"github.com/secubox/secubox-waf/pkg/monitor"
	"github.com/secubox/secubox-waf/pkg/notification"
	"github.com/secubox/secubox-waf/pkg/security"
	"github.com/secubox/secubox-waf/pkg/signature"
	"github.com/secubox/secubox-waf/pkg/stats"
)

// EntrySink 访问日志输出
type EntrySink interface {
	Submit(e *logs.Entry) bool
}

// Notifier 通知输出
type Notifier interface {
	Notify(n *notification.Notification) bool
}

// CountryResolver 国家代码查询
type CountryResolver interface {
	Country(ip string) string
}

// Flow 单个请求在请求阶段与响应阶段之间共享的状态
type Flow struct {
	Entry     *logs.Entry
	Request   *security.RequestContext
	Verdict   security.ThreatVerdict
	Backend   forward.Backend
	Banned    bool
	BanReason string

	finished int32
}

// Engine 请求检查引擎, 持有所有有状态组件
type Engine struct {
	classifier *security.Classifier
	limiter    *security.RateLimiter
	autoban    *security.AutoBanEngine
	router     *forward.Router
	geo        CountryResolver
	stats      *stats.Collector
	entries    EntrySink
	notifier   Notifier
	metrics    *monitor.Metrics
	logger     logger.Logger
	now        security.Clock

	notifyCritical bool
	maxBodyBytes   int64
}

// Option 选项
type Option func(*Engine)

// WithClassifier 设置分类器
func WithClassifier(c *security.Classifier) Option {
	return func(e *Engine) {
		e.classifier = c
	}
}

// WithRateLimiter 设置限流器
func WithRateLimiter(rl *security.RateLimiter) Option {
	return func(e *Engine) {
		e.limiter = rl
	}
}

// WithAutoBan 设置自动封禁引擎
func WithAutoBan(ab *security.AutoBanEngine) Option {
	return func(e *Engine) {
		e.autoban = ab
	}
}

// WithRouter 设置后端路由
func WithRouter(r *forward.Router) Option {
	return func(e *Engine) {
		e.router = r
	}
}

// WithGeoIP 设置国家查询
func WithGeoIP(g CountryResolver) Option {
	return func(e *Engine) {
		e.geo = g
	}
}

// WithStats 设置统计收集器
func WithStats(c *stats.Collector) Option {
	return func(e *Engine) {
		e.stats = c
	}
}

// WithEntrySink 设置访问日志输出
func WithEntrySink(s EntrySink) Option {
	return func(e *Engine) {
		e.entries = s
	}
}

// WithNotifier 设置通知; critical 为真时严重威胁也发送通知
func WithNotifier(n Notifier, critical bool) Option {
	return func(e *Engine) {
		e.notifier = n
		e.notifyCritical = critical
	}
}

// WithMetrics 设置指标
func WithMetrics(m *monitor.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithClock 设置时间源
func WithClock(c security.Clock) Option {
	return func(e *Engine) {
		e.now = c
	}
}

// WithMaxBodyBytes 设置检查的请求体上限
func WithMaxBodyBytes(n int64) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxBodyBytes = n
		}
	}
}

// DefaultMaxBodyBytes 默认检查的请求体上限
const DefaultMaxBodyBytes = 1 << 20

// NewEngine 创建引擎, 未设置的组件使用默认实现
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		logger:       applog.Nop(),
		now:          time.Now,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.classifier == nil {
		e.classifier = security.NewClassifier()
	}
	if e.limiter == nil {
		e.limiter = security.NewRateLimiter(security.WithClock(e.now))
	}
	if e.autoban == nil {
		e.autoban = security.NewAutoBanEngine(nil, security.WithAutoBanClock(e.now))
	}
	if e.stats == nil {
		e.stats = stats.NewCollector()
	}
	return e
}

// Classifier 分类器
func (e *Engine) Classifier() *security.Classifier { return e.classifier }

// RateLimiter 限流器
func (e *Engine) RateLimiter() *security.RateLimiter { return e.limiter }

// AutoBan 自动封禁引擎
func (e *Engine) AutoBan() *security.AutoBanEngine { return e.autoban }

// Router 后端路由, 可能为 nil
func (e *Engine) Router() *forward.Router { return e.router }

// Stats 统计收集器
func (e *Engine) Stats() *stats.Collector { return e.stats }

// MaxBodyBytes 检查的请求体上限
func (e *Engine) MaxBodyBytes() int64 { return e.maxBodyBytes }

func (e *Engine) country(ip string) string {
	if e.geo == nil {
		return iplib.CountryLocal
	}
	return e.geo.Country(ip)
}

// OnRequest 请求阶段: 分类, 记录, 告警与自动封禁
// 会改写 r.Header 中的路由与威胁标记, 必须在转发前完成
// 内部 panic 被恢复并记录, 此时返回 nil
func (e *Engine) OnRequest(r *http.Request, body []byte) (flow *Flow) {
	began := time.Now()
	start := e.now()
	defer func() {
		if p := recover(); p != nil {
			e.metrics.ObservePanic()
			e.logger.Errorf("request hook panic: %v", p)
			flow = nil
		}
		e.metrics.ObserveRequest(time.Since(began))
	}()

	rc := security.NewRequestContext(r, body)
	ip := rc.SourceIP

	routing := security.RoutingDecision(r.Header, ip)

	var verdict security.ThreatVerdict
	if !security.IsWhitelistedBot(rc.UserAgent) {
		verdict = e.classifier.Classify(rc)
	}
	suspicious := security.DetectSuspiciousHeaders(r.Header)
	rateLimit := e.limiter.Check(ip)
	fp := security.Fingerprint(r.Header)
	behavior := security.DetectBotBehavior(rc.Path)

	entry := logs.NewEntry(start)
	entry.RequestID = uuid.NewString()
	entry.ClientIP = ip
	entry.ProxyIP = rc.PeerIP
	entry.Country = e.country(ip)
	entry.Method = rc.Method
	entry.Host = rc.Host
	entry.Path = rc.Path
	entry.Query = truncateRunes(rc.QueryQ, 100)
	entry.Client = fp
	entry.Scan = verdict
	entry.BotBehavior = behavior
	entry.IsAuthAttempt = security.IsAuthAttempt(rc.Path)
	entry.ContentLength = rc.ContentLength
	entry.Routing = routing
	if len(suspicious) > 0 {
		entry.SuspiciousHeaders = suspicious
	}
	entry.RateLimit = rateLimit
	entry.Headers = logs.CaptureRequestHeaders(r.Header)

	flow = &Flow{Entry: entry, Request: rc, Verdict: verdict}

	if e.router != nil {
		flow.Backend, _ = e.router.Resolve(rc.Host)
		entry.Backend = flow.Backend.String()
	}

	security.ApplyHeaders(r.Header, routing, verdict)

	e.stats.Record(stats.Observation{
		Country:       entry.Country,
		IsBot:         fp.IsBot,
		ThreatType:    verdict.Type,
		Category:      verdict.Category,
		IsAuthAttempt: entry.IsAuthAttempt,
	})

	e.reportThreat(entry, verdict)
	e.reportBehavior(entry, behavior, fp)

	if len(suspicious) > 0 {
		names := make([]string, 0, len(suspicious))
		for _, h := range suspicious {
			names = append(names, h.Header)
		}
		e.logger.Warnf("SUSPICIOUS HEADERS: %s - [%s]", ip, strings.Join(names, ", "))
		e.stats.AddAlert(stats.Alert{
			Time:    entry.Timestamp,
			IP:      ip,
			Country: entry.Country,
			Type:    stats.AlertSuspiciousHeaders,
			Headers: suspicious,
		})
	}

	if rateLimit.IsLimited {
		e.metrics.ObserveRateLimited()
		e.logger.Warnf("RATE LIMIT: %s (%s) - %d requests", ip, entry.Country, rateLimit.Count)
		e.stats.AddAlert(stats.Alert{
			Time:    entry.Timestamp,
			IP:      ip,
			Country: entry.Country,
			Type:    stats.AlertRateLimit,
			Count:   rateLimit.Count,
		})
	}

	if entry.IsAuthAttempt {
		e.logger.Infof("AUTH ATTEMPT: %s (%s) - %s %s", ip, entry.Country, rc.Method, rc.Path)
	}

	if fp.IsBot {
		e.metrics.ObserveBot(fp.BotType)
		e.logger.Infof("BOT DETECTED: %s - %s", ip, truncateRunes(fp.UserAgent, 80))
	}

	flow.Banned, flow.BanReason = e.autoban.Decide(ip, verdict, fp, rateLimit.IsLimited)
	if flow.Banned {
		e.onBan(entry, verdict, flow.BanReason)
	}
	return flow
}

// reportThreat 威胁日志按严重级别选择日志级别
func (e *Engine) reportThreat(entry *logs.Entry, v security.ThreatVerdict) {
	if !v.IsScan {
		return
	}

	severity := v.Severity
	if severity == "" {
		severity = signature.SeverityMedium
	}
	pattern := orDefault(v.Pattern, "unknown")
	category := orDefault(v.Category, "unknown")

	e.metrics.ObserveThreat(category, string(severity))

	msg := fmt.Sprintf("THREAT [%s]: %s (%s) - %s", severity.Upper(), entry.ClientIP, entry.Country, pattern)
	if v.CVE != "" {
		msg += " (" + v.CVE + ")"
	}
	msg += " - " + entry.Method + " " + entry.Path

	switch severity {
	case signature.SeverityCritical:
		e.logger.Error(msg)
	case signature.SeverityHigh:
		e.logger.Warn(msg)
	default:
		e.logger.Info(msg)
	}

	e.stats.AddAlert(stats.Alert{
		Time:     entry.Timestamp,
		IP:       entry.ClientIP,
		Country:  entry.Country,
		Type:     stats.AlertThreat,
		Pattern:  pattern,
		Category: category,
		Severity: string(severity),
		CVE:      v.CVE,
		Path:     entry.Path,
		Method:   entry.Method,
		Host:     entry.Host,
	})

	if e.notifier != nil && e.notifyCritical && severity == signature.SeverityCritical {
		e.notifier.Notify(notification.FormatThreat(entry.ClientIP, entry.Country, pattern, v.CVE, entry.Method, entry.Path))
	}
}

func (e *Engine) reportBehavior(entry *logs.Entry, b security.BotBehavior, fp security.ClientFingerprint) {
	if !b.IsBotBehavior {
		return
	}

	behaviorType := orDefault(b.BehaviorType, "unknown")
	severity := b.Severity
	if severity == "" {
		severity = signature.SeverityMedium
	}
	e.metrics.ObserveBehavior(behaviorType)

	msg := fmt.Sprintf("BOT BEHAVIOR [%s]: %s (%s) - %s - %s %s",
		severity.Upper(), entry.ClientIP, entry.Country, behaviorType, entry.Method, entry.Path)
	if severity == signature.SeverityCritical || severity == signature.SeverityHigh {
		e.logger.Warn(msg)
	} else {
		e.logger.Info(msg)
	}

	e.stats.AddAlert(stats.Alert{
		Time:         entry.Timestamp,
		IP:           entry.ClientIP,
		Country:      entry.Country,
		Type:         stats.AlertBotBehavior,
		BehaviorType: behaviorType,
		Severity:     string(severity),
		Path:         entry.Path,
		Method:       entry.Method,
		Host:         entry.Host,
		BotType:      fp.BotType,
	})
}

// onBan 封禁请求已输出后的告警, 指标与通知
func (e *Engine) onBan(entry *logs.Entry, v security.ThreatVerdict, reason string) {
	severity := string(signature.SeverityHigh)
	if v.IsScan && v.Severity != "" {
		severity = string(v.Severity)
	}
	duration := e.autoban.Config().BanDuration

	e.metrics.ObserveBan(severity)
	e.stats.AddAlert(stats.Alert{
		Time:     entry.Timestamp,
		IP:       entry.ClientIP,
		Country:  entry.Country,
		Type:     stats.AlertAutoBan,
		Severity: severity,
		Reason:   reason,
	})
	if e.notifier != nil {
		e.notifier.Notify(notification.FormatBan(entry.ClientIP, entry.Country, reason, severity, duration))
	}
}

// OnResponse 响应阶段: 补全日志条目并提交
func (e *Engine) OnResponse(f *Flow, resp *http.Response) {
	if resp == nil {
		return
	}
	e.finish(f, resp.StatusCode, resp.Header, resp.ContentLength)
}

// OnError 上游失败时提交日志条目
func (e *Engine) OnError(f *Flow, err error) {
	if f == nil || !atomic.CompareAndSwapInt32(&f.finished, 0, 1) {
		return
	}
	defer e.recoverHook("error")

	entry := f.Entry
	entry.ResponseTimeMS = e.now().Sub(entry.Start()).Milliseconds()
	if err != nil {
		entry.Error = err.Error()
	}
	e.metrics.ObserveUpstream(0)
	e.submit(entry)
}

func (e *Engine) finish(f *Flow, status int, h http.Header, size int64) {
	if f == nil || !atomic.CompareAndSwapInt32(&f.finished, 0, 1) {
		return
	}
	defer e.recoverHook("response")

	entry := f.Entry
	entry.Response = logs.CaptureResponse(status, h, size)
	entry.Cache = logs.CaptureCache(h)
	entry.ResponseTimeMS = e.now().Sub(entry.Start()).Milliseconds()
	e.metrics.ObserveUpstream(status)

	if entry.Cache.Hit != nil {
		state := "MISS"
		if *entry.Cache.Hit {
			state = "HIT"
		}
		e.logger.Debugf("CACHE %s: %s (%dms)", state, entry.Path, entry.ResponseTimeMS)
	}

	if entry.IsAuthAttempt && status >= 400 && status < 500 {
		e.logger.Warnf("AUTH FAILED: %s (%s) - %d", entry.ClientIP, entry.Country, status)
		e.stats.AddAlert(stats.Alert{
			Time:    entry.Timestamp,
			IP:      entry.ClientIP,
			Country: entry.Country,
			Type:    stats.AlertAuthFailed,
			Status:  status,
			Path:    entry.Path,
		})
	}

	e.submit(entry)
}

func (e *Engine) submit(entry *logs.Entry) {
	if e.entries != nil {
		e.entries.Submit(entry)
	}
}

func (e *Engine) recoverHook(phase string) {
	if p := recover(); p != nil {
		e.metrics.ObservePanic()
		e.logger.Errorf("%s hook panic: %v", phase, p)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
