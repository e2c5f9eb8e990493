package security

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gost/core/logger"

	"github.com/secubox/secubox-waf/pkg/config"
	"github.com/secubox/secubox-waf/pkg/iplib"
	applog "github.com/secubox/secubox-waf/pkg/logger"
	"github.com/secubox/secubox-waf/pkg/signature"
)

// BanTimeLayout 封禁请求时间格式 (UTC, 微秒)
const BanTimeLayout = "2006-01-02T15:04:05.000000Z"

// BanSourceWAF 封禁请求来源
const BanSourceWAF = "waf"

// scannerBotTypes 触发封禁的扫描器类型
var scannerBotTypes = map[string]bool{
	BotTypeVulnerabilityScanner: true,
	BotTypeInjectionTool:        true,
	BotTypeExploitationTool:     true,
	BotTypeDirectoryScanner:     true,
}

// BanRequest 封禁请求记录, 由宿主机执行封禁
type BanRequest struct {
	Timestamp string `json:"timestamp"`
	IP        string `json:"ip"`
	Reason    string `json:"reason"`
	Severity  string `json:"severity"`
	Duration  string `json:"duration"`
	Source    string `json:"source"`
}

// BanSink 封禁请求输出
type BanSink interface {
	Emit(req BanRequest)
}

// BanSinkFunc 函数适配器
type BanSinkFunc func(req BanRequest)

// Emit 实现 BanSink
func (f BanSinkFunc) Emit(req BanRequest) {
	f(req)
}

// Attempt 一次威胁记录
type Attempt struct {
	Time     time.Time          `json:"time"`
	Severity signature.Severity `json:"severity"`
	Reason   string             `json:"reason"`
}

// AutoBanStats 自动封禁统计
type AutoBanStats struct {
	Enabled     bool   `json:"enabled"`
	Sensitivity string `json:"sensitivity"`
	Threshold   int    `json:"threshold"`
	WindowSecs  int    `json:"window_seconds"`
	TrackedIPs  int    `json:"tracked_ips"`
	Requested   int    `json:"requested"`
	BansEmitted int64  `json:"bans_emitted"`
}

// autoBanPolicy 生效配置, 整体原子替换
type autoBanPolicy struct {
	cfg       *config.AutoBanConfig
	whitelist *iplib.IPList
}

// AutoBanEngine 自动封禁决策引擎
type AutoBanEngine struct {
	policy atomic.Pointer[autoBanPolicy]

	mu        sync.Mutex
	attempts  map[string][]Attempt
	requested map[string]time.Time

	sink    BanSink
	now     Clock
	emitted int64
	logger  logger.Logger
}

// AutoBanOption 选项
type AutoBanOption func(*AutoBanEngine)

// WithBanSink 设置封禁请求输出
func WithBanSink(s BanSink) AutoBanOption {
	return func(e *AutoBanEngine) {
		e.sink = s
	}
}

// WithAutoBanClock 设置时间源
func WithAutoBanClock(c Clock) AutoBanOption {
	return func(e *AutoBanEngine) {
		e.now = c
	}
}

// WithAutoBanLogger 设置日志
func WithAutoBanLogger(l logger.Logger) AutoBanOption {
	return func(e *AutoBanEngine) {
		e.logger = l
	}
}

// NewAutoBanEngine 创建自动封禁引擎, cfg 为 nil 时使用默认配置
func NewAutoBanEngine(cfg *config.AutoBanConfig, opts ...AutoBanOption) *AutoBanEngine {
	e := &AutoBanEngine{
		attempts:  make(map[string][]Attempt),
		requested: make(map[string]time.Time),
		now:       time.Now,
		logger:    applog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Reload(cfg)
	return e
}

// Reload 替换配置, 不影响已记录的历史与已请求集合
func (e *AutoBanEngine) Reload(cfg *config.AutoBanConfig) {
	if cfg == nil {
		cfg = config.DefaultAutoBan()
	}
	cfg = cfg.Clone()
	e.policy.Store(&autoBanPolicy{
		cfg:       cfg,
		whitelist: iplib.NewIPList(cfg.Whitelist),
	})

	if cfg.Enabled {
		e.logger.Infof("Auto-ban enabled: sensitivity=%s, min_severity=%s, duration=%s",
			cfg.EffectiveSensitivity(), cfg.MinSeverity, cfg.BanDuration)
	} else {
		e.logger.Infof("Auto-ban disabled")
	}
}

// Config 返回当前配置副本
func (e *AutoBanEngine) Config() *config.AutoBanConfig {
	return e.policy.Load().cfg.Clone()
}

// Decide 判断是否封禁该来源, 决定封禁时同时输出封禁请求
func (e *AutoBanEngine) Decide(ip string, v ThreatVerdict, fp ClientFingerprint, rateLimited bool) (bool, string) {
	p := e.policy.Load()
	cfg := p.cfg

	if !bool(cfg.Enabled) || p.whitelist.Contains(ip) || iplib.IsPrivate(ip) {
		return false, ""
	}

	detected, reason, severity, critical := detectThreat(cfg, v, fp, rateLimited)
	if !detected {
		return false, ""
	}

	now := e.now()
	threshold, window := cfg.Threshold()

	e.mu.Lock()
	if _, done := e.requested[ip]; done {
		e.mu.Unlock()
		return false, ""
	}

	e.attempts[ip] = append(e.attempts[ip], Attempt{Time: now, Severity: severity, Reason: reason})

	ban := false
	switch cfg.EffectiveSensitivity() {
	case config.SensitivityPermissive:
		ban, reason = e.checkThreshold(ip, now, threshold, window)
	default:
		// aggressive 与 moderate: 严重威胁立即封禁
		if critical {
			ban = true
		} else {
			ban, reason = e.checkThreshold(ip, now, threshold, window)
		}
	}
	if ban {
		e.requested[ip] = now
	}
	e.mu.Unlock()

	if !ban {
		return false, ""
	}

	banSeverity := string(signature.SeverityHigh)
	if v.IsScan && v.Severity != "" {
		banSeverity = string(v.Severity)
	}
	e.emit(BanRequest{
		Timestamp: now.UTC().Format(BanTimeLayout),
		IP:        ip,
		Reason:    reason,
		Severity:  banSeverity,
		Duration:  cfg.BanDuration,
		Source:    BanSourceWAF,
	})
	return true, reason
}

// checkThreshold 需持有 e.mu
func (e *AutoBanEngine) checkThreshold(ip string, now time.Time, threshold int, window time.Duration) (bool, string) {
	attempts := pruneAttempts(e.attempts[ip], now, window)
	e.attempts[ip] = attempts

	if len(attempts) < threshold {
		return false, ""
	}
	first := attempts[len(attempts)-threshold].Reason
	return true, fmt.Sprintf("Repeated threats (%d in %ds): %s",
		len(attempts), int(window/time.Second), first)
}

func pruneAttempts(attempts []Attempt, now time.Time, window time.Duration) []Attempt {
	i := 0
	for i < len(attempts) && now.Sub(attempts[i].Time) >= window {
		i++
	}
	if i == 0 {
		return attempts
	}
	return append(attempts[:0], attempts[i:]...)
}

// detectThreat 从判定结果推导封禁依据, 与分类器的优先级相互独立
func detectThreat(cfg *config.AutoBanConfig, v ThreatVerdict, fp ClientFingerprint, rateLimited bool) (bool, string, signature.Severity, bool) {
	severity := signature.SeverityMedium

	if v.IsScan {
		if v.Severity != "" {
			severity = v.Severity
		}
		pattern := strings.ToLower(v.Pattern)

		switch {
		case v.CVE != "" && bool(cfg.BanCVEExploits):
			return true, fmt.Sprintf("CVE exploit attempt: %s", v.CVE), severity, true

		case v.Type == "injection" && strings.Contains(pattern, "sql"):
			if cfg.BanSQLi {
				return true, fmt.Sprintf("SQL injection attempt: %s", v.Pattern), severity, true
			}

		case v.Type == "injection" && strings.Contains(pattern, "command"):
			if cfg.BanCMDi {
				return true, fmt.Sprintf("Command injection attempt: %s", v.Pattern), severity, true
			}

		case v.Pattern == signature.GroupXXE:
			return true, "XXE attack attempt", severity, true

		case v.Pattern == signature.GroupLog4Shell:
			cve := v.CVE
			if cve == "" {
				cve = signature.CVELog4Shell
			}
			return true, fmt.Sprintf("Log4Shell attempt: %s", cve), severity, true

		case v.Pattern == signature.GroupSSTI:
			return true, "SSTI attack attempt", severity, true

		case v.Type == "traversal" || strings.Contains(pattern, "traversal"):
			if cfg.BanTraversal {
				return true, fmt.Sprintf("Path traversal attempt: %s", v.Pattern), severity, false
			}

		case severity.Rank(0) >= signature.ParseSeverity(cfg.MinSeverity).Rank(3):
			what := v.Pattern
			if what == "" {
				what = v.Category
			}
			return true, fmt.Sprintf("Threat detected (%s): %s", severity, what), severity, false
		}
	}

	if bool(cfg.BanScanners) && scannerBotTypes[fp.BotType] {
		return true, fmt.Sprintf("Vulnerability scanner detected: %s", fp.BotType), signature.SeverityHigh, false
	}

	if rateLimited && bool(cfg.BanRateLimit) {
		return true, "Rate limit exceeded", signature.SeverityMedium, false
	}

	return false, "", "", false
}

func (e *AutoBanEngine) emit(req BanRequest) {
	atomic.AddInt64(&e.emitted, 1)
	e.logger.Warnf("AUTO-BAN REQUESTED: %s for %s - %s", req.IP, req.Duration, req.Reason)
	if e.sink != nil {
		e.sink.Emit(req)
	}
}

// IsRequested 该 IP 是否已请求封禁
func (e *AutoBanEngine) IsRequested(ip string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.requested[ip]
	return ok
}

// Requested 已请求封禁的 IP 列表
func (e *AutoBanEngine) Requested() []string {
	e.mu.Lock()
	ips := make([]string, 0, len(e.requested))
	for ip := range e.requested {
		ips = append(ips, ip)
	}
	e.mu.Unlock()

	sort.Strings(ips)
	return ips
}

// History 返回该 IP 的威胁记录副本
func (e *AutoBanEngine) History(ip string) []Attempt {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Attempt(nil), e.attempts[ip]...)
}

// Sweep 清理超出当前窗口的历史记录
func (e *AutoBanEngine) Sweep() int {
	_, window := e.policy.Load().cfg.Threshold()
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for ip, attempts := range e.attempts {
		attempts = pruneAttempts(attempts, now, window)
		if len(attempts) == 0 {
			delete(e.attempts, ip)
			removed++
			continue
		}
		e.attempts[ip] = attempts
	}
	return removed
}

// Run 周期性清理历史, 直到 ctx 结束
func (e *AutoBanEngine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}

// Stats 统计
func (e *AutoBanEngine) Stats() AutoBanStats {
	cfg := e.policy.Load().cfg
	threshold, window := cfg.Threshold()

	e.mu.Lock()
	tracked, requested := len(e.attempts), len(e.requested)
	e.mu.Unlock()

	return AutoBanStats{
		Enabled:     bool(cfg.Enabled),
		Sensitivity: cfg.EffectiveSensitivity(),
		Threshold:   threshold,
		WindowSecs:  int(window / time.Second),
		TrackedIPs:  tracked,
		Requested:   requested,
		BansEmitted: atomic.LoadInt64(&e.emitted),
	}
}
