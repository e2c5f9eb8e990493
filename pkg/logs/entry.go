package logs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/secubox/secubox-waf/pkg/iplib"
	"github.com/secubox/secubox-waf/pkg/security"
)

// TimeLayout 日志时间格式 (UTC, 微秒)
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Entry 访问日志条目, 每个请求一行 JSON
type Entry struct {
	Timestamp string `json:"timestamp"`
	TS        int64  `json:"ts"`
	RequestID string `json:"request_id"`

	ClientIP string `json:"client_ip"`
	ProxyIP  string `json:"proxy_ip"`
	Country  string `json:"country"`

	Method string `json:"method"`
	Host   string `json:"host"`
	Path   string `json:"path"`
	Query  string `json:"query"`

	Client        security.ClientFingerprint `json:"client"`
	Scan          security.ThreatVerdict     `json:"scan"`
	BotBehavior   security.BotBehavior       `json:"bot_behavior"`
	IsAuthAttempt bool                       `json:"is_auth_attempt"`
	ContentLength int                        `json:"content_length"`

	Routing           security.Routing            `json:"routing"`
	Backend           string                      `json:"backend,omitempty"`
	SuspiciousHeaders []security.SuspiciousHeader `json:"suspicious_headers"`
	RateLimit         security.RateLimitResult    `json:"rate_limit"`
	Headers           RequestHeaders              `json:"headers"`

	Response       *ResponseInfo `json:"response,omitempty"`
	Cache          *CacheInfo    `json:"cache,omitempty"`
	ResponseTimeMS int64         `json:"response_time_ms"`
	Error          string        `json:"error,omitempty"`

	start time.Time
}

// RequestHeaders 记录的请求头摘要
type RequestHeaders struct {
	Referer      string `json:"referer"`
	Origin       string `json:"origin"`
	CacheControl string `json:"cache_control"`
	ContentType  string `json:"content_type"`
}

// ResponseInfo 响应摘要
type ResponseInfo struct {
	Status        int    `json:"status"`
	ContentLength int64  `json:"content_length"`
	ContentType   string `json:"content_type"`
}

// CacheInfo 缓存层响应头
type CacheInfo struct {
	Status       string `json:"status"`
	Hit          *bool  `json:"hit"`
	CDN          string `json:"cdn"`
	Squid        string `json:"squid"`
	Age          string `json:"age"`
	CacheControl string `json:"cache_control"`
	ETag         string `json:"etag"`
	Via          string `json:"via"`
}

// NewEntry 创建条目并记录起始时间
func NewEntry(now time.Time) *Entry {
	return &Entry{
		Timestamp:         now.UTC().Format(TimeLayout),
		TS:                now.Unix(),
		SuspiciousHeaders: []security.SuspiciousHeader{},
		start:             now,
	}
}

// Start 请求开始时间
func (e *Entry) Start() time.Time {
	return e.start
}

// CaptureRequestHeaders 提取请求头摘要
func CaptureRequestHeaders(h http.Header) RequestHeaders {
	return RequestHeaders{
		Referer:      cut(h.Get("Referer"), 200),
		Origin:       h.Get("Origin"),
		CacheControl: h.Get("Cache-Control"),
		ContentType:  cut(h.Get("Content-Type"), 100),
	}
}

// CaptureResponse 提取响应摘要, size 小于 0 时使用 Content-Length
func CaptureResponse(status int, h http.Header, size int64) *ResponseInfo {
	if size < 0 {
		size, _ = strconv.ParseInt(h.Get("Content-Length"), 10, 64)
	}
	return &ResponseInfo{
		Status:        status,
		ContentLength: size,
		ContentType:   cut(h.Get("Content-Type"), 50),
	}
}

// CaptureCache 提取缓存相关响应头
func CaptureCache(h http.Header) *CacheInfo {
	status := h.Get("X-Cache")
	if status == "" {
		status = h.Get("X-Cache-Status")
	}

	info := &CacheInfo{
		Status:       status,
		CDN:          h.Get("X-Cdn-Cache"),
		Squid:        h.Get("X-Squid-Cache"),
		Age:          h.Get("Age"),
		CacheControl: cut(h.Get("Cache-Control"), 100),
		ETag:         cut(h.Get("Etag"), 50),
		Via:          cut(h.Get("Via"), 100),
	}
	if status != "" {
		hit := strings.Contains(strings.ToUpper(status), "HIT")
		info.Hit = &hit
	}
	return info
}

// HasThreatIndicator 条目是否带有任一威胁迹象
func (e *Entry) HasThreatIndicator() bool {
	return e.Scan.IsScan ||
		e.BotBehavior.IsBotBehavior ||
		e.Client.IsBot ||
		e.IsAuthAttempt ||
		len(e.SuspiciousHeaders) > 0 ||
		e.RateLimit.IsLimited
}

// CrowdSecEntry CrowdSec 解析器使用的威胁日志条目
type CrowdSecEntry struct {
	Timestamp         string `json:"timestamp"`
	SourceIP          string `json:"source_ip"`
	Country           string `json:"country"`
	Request           string `json:"request"`
	Host              string `json:"host"`
	UserAgent         string `json:"user_agent"`
	Type              string `json:"type"`
	Pattern           string `json:"pattern"`
	Category          string `json:"category"`
	Severity          string `json:"severity"`
	CVE               string `json:"cve"`
	ResponseCode      int    `json:"response_code"`
	Fingerprint       string `json:"fingerprint"`
	IsBot             bool   `json:"is_bot"`
	BotType           string `json:"bot_type"`
	BotBehavior       string `json:"bot_behavior"`
	RateLimited       bool   `json:"rate_limited"`
	SuspiciousHeaders bool   `json:"suspicious_headers"`
	SuspiciousUA      bool   `json:"suspicious_ua"`
}

// ShouldReport 是否写入 CrowdSec 日志, 受信任的本地地址不上报
func ShouldReport(e *Entry) bool {
	return !iplib.IsTrustedLocal(e.ClientIP) && e.HasThreatIndicator()
}

// NewCrowdSecEntry 由访问日志条目生成 CrowdSec 条目
func NewCrowdSecEntry(e *Entry) *CrowdSecEntry {
	scan, behavior, client := e.Scan, e.BotBehavior, e.Client

	threatType := "suspicious"
	switch {
	case scan.IsScan:
		threatType = orDefault(scan.Type, "scan")
	case behavior.IsBotBehavior:
		threatType = orDefault(behavior.BehaviorType, "bot_behavior")
	case client.IsBot:
		threatType = orDefault(client.BotType, "bot")
	case e.IsAuthAttempt:
		threatType = "auth_attempt"
	}

	severity := "low"
	switch {
	case scan.Severity != "":
		severity = string(scan.Severity)
	case behavior.Severity != "":
		severity = string(behavior.Severity)
	case client.BotType == security.BotTypeExploitationTool || client.BotType == security.BotTypeInjectionTool:
		severity = "high"
	case client.BotType == security.BotTypeVulnerabilityScanner || client.BotType == security.BotTypeDirectoryScanner:
		severity = "medium"
	}

	status := 0
	if e.Response != nil {
		status = e.Response.Status
	}

	return &CrowdSecEntry{
		Timestamp:         e.Timestamp,
		SourceIP:          e.ClientIP,
		Country:           e.Country,
		Request:           e.Method + " " + e.Path,
		Host:              e.Host,
		UserAgent:         client.UserAgent,
		Type:              threatType,
		Pattern:           orDefault(scan.Pattern, behavior.Pattern),
		Category:          orDefault(scan.Category, behavior.BehaviorType),
		Severity:          severity,
		CVE:               scan.CVE,
		ResponseCode:      status,
		Fingerprint:       client.Hash,
		IsBot:             client.IsBot,
		BotType:           client.BotType,
		BotBehavior:       behavior.BehaviorType,
		RateLimited:       e.RateLimit.IsLimited,
		SuspiciousHeaders: len(e.SuspiciousHeaders) > 0,
		SuspiciousUA:      client.IsSuspiciousUA,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// cut 按字符截断
func cut(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
