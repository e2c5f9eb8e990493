package security

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/secubox/secubox-waf/pkg/iplib"
	"github.com/secubox/secubox-waf/pkg/signature"
)

// BotBehavior 基于请求路径的机器人行为
type BotBehavior struct {
	IsBotBehavior bool               `json:"is_bot_behavior"`
	BehaviorType  string             `json:"behavior_type,omitempty"`
	Pattern       string             `json:"pattern,omitempty"`
	Severity      signature.Severity `json:"severity,omitempty"`
}

// behaviorPaths 扫描器常见探测路径
var behaviorPaths = []string{
	// 凭据/配置
	`/\.git/config`, `/\.git/HEAD`, `/\.gitignore`,
	`/\.env`, `/\.env\.local`, `/\.env\.production`,
	`/\.aws/credentials`, `/\.docker/config\.json`,
	`/wp-config\.php\.bak`, `/config\.php\.old`, `/config\.php\.save`,
	`/\.npmrc`, `/\.pypirc`, `/\.netrc`,

	// 管理后台
	`/administrator`, `/wp-login\.php`, `/wp-admin`,
	`/phpmyadmin`, `/pma`, `/myadmin`, `/mysql`,
	`/cpanel`, `/webmail`, `/admin`, `/manager`,
	`/login`, `/signin`, `/dashboard`,

	// 备份文件
	`\.sql\.gz$`, `\.sql\.bz2$`, `\.sql\.zip$`,
	`\.tar\.gz$`, `\.tar\.bz2$`, `\.zip$`, `\.rar$`,
	`\.bak$`, `\.old$`, `\.backup$`, `\.orig$`,
	`/backup`, `/dump`, `/export`, `/db\.sql`,

	// webshell
	`/c99\.php`, `/r57\.php`, `/shell\.php`, `/cmd\.php`,
	`/exec\.php`, `/webshell`, `/backdoor`, `/b374k`,
	`\.php\?cmd=`, `\.php\?c=`, `\.asp\?cmd=`,

	// 接口探测
	`/api/v\d+`, `/rest/`, `/graphql`, `/swagger`,
	`/api-docs`, `/_cat/`, `/_cluster/`, `/actuator`,
	`/__debug__`, `/debug/`, `/trace/`, `/metrics`,
}

// behaviorClasses 按规则文本归类, 顺序即优先级
var behaviorClasses = []struct {
	behavior string
	severity signature.Severity
	markers  []string
}{
	{"config_hunting", signature.SeverityHigh, []string{`\.git`, `\.env`, `\.aws`, "config", "credential"}},
	{"admin_hunting", signature.SeverityMedium, []string{"admin", "login", "cpanel", "phpmyadmin"}},
	{"backup_hunting", signature.SeverityHigh, []string{"backup", `\.sql`, `\.tar`, `\.zip`, "dump"}},
	{"shell_hunting", signature.SeverityCritical, []string{"shell", "cmd", "exec", "backdoor", "c99", "r57"}},
	{"api_discovery", signature.SeverityLow, []string{"api", "swagger", "graphql", "actuator"}},
}

type behaviorRule struct {
	pattern  string
	re       *regexp.Regexp
	behavior string
	severity signature.Severity
}

// behaviorRules 仅保留能归类的规则
var behaviorRules = compileBehaviorRules()

func compileBehaviorRules() []behaviorRule {
	var rules []behaviorRule
	for _, p := range behaviorPaths {
		for _, c := range behaviorClasses {
			if containsAny(p, c.markers) {
				rules = append(rules, behaviorRule{
					pattern:  p,
					re:       regexp.MustCompile("(?i)" + p),
					behavior: c.behavior,
					severity: c.severity,
				})
				break
			}
		}
	}
	return rules
}

// DetectBotBehavior 检测探测行为
func DetectBotBehavior(path string) BotBehavior {
	lower := strings.ToLower(path)
	for _, r := range behaviorRules {
		if r.re.MatchString(lower) {
			return BotBehavior{
				IsBotBehavior: true,
				BehaviorType:  r.behavior,
				Pattern:       r.pattern,
				Severity:      r.severity,
			}
		}
	}
	return BotBehavior{}
}

// SuspiciousHeader 可疑请求头
type SuspiciousHeader struct {
	Header  string `json:"header"`
	Value   string `json:"value"`
	Pattern string `json:"pattern"`
}

// suspiciousHeaders 常被攻击工具伪造的请求头
var suspiciousHeaders = []struct {
	header  string
	pattern string
	re      *regexp.Regexp
}{
	{header: "x-forwarded-for", pattern: `\d+\.\d+\.\d+\.\d+.*,.*,.*,`},
	{header: "x-originating-ip", pattern: `.+`},
	{header: "x-remote-ip", pattern: `.+`},
	{header: "x-remote-addr", pattern: `.+`},
	{header: "client-ip", pattern: `.+`},
	{header: "true-client-ip", pattern: `.+`},
	{header: "x-cluster-client-ip", pattern: `.+`},
	{header: "x-client-ip", pattern: `.+`},
	{header: "forwarded", pattern: `for=.+;.+;.+`},
}

func init() {
	for i := range suspiciousHeaders {
		suspiciousHeaders[i].re = regexp.MustCompile("(?i)" + suspiciousHeaders[i].pattern)
	}
}

// DetectSuspiciousHeaders 检测可疑请求头
func DetectSuspiciousHeaders(h http.Header) []SuspiciousHeader {
	var out []SuspiciousHeader
	for _, sh := range suspiciousHeaders {
		v := h.Get(sh.header)
		if v == "" || !sh.re.MatchString(v) {
			continue
		}
		out = append(out, SuspiciousHeader{
			Header:  sh.header,
			Value:   truncate(v, 100),
			Pattern: sh.pattern,
		})
	}
	return out
}

// authPaths 认证相关路径
var authPaths = []string{
	"/login", "/signin", "/auth", "/api/auth", "/oauth", "/token",
	"/session", "/cgi-bin/luci", "/admin", "/authenticate",
	"/api/login", "/api/signin", "/api/token", "/api/session",
	"/user/login", "/account/login", "/wp-login.php",
	"/j_security_check", "/j_spring_security_check",
	"/.well-known/openid-configuration", "/oauth2/authorize",
}

// IsAuthAttempt 是否为认证请求
func IsAuthAttempt(path string) bool {
	return containsAny(strings.ToLower(path), authPaths)
}

// Routing 缓存路由决策
type Routing struct {
	Proxied bool   `json:"proxied"`
	Reason  string `json:"reason"`
	Direct  bool   `json:"direct"`
}

// IsCacheRefresh 请求是否要求绕过缓存
func IsCacheRefresh(h http.Header) bool {
	cc := strings.ToLower(h.Get("Cache-Control"))
	if strings.Contains(cc, "no-cache") || strings.Contains(cc, "max-age=0") {
		return true
	}
	if strings.ToLower(h.Get("Pragma")) == "no-cache" {
		return true
	}
	if h.Get("X-Secubox-Refresh") == "1" {
		return true
	}
	return h.Get("If-None-Match") != "" || h.Get("If-Modified-Since") != ""
}

// RoutingDecision 决定请求走缓存还是直连
func RoutingDecision(h http.Header, sourceIP string) Routing {
	refresh := IsCacheRefresh(h)
	r := Routing{Proxied: !refresh, Direct: refresh}
	switch {
	case iplib.IsInternal(sourceIP):
		r.Reason = "internal"
	case refresh:
		r.Reason = "cache_refresh"
	default:
		r.Reason = "external_cached"
	}
	return r
}

// ApplyHeaders 为下游 (HAProxy/Squid) 写入路由与威胁标记
func ApplyHeaders(h http.Header, r Routing, v ThreatVerdict) {
	if r.Direct {
		h.Set("X-Secubox-Direct", "1")
		h.Set("Cache-Control", "no-cache, no-store")
	} else {
		h.Set("X-Secubox-Proxied", "1")
	}

	if v.IsScan {
		category := v.Category
		if category == "" {
			category = "unknown"
		}
		severity := string(v.Severity)
		if severity == "" {
			severity = string(signature.SeverityMedium)
		}
		h.Set("X-Secubox-Threat", category)
		h.Set("X-Secubox-Severity", severity)
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
