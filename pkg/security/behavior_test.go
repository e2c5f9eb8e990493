package security

import (
	"net/http"
	"testing"

	"github.com/secubox/secubox-waf/pkg/signature"
)

// TestDetectBotBehavior 测试探测行为分类
func TestDetectBotBehavior(t *testing.T) {
	tests := []struct {
		path     string
		behavior string
		severity signature.Severity
	}{
		{"/.git/config", "config_hunting", signature.SeverityHigh},
		{"/.ENV", "config_hunting", signature.SeverityHigh},
		{"/wp-login.php", "admin_hunting", signature.SeverityMedium},
		{"/site.tar.gz", "backup_hunting", signature.SeverityHigh},
		{"/uploads/shell.php", "shell_hunting", signature.SeverityCritical},
		{"/swagger/index.html", "api_discovery", signature.SeverityLow},
		{"/api/v2/users", "api_discovery", signature.SeverityLow},
	}
	for _, tt := range tests {
		b := DetectBotBehavior(tt.path)
		if !b.IsBotBehavior || b.BehaviorType != tt.behavior || b.Severity != tt.severity {
			t.Errorf("%s: 期望 %s/%s, 实际 %+v", tt.path, tt.behavior, tt.severity, b)
		}
	}

	// 无法归类的规则不产生结果
	for _, p := range []string{"/dashboard", "/metrics", "/index.html"} {
		if b := DetectBotBehavior(p); b.IsBotBehavior {
			t.Errorf("%s 不应判定为探测行为: %+v", p, b)
		}
	}
}

// TestDetectSuspiciousHeaders 测试可疑请求头
func TestDetectSuspiciousHeaders(t *testing.T) {
	h := make(http.Header)
	h.Set("X-Forwarded-For", "1.2.3.4")
	if got := DetectSuspiciousHeaders(h); len(got) != 0 {
		t.Errorf("单跳 XFF 不应可疑: %+v", got)
	}

	h.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8, 9.9.9.9, 10.0.0.1")
	h.Set("True-Client-IP", "127.0.0.1")
	got := DetectSuspiciousHeaders(h)
	if len(got) != 2 {
		t.Fatalf("应检测到 2 个可疑请求头, 实际 %+v", got)
	}
	if got[0].Header != "x-forwarded-for" || got[1].Header != "true-client-ip" {
		t.Errorf("可疑请求头顺序错误: %+v", got)
	}
}

// TestIsAuthAttempt 测试认证路径
func TestIsAuthAttempt(t *testing.T) {
	for _, p := range []string{"/login", "/API/Token?x=1", "/cgi-bin/luci/admin", "/wp-login.php"} {
		if !IsAuthAttempt(p) {
			t.Errorf("%s 应为认证请求", p)
		}
	}
	if IsAuthAttempt("/blog/post-1") {
		t.Error("/blog/post-1 不应为认证请求")
	}
}

// TestRoutingDecision 测试缓存路由
func TestRoutingDecision(t *testing.T) {
	h := make(http.Header)

	r := RoutingDecision(h, "203.0.113.5")
	if !r.Proxied || r.Direct || r.Reason != "external_cached" {
		t.Errorf("外部普通请求应走缓存: %+v", r)
	}

	r = RoutingDecision(h, "192.168.1.10")
	if !r.Proxied || r.Reason != "internal" {
		t.Errorf("内部请求应走缓存: %+v", r)
	}

	h.Set("Cache-Control", "max-age=0")
	r = RoutingDecision(h, "203.0.113.5")
	if r.Proxied || !r.Direct || r.Reason != "cache_refresh" {
		t.Errorf("刷新请求应直连: %+v", r)
	}

	h = make(http.Header)
	h.Set("If-None-Match", `"abc"`)
	if !IsCacheRefresh(h) {
		t.Error("条件请求应视为刷新")
	}
}

// TestApplyHeaders 测试下游标记头
func TestApplyHeaders(t *testing.T) {
	h := make(http.Header)
	ApplyHeaders(h, Routing{Direct: true, Reason: "cache_refresh"}, ThreatVerdict{
		IsScan: true, Category: "injection", Severity: signature.SeverityCritical,
	})

	if h.Get("X-Secubox-Direct") != "1" || h.Get("Cache-Control") != "no-cache, no-store" {
		t.Errorf("直连标记错误: %v", h)
	}
	if h.Get("X-Secubox-Threat") != "injection" || h.Get("X-Secubox-Severity") != "critical" {
		t.Errorf("威胁标记错误: %v", h)
	}

	h = make(http.Header)
	ApplyHeaders(h, Routing{Proxied: true}, ThreatVerdict{})
	if h.Get("X-Secubox-Proxied") != "1" || h.Get("X-Secubox-Threat") != "" {
		t.Errorf("缓存标记错误: %v", h)
	}
}
