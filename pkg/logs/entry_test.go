package logs

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/secubox/secubox-waf/pkg/security"
	"github.com/secubox/secubox-waf/pkg/signature"
)

func threatEntry(ip string) *Entry {
	e := NewEntry(time.Date(2026, 1, 1, 12, 0, 0, 123456000, time.UTC))
	e.ClientIP = ip
	e.Country = "FR"
	e.Method = "GET"
	e.Host = "blog.example.org"
	e.Path = "/search?q=1'+OR+'1'='1"
	e.Client = security.ClientFingerprint{Hash: "abcdef012345", UserAgent: "sqlmap/1.7", IsBot: true, BotType: security.BotTypeInjectionTool}
	e.Scan = security.ThreatVerdict{IsScan: true, Pattern: "sql_injection", Type: "injection", Severity: signature.SeverityCritical, Category: "injection"}
	return e
}

// TestEntryJSON 测试访问日志字段
func TestEntryJSON(t *testing.T) {
	e := threatEntry("203.0.113.5")
	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("序列化失败: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if m["timestamp"] != "2026-01-01T12:00:00.123456Z" {
		t.Errorf("时间格式错误: %v", m["timestamp"])
	}
	for _, key := range []string{"ts", "client_ip", "client", "scan", "bot_behavior", "routing", "rate_limit", "headers", "suspicious_headers"} {
		if _, ok := m[key]; !ok {
			t.Errorf("缺少字段 %s", key)
		}
	}
	if _, ok := m["response"]; ok {
		t.Error("未完成的条目不应包含 response")
	}
}

// TestShouldReport 测试 CrowdSec 上报条件
func TestShouldReport(t *testing.T) {
	if !ShouldReport(threatEntry("203.0.113.5")) {
		t.Error("外部威胁应上报")
	}
	for _, ip := range []string{"192.168.1.2", "10.1.1.1", "172.17.0.2", "127.0.0.1"} {
		if ShouldReport(threatEntry(ip)) {
			t.Errorf("%s 为受信任地址, 不应上报", ip)
		}
	}

	// 172.20.x 不在受信任范围内
	if !ShouldReport(threatEntry("172.20.0.2")) {
		t.Error("172.20.0.2 应上报")
	}

	clean := NewEntry(time.Now())
	clean.ClientIP = "203.0.113.5"
	if ShouldReport(clean) {
		t.Error("无威胁迹象不应上报")
	}
	clean.RateLimit.IsLimited = true
	if !ShouldReport(clean) {
		t.Error("被限流应上报")
	}
}

// TestNewCrowdSecEntry 测试 CrowdSec 条目推导
func TestNewCrowdSecEntry(t *testing.T) {
	e := threatEntry("203.0.113.5")
	e.Response = &ResponseInfo{Status: 403}

	cs := NewCrowdSecEntry(e)
	if cs.Type != "injection" || cs.Severity != "critical" || cs.Pattern != "sql_injection" || cs.ResponseCode != 403 {
		t.Errorf("CrowdSec 条目错误: %+v", cs)
	}
	if cs.Request != "GET /search?q=1'+OR+'1'='1" || cs.Fingerprint != "abcdef012345" {
		t.Errorf("请求或指纹错误: %+v", cs)
	}

	// 仅有机器人行为
	e = NewEntry(time.Now())
	e.ClientIP = "203.0.113.5"
	e.BotBehavior = security.BotBehavior{IsBotBehavior: true, BehaviorType: "config_hunting", Pattern: "/.env", Severity: signature.SeverityHigh}
	cs = NewCrowdSecEntry(e)
	if cs.Type != "config_hunting" || cs.Category != "config_hunting" || cs.Severity != "high" || cs.Pattern != "/.env" {
		t.Errorf("行为条目错误: %+v", cs)
	}

	// 仅有扫描器 UA
	e = NewEntry(time.Now())
	e.Client = security.ClientFingerprint{IsBot: true, BotType: security.BotTypeDirectoryScanner}
	cs = NewCrowdSecEntry(e)
	if cs.Type != security.BotTypeDirectoryScanner || cs.Severity != "medium" {
		t.Errorf("扫描器条目错误: %+v", cs)
	}

	e = NewEntry(time.Now())
	e.IsAuthAttempt = true
	if cs = NewCrowdSecEntry(e); cs.Type != "auth_attempt" || cs.Severity != "low" {
		t.Errorf("认证条目错误: %+v", cs)
	}
}

// TestCaptureHeaders 测试头部摘要截断
func TestCaptureHeaders(t *testing.T) {
	h := make(http.Header)
	h.Set("Referer", strings.Repeat("r", 300))
	h.Set("Content-Type", strings.Repeat("c", 300))
	rh := CaptureRequestHeaders(h)
	if len(rh.Referer) != 200 || len(rh.ContentType) != 100 {
		t.Errorf("截断错误: %d/%d", len(rh.Referer), len(rh.ContentType))
	}

	resp := make(http.Header)
	resp.Set("X-Cache-Status", "hit")
	resp.Set("Content-Length", "512")
	resp.Set("Via", "1.1 squid")

	ci := CaptureCache(resp)
	if ci.Hit == nil || !*ci.Hit || ci.Status != "hit" || ci.Via != "1.1 squid" {
		t.Errorf("缓存信息错误: %+v", ci)
	}
	if CaptureCache(make(http.Header)).Hit != nil {
		t.Error("无缓存头时 hit 应为 null")
	}

	if ri := CaptureResponse(200, resp, -1); ri.ContentLength != 512 {
		t.Errorf("应使用 Content-Length, 实际 %d", ri.ContentLength)
	}
}
