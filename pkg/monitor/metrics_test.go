package monitor

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// TestMetricsHandler 测试指标导出
func TestMetricsHandler(t *testing.T) {
	m := NewMetrics("test")
	m.ObserveRequest(2 * time.Millisecond)
	m.ObserveThreat("sqli", "critical")
	m.ObserveBan("critical")
	m.ObserveRateLimited()
	m.ObserveBot("scanner")
	m.ObserveBehavior("config_hunting")
	m.ObserveUpstream(502)
	m.ObserveUpstream(0)
	m.ObservePanic()

	if err := m.RegisterGaugeFunc("tracked_ips", "Tracked IPs", func() float64 { return 7 }); err != nil {
		t.Fatalf("注册仪表失败: %v", err)
	}
	if err := m.RegisterGaugeFunc("tracked_ips", "Tracked IPs", func() float64 { return 7 }); err == nil {
		t.Error("重复注册应返回错误")
	}
	if err := m.RegisterCounterFunc("log_dropped_total", "Dropped", func() float64 { return 3 }); err != nil {
		t.Fatalf("注册计数器失败: %v", err)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`secubox_waf_requests_total 1`,
		`secubox_waf_threats_total{category="sqli",severity="critical"} 1`,
		`secubox_waf_ban_requests_total{severity="critical"} 1`,
		`secubox_waf_rate_limited_total 1`,
		`secubox_waf_bots_total{bot_type="scanner"} 1`,
		`secubox_waf_bot_behaviors_total{behavior="config_hunting"} 1`,
		`secubox_waf_upstream_responses_total{class="5xx"} 1`,
		`secubox_waf_upstream_responses_total{class="error"} 1`,
		`secubox_waf_hook_panics_total 1`,
		`secubox_waf_build_info{version="test"} 1`,
		`secubox_waf_tracked_ips 7`,
		`secubox_waf_log_dropped_total 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("指标输出缺少 %q", want)
		}
	}
}

// TestMetricsNil 测试 nil 接收者
func TestMetricsNil(t *testing.T) {
	var m *Metrics
	m.ObserveRequest(time.Millisecond)
	m.ObserveThreat("x", "y")
	m.ObserveUpstream(200)
	if err := m.RegisterGaugeFunc("x", "x", func() float64 { return 0 }); err != nil {
		t.Errorf("nil 指标不应返回错误: %v", err)
	}
	if m.Registry() != nil {
		t.Error("nil 指标注册表应为 nil")
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("nil 指标应返回 404, 实际 %d", rec.Code)
	}
}

// TestStatusClass 测试状态码分类
func TestStatusClass(t *testing.T) {
	cases := map[int]string{200: "2xx", 301: "3xx", 404: "4xx", 503: "5xx", 0: "error", 999: "error"}
	for status, want := range cases {
		if got := StatusClass(status); got != want {
			t.Errorf("StatusClass(%d) = %s, 期望 %s", status, got, want)
		}
	}
}

// TestHostMonitor 测试主机资源采集与缓存
func TestHostMonitor(t *testing.T) {
	h := NewHostMonitor(t.TempDir(), time.Minute)
	first := h.Stats(context.Background())
	if first.Goroutines <= 0 {
		t.Errorf("协程数应大于 0: %+v", first)
	}
	if first.MemoryTotal == 0 && len(first.Errors) == 0 {
		t.Errorf("内存信息缺失且无错误: %+v", first)
	}

	second := h.Stats(context.Background())
	if second.Goroutines != first.Goroutines || second.DiskPath != first.DiskPath {
		t.Error("缓存期内应返回相同结果")
	}
}
