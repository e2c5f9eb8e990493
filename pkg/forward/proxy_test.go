package forward

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
)

func upstreamBackend(t *testing.T, srv *httptest.Server) Backend {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	p, _ := strconv.Atoi(port)
	return Backend{Host: host, Port: p}
}

// TestReverseProxyRoutes 测试按 Host 转发并保留原始 Host
func TestReverseProxyRoutes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Seen-Host", r.Host)
		w.Header().Set("X-Seen-XFF", r.Header.Get("X-Forwarded-For"))
		w.Header().Set("X-Seen-Threat", r.Header.Get("X-Secubox-Threat"))
		io.WriteString(w, "upstream:"+r.URL.RequestURI())
	}))
	defer upstream.Close()

	r := NewRouter(filepath.Join(t.TempDir(), "routes.json"),
		WithDefaultRoutes(map[string]Backend{"blog.example.org": upstreamBackend(t, upstream)}))
	proxy := NewReverseProxy(r)

	req := httptest.NewRequest("GET", "http://blog.example.org/post?id=1", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.5")
	req.Header.Set("X-Secubox-Threat", "injection")
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "upstream:/post?id=1" {
		t.Fatalf("转发失败: %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Seen-Host") != "blog.example.org" {
		t.Errorf("应保留原始 Host, 实际 %s", rec.Header().Get("X-Seen-Host"))
	}
	if rec.Header().Get("X-Seen-XFF") != "203.0.113.5" {
		t.Errorf("应保留 X-Forwarded-For, 实际 %s", rec.Header().Get("X-Seen-XFF"))
	}
	if rec.Header().Get("X-Seen-Threat") != "injection" {
		t.Error("应传递威胁标记头")
	}
}

// TestReverseProxyContextBackend 测试上下文中指定的上游优先
func TestReverseProxyContextBackend(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ctx")
	}))
	defer upstream.Close()

	r := NewRouter(filepath.Join(t.TempDir(), "routes.json"))
	var proxyErr error
	proxy := NewReverseProxy(r, WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
		proxyErr = err
		w.WriteHeader(http.StatusBadGateway)
	}))

	req := httptest.NewRequest("GET", "http://unknown.example/", nil)
	req = req.WithContext(WithBackend(req.Context(), upstreamBackend(t, upstream)))
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	if rec.Body.String() != "ctx" || proxyErr != nil {
		t.Errorf("应转发到上下文上游: %d %s %v", rec.Code, rec.Body.String(), proxyErr)
	}
}

// TestReverseProxyUpstreamDown 测试上游不可用时调用错误回调
func TestReverseProxyUpstreamDown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()

	r := NewRouter(filepath.Join(t.TempDir(), "routes.json"),
		WithDefaultBackend(Backend{Host: "127.0.0.1", Port: addr.Port}))

	called := false
	proxy := NewReverseProxy(r, WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
		called = true
		w.WriteHeader(http.StatusBadGateway)
	}))

	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, httptest.NewRequest("GET", "http://down.example/", nil))
	if !called || rec.Code != http.StatusBadGateway {
		t.Errorf("应调用错误回调: called=%v code=%d", called, rec.Code)
	}
}
