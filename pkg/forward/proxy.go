package forward

import (
	"context"
	"log"
	"net"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"github.com/go-gost/core/logger"

	applog "github.com/secubox/secubox-waf/pkg/logger"
)

type backendKey struct{}

// WithBackend 在请求上下文中指定上游, 反向代理优先使用该上游
func WithBackend(ctx context.Context, b Backend) context.Context {
	return context.WithValue(ctx, backendKey{}, b)
}

// BackendFromContext 读取上下文中的上游
func BackendFromContext(ctx context.Context) (Backend, bool) {
	b, ok := ctx.Value(backendKey{}).(Backend)
	return b, ok
}

// proxyOptions 反向代理选项
type proxyOptions struct {
	transport      http.RoundTripper
	modifyResponse func(*http.Response) error
	errorHandler   func(http.ResponseWriter, *http.Request, error)
	flushInterval  time.Duration
	logger         logger.Logger
}

// ProxyOption 选项
type ProxyOption func(*proxyOptions)

// WithTransport 设置上游传输
func WithTransport(rt http.RoundTripper) ProxyOption {
	return func(o *proxyOptions) {
		o.transport = rt
	}
}

// WithModifyResponse 设置响应回调
func WithModifyResponse(fn func(*http.Response) error) ProxyOption {
	return func(o *proxyOptions) {
		o.modifyResponse = fn
	}
}

// WithErrorHandler 设置上游错误回调
func WithErrorHandler(fn func(http.ResponseWriter, *http.Request, error)) ProxyOption {
	return func(o *proxyOptions) {
		o.errorHandler = fn
	}
}

// WithFlushInterval 设置响应刷新间隔
func WithFlushInterval(d time.Duration) ProxyOption {
	return func(o *proxyOptions) {
		o.flushInterval = d
	}
}

// WithProxyLogger 设置日志
func WithProxyLogger(l logger.Logger) ProxyOption {
	return func(o *proxyOptions) {
		o.logger = l
	}
}

// DefaultTransport 上游连接池
func DefaultTransport() *http.Transport {
	return &http.Transport{
		Proxy: nil,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 60 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// NewReverseProxy 创建按 Host 路由的反向代理, 保留原始 Host 与转发头
func NewReverseProxy(router *Router, opts ...ProxyOption) *httputil.ReverseProxy {
	o := &proxyOptions{
		transport: DefaultTransport(),
		logger:    applog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			b, ok := BackendFromContext(pr.In.Context())
			if !ok {
				b, _ = router.Resolve(pr.In.Host)
			}

			pr.Out.URL.Scheme = "http"
			pr.Out.URL.Host = b.Addr()
			pr.Out.Host = pr.In.Host

			// 前置 HAProxy 已设置的转发头原样传递
			for _, h := range []string{"X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto"} {
				if v, ok := pr.In.Header[h]; ok {
					pr.Out.Header[h] = append([]string(nil), v...)
				}
			}
		},
		Transport:      o.transport,
		ModifyResponse: o.modifyResponse,
		ErrorHandler:   o.errorHandler,
		FlushInterval:  o.flushInterval,
		ErrorLog:       log.New(&logWriter{logger: o.logger}, "", 0),
	}
}

// logWriter 将标准库日志转到 logger
type logWriter struct {
	logger logger.Logger
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.logger.Warnf("proxy: %s", strings.TrimSpace(string(p)))
	return len(p), nil
}
