package analytics

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/secubox/secubox-waf/pkg/forward"
)

type flowKey struct{}

// WithFlow 将 Flow 放入上下文
func WithFlow(ctx context.Context, f *Flow) context.Context {
	return context.WithValue(ctx, flowKey{}, f)
}

// FlowFromContext 取出上下文中的 Flow
func FlowFromContext(ctx context.Context) *Flow {
	f, _ := ctx.Value(flowKey{}).(*Flow)
	return f
}

// Handler 检查中间件
// 读取至多 maxBodyBytes 字节请求体用于检查, 完整请求体原样转发给 next
func (e *Engine) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := e.bufferBody(r)

		if flow := e.OnRequest(r, body); flow != nil {
			ctx := WithFlow(r.Context(), flow)
			if flow.Backend.Host != "" {
				ctx = forward.WithBackend(ctx, flow.Backend)
			}
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// bufferBody 读取请求体前缀并重新拼接到 r.Body
func (e *Engine) bufferBody(r *http.Request) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}

	buf, err := io.ReadAll(io.LimitReader(r.Body, e.maxBodyBytes))
	if err != nil {
		e.logger.Debugf("read request body: %v", err)
	}
	r.Body = &prefixedBody{Reader: io.MultiReader(bytes.NewReader(buf), r.Body), Closer: r.Body}
	return buf
}

type prefixedBody struct {
	io.Reader
	io.Closer
}

// NewProxyHandler 组合检查中间件与按 Host 路由的反向代理
func NewProxyHandler(e *Engine, router *forward.Router, opts ...forward.ProxyOption) http.Handler {
	hooks := []forward.ProxyOption{
		forward.WithProxyLogger(e.logger),
		forward.WithModifyResponse(func(resp *http.Response) error {
			e.trackResponse(FlowFromContext(resp.Request.Context()), resp)
			return nil
		}),
		forward.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
			e.logger.Warnf("upstream error for %s%s: %v", r.Host, r.URL.Path, err)
			e.OnError(FlowFromContext(r.Context()), err)
			w.WriteHeader(http.StatusBadGateway)
		}),
	}
	return e.Handler(forward.NewReverseProxy(router, append(hooks, opts...)...))
}

// trackResponse 响应体已知长度时立即完成, 否则在响应体关闭时按实际字节数完成
func (e *Engine) trackResponse(f *Flow, resp *http.Response) {
	if f == nil {
		return
	}
	if resp.ContentLength >= 0 || resp.Body == nil || resp.Body == http.NoBody {
		e.OnResponse(f, resp)
		return
	}

	status, header := resp.StatusCode, resp.Header.Clone()
	resp.Body = &countingBody{
		ReadCloser: resp.Body,
		onClose: func(n int64) {
			e.finish(f, status, header, n)
		},
	}
}

// countingBody 统计已读字节数, 关闭时回调一次
type countingBody struct {
	io.ReadCloser
	n       int64
	once    sync.Once
	onClose func(n int64)
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	atomic.AddInt64(&b.n, int64(n))
	return n, err
}

func (b *countingBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(func() {
		b.onClose(atomic.LoadInt64(&b.n))
	})
	return err
}
