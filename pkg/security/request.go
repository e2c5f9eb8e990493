package security

import (
	"net"
	"net/http"
	"sort"
	"strings"
)

// RequestContext 单个请求的只读视图, 在入口处构建一次
type RequestContext struct {
	Method string
	Host   string
	// Path 含查询串的请求路径
	Path string
	// URLPath 不含查询串的路径
	URLPath string
	// URL 完整 URL (scheme://host/path?query)
	URL      string
	RawQuery string
	// QueryValues 按参数名排序展开的查询参数值
	QueryValues []string
	QueryQ      string
	Header      http.Header
	// Body 宽松解码后的请求体, 非法 UTF-8 字节被替换
	Body          string
	ContentLength int
	ContentType   string
	UserAgent     string
	// SourceIP 客户端地址 (X-Forwarded-For > X-Real-IP > 对端地址)
	SourceIP string
	// PeerIP 直连对端地址
	PeerIP string
}

// NewRequestContext 从 HTTP 请求构建上下文
func NewRequestContext(r *http.Request, body []byte) *RequestContext {
	peer := peerIP(r.RemoteAddr)

	header := r.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	if r.Host != "" {
		header.Set("Host", r.Host)
	}
	if len(r.TransferEncoding) > 0 && header.Get("Transfer-Encoding") == "" {
		header.Set("Transfer-Encoding", strings.Join(r.TransferEncoding, ", "))
	}

	path := r.RequestURI
	if path == "" && r.URL != nil {
		path = r.URL.RequestURI()
	}

	rc := &RequestContext{
		Method:        r.Method,
		Host:          r.Host,
		Path:          path,
		Header:        header,
		Body:          strings.ToValidUTF8(string(body), "\uFFFD"),
		ContentLength: len(body),
		ContentType:   strings.ToLower(r.Header.Get("Content-Type")),
		UserAgent:     r.Header.Get("User-Agent"),
		PeerIP:        peer,
	}

	if r.URL != nil {
		rc.URLPath = r.URL.Path
		rc.RawQuery = r.URL.RawQuery
		q := r.URL.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			rc.QueryValues = append(rc.QueryValues, q[k]...)
		}
		rc.QueryQ = q.Get("q")
	}

	rc.URL = requestScheme(r) + "://" + r.Host + path
	rc.SourceIP = sourceIP(r.Header, peer)
	return rc
}

// sourceIP 解析客户端地址
func sourceIP(h http.Header, peer string) string {
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}
	if real := strings.TrimSpace(h.Get("X-Real-IP")); real != "" {
		return real
	}
	return peer
}

func peerIP(remoteAddr string) string {
	if remoteAddr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return strings.ToLower(proto)
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// combined 路径 + 完整 URL + 请求体 + 查询参数值, 统一小写
func (rc *RequestContext) combined() string {
	parts := make([]string, 0, 3+len(rc.QueryValues))
	parts = append(parts, strings.ToLower(rc.Path), strings.ToLower(rc.URL), strings.ToLower(rc.Body))
	parts = append(parts, rc.QueryValues...)
	return strings.Join(parts, " ")
}

// narrow 仅请求体 + 查询参数值, 用于 SSRF 检测
func (rc *RequestContext) narrow() string {
	parts := make([]string, 0, 1+len(rc.QueryValues))
	parts = append(parts, strings.ToLower(rc.Body))
	parts = append(parts, rc.QueryValues...)
	return strings.Join(parts, " ")
}

// headerString 请求头拼接为 "k: v k: v" 形式, 小写
func (rc *RequestContext) headerString() string {
	keys := make([]string, 0, len(rc.Header))
	for k := range rc.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range rc.Header[k] {
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(v)
		}
	}
	return strings.ToLower(b.String())
}
