package forward

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gost/core/logger"

	applog "github.com/secubox/secubox-waf/pkg/logger"
)

// DefaultReloadEvery 每处理 N 个请求检查一次路由文件
const DefaultReloadEvery = 10

// Backend 上游地址, JSON 格式为 ["ip", port]
type Backend struct {
	Host string
	Port int
}

// DefaultBackend 无匹配路由时的上游
var DefaultBackend = Backend{Host: "127.0.0.1", Port: 8081}

// Addr host:port
func (b Backend) Addr() string {
	return net.JoinHostPort(b.Host, strconv.Itoa(b.Port))
}

// String 实现 fmt.Stringer
func (b Backend) String() string {
	return b.Addr()
}

// MarshalJSON 实现 json.Marshaler
func (b Backend) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{b.Host, b.Port})
}

// UnmarshalJSON 实现 json.Unmarshaler
func (b *Backend) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil || len(pair) != 2 {
		return fmt.Errorf("%w: %s", ErrInvalidBackend, data)
	}

	var host string
	if err := json.Unmarshal(pair[0], &host); err != nil || host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidBackend, data)
	}

	port, err := parsePort(pair[1])
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidBackend, data)
	}

	b.Host, b.Port = host, port
	return nil
}

// parsePort 端口可为数字或字符串
func parsePort(raw json.RawMessage) (int, error) {
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return checkPort(int(n))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	n2, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return checkPort(n2)
}

func checkPort(p int) (int, error) {
	if p <= 0 || p > 65535 {
		return 0, fmt.Errorf("端口超出范围: %d", p)
	}
	return p, nil
}

// ParseBackend 解析 host:port
func ParseBackend(s string) (Backend, error) {
	host, port, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil || host == "" {
		return Backend{}, fmt.Errorf("%w: %q", ErrInvalidBackend, s)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return Backend{}, fmt.Errorf("%w: %q", ErrInvalidBackend, s)
	}
	if _, err := checkPort(p); err != nil {
		return Backend{}, fmt.Errorf("%w: %q", ErrInvalidBackend, s)
	}
	return Backend{Host: host, Port: p}, nil
}

// ParseRoutes 解析路由表 JSON: {"host": ["ip", port]}
func ParseRoutes(data []byte) (map[string]Backend, error) {
	routes := make(map[string]Backend)
	if err := json.Unmarshal(data, &routes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoutes, err)
	}
	return routes, nil
}

// DefaultRoutes 路由文件不存在时写入的初始路由表
func DefaultRoutes() map[string]Backend {
	return map[string]Backend{
		"localhost":     DefaultBackend,
		"secubox.lan":   DefaultBackend,
		"*.secubox.lan": DefaultBackend,
	}
}

type wildcard struct {
	suffix  string
	backend Backend
}

// RouteTable 不可变的路由快照
type RouteTable struct {
	exact     map[string]Backend
	wildcards []wildcard
	source    map[string]Backend
}

// NewRouteTable 编译路由表, 通配符按后缀长度降序排列
func NewRouteTable(routes map[string]Backend) *RouteTable {
	t := &RouteTable{
		exact:  make(map[string]Backend, len(routes)),
		source: make(map[string]Backend, len(routes)),
	}
	for pattern, b := range routes {
		t.source[pattern] = b
		key := strings.ToLower(strings.TrimSpace(pattern))
		switch {
		case strings.HasPrefix(key, "*."):
			t.wildcards = append(t.wildcards, wildcard{suffix: key[1:], backend: b})
		case strings.HasPrefix(key, "."):
			t.wildcards = append(t.wildcards, wildcard{suffix: key, backend: b})
		default:
			t.exact[key] = b
		}
	}

	sort.Slice(t.wildcards, func(i, j int) bool {
		a, b := t.wildcards[i].suffix, t.wildcards[j].suffix
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
	return t
}

// Lookup 精确匹配优先, 其次最长通配后缀
func (t *RouteTable) Lookup(hostname string) (Backend, bool) {
	if b, ok := t.exact[hostname]; ok {
		return b, true
	}
	for _, w := range t.wildcards {
		if strings.HasSuffix(hostname, w.suffix) {
			return w.backend, true
		}
	}
	return Backend{}, false
}

// Len 路由条目数
func (t *RouteTable) Len() int {
	return len(t.source)
}

// Router 按 Host 头选择上游
type Router struct {
	path        string
	def         Backend
	defaults    map[string]Backend
	reloadEvery int64
	logger      logger.Logger

	table   atomic.Pointer[RouteTable]
	counter atomic.Int64

	mu    sync.Mutex
	mtime time.Time
}

// RouterOption 选项
type RouterOption func(*Router)

// WithDefaultBackend 设置默认上游
func WithDefaultBackend(b Backend) RouterOption {
	return func(r *Router) {
		r.def = b
	}
}

// WithReloadEvery 设置检查路由文件的请求间隔
func WithReloadEvery(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.reloadEvery = int64(n)
		}
	}
}

// WithDefaultRoutes 设置文件缺失时写入的路由表
func WithDefaultRoutes(routes map[string]Backend) RouterOption {
	return func(r *Router) {
		r.defaults = routes
	}
}

// WithRouterLogger 设置日志
func WithRouterLogger(l logger.Logger) RouterOption {
	return func(r *Router) {
		r.logger = l
	}
}

// NewRouter 创建路由器并加载路由文件
func NewRouter(path string, opts ...RouterOption) *Router {
	r := &Router{
		path:        path,
		def:         DefaultBackend,
		defaults:    DefaultRoutes(),
		reloadEvery: DefaultReloadEvery,
		logger:      applog.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.table.Store(NewRouteTable(nil))

	if err := r.Reload(); err != nil {
		r.logger.Errorf("Failed to load routes: %v", err)
	}
	r.logger.Infof("Backend router loaded with %d routes", r.table.Load().Len())
	return r
}

// Resolve 解析请求 Host 对应的上游, 未命中时返回默认上游与 false
func (r *Router) Resolve(host string) (Backend, bool) {
	if r.counter.Add(1)%r.reloadEvery == 0 {
		r.checkReload()
	}

	hostname := normalizeHost(host)
	if b, ok := r.table.Load().Lookup(hostname); ok {
		r.logger.Debugf("ROUTE: %s -> %s", host, b)
		return b, true
	}

	r.logger.Debugf("No route for %s, using default %s", hostname, r.def)
	return r.def, false
}

// Default 默认上游
func (r *Router) Default() Backend {
	return r.def
}

// normalizeHost 去掉端口并转小写
func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	} else if i := strings.IndexByte(host, ':'); i >= 0 && !strings.Contains(host[i+1:], ":") {
		host = host[:i]
	}
	return strings.ToLower(strings.Trim(host, "[]"))
}

// checkReload 文件修改时间变新时重新加载
func (r *Router) checkReload() {
	fi, err := os.Stat(r.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			r.logger.Errorf("Error checking routes file: %v", err)
		}
		return
	}

	r.mu.Lock()
	changed := fi.ModTime().After(r.mtime)
	r.mu.Unlock()

	if changed {
		r.logger.Infof("Routes file changed, reloading...")
		if err := r.Reload(); err != nil {
			r.logger.Errorf("Failed to reload routes: %v", err)
		}
	}
}

// Reload 重新加载路由文件
// 文件不存在时写入默认路由表; 文件损坏时使用空路由表并返回错误
func (r *Router) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fi, err := os.Stat(r.path)
	if errors.Is(err, os.ErrNotExist) {
		r.logger.Warnf("Routes file not found: %s", r.path)
		r.table.Store(NewRouteTable(r.defaults))
		if err := r.writeDefaults(); err != nil {
			r.logger.Warnf("Failed to write default routes: %v", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取路由文件失败: %w", err)
	}

	r.mtime = fi.ModTime()
	data, err := os.ReadFile(r.path)
	if err != nil {
		r.table.Store(NewRouteTable(nil))
		return fmt.Errorf("读取路由文件失败: %w", err)
	}

	routes, err := ParseRoutes(data)
	if err != nil {
		r.table.Store(NewRouteTable(nil))
		return err
	}

	r.table.Store(NewRouteTable(routes))
	r.logger.Infof("Loaded %d routes from %s", len(routes), r.path)
	return nil
}

// writeDefaults 需持有 mu
func (r *Router) writeDefaults() error {
	data, err := json.MarshalIndent(r.defaults, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(r.path, data, 0644); err != nil {
		return err
	}
	if fi, err := os.Stat(r.path); err == nil {
		r.mtime = fi.ModTime()
	}
	return nil
}

// Routes 当前路由表副本
func (r *Router) Routes() map[string]Backend {
	src := r.table.Load().source
	out := make(map[string]Backend, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// Backends 默认上游与路由表中全部上游的去重地址
func (r *Router) Backends() []string {
	seen := map[string]struct{}{r.def.Addr(): {}}
	out := []string{r.def.Addr()}
	for _, b := range r.table.Load().source {
		addr := b.Addr()
		if _, ok := seen[addr]; ok {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	return out
}
