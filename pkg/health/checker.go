package health

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/go-gost/core/logger"

	applog "github.com/secubox/secubox-waf/pkg/logger"
)

// Status 上游状态
type Status string

const (
	StatusUnknown   Status = "unknown"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Result 单个上游的检查结果
type Result struct {
	Target      string    `json:"target"`
	Status      Status    `json:"status"`
	LatencyMs   float64   `json:"latency_ms"`
	LastError   string    `json:"last_error,omitempty"`
	LastCheck   time.Time `json:"last_check"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	FailCount   int       `json:"fail_count"`
}

// TargetsFunc 返回当前需要检查的上游地址 (host:port)
type TargetsFunc func() []string

// DialFunc 建立探测连接
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

type target struct {
	status      Status
	latency     time.Duration
	lastErr     string
	lastCheck   time.Time
	lastSuccess time.Time
	failCount   int
	okCount     int
}

// Checker 上游 TCP 健康检查器
type Checker struct {
	mu            sync.RWMutex
	targets       map[string]*target
	source        TargetsFunc
	dial          DialFunc
	interval      time.Duration
	timeout       time.Duration
	unhealthy     int
	healthyThresh int
	logger        logger.Logger
}

// Option 选项
type Option func(*Checker)

// WithHCInterval 设置检查间隔
func WithHCInterval(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithHCTimeout 设置单次探测超时
func WithHCTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithHCUnhealthyThreshold 连续失败 n 次判定为不健康
func WithHCUnhealthyThreshold(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.unhealthy = n
		}
	}
}

// WithHCHealthyThreshold 连续成功 n 次判定为健康
func WithHCHealthyThreshold(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.healthyThresh = n
		}
	}
}

// WithHCDialer 替换探测拨号函数
func WithHCDialer(fn DialFunc) Option {
	return func(c *Checker) {
		c.dial = fn
	}
}

// WithHCLogger 设置日志
func WithHCLogger(l logger.Logger) Option {
	return func(c *Checker) {
		c.logger = l
	}
}

// NewChecker 创建健康检查器, 每轮检查前从 source 获取目标列表
func NewChecker(source TargetsFunc, opts ...Option) *Checker {
	c := &Checker{
		targets:       make(map[string]*target),
		source:        source,
		interval:      10 * time.Second,
		timeout:       3 * time.Second,
		unhealthy:     3,
		healthyThresh: 1,
		logger:        applog.Nop(),
	}
	d := &net.Dialer{}
	c.dial = d.DialContext

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run 周期性检查, 直到 ctx 结束
func (c *Checker) Run(ctx context.Context) {
	c.logger.Infof("upstream health checker started (interval %s)", c.interval)
	c.CheckAll(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("upstream health checker stopped")
			return
		case <-ticker.C:
			c.CheckAll(ctx)
		}
	}
}

// CheckAll 并发检查全部目标, 并移除已不在路由表中的目标
func (c *Checker) CheckAll(ctx context.Context) {
	addrs := c.source()
	seen := make(map[string]struct{}, len(addrs))

	var wg sync.WaitGroup
	for _, addr := range addrs {
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}

		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			c.check(ctx, addr)
		}(addr)
	}
	wg.Wait()

	c.mu.Lock()
	for addr := range c.targets {
		if _, ok := seen[addr]; !ok {
			delete(c.targets, addr)
		}
	}
	c.mu.Unlock()
}

func (c *Checker) check(ctx context.Context, addr string) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	conn, err := c.dial(ctx, "tcp", addr)
	latency := time.Since(start)
	if err == nil {
		conn.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.targets[addr]
	if !ok {
		t = &target{status: StatusUnknown}
		c.targets[addr] = t
	}
	prev := t.status
	t.lastCheck = start
	t.latency = latency

	if err != nil {
		t.lastErr = err.Error()
		t.failCount++
		t.okCount = 0
		if t.failCount >= c.unhealthy {
			t.status = StatusUnhealthy
		}
	} else {
		t.lastErr = ""
		t.lastSuccess = start
		t.failCount = 0
		t.okCount++
		if t.okCount >= c.healthyThresh {
			t.status = StatusHealthy
		}
	}

	if t.status == prev {
		return
	}
	if t.status == StatusUnhealthy {
		c.logger.Warnf("Upstream %s is DOWN: %s", addr, t.lastErr)
	} else {
		c.logger.Infof("Upstream %s is %s (%s)", addr, t.status, latency)
	}
}

// Results 按地址排序的检查结果
func (c *Checker) Results() []Result {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Result, 0, len(c.targets))
	for addr, t := range c.targets {
		out = append(out, Result{
			Target:      addr,
			Status:      t.status,
			LatencyMs:   float64(t.latency.Microseconds()) / 1000,
			LastError:   t.lastErr,
			LastCheck:   t.lastCheck,
			LastSuccess: t.lastSuccess,
			FailCount:   t.failCount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// Status 单个上游的状态, 未检查过时为 unknown
func (c *Checker) Status(addr string) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if t, ok := c.targets[addr]; ok {
		return t.status
	}
	return StatusUnknown
}

// Unhealthy 当前判定为不健康的上游数量
func (c *Checker) Unhealthy() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, t := range c.targets {
		if t.status == StatusUnhealthy {
			n++
		}
	}
	return n
}
