package security

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gost/core/logger"

	applog "github.com/secubox/secubox-waf/pkg/logger"
)

// Clock 时间源
type Clock func() time.Time

// 默认限流参数
const (
	DefaultRateWindow    = 60 * time.Second
	DefaultRateThreshold = 100
)

// RateLimiter 按来源 IP 的滑动窗口限流器
type RateLimiter struct {
	mu        sync.RWMutex
	windows   map[string]*SlidingWindow
	window    time.Duration
	threshold int
	now       Clock
	stats     RateLimiterStats
	logger    logger.Logger
}

// SlidingWindow 滑动窗口, 保存窗口内每次请求的时间
type SlidingWindow struct {
	mu       sync.Mutex
	requests []time.Time
}

// RateLimitResult 限流检查结果
type RateLimitResult struct {
	IsLimited bool `json:"is_limited"`
	Count     int  `json:"count"`
	Window    int  `json:"window,omitempty"`
	Threshold int  `json:"threshold,omitempty"`
}

// RateLimiterStats 限流统计
type RateLimiterStats struct {
	TotalRequests int64 `json:"total_requests"`
	TotalLimited  int64 `json:"total_limited"`
	TrackedIPs    int   `json:"tracked_ips"`
}

// RateLimiterOption 限流器选项
type RateLimiterOption func(*RateLimiter)

// WithWindow 设置窗口
func WithWindow(d time.Duration) RateLimiterOption {
	return func(rl *RateLimiter) {
		if d > 0 {
			rl.window = d
		}
	}
}

// WithThreshold 设置阈值
func WithThreshold(n int) RateLimiterOption {
	return func(rl *RateLimiter) {
		if n > 0 {
			rl.threshold = n
		}
	}
}

// WithClock 设置时间源
func WithClock(c Clock) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.now = c
	}
}

// WithRateLimiterLogger 设置日志
func WithRateLimiterLogger(l logger.Logger) RateLimiterOption {
	return func(rl *RateLimiter) {
		rl.logger = l
	}
}

// NewRateLimiter 创建限流器
func NewRateLimiter(opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		windows:   make(map[string]*SlidingWindow),
		window:    DefaultRateWindow,
		threshold: DefaultRateThreshold,
		now:       time.Now,
		logger:    applog.Nop(),
	}

	for _, opt := range opts {
		opt(rl)
	}

	return rl
}

// Check 记录一次请求并判断是否超限
// 窗口内计数 (含本次) 大于阈值即为超限
func (rl *RateLimiter) Check(ip string) RateLimitResult {
	atomic.AddInt64(&rl.stats.TotalRequests, 1)
	now := rl.now()

	// 持有读锁期间 Sweep 不会删除该窗口
	rl.mu.RLock()
	w, ok := rl.windows[ip]
	if ok {
		count := w.add(now, rl.window)
		rl.mu.RUnlock()
		return rl.result(ip, count)
	}
	rl.mu.RUnlock()

	rl.mu.Lock()
	if w, ok = rl.windows[ip]; !ok {
		w = &SlidingWindow{}
		rl.windows[ip] = w
	}
	count := w.add(now, rl.window)
	rl.mu.Unlock()
	return rl.result(ip, count)
}

func (rl *RateLimiter) result(ip string, count int) RateLimitResult {
	if count <= rl.threshold {
		return RateLimitResult{Count: count}
	}

	atomic.AddInt64(&rl.stats.TotalLimited, 1)
	rl.logger.Debugf("rate_limit: ip=%s count=%d threshold=%d", ip, count, rl.threshold)
	return RateLimitResult{
		IsLimited: true,
		Count:     count,
		Window:    int(rl.window / time.Second),
		Threshold: rl.threshold,
	}
}

// add 清理过期请求并记录本次, 返回窗口内计数
func (w *SlidingWindow) add(now time.Time, window time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now, window)
	w.requests = append(w.requests, now)
	return len(w.requests)
}

// prune 清理过期请求, 需持有 w.mu
func (w *SlidingWindow) prune(now time.Time, window time.Duration) {
	i := 0
	for i < len(w.requests) && now.Sub(w.requests[i]) >= window {
		i++
	}
	if i > 0 {
		w.requests = append(w.requests[:0], w.requests[i:]...)
	}
}

// Sweep 删除窗口已全部过期的 IP
func (rl *RateLimiter) Sweep() int {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for ip, w := range rl.windows {
		w.mu.Lock()
		w.prune(now, rl.window)
		empty := len(w.requests) == 0
		w.mu.Unlock()
		if empty {
			delete(rl.windows, ip)
			removed++
		}
	}
	return removed
}

// Run 周期性清理, 直到 ctx 结束
func (rl *RateLimiter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rl.Sweep(); n > 0 {
				rl.logger.Debugf("rate_limit: swept %d idle windows", n)
			}
		}
	}
}

// Stats 获取统计
func (rl *RateLimiter) Stats() RateLimiterStats {
	rl.mu.RLock()
	tracked := len(rl.windows)
	rl.mu.RUnlock()

	return RateLimiterStats{
		TotalRequests: atomic.LoadInt64(&rl.stats.TotalRequests),
		TotalLimited:  atomic.LoadInt64(&rl.stats.TotalLimited),
		TrackedIPs:    tracked,
	}
}

// Reset 重置限流器
func (rl *RateLimiter) Reset() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.windows = make(map[string]*SlidingWindow)
	atomic.StoreInt64(&rl.stats.TotalRequests, 0)
	atomic.StoreInt64(&rl.stats.TotalLimited, 0)
}
