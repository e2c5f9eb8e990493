package security

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock 可控时间源
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// TestRateLimiterThreshold 测试第 T+1 次请求开始限流
func TestRateLimiterThreshold(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(WithThreshold(5), WithWindow(time.Minute), WithClock(clock.Now))

	for i := 1; i <= 5; i++ {
		res := rl.Check("203.0.113.5")
		if res.IsLimited || res.Count != i {
			t.Fatalf("第 %d 次请求不应限流: %+v", i, res)
		}
		clock.Advance(time.Second)
	}

	res := rl.Check("203.0.113.5")
	if !res.IsLimited || res.Count != 6 || res.Threshold != 5 || res.Window != 60 {
		t.Errorf("第 6 次请求应限流: %+v", res)
	}

	if rl.Check("198.51.100.1").IsLimited {
		t.Error("其他 IP 不应受影响")
	}
}

// TestRateLimiterWindow 测试超出窗口的请求不累计
func TestRateLimiterWindow(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(WithThreshold(2), WithWindow(time.Minute), WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		res := rl.Check("203.0.113.5")
		if res.IsLimited || res.Count != 1 {
			t.Fatalf("间隔超过窗口的请求不应累计: %+v", res)
		}
		clock.Advance(61 * time.Second)
	}

	// 恰好等于窗口长度的旧请求也被清理
	rl.Check("192.0.2.1")
	clock.Advance(time.Minute)
	if res := rl.Check("192.0.2.1"); res.Count != 1 {
		t.Errorf("窗口边界上的请求应过期, 实际 count=%d", res.Count)
	}
}

// TestRateLimiterSweep 测试清理空闲窗口
func TestRateLimiterSweep(t *testing.T) {
	clock := newFakeClock()
	rl := NewRateLimiter(WithClock(clock.Now))

	rl.Check("203.0.113.5")
	rl.Check("203.0.113.6")
	clock.Advance(30 * time.Second)
	rl.Check("203.0.113.6")
	clock.Advance(40 * time.Second)

	if n := rl.Sweep(); n != 1 {
		t.Errorf("应清理 1 个窗口, 实际 %d", n)
	}
	if st := rl.Stats(); st.TrackedIPs != 1 || st.TotalRequests != 3 {
		t.Errorf("统计错误: %+v", st)
	}

	rl.Reset()
	if st := rl.Stats(); st.TrackedIPs != 0 || st.TotalRequests != 0 {
		t.Errorf("重置后统计应为空: %+v", st)
	}
}

// TestRateLimiterConcurrent 测试并发计数准确
func TestRateLimiterConcurrent(t *testing.T) {
	rl := NewRateLimiter(WithThreshold(1000))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				rl.Check("203.0.113.5")
			}
		}()
	}
	wg.Wait()

	if res := rl.Check("203.0.113.5"); res.Count != 501 {
		t.Errorf("并发计数应为 501, 实际 %d", res.Count)
	}
}

// TestRateLimiterRun 测试后台清理随 ctx 退出
func TestRateLimiterRun(t *testing.T) {
	rl := NewRateLimiter()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rl.Run(ctx, 10*time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run 未在 ctx 取消后退出")
	}
}
