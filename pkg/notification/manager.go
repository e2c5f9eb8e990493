package notification

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gost/core/logger"
	"github.com/google/uuid"

	applog "github.com/secubox/secubox-waf/pkg/logger"
)

// 通知类型
const (
	TypeAutoBan = "autoban"
	TypeThreat  = "threat"
)

// Notification 通知
type Notification struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Severity string         `json:"severity"`
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	IP       string         `json:"ip,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Channel 通知通道接口
type Channel interface {
	Send(ctx context.Context, n *Notification) error
	Name() string
}

// Stats 通知统计
type Stats struct {
	Queued  int64            `json:"queued"`
	Sent    int64            `json:"sent"`
	Failed  int64            `json:"failed"`
	Dropped int64            `json:"dropped"`
	ByChan  map[string]int64 `json:"sent_by_channel"`
}

// Manager 异步通知分发
type Manager struct {
	channels []Channel
	timeout  time.Duration
	logger   logger.Logger

	queue chan *Notification
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	queued, sent, failed, dropped int64
	byChanMu                      sync.Mutex
	byChan                        map[string]int64
}

// Option 选项
type Option func(*Manager)

// WithChannel 注册通道
func WithChannel(ch Channel) Option {
	return func(m *Manager) {
		if ch != nil {
			m.channels = append(m.channels, ch)
		}
	}
}

// WithQueueSize 设置队列长度
func WithQueueSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.queue = make(chan *Notification, n)
		}
	}
}

// WithSendTimeout 设置单次发送超时
func WithSendTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.timeout = d
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager 创建并启动通知管理器
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		timeout: 30 * time.Second,
		logger:  applog.Nop(),
		queue:   make(chan *Notification, 128),
		byChan:  make(map[string]int64),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.wg.Add(1)
	go m.loop()
	return m
}

// Channels 已注册的通道名称
func (m *Manager) Channels() []string {
	names := make([]string, 0, len(m.channels))
	for _, ch := range m.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Notify 提交通知, 不阻塞调用方, 队列满时丢弃
func (m *Manager) Notify(n *Notification) bool {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}

	select {
	case m.queue <- n:
		atomic.AddInt64(&m.queued, 1)
		return true
	default:
		atomic.AddInt64(&m.dropped, 1)
		m.logger.Warnf("notification queue full, dropping %s", n.Title)
		return false
	}
}

func (m *Manager) loop() {
	defer m.wg.Done()
	for n := range m.queue {
		m.dispatch(n)
	}
}

// dispatch 并发发送到所有通道
func (m *Manager) dispatch(n *Notification) {
	var wg sync.WaitGroup
	for _, ch := range m.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
			defer cancel()

			if err := ch.Send(ctx, n); err != nil {
				atomic.AddInt64(&m.failed, 1)
				m.logger.Warnf("notification via %s failed: %v", ch.Name(), err)
				return
			}
			atomic.AddInt64(&m.sent, 1)
			m.byChanMu.Lock()
			m.byChan[ch.Name()]++
			m.byChanMu.Unlock()
		}(ch)
	}
	wg.Wait()
}

// Stats 统计
func (m *Manager) Stats() Stats {
	m.byChanMu.Lock()
	by := make(map[string]int64, len(m.byChan))
	for k, v := range m.byChan {
		by[k] = v
	}
	m.byChanMu.Unlock()

	return Stats{
		Queued:  atomic.LoadInt64(&m.queued),
		Sent:    atomic.LoadInt64(&m.sent),
		Failed:  atomic.LoadInt64(&m.failed),
		Dropped: atomic.LoadInt64(&m.dropped),
		ByChan:  by,
	}
}

// Close 发送完队列中的通知后退出
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.queue)
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}

// FormatBan 封禁通知
func FormatBan(ip, country, reason, severity, duration string) *Notification {
	return &Notification{
		Type:     TypeAutoBan,
		Severity: severity,
		Title:    fmt.Sprintf("SecuBox auto-ban: %s", ip),
		Content:  fmt.Sprintf("IP: %s (%s)\nReason: %s\nDuration: %s", ip, country, reason, duration),
		IP:       ip,
		Metadata: map[string]any{
			"country":  country,
			"reason":   reason,
			"duration": duration,
		},
	}
}

// FormatThreat 严重威胁通知
func FormatThreat(ip, country, pattern, cve, method, path string) *Notification {
	content := fmt.Sprintf("IP: %s (%s)\nPattern: %s\nRequest: %s %s", ip, country, pattern, method, path)
	if cve != "" {
		content += "\nCVE: " + cve
	}
	return &Notification{
		Type:     TypeThreat,
		Severity: "critical",
		Title:    fmt.Sprintf("SecuBox critical threat: %s", pattern),
		Content:  content,
		IP:       ip,
		Metadata: map[string]any{
			"country": country,
			"pattern": pattern,
			"cve":     cve,
		},
	}
}
