package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-gost/core/logger"

	applog "github.com/secubox/secubox-waf/pkg/logger"
)

// DefaultFlushEvery 每 N 个请求写一次统计文件
const DefaultFlushEvery = 100

// MaxAlerts 保留的告警条数
const MaxAlerts = 100

// Totals 总计
type Totals struct {
	Requests     int64 `json:"requests"`
	Bots         int64 `json:"bots"`
	Threats      int64 `json:"threats"`
	AuthAttempts int64 `json:"auth_attempts"`
}

// Snapshot 统计快照, 与状态文件格式一致
type Snapshot struct {
	Countries  map[string]int64 `json:"countries"`
	Threats    map[string]int64 `json:"threats"`
	Categories map[string]int64 `json:"categories"`
	Total      Totals           `json:"total"`
}

func newSnapshot() Snapshot {
	return Snapshot{
		Countries:  make(map[string]int64),
		Threats:    make(map[string]int64),
		Categories: make(map[string]int64),
	}
}

func (s Snapshot) clone() Snapshot {
	out := Snapshot{
		Countries:  make(map[string]int64, len(s.Countries)),
		Threats:    make(map[string]int64, len(s.Threats)),
		Categories: make(map[string]int64, len(s.Categories)),
		Total:      s.Total,
	}
	for k, v := range s.Countries {
		out.Countries[k] = v
	}
	for k, v := range s.Threats {
		out.Threats[k] = v
	}
	for k, v := range s.Categories {
		out.Categories[k] = v
	}
	return out
}

// Observation 单个请求的统计维度
type Observation struct {
	Country       string
	IsBot         bool
	ThreatType    string
	Category      string
	IsAuthAttempt bool
}

// Collector 请求统计与告警记录
// 文件写入由 Run 启动的协程完成, 不阻塞请求
type Collector struct {
	statsPath  string
	alertsPath string
	flushEvery int64
	logger     logger.Logger

	mu     sync.Mutex
	snap   Snapshot
	alerts []Alert

	statsDirty  chan struct{}
	alertsDirty chan struct{}
}

// Option 选项
type Option func(*Collector)

// WithFiles 设置统计与告警文件路径, 为空时不写文件
func WithFiles(statsPath, alertsPath string) Option {
	return func(c *Collector) {
		c.statsPath = statsPath
		c.alertsPath = alertsPath
	}
}

// WithFlushEvery 设置写统计文件的请求间隔
func WithFlushEvery(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.flushEvery = int64(n)
		}
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Collector) {
		c.logger = l
	}
}

// NewCollector 创建统计收集器
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		flushEvery:  DefaultFlushEvery,
		logger:      applog.Nop(),
		snap:        newSnapshot(),
		statsDirty:  make(chan struct{}, 1),
		alertsDirty: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record 记录一个请求, 达到写入间隔时通知写协程
func (c *Collector) Record(o Observation) {
	country := o.Country
	if country == "" {
		country = "XX"
	}

	c.mu.Lock()
	c.snap.Countries[country]++
	c.snap.Total.Requests++
	if o.IsBot {
		c.snap.Total.Bots++
	}
	if o.ThreatType != "" {
		c.snap.Threats[o.ThreatType]++
		c.snap.Total.Threats++
	}
	if o.Category != "" {
		c.snap.Categories[o.Category]++
	}
	if o.IsAuthAttempt {
		c.snap.Total.AuthAttempts++
	}
	due := c.snap.Total.Requests%c.flushEvery == 0
	c.mu.Unlock()

	if due {
		signal(c.statsDirty)
	}
}

// Snapshot 当前统计副本
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap.clone()
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run 处理文件写入, 直到 ctx 结束, 退出前写一次最终状态
func (c *Collector) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			c.Flush()
			return
		case <-c.statsDirty:
			if err := c.writeStats(); err != nil {
				c.logger.Warnf("Failed to write stats: %v", err)
			}
		case <-c.alertsDirty:
			if err := c.writeAlerts(); err != nil {
				c.logger.Warnf("Failed to write alerts: %v", err)
			}
		}
	}
}

// Flush 同步写入统计与告警文件
func (c *Collector) Flush() error {
	if err := c.writeStats(); err != nil {
		return err
	}
	return c.writeAlerts()
}

func (c *Collector) writeStats() error {
	if c.statsPath == "" {
		return nil
	}
	return writeJSON(c.statsPath, c.Snapshot())
}

func (c *Collector) writeAlerts() error {
	if c.alertsPath == "" {
		return nil
	}
	return writeJSON(c.alertsPath, c.Alerts(0))
}

// writeJSON 写临时文件后改名, 读取方不会看到半个文件
func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("序列化失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("重命名 %s 失败: %w", path, err)
	}
	return nil
}
