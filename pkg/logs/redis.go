package logs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-gost/core/logger"
	"github.com/redis/go-redis/v9"

	applog "github.com/secubox/secubox-waf/pkg/logger"
	"github.com/secubox/secubox-waf/pkg/security"
)

// RedisSink 将封禁请求推送到 Redis 列表并在频道上广播
type RedisSink struct {
	client  redis.UniversalClient
	list    string
	channel string
	timeout time.Duration
	logger  logger.Logger

	queue  chan security.BanRequest
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// RedisSinkOption 选项
type RedisSinkOption func(*RedisSink)

// WithRedisLogger 设置日志
func WithRedisLogger(l logger.Logger) RedisSinkOption {
	return func(s *RedisSink) {
		s.logger = l
	}
}

// WithRedisTimeout 单次推送超时
func WithRedisTimeout(d time.Duration) RedisSinkOption {
	return func(s *RedisSink) {
		s.timeout = d
	}
}

// DialRedis 连接 Redis 并检查可用性
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis %s 失败: %w", addr, err)
	}
	return client, nil
}

// NewRedisSink 创建 Redis 输出, list 或 channel 为空时跳过对应操作
func NewRedisSink(client redis.UniversalClient, list, channel string, opts ...RedisSinkOption) *RedisSink {
	s := &RedisSink{
		client:  client,
		list:    list,
		channel: channel,
		timeout: 3 * time.Second,
		logger:  applog.Nop(),
		queue:   make(chan security.BanRequest, 128),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.loop()
	return s
}

// Emit 实现 security.BanSink
func (s *RedisSink) Emit(req security.BanRequest) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- req:
	default:
		s.logger.Warnf("redis ban queue full, dropping %s", req.IP)
	}
}

func (s *RedisSink) loop() {
	defer s.wg.Done()
	for req := range s.queue {
		if err := s.Publish(context.Background(), req); err != nil {
			s.logger.Errorf("Failed to publish auto-ban request: %v", err)
		}
	}
}

// Publish 同步推送一条封禁请求
func (s *RedisSink) Publish(ctx context.Context, req security.BanRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("序列化封禁请求失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	pipe := s.client.Pipeline()
	if s.list != "" {
		pipe.LPush(ctx, s.list, data)
	}
	if s.channel != "" {
		pipe.Publish(ctx, s.channel, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("推送封禁请求到 Redis 失败: %w", err)
	}
	return nil
}

// Close 写完队列并关闭客户端
func (s *RedisSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return s.client.Close()
}
