package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-gost/core/logger"

	"github.com/secubox/secubox-waf/pkg/analytics"
	"github.com/secubox/secubox-waf/pkg/health"
	applog "github.com/secubox/secubox-waf/pkg/logger"
	"github.com/secubox/secubox-waf/pkg/monitor"
	"github.com/secubox/secubox-waf/pkg/signature"
)

// StatsProvider 可选的组件统计
type StatsProvider func() any

// Server 管理接口
type Server struct {
	engine  *analytics.Engine
	rules   *signature.Loader
	metrics *monitor.Metrics
	host    *monitor.HostMonitor
	checker *health.Checker
	logger  logger.Logger

	secret        string
	autoBanPath   string
	version       string
	started       time.Time
	extraStats    map[string]StatsProvider
	reloadAutoBan func() error

	httpServer *http.Server
}

// Option 选项
type Option func(*Server)

// WithRules 设置动态规则
func WithRules(ld *signature.Loader) Option {
	return func(s *Server) {
		s.rules = ld
	}
}

// WithMetrics 开启 /metrics
func WithMetrics(m *monitor.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithHostMonitor 设置主机资源采集
func WithHostMonitor(h *monitor.HostMonitor) Option {
	return func(s *Server) {
		s.host = h
	}
}

// WithUpstreamHealth 在 /healthz 与 /api/routes 中附加上游健康状态
func WithUpstreamHealth(c *health.Checker) Option {
	return func(s *Server) {
		s.checker = c
	}
}

// WithJWTSecret 设置 Token 密钥, 为空时 /api 拒绝所有请求
func WithJWTSecret(secret string) Option {
	return func(s *Server) {
		s.secret = secret
	}
}

// WithAutoBanReloader 设置自动封禁配置重载函数
func WithAutoBanReloader(fn func() error) Option {
	return func(s *Server) {
		s.reloadAutoBan = fn
	}
}

// WithStats 在 /api/stats 中附加组件统计
func WithStats(name string, fn StatsProvider) Option {
	return func(s *Server) {
		s.extraStats[name] = fn
	}
}

// WithVersion 设置版本
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// NewServer 创建管理接口
func NewServer(engine *analytics.Engine, opts ...Option) *Server {
	s := &Server{
		engine:     engine,
		logger:     applog.Nop(),
		started:    time.Now(),
		extraStats: make(map[string]StatsProvider),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.host == nil {
		s.host = monitor.NewHostMonitor("/", 0)
	}
	return s
}

// Router 构建 gin 路由
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), CORS())

	r.GET("/healthz", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/api")
	api.Use(s.auth())
	{
		api.GET("/stats", s.getStats)
		api.GET("/alerts", s.getAlerts)

		api.GET("/waf/rules", s.getRules)
		api.POST("/waf/reload", s.reloadRules)
		api.PUT("/waf/categories/:id", s.setCategory)

		api.GET("/autoban", s.getAutoBan)
		api.POST("/autoban/reload", s.postAutoBanReload)

		api.GET("/routes", s.getRoutes)
		api.POST("/routes/reload", s.reloadRoutes)

		api.POST("/classify", s.classify)
	}
	return r
}

func (s *Server) auth() gin.HandlerFunc {
	if s.secret == "" {
		return func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "auth_not_configured",
				"message": "admin.jwt_secret is not set",
			})
		}
	}
	return JWTAuth(s.secret)
}

// ListenAndServe 启动监听, 直到 Shutdown
func (s *Server) ListenAndServe(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infof("admin API listening on %s", addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
