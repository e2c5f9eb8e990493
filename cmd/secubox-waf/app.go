package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-gost/core/logger"

	"github.com/secubox/secubox-waf/pkg/admin"
	"github.com/secubox/secubox-waf/pkg/analytics"
	"github.com/secubox/secubox-waf/pkg/config"
	"github.com/secubox/secubox-waf/pkg/forward"
	"github.com/secubox/secubox-waf/pkg/health"
	"github.com/secubox/secubox-waf/pkg/iplib"
	"github.com/secubox/secubox-waf/pkg/logs"
	"github.com/secubox/secubox-waf/pkg/monitor"
	"github.com/secubox/secubox-waf/pkg/notification"
	"github.com/secubox/secubox-waf/pkg/security"
	"github.com/secubox/secubox-waf/pkg/signature"
	"github.com/secubox/secubox-waf/pkg/stats"
)

// app 进程内所有组件
type app struct {
	cfg *config.Config
	log logger.Logger

	geo      *iplib.GeoIPLib
	rules    *signature.Loader
	router   *forward.Router
	checker  *health.Checker
	writer   *logs.Writer
	redis    *logs.RedisSink
	notifier *notification.Manager
	metrics  *monitor.Metrics
	limiter  *security.RateLimiter
	autoban  *security.AutoBanEngine
	stats    *stats.Collector
	engine   *analytics.Engine
	admin    *admin.Server

	proxy *http.Server
}

// newApp 按配置组装组件; 可选组件失败时降级运行
func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	a.metrics = monitor.NewMetrics(Version)

	a.geo = iplib.NewGeoIPLib(iplib.WithLogger(log), iplib.WithCacheTTL(cfg.GeoIP.CacheTTL))
	if err := a.geo.Init(cfg.GeoIP.Database); err != nil {
		log.Warnf("Failed to load GeoIP: %v", err)
	}

	classifierOpts := []security.ClassifierOption{}
	if cfg.WAF.DynamicRules {
		a.rules = signature.NewLoader(cfg.Files.WAFRules, cfg.Files.WAFConfig, signature.WithLoaderLogger(log))
		if err := a.rules.Load(); err != nil {
			log.Warnf("[WAF] %v", err)
		}
		classifierOpts = append(classifierOpts, security.WithDynamicRules(a.rules))
	}

	def, err := forward.ParseBackend(cfg.Router.DefaultBackend)
	if err != nil {
		return nil, fmt.Errorf("默认上游配置错误: %w", err)
	}
	a.router = forward.NewRouter(cfg.Files.Routes,
		forward.WithDefaultBackend(def),
		forward.WithReloadEvery(cfg.Router.ReloadEvery),
		forward.WithRouterLogger(log),
	)

	if hc := cfg.HealthCheck; hc.Enabled {
		a.checker = health.NewChecker(a.router.Backends,
			health.WithHCInterval(hc.Interval),
			health.WithHCTimeout(hc.Timeout),
			health.WithHCUnhealthyThreshold(hc.Unhealthy),
			health.WithHCHealthyThreshold(hc.Healthy),
			health.WithHCLogger(log),
		)
	}

	a.writer = logs.NewWriter(logs.WriterConfig{
		AccessLog:    cfg.Files.AccessLog,
		CrowdSecLog:  cfg.Files.CrowdSecLog,
		BanLog:       cfg.Files.AutoBanRequests,
		QueueSize:    cfg.LogQueue.Size,
		BanQueueSize: cfg.LogQueue.BanSize,
	}, logs.WithWriterLogger(log))

	sinks := logs.MultiSink{a.writer}
	if cfg.Redis.Enabled {
		client, err := logs.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Warnf("Redis ban publisher disabled: %v", err)
		} else {
			a.redis = logs.NewRedisSink(client, cfg.Redis.List, cfg.Redis.Channel, logs.WithRedisLogger(log))
			sinks = append(sinks, a.redis)
		}
	}

	abCfg, err := config.LoadAutoBan(cfg.Files.AutoBanConfig)
	if err != nil {
		log.Warnf("Could not load auto-ban config: %v", err)
	}
	a.autoban = security.NewAutoBanEngine(abCfg,
		security.WithBanSink(sinks),
		security.WithAutoBanLogger(log),
	)

	a.limiter = security.NewRateLimiter(
		security.WithWindow(cfg.RateLimit.Window),
		security.WithThreshold(cfg.RateLimit.MaxRequests),
		security.WithRateLimiterLogger(log),
	)

	a.stats = stats.NewCollector(stats.WithFiles(cfg.Files.Stats, cfg.Files.Alerts), stats.WithLogger(log))

	engineOpts := []analytics.Option{
		analytics.WithClassifier(security.NewClassifier(classifierOpts...)),
		analytics.WithRateLimiter(a.limiter),
		analytics.WithAutoBan(a.autoban),
		analytics.WithRouter(a.router),
		analytics.WithGeoIP(a.geo),
		analytics.WithStats(a.stats),
		analytics.WithEntrySink(a.writer),
		analytics.WithMetrics(a.metrics),
		analytics.WithMaxBodyBytes(cfg.Proxy.MaxBodyBytes),
		analytics.WithLogger(log),
	}
	if n := newNotifier(cfg.Notification, log); n != nil {
		a.notifier = n
		engineOpts = append(engineOpts, analytics.WithNotifier(n, cfg.Notification.NotifyCritical))
	}
	a.engine = analytics.NewEngine(engineOpts...)

	a.registerGauges()

	a.proxy = &http.Server{
		Addr:         cfg.Proxy.Listen,
		Handler:      analytics.NewProxyHandler(a.engine, a.router, forward.WithProxyLogger(log)),
		ReadTimeout:  cfg.Proxy.ReadTimeout,
		WriteTimeout: cfg.Proxy.WriteTimeout,
		IdleTimeout:  cfg.Proxy.IdleTimeout,
	}

	if cfg.Admin.Enabled {
		opts := []admin.Option{
			admin.WithJWTSecret(cfg.Admin.JWTSecret),
			admin.WithHostMonitor(monitor.NewHostMonitor("/", 5*time.Second)),
			admin.WithAutoBanReloader(a.reloadAutoBan),
			admin.WithStats("writer", func() any { return a.writer.Stats() }),
			admin.WithStats("geoip", func() any { return a.geo.GetLibraryInfo() }),
			admin.WithVersion(Version),
			admin.WithLogger(log),
		}
		if a.rules != nil {
			opts = append(opts, admin.WithRules(a.rules))
		}
		if a.checker != nil {
			opts = append(opts, admin.WithUpstreamHealth(a.checker))
		}
		if cfg.Admin.Metrics {
			opts = append(opts, admin.WithMetrics(a.metrics))
		}
		if a.notifier != nil {
			opts = append(opts, admin.WithStats("notification", func() any { return a.notifier.Stats() }))
		}
		a.admin = admin.NewServer(a.engine, opts...)
	}

	return a, nil
}

func newNotifier(cfg *config.NotificationConfig, log logger.Logger) *notification.Manager {
	if !cfg.Enabled {
		return nil
	}
	opts := []notification.Option{
		notification.WithQueueSize(cfg.QueueSize),
		notification.WithLogger(log),
	}
	if w := cfg.Webhook; w != nil {
		opts = append(opts, notification.WithChannel(notification.NewWebhookChannel(w.URL, w.Token, w.Secret, w.Timeout)))
	}
	if p := cfg.Pushover; p != nil {
		opts = append(opts, notification.WithChannel(notification.NewPushoverChannel(p.AppToken, p.UserKey)))
	}
	return notification.NewManager(opts...)
}

type gauge struct {
	name, help string
	counter    bool
	fn         func() float64
}

func (a *app) registerGauges() {
	gauges := []gauge{
		{"ratelimit_tracked_ips", "Source addresses tracked by the rate limiter", false,
			func() float64 { return float64(a.limiter.Stats().TrackedIPs) }},
		{"autoban_tracked_ips", "Source addresses with recorded threats", false,
			func() float64 { return float64(a.autoban.Stats().TrackedIPs) }},
		{"access_log_dropped_total", "Access log entries dropped on a full queue", true,
			func() float64 { return float64(a.writer.Stats().Dropped) }},
		{"access_log_write_failures_total", "Failed log file writes", true,
			func() float64 { return float64(a.writer.Stats().WriteFailures) }},
	}
	if a.checker != nil {
		gauges = append(gauges, gauge{"upstreams_unhealthy", "Upstream backends failing TCP health checks", false,
			func() float64 { return float64(a.checker.Unhealthy()) }})
	}
	for _, g := range gauges {
		var err error
		if g.counter {
			err = a.metrics.RegisterCounterFunc(g.name, g.help, g.fn)
		} else {
			err = a.metrics.RegisterGaugeFunc(g.name, g.help, g.fn)
		}
		if err != nil {
			a.log.Warnf("%v", err)
		}
	}
}

// run 启动后台任务与服务, 阻塞直到 ctx 结束后完成关闭
func (a *app) run(ctx context.Context) error {
	var wg sync.WaitGroup
	background := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	background(func() { a.stats.Run(ctx) })
	background(func() { a.limiter.Run(ctx, a.cfg.RateLimit.SweepInterval) })
	background(func() { a.autoban.Run(ctx, a.cfg.RateLimit.SweepInterval) })
	if a.checker != nil {
		background(func() { a.checker.Run(ctx) })
	}
	if a.rules != nil && a.cfg.WAF.Watch {
		background(func() {
			if err := a.rules.Watch(ctx); err != nil {
				a.log.Warnf("[WAF] rules watcher stopped: %v", err)
			}
		})
	}

	errCh := make(chan error, 2)
	go func() {
		a.log.Infof("SecuBox WAF %s listening on %s", Version, a.proxy.Addr)
		if err := a.proxy.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("代理服务错误: %w", err)
		}
	}()
	if a.admin != nil {
		go func() {
			if err := a.admin.ListenAndServe(a.cfg.Admin.Listen); err != nil {
				errCh <- fmt.Errorf("管理接口错误: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.proxy.Shutdown(shutdownCtx); err != nil {
		a.log.Warnf("proxy shutdown: %v", err)
	}
	if a.admin != nil {
		if err := a.admin.Shutdown(shutdownCtx); err != nil {
			a.log.Warnf("admin shutdown: %v", err)
		}
	}

	wg.Wait()
	a.close()
	return runErr
}

// reload SIGHUP: 重新读取自动封禁配置, 动态规则, 路由表并重开日志文件
func (a *app) reload() {
	a.log.Info("Reloading configuration")
	if err := a.reloadAutoBan(); err != nil {
		a.log.Warnf("Could not load auto-ban config: %v", err)
	}
	if a.rules != nil {
		if err := a.rules.Reload(); err != nil {
			a.log.Warnf("[WAF] reload: %v", err)
		}
	}
	if err := a.router.Reload(); err != nil {
		a.log.Warnf("Failed to load routes: %v", err)
	}
	a.writer.Reopen()
}

func (a *app) reloadAutoBan() error {
	cfg, err := config.LoadAutoBan(a.cfg.Files.AutoBanConfig)
	if err != nil {
		return err
	}
	a.autoban.Reload(cfg)
	return nil
}

func (a *app) close() {
	if a.notifier != nil {
		a.notifier.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warnf("redis close: %v", err)
		}
	}
	if err := a.writer.Close(); err != nil {
		a.log.Warnf("log writer close: %v", err)
	}
	if err := a.geo.Close(); err != nil {
		a.log.Warnf("geoip close: %v", err)
	}
}
