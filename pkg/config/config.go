package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 主配置
type Config struct {
	// 服务配置
	Service *ServiceConfig `yaml:"service"`

	// 代理监听配置
	Proxy *ProxyConfig `yaml:"proxy"`

	// 管理接口配置
	Admin *AdminConfig `yaml:"admin"`

	// 运行日志配置
	Logging *LoggingConfig `yaml:"logging"`

	// 数据文件路径
	Files *FilesConfig `yaml:"files"`

	// 限流配置
	RateLimit *RateLimitConfig `yaml:"rate_limit"`

	// GeoIP 配置
	GeoIP *GeoIPConfig `yaml:"geoip"`

	// 后端路由配置
	Router *RouterConfig `yaml:"router"`

	// WAF 动态规则配置
	WAF *WAFConfig `yaml:"waf"`

	// 异步日志队列
	LogQueue *LogQueueConfig `yaml:"log_queue"`

	// Redis 封禁发布
	Redis *RedisConfig `yaml:"redis"`

	// 通知配置
	Notification *NotificationConfig `yaml:"notification"`

	// 上游健康检查
	HealthCheck *HealthCheckConfig `yaml:"health_check"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name   string `yaml:"name"`
	NodeID string `yaml:"node_id"`
}

// ProxyConfig 代理配置
type ProxyConfig struct {
	Listen       string        `yaml:"listen"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// AdminConfig 管理接口配置
type AdminConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Listen    string `yaml:"listen"`
	JWTSecret string `yaml:"jwt_secret"`
	Metrics   bool   `yaml:"metrics"`
}

// LoggingConfig 运行日志配置
type LoggingConfig struct {
	Level  string `yaml:"level"`  // trace, debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr 或文件路径
}

// FilesConfig 数据文件路径
type FilesConfig struct {
	AccessLog       string `yaml:"access_log"`
	CrowdSecLog     string `yaml:"crowdsec_log"`
	AutoBanRequests string `yaml:"autoban_requests"`
	AutoBanConfig   string `yaml:"autoban_config"`
	Routes          string `yaml:"routes"`
	WAFRules        string `yaml:"waf_rules"`
	WAFConfig       string `yaml:"waf_config"`
	Alerts          string `yaml:"alerts"`
	Stats           string `yaml:"stats"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Window        time.Duration `yaml:"window"`
	MaxRequests   int           `yaml:"max_requests"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// GeoIPConfig GeoIP 配置
type GeoIPConfig struct {
	Database string        `yaml:"database"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// RouterConfig 后端路由配置
type RouterConfig struct {
	DefaultBackend string `yaml:"default_backend"`
	ReloadEvery    int    `yaml:"reload_every"`
}

// HealthCheckConfig 上游健康检查配置
type HealthCheckConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Interval  time.Duration `yaml:"interval"`
	Timeout   time.Duration `yaml:"timeout"`
	Unhealthy int           `yaml:"unhealthy_threshold"`
	Healthy   int           `yaml:"healthy_threshold"`
}

// WAFConfig 动态规则配置
type WAFConfig struct {
	DynamicRules bool `yaml:"dynamic_rules"`
	Watch        bool `yaml:"watch"`
}

// LogQueueConfig 异步日志队列
type LogQueueConfig struct {
	Size    int `yaml:"size"`
	BanSize int `yaml:"ban_size"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	List     string `yaml:"list"`
	Channel  string `yaml:"channel"`
}

// NotificationConfig 通知配置
type NotificationConfig struct {
	Enabled        bool            `yaml:"enabled"`
	NotifyCritical bool            `yaml:"notify_critical"`
	QueueSize      int             `yaml:"queue_size"`
	Webhook        *WebhookConfig  `yaml:"webhook"`
	Pushover       *PushoverConfig `yaml:"pushover"`
}

// WebhookConfig Webhook 配置
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Secret  string        `yaml:"secret"`
	Timeout time.Duration `yaml:"timeout"`
}

// PushoverConfig Pushover 配置
type PushoverConfig struct {
	AppToken string `yaml:"app_token"`
	UserKey  string `yaml:"user_key"`
}

// Default 返回默认配置
func Default() *Config {
	c := &Config{}
	setDefaults(c)
	return c
}

// Load 加载配置
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	return Parse(data)
}

// Parse 解析 YAML 配置
func Parse(data []byte) (*Config, error) {
	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	setDefaults(config)

	return config, nil
}

// setDefaults 设置默认值
func setDefaults(config *Config) {
	if config.Service == nil {
		config.Service = &ServiceConfig{}
	}
	if config.Service.Name == "" {
		config.Service.Name = "secubox-waf"
	}

	if config.Proxy == nil {
		config.Proxy = &ProxyConfig{}
	}
	if config.Proxy.Listen == "" {
		config.Proxy.Listen = ":8080"
	}
	if config.Proxy.MaxBodyBytes <= 0 {
		config.Proxy.MaxBodyBytes = 1 << 20
	}
	if config.Proxy.ReadTimeout == 0 {
		config.Proxy.ReadTimeout = 30 * time.Second
	}
	if config.Proxy.WriteTimeout == 0 {
		config.Proxy.WriteTimeout = 60 * time.Second
	}
	if config.Proxy.IdleTimeout == 0 {
		config.Proxy.IdleTimeout = 120 * time.Second
	}

	if config.Admin == nil {
		config.Admin = &AdminConfig{Metrics: true}
	}
	if config.Admin.Listen == "" {
		config.Admin.Listen = "127.0.0.1:9190"
	}

	if config.Logging == nil {
		config.Logging = &LoggingConfig{}
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}
	if config.Logging.Output == "" {
		config.Logging.Output = "stdout"
	}

	if config.Files == nil {
		config.Files = &FilesConfig{}
	}
	f := config.Files
	setString(&f.AccessLog, "/var/log/secubox-access.log")
	setString(&f.CrowdSecLog, "/data/threats.log")
	setString(&f.AutoBanRequests, "/data/autoban-requests.log")
	setString(&f.AutoBanConfig, "/data/autoban.json")
	setString(&f.Routes, "/data/haproxy-routes.json")
	setString(&f.WAFRules, "/data/waf-rules.json")
	setString(&f.WAFConfig, "/data/waf-config.json")
	setString(&f.Alerts, "/tmp/secubox-mitm-alerts.json")
	setString(&f.Stats, "/tmp/secubox-mitm-stats.json")

	if config.RateLimit == nil {
		config.RateLimit = &RateLimitConfig{}
	}
	if config.RateLimit.Window <= 0 {
		config.RateLimit.Window = 60 * time.Second
	}
	if config.RateLimit.MaxRequests <= 0 {
		config.RateLimit.MaxRequests = 100
	}
	if config.RateLimit.SweepInterval <= 0 {
		config.RateLimit.SweepInterval = 5 * time.Minute
	}

	if config.GeoIP == nil {
		config.GeoIP = &GeoIPConfig{}
	}
	setString(&config.GeoIP.Database, "/data/GeoLite2-Country.mmdb")
	if config.GeoIP.CacheTTL <= 0 {
		config.GeoIP.CacheTTL = 10 * time.Minute
	}

	if config.Router == nil {
		config.Router = &RouterConfig{}
	}
	setString(&config.Router.DefaultBackend, "127.0.0.1:8081")
	if config.Router.ReloadEvery <= 0 {
		config.Router.ReloadEvery = 10
	}

	if config.WAF == nil {
		config.WAF = &WAFConfig{DynamicRules: true}
	}

	if config.LogQueue == nil {
		config.LogQueue = &LogQueueConfig{}
	}
	if config.LogQueue.Size <= 0 {
		config.LogQueue.Size = 4096
	}
	if config.LogQueue.BanSize <= 0 {
		config.LogQueue.BanSize = 256
	}

	if config.Redis == nil {
		config.Redis = &RedisConfig{}
	}
	setString(&config.Redis.Addr, "127.0.0.1:6379")
	setString(&config.Redis.List, "secubox:autoban")
	setString(&config.Redis.Channel, "secubox:autoban")

	if config.Notification == nil {
		config.Notification = &NotificationConfig{}
	}
	if config.Notification.QueueSize <= 0 {
		config.Notification.QueueSize = 128
	}
	if w := config.Notification.Webhook; w != nil && w.Timeout <= 0 {
		w.Timeout = 10 * time.Second
	}

	if config.HealthCheck == nil {
		config.HealthCheck = &HealthCheckConfig{Enabled: true}
	}
	hc := config.HealthCheck
	if hc.Interval <= 0 {
		hc.Interval = 10 * time.Second
	}
	if hc.Timeout <= 0 {
		hc.Timeout = 3 * time.Second
	}
	if hc.Unhealthy <= 0 {
		hc.Unhealthy = 3
	}
	if hc.Healthy <= 0 {
		hc.Healthy = 1
	}
}

func setString(dst *string, def string) {
	if *dst == "" {
		*dst = def
	}
}

// Save 保存配置
func Save(config *Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("写入配置文件失败: %w", err)
	}

	return nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("无效的日志级别: %s", c.Logging.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("无效的日志格式: %s", c.Logging.Format)
	}

	if c.Admin.Enabled && c.Admin.JWTSecret == "" {
		return fmt.Errorf("管理接口启用时 jwt_secret 不能为空")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("Redis 地址不能为空")
	}

	if n := c.Notification; n.Enabled {
		if n.Webhook == nil && n.Pushover == nil {
			return fmt.Errorf("通知启用时至少需要一个通知渠道")
		}
		if n.Pushover != nil && (n.Pushover.AppToken == "" || n.Pushover.UserKey == "") {
			return fmt.Errorf("Pushover 需要 app_token 与 user_key")
		}
		if n.Webhook != nil && n.Webhook.URL == "" {
			return fmt.Errorf("Webhook URL 不能为空")
		}
	}

	return nil
}
