package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestParseDefaults 测试缺省字段补全
func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("logging:\n  level: debug\n"))
	if err != nil {
		t.Fatalf("解析配置失败: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("日志级别应为 debug, 实际 %s", cfg.Logging.Level)
	}
	if cfg.Files.AutoBanRequests != "/data/autoban-requests.log" {
		t.Errorf("封禁请求文件默认值错误: %s", cfg.Files.AutoBanRequests)
	}
	if cfg.Router.DefaultBackend != "127.0.0.1:8081" {
		t.Errorf("默认后端错误: %s", cfg.Router.DefaultBackend)
	}
	if cfg.Router.ReloadEvery != 10 {
		t.Errorf("路由重载间隔应为 10, 实际 %d", cfg.Router.ReloadEvery)
	}
	if cfg.RateLimit.Window != 60*time.Second || cfg.RateLimit.MaxRequests != 100 {
		t.Errorf("限流默认值错误: %v/%d", cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("默认配置应通过校验: %v", err)
	}
}

// TestValidate 测试配置校验
func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Admin.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("缺少 jwt_secret 时应校验失败")
	}

	cfg.Admin.JWTSecret = "secret"
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("无效日志级别应校验失败")
	}

	cfg.Logging.Level = "info"
	cfg.Notification.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Error("启用通知但无渠道时应校验失败")
	}

	cfg.Notification.Pushover = &PushoverConfig{AppToken: "app", UserKey: "user"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("完整配置应通过校验: %v", err)
	}
}

// TestSaveLoad 测试保存后重新加载
func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secubox.yaml")
	cfg := Default()
	cfg.Proxy.Listen = ":9999"

	if err := Save(cfg, path); err != nil {
		t.Fatalf("保存配置失败: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if loaded.Proxy.Listen != ":9999" {
		t.Errorf("监听地址应为 :9999, 实际 %s", loaded.Proxy.Listen)
	}
}

// TestLoadAutoBanMissing 测试配置文件不存在时使用默认值
func TestLoadAutoBanMissing(t *testing.T) {
	cfg, err := LoadAutoBan(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("文件不存在时不应返回错误: %v", err)
	}

	if cfg.Enabled {
		t.Error("默认应禁用自动封禁")
	}
	if cfg.Sensitivity != SensitivityModerate || cfg.MinSeverity != "critical" || cfg.BanDuration != "4h" {
		t.Errorf("默认值错误: %+v", cfg)
	}
	if !cfg.BanSQLi || !cfg.BanCMDi || !cfg.BanTraversal || !cfg.BanScanners || !cfg.BanCVEExploits {
		t.Error("默认应启用各类封禁开关")
	}
	if cfg.BanRateLimit {
		t.Error("默认不应因限流封禁")
	}
	n, w := cfg.Threshold()
	if n != 3 || w != 300*time.Second {
		t.Errorf("moderate 阈值应为 3/300s, 实际 %d/%v", n, w)
	}
}

// TestLoadAutoBanMalformed 测试损坏的配置文件
func TestLoadAutoBanMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autoban.json")
	if err := os.WriteFile(path, []byte(`{"enabled": true,`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadAutoBan(path)
	if err == nil {
		t.Error("损坏的配置应返回错误")
	}
	if cfg == nil || cfg.Enabled {
		t.Error("损坏的配置应回退为禁用")
	}
}

// TestParseAutoBanFlexible 测试 UCI 风格的字符串字段
func TestParseAutoBanFlexible(t *testing.T) {
	data := []byte(`{
		"enabled": "1",
		"sensitivity": "Permissive",
		"permissive_threshold": "7",
		"permissive_window": 1800,
		"ban_sqli": "0",
		"ban_rate_limit": 1,
		"whitelist": "203.0.113.9, 198.51.100.0/24,"
	}`)

	cfg, err := ParseAutoBan(data)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}

	if !cfg.Enabled {
		t.Error("enabled=\"1\" 应为 true")
	}
	if cfg.BanSQLi {
		t.Error("ban_sqli=\"0\" 应为 false")
	}
	if !cfg.BanRateLimit {
		t.Error("ban_rate_limit=1 应为 true")
	}
	if !cfg.BanCMDi {
		t.Error("未设置的字段应保留默认值")
	}
	if len(cfg.Whitelist) != 2 || cfg.Whitelist[1] != "198.51.100.0/24" {
		t.Errorf("白名单解析错误: %v", cfg.Whitelist)
	}

	n, w := cfg.Threshold()
	if n != 7 || w != 1800*time.Second {
		t.Errorf("permissive 阈值应为 7/1800s, 实际 %d/%v", n, w)
	}
}

// TestAutoBanThresholdSensitivity 测试灵敏度阈值
func TestAutoBanThresholdSensitivity(t *testing.T) {
	cfg := DefaultAutoBan()

	cfg.Sensitivity = SensitivityAggressive
	if n, w := cfg.Threshold(); n != 1 || w != 60*time.Second {
		t.Errorf("aggressive 阈值应为 1/60s, 实际 %d/%v", n, w)
	}

	cfg.Sensitivity = "unknown"
	if n, _ := cfg.Threshold(); n != 3 {
		t.Errorf("未知灵敏度应按 moderate 处理, 实际阈值 %d", n)
	}
	if cfg.EffectiveSensitivity() != SensitivityModerate {
		t.Errorf("生效灵敏度应为 moderate, 实际 %s", cfg.EffectiveSensitivity())
	}
}

// TestStringListArray 测试数组形式白名单
func TestStringListArray(t *testing.T) {
	cfg, err := ParseAutoBan([]byte(`{"whitelist": ["1.2.3.4", " ", "5.6.7.8"]}`))
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if len(cfg.Whitelist) != 2 {
		t.Errorf("应忽略空白项, 实际 %v", cfg.Whitelist)
	}
}
