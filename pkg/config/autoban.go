package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// 自动封禁灵敏度
const (
	SensitivityAggressive = "aggressive"
	SensitivityModerate   = "moderate"
	SensitivityPermissive = "permissive"
)

// AutoBanConfig 自动封禁配置 (由宿主机 UCI 写入的 JSON 文件)
type AutoBanConfig struct {
	Enabled     FlexBool `json:"enabled"`
	Sensitivity string   `json:"sensitivity"`

	ModerateThreshold   FlexInt `json:"moderate_threshold"`
	ModerateWindow      FlexInt `json:"moderate_window"`
	PermissiveThreshold FlexInt `json:"permissive_threshold"`
	PermissiveWindow    FlexInt `json:"permissive_window"`

	MinSeverity string `json:"min_severity"`
	BanDuration string `json:"ban_duration"`

	BanCVEExploits FlexBool `json:"ban_cve_exploits"`
	BanSQLi        FlexBool `json:"ban_sqli"`
	BanCMDi        FlexBool `json:"ban_cmdi"`
	BanTraversal   FlexBool `json:"ban_traversal"`
	BanScanners    FlexBool `json:"ban_scanners"`
	BanRateLimit   FlexBool `json:"ban_rate_limit"`

	Whitelist StringList `json:"whitelist"`
}

// DefaultAutoBan 返回默认自动封禁配置
func DefaultAutoBan() *AutoBanConfig {
	return &AutoBanConfig{
		Enabled:             false,
		Sensitivity:         SensitivityModerate,
		ModerateThreshold:   3,
		ModerateWindow:      300,
		PermissiveThreshold: 5,
		PermissiveWindow:    3600,
		MinSeverity:         "critical",
		BanDuration:         "4h",
		BanCVEExploits:      true,
		BanSQLi:             true,
		BanCMDi:             true,
		BanTraversal:        true,
		BanScanners:         true,
		BanRateLimit:        false,
		Whitelist:           StringList{},
	}
}

// LoadAutoBan 加载自动封禁配置
// 文件不存在时返回默认配置; 文件损坏时返回禁用的默认配置及错误
func LoadAutoBan(path string) (*AutoBanConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAutoBan(), nil
		}
		return disabledAutoBan(), fmt.Errorf("读取自动封禁配置失败: %w", err)
	}

	cfg, err := ParseAutoBan(data)
	if err != nil {
		return disabledAutoBan(), err
	}
	return cfg, nil
}

// ParseAutoBan 解析自动封禁配置, 缺失字段使用默认值
func ParseAutoBan(data []byte) (*AutoBanConfig, error) {
	cfg := DefaultAutoBan()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析自动封禁配置失败: %w", err)
	}
	cfg.normalize()
	return cfg, nil
}

func disabledAutoBan() *AutoBanConfig {
	cfg := DefaultAutoBan()
	cfg.Enabled = false
	return cfg
}

func (c *AutoBanConfig) normalize() {
	c.Sensitivity = strings.ToLower(strings.TrimSpace(c.Sensitivity))
	c.MinSeverity = strings.ToLower(strings.TrimSpace(c.MinSeverity))
	if c.BanDuration == "" {
		c.BanDuration = "4h"
	}
	if c.ModerateThreshold < 1 {
		c.ModerateThreshold = 1
	}
	if c.PermissiveThreshold < 1 {
		c.PermissiveThreshold = 1
	}
}

// Threshold 返回当前灵敏度对应的次数阈值和时间窗口
// 未知灵敏度按 moderate 处理
func (c *AutoBanConfig) Threshold() (int, time.Duration) {
	switch c.Sensitivity {
	case SensitivityAggressive:
		return 1, 60 * time.Second
	case SensitivityPermissive:
		return int(c.PermissiveThreshold), time.Duration(c.PermissiveWindow) * time.Second
	default:
		return int(c.ModerateThreshold), time.Duration(c.ModerateWindow) * time.Second
	}
}

// EffectiveSensitivity 返回生效的灵敏度名称
func (c *AutoBanConfig) EffectiveSensitivity() string {
	switch c.Sensitivity {
	case SensitivityAggressive, SensitivityPermissive:
		return c.Sensitivity
	default:
		return SensitivityModerate
	}
}

// Clone 深拷贝
func (c *AutoBanConfig) Clone() *AutoBanConfig {
	cp := *c
	cp.Whitelist = append(StringList(nil), c.Whitelist...)
	return &cp
}

// FlexInt 兼容数字与字符串的整数
type FlexInt int

// UnmarshalJSON 实现 json.Unmarshaler
func (i *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("无效的整数值 %q", s)
		}
		*i = FlexInt(n)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("无效的整数值 %s", data)
	}
	*i = FlexInt(f)
	return nil
}

// FlexBool 兼容 true/false, "1"/"0", 1/0 的布尔值
type FlexBool bool

// UnmarshalJSON 实现 json.Unmarshaler
func (b *FlexBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch string(data) {
	case "null":
		return nil
	case "true":
		*b = true
		return nil
	case "false":
		*b = false
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "1", "true", "yes", "on":
			*b = true
		case "0", "false", "no", "off", "":
			*b = false
		default:
			return fmt.Errorf("无效的布尔值 %q", s)
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("无效的布尔值 %s", data)
	}
	*b = f != 0
	return nil
}

// StringList 兼容数组与逗号分隔字符串
type StringList []string

// UnmarshalJSON 实现 json.Unmarshaler
func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = StringList{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		out := StringList{}
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*l = out
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("无效的白名单: %w", err)
	}
	out := make(StringList, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	*l = out
	return nil
}
