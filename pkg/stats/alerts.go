package stats

import "github.com/secubox/secubox-waf/pkg/security"

// 告警类型
const (
	AlertThreat            = "threat"
	AlertBotBehavior       = "bot_behavior"
	AlertSuspiciousHeaders = "suspicious_headers"
	AlertRateLimit         = "rate_limit"
	AlertAuthFailed        = "auth_failed"
	AlertAutoBan           = "autoban"
)

// Alert 安全告警, 不同类型使用不同字段
type Alert struct {
	Time    string `json:"time"`
	IP      string `json:"ip"`
	Country string `json:"country"`
	Type    string `json:"type"`

	Pattern      string `json:"pattern,omitempty"`
	Category     string `json:"category,omitempty"`
	Severity     string `json:"severity,omitempty"`
	CVE          string `json:"cve,omitempty"`
	BehaviorType string `json:"behavior_type,omitempty"`
	BotType      string `json:"bot_type,omitempty"`
	Reason       string `json:"reason,omitempty"`

	Path   string `json:"path,omitempty"`
	Method string `json:"method,omitempty"`
	Host   string `json:"host,omitempty"`

	Headers []security.SuspiciousHeader `json:"headers,omitempty"`
	Count   int                         `json:"count,omitempty"`
	Status  int                         `json:"status,omitempty"`
}

// AddAlert 追加告警, 仅保留最近 MaxAlerts 条
func (c *Collector) AddAlert(a Alert) {
	c.mu.Lock()
	c.alerts = append(c.alerts, a)
	if n := len(c.alerts); n > MaxAlerts {
		c.alerts = append(c.alerts[:0:0], c.alerts[n-MaxAlerts:]...)
	}
	c.mu.Unlock()

	signal(c.alertsDirty)
}

// Alerts 按时间顺序返回告警, limit > 0 时只返回最近 limit 条
func (c *Collector) Alerts(limit int) []Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	alerts := c.alerts
	if limit > 0 && len(alerts) > limit {
		alerts = alerts[len(alerts)-limit:]
	}
	return append([]Alert{}, alerts...)
}
