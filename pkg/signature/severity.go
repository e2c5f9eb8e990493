package signature

import "strings"

// Severity 威胁等级
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ParseSeverity 解析等级, 未知值原样保留
func ParseSeverity(s string) Severity {
	return Severity(strings.ToLower(strings.TrimSpace(s)))
}

// Rank 返回等级序号, 未知等级返回 def
func (s Severity) Rank(def int) int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return def
	}
}

// Valid 是否为已知等级
func (s Severity) Valid() bool {
	return s.Rank(-1) >= 0
}

// Upper 大写形式, 用于日志
func (s Severity) Upper() string {
	return strings.ToUpper(string(s))
}
