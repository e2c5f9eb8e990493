package security

import (
	"strings"

	"github.com/secubox/secubox-waf/pkg/signature"
)

// matchedPatternMax 判定结果中保留的规则长度
const matchedPatternMax = 50

// ThreatVerdict 威胁判定结果, 每个请求至多一个
type ThreatVerdict struct {
	IsScan         bool               `json:"is_scan"`
	Pattern        string             `json:"pattern,omitempty"`
	Type           string             `json:"type,omitempty"`
	Severity       signature.Severity `json:"severity,omitempty"`
	Category       string             `json:"category,omitempty"`
	CVE            string             `json:"cve,omitempty"`
	MatchedPattern string             `json:"matched_pattern,omitempty"`
	RuleID         string             `json:"rule_id,omitempty"`
}

// Classifier 威胁分类器
// 按固定优先级评估规则组, 首个命中即返回; 自身不持有可变状态
type Classifier struct {
	catalog *signature.Catalog
	rules   *signature.Loader
}

// ClassifierOption 分类器选项
type ClassifierOption func(*Classifier)

// WithCatalog 使用指定签名目录
func WithCatalog(c *signature.Catalog) ClassifierOption {
	return func(cl *Classifier) {
		cl.catalog = c
	}
}

// WithDynamicRules 追加动态规则作为最后一级
func WithDynamicRules(ld *signature.Loader) ClassifierOption {
	return func(cl *Classifier) {
		cl.rules = ld
	}
}

// NewClassifier 创建分类器
func NewClassifier(opts ...ClassifierOption) *Classifier {
	cl := &Classifier{catalog: signature.Builtin()}
	for _, opt := range opts {
		opt(cl)
	}
	return cl
}

// Catalog 返回使用的签名目录
func (cl *Classifier) Catalog() *signature.Catalog {
	return cl.catalog
}

// Classify 对请求进行威胁分类
func (cl *Classifier) Classify(rc *RequestContext) ThreatVerdict {
	// CMS/S-MIME 内容类型属于结构检查, 先于所有正则
	for _, ct := range cl.catalog.CMSContentTypes() {
		if strings.Contains(rc.ContentType, ct) {
			sev := signature.SeverityHigh
			if rc.ContentLength > 1024 {
				sev = signature.SeverityCritical
			}
			return ThreatVerdict{
				IsScan:   true,
				Pattern:  signature.CVE2025_15467,
				Type:     "cve_exploit",
				Severity: sev,
				Category: "cms_attack",
				CVE:      signature.CVE2025_15467,
			}
		}
	}

	var (
		path     = strings.ToLower(rc.Path)
		body     = strings.ToLower(rc.Body)
		combined = rc.combined()
		narrow   string
		protocol string
	)

	for _, g := range cl.catalog.Groups() {
		var target string
		switch g.Target {
		case signature.TargetPath:
			target = path
		case signature.TargetNarrow:
			if narrow == "" {
				narrow = rc.narrow()
			}
			target = narrow
		case signature.TargetBody:
			target = body
		case signature.TargetProtocol:
			if protocol == "" {
				protocol = rc.headerString() + " " + body
			}
			target = protocol
		default:
			target = combined
		}

		switch g.Name {
		case signature.GroupXXE:
			if !strings.Contains(rc.ContentType, "xml") && !strings.HasPrefix(body, "<?xml") {
				continue
			}
		case signature.GroupGraphQL:
			if !strings.Contains(path, "graphql") && !strings.Contains(rc.ContentType, "graphql") {
				continue
			}
		}

		if r := g.Match(target); r != nil {
			return verdictFor(g, r, combined)
		}
		if g.Name == signature.GroupWAFBypass && signature.HasDuplicateParams(rc.RawQuery) {
			return verdictFor(g, nil, combined)
		}
	}

	if cl.rules != nil {
		if m := cl.rules.Check(rc.URLPath, rc.RawQuery, rc.Body, rc.UserAgent); m != nil {
			return ThreatVerdict{
				IsScan:         true,
				Pattern:        m.RuleID,
				Type:           "custom_rule",
				Severity:       m.Severity,
				Category:       m.Category,
				CVE:            m.CVE,
				MatchedPattern: truncate(m.Pattern, matchedPatternMax),
				RuleID:         m.RuleID,
			}
		}
	}

	return ThreatVerdict{}
}

func verdictFor(g *signature.Group, r *signature.Rule, combined string) ThreatVerdict {
	v := ThreatVerdict{
		IsScan:   true,
		Pattern:  g.Name,
		Type:     g.Type,
		Severity: g.Severity,
		Category: g.Category,
	}
	if r != nil && r.CVE != "" {
		v.CVE = r.CVE
	}

	switch g.Name {
	case signature.GroupPathScan:
		v.Pattern = r.Pattern
	case signature.GroupCVE:
		v.Pattern = r.CVE
	case signature.GroupSQLInjection, signature.GroupXSS, signature.GroupCommandInjection:
		v.MatchedPattern = truncate(r.Pattern, matchedPatternMax)
	case signature.GroupJWT:
		// alg:none 绕过
		if strings.Contains(strings.ToLower(combined), "none") {
			v.Severity = signature.SeverityCritical
		}
	}
	return v
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
