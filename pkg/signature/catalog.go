package signature

import (
	"fmt"
	"regexp"
)

// Target 规则匹配目标
type Target int

const (
	// TargetCombined 路径 + 完整 URL + 请求体 + 查询参数值
	TargetCombined Target = iota
	// TargetPath 仅路径 (含查询串)
	TargetPath
	// TargetNarrow 请求体 + 查询参数值
	TargetNarrow
	// TargetBody 仅请求体
	TargetBody
	// TargetProtocol 请求头串 + 请求体
	TargetProtocol
)

// 内置分组名称, 同时作为判定结果中的 pattern 字段
const (
	GroupPathScan           = "path_scan"
	GroupSQLInjection       = "sql_injection"
	GroupXSS                = "xss"
	GroupCommandInjection   = "command_injection"
	GroupPathTraversal      = "path_traversal"
	GroupSSRF               = "ssrf"
	GroupXXE                = "xxe"
	GroupLDAPInjection      = "ldap_injection"
	GroupLog4Shell          = "log4shell"
	GroupCVE                = "cve"
	GroupSSTI               = "ssti"
	GroupPrototypePollution = "prototype_pollution"
	GroupGraphQL            = "graphql_abuse"
	GroupJWT                = "jwt_attack"
	GroupSmuggling          = "http_smuggling"
	GroupPromptInjection    = "prompt_injection"
	GroupWAFBypass          = "waf_bypass"
	GroupSSTIAdvanced       = "ssti_advanced"
	GroupAPIAbuse           = "api_abuse"
	GroupSupplyChain        = "supply_chain"
)

// CVE2025_15467 OpenSSL CMS AuthEnvelopedData 栈溢出
const CVE2025_15467 = "CVE-2025-15467"

// CVELog4Shell Log4j JNDI 注入
const CVELog4Shell = "CVE-2021-44228"

// Rule 单条签名
type Rule struct {
	Pattern string
	CVE     string
	re      *regexp.Regexp
}

// MatchString 匹配字符串
func (r *Rule) MatchString(s string) bool {
	return r.re.MatchString(s)
}

// Group 按攻击类别组织的有序规则组
type Group struct {
	Name     string
	Type     string
	Category string
	Severity Severity
	Target   Target
	Rules    []*Rule
}

// Match 返回第一条命中的规则
func (g *Group) Match(s string) *Rule {
	for _, r := range g.Rules {
		if r.re.MatchString(s) {
			return r
		}
	}
	return nil
}

// Catalog 签名目录, 构建后只读
type Catalog struct {
	groups          []*Group
	byName          map[string]*Group
	cmsContentTypes []string
}

// Groups 按评估顺序返回所有规则组
func (c *Catalog) Groups() []*Group {
	return c.groups
}

// Group 按名称查找规则组
func (c *Catalog) Group(name string) (*Group, bool) {
	g, ok := c.byName[name]
	return g, ok
}

// CMSContentTypes CMS/S-MIME 内容类型
func (c *Catalog) CMSContentTypes() []string {
	return c.cmsContentTypes
}

// RuleCount 规则总数
func (c *Catalog) RuleCount() int {
	n := 0
	for _, g := range c.groups {
		n += len(g.Rules)
	}
	return n
}

// CVEs 按顺序返回 CVE 表条目 ID (去重)
func (c *Catalog) CVEs() []string {
	g, ok := c.byName[GroupCVE]
	if !ok {
		return nil
	}
	var ids []string
	seen := make(map[string]bool)
	for _, r := range g.Rules {
		if !seen[r.CVE] {
			seen[r.CVE] = true
			ids = append(ids, r.CVE)
		}
	}
	return ids
}

// groupSpec 规则组定义
type groupSpec struct {
	name     string
	typ      string
	category string
	severity Severity
	target   Target
	patterns []string
	cve      string
}

// cveEntry CVE 表条目
type cveEntry struct {
	id       string
	patterns []string
}

// compile 编译规则, 全部大小写不敏感
func compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}

func mustRule(pattern, cve string) *Rule {
	re, err := compile(pattern)
	if err != nil {
		panic(fmt.Sprintf("signature: 内置规则编译失败 %q: %v", pattern, err))
	}
	return &Rule{Pattern: pattern, CVE: cve, re: re}
}

func buildGroup(spec groupSpec) *Group {
	g := &Group{
		Name:     spec.name,
		Type:     spec.typ,
		Category: spec.category,
		Severity: spec.severity,
		Target:   spec.target,
		Rules:    make([]*Rule, 0, len(spec.patterns)),
	}
	for _, p := range spec.patterns {
		g.Rules = append(g.Rules, mustRule(p, spec.cve))
	}
	return g
}

// buildCVEGroup CVE 表展开为有序规则, 先按条目顺序再按条目内顺序
func buildCVEGroup(entries []cveEntry) *Group {
	g := &Group{
		Name:     GroupCVE,
		Type:     "cve_exploit",
		Category: "known_exploit",
		Severity: SeverityCritical,
		Target:   TargetCombined,
	}
	for _, e := range entries {
		for _, p := range e.patterns {
			g.Rules = append(g.Rules, mustRule(p, e.id))
		}
	}
	return g
}

func newCatalog(specs []groupSpec, cves []cveEntry, cveAfter string, cmsTypes []string) *Catalog {
	c := &Catalog{
		byName:          make(map[string]*Group),
		cmsContentTypes: cmsTypes,
	}
	add := func(g *Group) {
		c.groups = append(c.groups, g)
		c.byName[g.Name] = g
	}
	for _, spec := range specs {
		add(buildGroup(spec))
		if spec.name == cveAfter {
			add(buildCVEGroup(cves))
		}
	}
	return c
}

var builtin = newCatalog(builtinGroups, builtinCVEs, GroupLog4Shell, cmsContentTypes)

// Builtin 返回内置签名目录
func Builtin() *Catalog {
	return builtin
}
