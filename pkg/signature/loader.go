package signature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-gost/core/logger"

	applog "github.com/secubox/secubox-waf/pkg/logger"
)

// FileRule 规则文件中的单条规则
type FileRule struct {
	ID      string `json:"id"`
	Pattern string `json:"pattern"`
	Desc    string `json:"desc,omitempty"`
	CVE     string `json:"cve,omitempty"`
}

// FileCategory 规则文件中的类别
type FileCategory struct {
	Name     string     `json:"name"`
	Severity string     `json:"severity"`
	Enabled  *bool      `json:"enabled,omitempty"`
	Patterns []FileRule `json:"patterns"`
}

// RulesFile 规则文件 (waf-rules.json)
type RulesFile struct {
	Categories map[string]*FileCategory `json:"categories"`
}

// CategoryConfig 类别开关文件 (waf-config.json)
type CategoryConfig struct {
	Categories map[string]bool `json:"categories"`
}

// Match 动态规则命中结果
type Match struct {
	Category    string   `json:"category"`
	RuleID      string   `json:"rule_id"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	CVE         string   `json:"cve"`
	Pattern     string   `json:"pattern"`
	Target      string   `json:"target"`
}

// CategoryInfo 类别信息
type CategoryInfo struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Severity Severity `json:"severity"`
	Rules    int      `json:"rules"`
	Enabled  bool     `json:"enabled"`
}

// LoaderStats 规则统计
type LoaderStats struct {
	TotalRules        int            `json:"total_rules"`
	EnabledCategories int            `json:"enabled_categories"`
	SkippedRules      int            `json:"skipped_rules"`
	Categories        []CategoryInfo `json:"categories"`
	LoadedAt          time.Time      `json:"loaded_at"`
}

type compiledRule struct {
	id   string
	desc string
	cve  string
	re   *regexp.Regexp
}

type compiledCategory struct {
	id       string
	name     string
	severity Severity
	rules    []compiledRule
}

// snapshot 一次加载的完整结果, 加载后只读
type snapshot struct {
	rules    *RulesFile
	enabled  map[string]bool
	compiled []*compiledCategory
	skipped  int
	loadedAt time.Time
}

// Loader 动态 WAF 规则加载器
type Loader struct {
	rulesPath  string
	configPath string
	logger     logger.Logger

	mu   sync.Mutex // 串行化加载与写配置
	snap atomic.Pointer[snapshot]
}

// LoaderOption 加载器选项
type LoaderOption func(*Loader)

// WithLoaderLogger 设置日志
func WithLoaderLogger(l logger.Logger) LoaderOption {
	return func(ld *Loader) {
		ld.logger = l
	}
}

// NewLoader 创建规则加载器, 需调用 Load 加载规则
func NewLoader(rulesPath, configPath string, opts ...LoaderOption) *Loader {
	ld := &Loader{
		rulesPath:  rulesPath,
		configPath: configPath,
		logger:     applog.Nop(),
	}
	for _, opt := range opts {
		opt(ld)
	}
	ld.snap.Store(&snapshot{rules: &RulesFile{Categories: map[string]*FileCategory{}}, enabled: map[string]bool{}})
	return ld
}

// Load 加载规则; 任何文件错误都只降级, 不会中断服务
func (ld *Loader) Load() error {
	ld.mu.Lock()
	defer ld.mu.Unlock()
	return ld.loadLocked()
}

// Reload 重新加载规则
func (ld *Loader) Reload() error {
	return ld.Load()
}

func (ld *Loader) loadLocked() error {
	rules, rulesErr := ld.readRules()
	if rulesErr != nil {
		ld.logger.Errorf("[WAF] Error loading rules: %v", rulesErr)
	}

	enabled, cfgErr := ld.readEnabled(rules)
	if cfgErr != nil {
		ld.logger.Warnf("[WAF] Error loading config, enabling all categories: %v", cfgErr)
	}

	snap := ld.compile(rules, enabled)
	ld.snap.Store(snap)

	ld.logger.Infof("[WAF] loaded %d rules in %d categories (%d skipped)",
		countRules(snap.compiled), len(snap.compiled), snap.skipped)
	return rulesErr
}

func (ld *Loader) readRules() (*RulesFile, error) {
	empty := &RulesFile{Categories: map[string]*FileCategory{}}
	if ld.rulesPath == "" {
		return empty, nil
	}

	data, err := os.ReadFile(ld.rulesPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return empty, nil
		}
		return empty, fmt.Errorf("读取规则文件失败: %w", err)
	}

	rules := &RulesFile{}
	if err := json.Unmarshal(data, rules); err != nil {
		return empty, fmt.Errorf("解析规则文件失败: %w", err)
	}
	if rules.Categories == nil {
		rules.Categories = map[string]*FileCategory{}
	}
	return rules, nil
}

// readEnabled 读取类别开关; 文件缺失或损坏时启用全部类别
func (ld *Loader) readEnabled(rules *RulesFile) (map[string]bool, error) {
	all := make(map[string]bool, len(rules.Categories))
	for id := range rules.Categories {
		all[id] = true
	}
	if ld.configPath == "" {
		return all, nil
	}

	data, err := os.ReadFile(ld.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return all, nil
		}
		return all, fmt.Errorf("读取类别配置失败: %w", err)
	}

	cfg := &CategoryConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return all, fmt.Errorf("解析类别配置失败: %w", err)
	}

	enabled := make(map[string]bool, len(cfg.Categories))
	for id, on := range cfg.Categories {
		if on {
			enabled[id] = true
		}
	}
	return enabled, nil
}

func (ld *Loader) compile(rules *RulesFile, enabled map[string]bool) *snapshot {
	snap := &snapshot{
		rules:    rules,
		enabled:  enabled,
		loadedAt: time.Now(),
	}

	for _, id := range sortedIDs(rules) {
		cat := rules.Categories[id]
		if cat == nil || !enabled[id] || (cat.Enabled != nil && !*cat.Enabled) {
			continue
		}

		cc := &compiledCategory{
			id:       id,
			name:     cat.Name,
			severity: categorySeverity(cat),
		}
		for _, r := range cat.Patterns {
			re, err := compile(r.Pattern)
			if err != nil {
				snap.skipped++
				ld.logger.Warnf("[WAF] Invalid pattern %s: %v", r.ID, err)
				continue
			}
			id := r.ID
			if id == "" {
				id = "unknown"
			}
			cc.rules = append(cc.rules, compiledRule{id: id, desc: r.Desc, cve: r.CVE, re: re})
		}
		snap.compiled = append(snap.compiled, cc)
	}
	return snap
}

// Check 按类别顺序检查请求, 返回第一条命中的规则
func (ld *Loader) Check(path, query, body, userAgent string) *Match {
	snap := ld.snap.Load()
	if len(snap.compiled) == 0 {
		return nil
	}

	url := path
	if query != "" {
		url = path + "?" + query
	}
	targets := [...]struct{ name, value string }{
		{"url", url},
		{"body", body},
		{"user-agent", userAgent},
	}

	for _, cat := range snap.compiled {
		for _, r := range cat.rules {
			for _, t := range targets {
				if t.value != "" && r.re.MatchString(t.value) {
					return &Match{
						Category:    cat.id,
						RuleID:      r.id,
						Description: r.desc,
						Severity:    cat.severity,
						CVE:         r.cve,
						Pattern:     r.re.String()[len("(?i)"):],
						Target:      t.name,
					}
				}
			}
		}
	}
	return nil
}

// Stats 返回已编译规则统计
func (ld *Loader) Stats() LoaderStats {
	snap := ld.snap.Load()
	st := LoaderStats{
		EnabledCategories: len(snap.compiled),
		SkippedRules:      snap.skipped,
		LoadedAt:          snap.loadedAt,
		Categories:        make([]CategoryInfo, 0, len(snap.compiled)),
	}
	for _, cat := range snap.compiled {
		st.TotalRules += len(cat.rules)
		st.Categories = append(st.Categories, CategoryInfo{
			ID:       cat.id,
			Name:     categoryName(cat.id, cat.name),
			Severity: cat.severity,
			Rules:    len(cat.rules),
			Enabled:  true,
		})
	}
	return st
}

// Categories 返回规则文件中的全部类别及开关状态
func (ld *Loader) Categories() []CategoryInfo {
	snap := ld.snap.Load()
	active := make(map[string]int, len(snap.compiled))
	for _, cat := range snap.compiled {
		active[cat.id] = len(cat.rules)
	}

	out := make([]CategoryInfo, 0, len(snap.rules.Categories))
	for _, id := range sortedIDs(snap.rules) {
		cat := snap.rules.Categories[id]
		if cat == nil {
			continue
		}
		n, on := active[id]
		if !on {
			n = len(cat.Patterns)
		}
		out = append(out, CategoryInfo{
			ID:       id,
			Name:     categoryName(id, cat.Name),
			Severity: categorySeverity(cat),
			Rules:    n,
			Enabled:  on,
		})
	}
	return out
}

// SetCategory 启用或禁用类别, 写回类别配置文件后重新加载
func (ld *Loader) SetCategory(id string, enabled bool) error {
	ld.mu.Lock()
	defer ld.mu.Unlock()

	if ld.configPath == "" {
		return ErrNoRulesFile
	}

	snap := ld.snap.Load()
	if _, ok := snap.rules.Categories[id]; !ok {
		return fmt.Errorf("%w: %s", ErrCategoryNotFound, id)
	}

	cfg := CategoryConfig{Categories: make(map[string]bool, len(snap.rules.Categories))}
	for cat := range snap.rules.Categories {
		cfg.Categories[cat] = snap.enabled[cat]
	}
	cfg.Categories[id] = enabled

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化类别配置失败: %w", err)
	}
	if err := writeFileAtomic(ld.configPath, data); err != nil {
		return err
	}

	ld.logger.Infof("[WAF] category %s enabled=%v", id, enabled)
	return ld.loadLocked()
}

// Watch 监听规则文件与配置文件变化并自动重载, 阻塞直到 ctx 结束
func (ld *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败: %w", err)
	}
	defer watcher.Close()

	watched := make(map[string]bool)
	for _, p := range []string{ld.rulesPath, ld.configPath} {
		if p == "" {
			continue
		}
		dir := filepath.Dir(p)
		if watched[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("监听目录 %s 失败: %w", dir, err)
		}
		watched[dir] = true
	}

	targets := map[string]bool{
		filepath.Clean(ld.rulesPath):  ld.rulesPath != "",
		filepath.Clean(ld.configPath): ld.configPath != "",
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !targets[filepath.Clean(e.Name)] {
				continue
			}
			if e.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			ld.logger.Infof("[WAF] %s changed, reloading rules", e.Name)
			_ = ld.Reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			ld.logger.Warnf("[WAF] watcher error: %v", err)
		}
	}
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("写入类别配置失败: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("替换类别配置失败: %w", err)
	}
	return nil
}

func sortedIDs(rules *RulesFile) []string {
	ids := make([]string, 0, len(rules.Categories))
	for id := range rules.Categories {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func categorySeverity(cat *FileCategory) Severity {
	if cat.Severity == "" {
		return SeverityMedium
	}
	return ParseSeverity(cat.Severity)
}

func categoryName(id, name string) string {
	if name == "" {
		return id
	}
	return name
}

func countRules(cats []*compiledCategory) int {
	n := 0
	for _, c := range cats {
		n += len(c.rules)
	}
	return n
}
