package iplib

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/go-gost/core/logger"
	"github.com/oschwald/maxminddb-golang"
	"github.com/patrickmn/go-cache"

	applog "github.com/secubox/secubox-waf/pkg/logger"
)

// 国家代码占位
const (
	CountryLocal   = "LOCAL"
	CountryUnknown = "XX"
)

// IPLib IP 库接口
type IPLib interface {
	// 初始化加载IP数据库
	Init(databasePath string) error
	// 查询国家代码
	Country(ip string) string
	// 获取库信息
	GetLibraryInfo() *LibraryInfo
	// 释放资源
	Close() error
}

// LibraryInfo 库信息
type LibraryInfo struct {
	Name         string    `json:"name"`
	Loaded       bool      `json:"loaded"`
	DatabaseType string    `json:"database_type"`
	BuildDate    time.Time `json:"build_date"`
	TotalRecords uint      `json:"total_records"`
	CacheEntries int       `json:"cache_entries"`
}

// geoRecord MaxMind 国家记录
type geoRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// GeoIPLib 基于 MaxMind GeoLite2 的 IP 库
type GeoIPLib struct {
	mu     sync.RWMutex
	reader *maxminddb.Reader
	path   string
	cache  *cache.Cache
	logger logger.Logger
}

// Option GeoIP 选项
type Option func(*GeoIPLib)

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(g *GeoIPLib) {
		g.logger = l
	}
}

// WithCacheTTL 设置查询缓存时间
func WithCacheTTL(ttl time.Duration) Option {
	return func(g *GeoIPLib) {
		g.cache = cache.New(ttl, 2*ttl)
	}
}

// NewGeoIPLib 创建 GeoIP 库
func NewGeoIPLib(opts ...Option) *GeoIPLib {
	g := &GeoIPLib{
		cache:  cache.New(10*time.Minute, 20*time.Minute),
		logger: applog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Init 加载数据库; 文件不存在时不报错, 查询一律返回 LOCAL
func (g *GeoIPLib) Init(databasePath string) error {
	if _, err := os.Stat(databasePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			g.logger.Warnf("GeoIP database not found: %s, country detection disabled", databasePath)
			return nil
		}
		return fmt.Errorf("访问IP数据库失败: %w", err)
	}

	reader, err := maxminddb.Open(databasePath)
	if err != nil {
		return fmt.Errorf("加载IP数据库失败: %w", err)
	}

	g.mu.Lock()
	old := g.reader
	g.reader = reader
	g.path = databasePath
	g.mu.Unlock()
	g.cache.Flush()

	if old != nil {
		_ = old.Close()
	}
	g.logger.Infof("GeoIP database loaded: %s", databasePath)
	return nil
}

// Country 查询国家代码
// 未加载数据库或内网地址返回 LOCAL, 查询失败返回 XX
func (g *GeoIPLib) Country(ip string) string {
	g.mu.RLock()
	reader := g.reader
	g.mu.RUnlock()

	if reader == nil || IsInternal(ip) {
		return CountryLocal
	}

	if v, ok := g.cache.Get(ip); ok {
		return v.(string)
	}

	code := CountryUnknown
	if parsed := net.ParseIP(ip); parsed != nil {
		var rec geoRecord
		if err := reader.Lookup(parsed, &rec); err == nil && rec.Country.ISOCode != "" {
			code = rec.Country.ISOCode
		}
	}

	g.cache.SetDefault(ip, code)
	return code
}

// GetLibraryInfo 获取库信息
func (g *GeoIPLib) GetLibraryInfo() *LibraryInfo {
	g.mu.RLock()
	defer g.mu.RUnlock()

	info := &LibraryInfo{
		Name:         g.path,
		CacheEntries: g.cache.ItemCount(),
	}
	if g.reader != nil {
		md := g.reader.Metadata
		info.Loaded = true
		info.DatabaseType = md.DatabaseType
		info.BuildDate = time.Unix(int64(md.BuildEpoch), 0).UTC()
		info.TotalRecords = md.NodeCount
	}
	return info
}

// Close 关闭数据库
func (g *GeoIPLib) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.reader == nil {
		return nil
	}
	err := g.reader.Close()
	g.reader = nil
	return err
}
