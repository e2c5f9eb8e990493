package monitor

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats 主机资源使用情况
type HostStats struct {
	CPUPercent    float64  `json:"cpu_percent"`
	MemoryPercent float64  `json:"memory_percent"`
	MemoryUsed    uint64   `json:"memory_used"`
	MemoryTotal   uint64   `json:"memory_total"`
	DiskPercent   float64  `json:"disk_percent"`
	DiskPath      string   `json:"disk_path"`
	Goroutines    int      `json:"goroutines"`
	Errors        []string `json:"errors,omitempty"`
}

const hostStatsKey = "host"

// HostMonitor 采集主机资源, 结果缓存一段时间
type HostMonitor struct {
	diskPath string
	cache    *cache.Cache
}

// NewHostMonitor 创建主机资源采集器, diskPath 为需要统计的挂载点
func NewHostMonitor(diskPath string, ttl time.Duration) *HostMonitor {
	if diskPath == "" {
		diskPath = "/"
	}
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &HostMonitor{
		diskPath: diskPath,
		cache:    cache.New(ttl, 2*ttl),
	}
}

// Stats 返回主机资源, 单项采集失败时记录错误并继续
func (h *HostMonitor) Stats(ctx context.Context) HostStats {
	if v, ok := h.cache.Get(hostStatsKey); ok {
		return v.(HostStats)
	}

	s := HostStats{DiskPath: h.diskPath, Goroutines: runtime.NumGoroutine()}

	if percent, err := cpu.PercentWithContext(ctx, 0, false); err != nil {
		s.Errors = append(s.Errors, fmt.Sprintf("cpu: %v", err))
	} else if len(percent) > 0 {
		s.CPUPercent = percent[0]
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		s.Errors = append(s.Errors, fmt.Sprintf("memory: %v", err))
	} else {
		s.MemoryPercent = vm.UsedPercent
		s.MemoryUsed = vm.Used
		s.MemoryTotal = vm.Total
	}

	if usage, err := disk.UsageWithContext(ctx, h.diskPath); err != nil {
		s.Errors = append(s.Errors, fmt.Sprintf("disk: %v", err))
	} else {
		s.DiskPercent = usage.UsedPercent
	}

	h.cache.SetDefault(hostStatsKey, s)
	return s
}
