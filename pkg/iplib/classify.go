package iplib

import (
	"net"
	"strings"
)

// privatePrefixes 自动封禁豁免的内网前缀
var privatePrefixes = []string{
	"10.",
	"172.16.", "172.17.", "172.18.", "172.19.",
	"172.20.", "172.21.", "172.22.", "172.23.",
	"172.24.", "172.25.", "172.26.", "172.27.",
	"172.28.", "172.29.", "172.30.", "172.31.",
	"192.168.", "127.",
}

// trustedLocalPrefixes 不写入 CrowdSec 日志的可信本地前缀
var trustedLocalPrefixes = []string{
	"192.168.", "10.", "172.16.", "172.17.", "172.18.", "127.",
}

// internalPrefixes 路由与 GeoIP 判断使用的内部前缀
var internalPrefixes = []string{
	"10.", "172.16.", "192.168.", "127.",
}

func hasAnyPrefix(ip string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(ip, p) {
			return true
		}
	}
	return false
}

// IsPrivate 是否为内网地址 (10/8, 172.16/12, 192.168/16, 127/8)
func IsPrivate(ip string) bool {
	return hasAnyPrefix(ip, privatePrefixes)
}

// IsTrustedLocal 是否为可信本地地址
func IsTrustedLocal(ip string) bool {
	return hasAnyPrefix(ip, trustedLocalPrefixes)
}

// IsInternal 是否为内部地址
func IsInternal(ip string) bool {
	return hasAnyPrefix(ip, internalPrefixes)
}

// IPRange IP 区间
type IPRange struct {
	Start net.IP
	End   net.IP
}

// IPList IP 名单, 支持精确 IP, CIDR 和区间
type IPList struct {
	ips    map[string]struct{}
	cidrs  []*net.IPNet
	ranges []IPRange
}

// NewIPList 从条目创建名单
// 条目格式: "203.0.113.5", "198.51.100.0/24", "192.0.2.1-192.0.2.9"
func NewIPList(entries []string) *IPList {
	l := &IPList{ips: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		switch {
		case strings.Contains(e, "/"):
			if _, ipNet, err := net.ParseCIDR(e); err == nil {
				l.cidrs = append(l.cidrs, ipNet)
			}
		case strings.Contains(e, "-"):
			parts := strings.SplitN(e, "-", 2)
			start := net.ParseIP(strings.TrimSpace(parts[0]))
			end := net.ParseIP(strings.TrimSpace(parts[1]))
			if start != nil && end != nil {
				l.ranges = append(l.ranges, IPRange{Start: start, End: end})
			}
		default:
			l.ips[e] = struct{}{}
		}
	}
	return l
}

// Len 条目数
func (l *IPList) Len() int {
	return len(l.ips) + len(l.cidrs) + len(l.ranges)
}

// Contains 是否在名单中
func (l *IPList) Contains(ipStr string) bool {
	if l == nil {
		return false
	}

	// 直接匹配
	if _, ok := l.ips[ipStr]; ok {
		return true
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	// CIDR 匹配
	for _, cidr := range l.cidrs {
		if cidr.Contains(ip) {
			return true
		}
	}

	// 范围匹配
	for _, r := range l.ranges {
		if bytesCompare(ip, r.Start) >= 0 && bytesCompare(ip, r.End) <= 0 {
			return true
		}
	}

	return false
}

func bytesCompare(a, b net.IP) int {
	aa := a.To4()
	bb := b.To4()
	if aa == nil || bb == nil {
		aa = a.To16()
		bb = b.To16()
	}
	for i := 0; i < len(aa) && i < len(bb); i++ {
		if aa[i] < bb[i] {
			return -1
		}
		if aa[i] > bb[i] {
			return 1
		}
	}
	return 0
}
