package forward

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

type uciVhost struct {
	domain  string
	backend string
}

// ParseUCIRoutes 解析 `uci show haproxy` 输出, 生成域名到后端服务器的路由表
//
//	haproxy.blog=vhost
//	haproxy.blog.domain='blog.example.org'
//	haproxy.blog.backend='be_blog'
//	haproxy.be_blog=backend
//	haproxy.be_blog.server='blog 192.168.255.1:4000 check'
func ParseUCIRoutes(r io.Reader) (map[string]Backend, error) {
	vhosts := make(map[string]*uciVhost)
	backends := make(map[string]*Backend)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		parts := strings.Split(key, ".")
		if len(parts) < 2 || parts[0] != "haproxy" {
			continue
		}
		section := parts[1]
		value = unquote(value)

		if len(parts) == 2 {
			switch value {
			case "vhost":
				if vhosts[section] == nil {
					vhosts[section] = &uciVhost{}
				}
			case "backend":
				if backends[section] == nil {
					backends[section] = &Backend{}
				}
			}
			continue
		}

		switch parts[2] {
		case "domain":
			vh := vhosts[section]
			if vh == nil {
				vh = &uciVhost{}
				vhosts[section] = vh
			}
			vh.domain = value
		case "backend":
			vh := vhosts[section]
			if vh == nil {
				vh = &uciVhost{}
				vhosts[section] = vh
			}
			vh.backend = value
		case "server":
			if b, ok := parseServer(value); ok {
				backends[section] = &b
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("读取 UCI 输出失败: %w", err)
	}

	routes := make(map[string]Backend)
	for _, vh := range vhosts {
		if vh.domain == "" || vh.backend == "" {
			continue
		}
		b, ok := backends[vh.backend]
		if !ok || b == nil {
			continue
		}
		out := *b
		if out.Host == "" {
			out.Host = "127.0.0.1"
		}
		if out.Port == 0 {
			out.Port = 80
		}
		routes[strings.ToLower(vh.domain)] = out
	}

	if len(vhosts) == 0 {
		return routes, ErrNoVhosts
	}
	return routes, nil
}

// parseServer 解析 "name ip:port [options]"
func parseServer(spec string) (Backend, bool) {
	fields := strings.Fields(spec)
	if len(fields) < 2 {
		return Backend{}, false
	}
	addr := fields[1]
	i := strings.LastIndexByte(addr, ':')
	if i < 0 {
		return Backend{}, false
	}
	port, err := strconv.Atoi(addr[i+1:])
	if err != nil {
		return Backend{}, false
	}
	return Backend{Host: addr[:i], Port: port}, true
}

// unquote 去掉 UCI 值两侧的单引号
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	return s
}
