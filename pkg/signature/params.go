package signature

import (
	"net/url"
	"strings"
)

// HasDuplicateParams 检测 HTTP 参数污染: 查询串中同名参数出现多次
func HasDuplicateParams(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}
	seen := make(map[string]struct{})
	for _, pair := range strings.Split(rawQuery, "&") {
		name, _, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			continue
		}
		if decoded, err := url.QueryUnescape(name); err == nil {
			name = decoded
		}
		name = strings.ToLower(name)
		if _, dup := seen[name]; dup {
			return true
		}
		seen[name] = struct{}{}
	}
	return false
}
