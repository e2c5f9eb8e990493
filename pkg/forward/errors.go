package forward

import "errors"

var (
	// 路由表相关错误
	ErrInvalidRoutes  = errors.New("invalid routes file")
	ErrInvalidBackend = errors.New("invalid backend address")

	// UCI 解析相关错误
	ErrNoVhosts = errors.New("no haproxy vhosts found")
)
