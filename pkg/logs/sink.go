package logs

import "github.com/secubox/secubox-waf/pkg/security"

// MultiSink 将封禁请求分发给多个输出
type MultiSink []security.BanSink

// Emit 实现 security.BanSink
func (m MultiSink) Emit(req security.BanRequest) {
	for _, s := range m {
		if s != nil {
			s.Emit(req)
		}
	}
}
