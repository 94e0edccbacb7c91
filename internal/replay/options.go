package replay

import (
	"errors"
	"time"

	"cdpproxy/internal/agent"
	"cdpproxy/internal/client"
)

var (
	// ErrSchemeUnsupported 非 http/https 请求，原样放行；只出现在处理记录中，不会返回给调用方
	ErrSchemeUnsupported = errors.New("unsupported url scheme")
)

// TransportError 重放过程中的网络错误（DNS、TCP、TLS、代理协商、超时）
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "replay transport: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError 响应校验失败，处理方式与 TransportError 相同
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "replay validation: " + e.Err.Error() }

func (e *ValidationError) Unwrap() error { return e.Err }

// Validator 响应校验函数
type Validator func(res *client.Result) error

// Options 重放配置，交给 New 之后不再修改
type Options struct {
	// AbortOnErrors 为 true 时重放失败会中止浏览器请求，否则把错误返回给调用方。默认 true
	AbortOnErrors bool
	// AdditionalHeaders 最后叠加到重放请求头上，优先级最高。默认空
	AdditionalHeaders map[string]string
	// AgentResolver 代理解析器，设置后完全替代默认解析。默认 agent.Resolve
	AgentResolver agent.Resolver
	// ClientOptions 透传给 HTTP 客户端。默认空
	ClientOptions *client.Options
	// Timeout 单次重放超时，0 表示不限
	Timeout time.Duration
	// ValidateResponse 可选的响应校验
	ValidateResponse Validator
}

// DefaultOptions 返回默认配置
func DefaultOptions() Options {
	return Options{
		AbortOnErrors:     true,
		AdditionalHeaders: map[string]string{},
		AgentResolver:     agent.Resolve,
		ClientOptions:     &client.Options{},
	}
}

func (o Options) resolver() agent.Resolver {
	if o.AgentResolver != nil {
		return o.AgentResolver
	}
	return agent.Resolve
}
