// Package browser 定义拦截核心所依赖的浏览器能力边界。
//
// 任意自动化引擎只要实现 Request、Page 与 CookieStore，即可接入代理重放流程。
package browser

import (
	"context"
	"errors"
	"net/http"

	"cdpproxy/pkg/traffic"
)

// ErrAlreadyHandled 请求已执行过终结动作（放行 / 中止 / 回填）
var ErrAlreadyHandled = errors.New("request already handled")

// CookieStore 浏览器 Cookie 存储
type CookieStore interface {
	// Cookies 读取对指定 URL 可见的 Cookie
	Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error)
	// SetCookies 将 Cookie 写入浏览器，未指定 Domain 的条目归属 rawURL 的源
	SetCookies(ctx context.Context, rawURL string, cookies []*http.Cookie) error
}

// Request 被拦截的请求。Continue / Abort / Fulfill 三者只能成功调用其一
type Request interface {
	URL() string
	Method() string
	Body() []byte
	Headers() traffic.Header
	IsNavigation() bool
	Cookies() CookieStore

	// Continue 原样放行，ov 中的 URL / Method / Body / Headers 交由浏览器自身处理
	Continue(ctx context.Context, ov *traffic.Overrides) error
	// Abort 中止请求
	Abort(ctx context.Context) error
	// Fulfill 以给定响应回填请求
	Fulfill(ctx context.Context, resp *traffic.Response) error
}

// Listener 请求监听回调
type Listener func(ctx context.Context, req Request) error

// Page 页面能力
type Page interface {
	// SetRequestInterception 开启或关闭请求拦截
	SetRequestInterception(ctx context.Context, enabled bool) error
	// Listeners 页面持有的监听注册表
	Listeners() *Listeners
}
