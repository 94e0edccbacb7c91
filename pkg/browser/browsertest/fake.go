// Package browsertest 提供 browser 能力的内存实现，供测试使用。
package browsertest

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"cdpproxy/pkg/browser"
	"cdpproxy/pkg/traffic"
)

// Action 请求的终结动作
type Action string

const (
	ActionNone     Action = ""
	ActionContinue Action = "continue"
	ActionAbort    Action = "abort"
	ActionFulfill  Action = "fulfill"
)

// Request 可记录终结动作的假请求
type Request struct {
	RawURL     string
	HTTPMethod string
	Payload    []byte
	Header     traffic.Header
	Navigation bool
	Store      *CookieStore

	mu        sync.Mutex
	action    Action
	calls     int
	overrides *traffic.Overrides
	response  *traffic.Response
	done      chan struct{}
}

// NewRequest 创建 GET 请求
func NewRequest(rawURL string) *Request {
	return &Request{
		RawURL:     rawURL,
		HTTPMethod: http.MethodGet,
		Header:     traffic.Header{},
		Store:      NewCookieStore(),
		done:       make(chan struct{}),
	}
}

func (r *Request) URL() string                  { return r.RawURL }
func (r *Request) Method() string               { return r.HTTPMethod }
func (r *Request) Body() []byte                 { return r.Payload }
func (r *Request) Headers() traffic.Header      { return r.Header.Clone() }
func (r *Request) IsNavigation() bool           { return r.Navigation }
func (r *Request) Cookies() browser.CookieStore { return r.Store }

func (r *Request) finish(a Action, ov *traffic.Overrides, resp *traffic.Response) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.action != ActionNone {
		return browser.ErrAlreadyHandled
	}
	r.action = a
	r.overrides = ov
	r.response = resp
	close(r.done)
	return nil
}

// Continue 记录放行
func (r *Request) Continue(_ context.Context, ov *traffic.Overrides) error {
	return r.finish(ActionContinue, ov, nil)
}

// Abort 记录中止
func (r *Request) Abort(context.Context) error { return r.finish(ActionAbort, nil, nil) }

// Fulfill 记录回填
func (r *Request) Fulfill(_ context.Context, resp *traffic.Response) error {
	return r.finish(ActionFulfill, nil, resp)
}

// Action 返回已执行的终结动作
func (r *Request) Action() Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.action
}

// Calls 返回终结动作调用次数（含被拒绝的重复调用）
func (r *Request) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// Overrides 返回放行时携带的覆盖项
func (r *Request) Overrides() *traffic.Overrides {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.overrides
}

// Response 返回回填的响应
func (r *Request) Response() *traffic.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.response
}

// Done 在终结动作发生后关闭
func (r *Request) Done() <-chan struct{} { return r.done }

// CookieStore 按域名保存 Cookie 的假存储
type CookieStore struct {
	mu      sync.Mutex
	cookies []*http.Cookie
	Writes  int
}

// NewCookieStore 创建空存储
func NewCookieStore() *CookieStore { return &CookieStore{} }

// Add 直接写入 Cookie
func (s *CookieStore) Add(c *http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(c)
}

func (s *CookieStore) put(c *http.Cookie) {
	if c.Path == "" {
		c.Path = "/"
	}
	for i, cur := range s.cookies {
		if cur.Name == c.Name && cur.Domain == c.Domain && cur.Path == c.Path {
			s.cookies[i] = c
			return
		}
	}
	s.cookies = append(s.cookies, c)
}

// Cookies 返回域名匹配 rawURL 的 Cookie
func (s *CookieStore) Cookies(_ context.Context, rawURL string) ([]*http.Cookie, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	host := u.Hostname()
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*http.Cookie
	for _, c := range s.cookies {
		d := strings.TrimPrefix(c.Domain, ".")
		if host == d || strings.HasSuffix(host, "."+d) {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// SetCookies 写入 Cookie，缺省 Domain 使用 rawURL 的主机名
func (s *CookieStore) SetCookies(_ context.Context, rawURL string, cookies []*http.Cookie) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cookies {
		cp := *c
		if cp.Domain == "" {
			cp.Domain = u.Hostname()
		}
		s.put(&cp)
		s.Writes++
	}
	return nil
}

// All 返回所有 Cookie 的副本
func (s *CookieStore) All() []http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]http.Cookie, 0, len(s.cookies))
	for _, c := range s.cookies {
		out = append(out, *c)
	}
	return out
}

// Page 假页面
type Page struct {
	mu           sync.Mutex
	intercepting bool
	toggles      int
	listeners    *browser.Listeners
}

// NewPage 创建假页面，ctx 结束时其监听注册表随之取消
func NewPage(ctx context.Context) *Page {
	return &Page{listeners: browser.NewListeners(ctx, browser.ListenersOptions{})}
}

// SetRequestInterception 记录拦截开关
func (p *Page) SetRequestInterception(_ context.Context, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intercepting = enabled
	p.toggles++
	return nil
}

// Listeners 返回注册表
func (p *Page) Listeners() *browser.Listeners { return p.listeners }

// Intercepting 当前是否开启拦截
func (p *Page) Intercepting() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.intercepting
}

// Close 关闭注册表
func (p *Page) Close() error { return p.listeners.Close() }
