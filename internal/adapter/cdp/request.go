package cdp

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/mafredri/cdp/rpcc"

	"cdpproxy/pkg/browser"
	"cdpproxy/pkg/traffic"
)

// Request 被 Fetch 域暂停的请求，终结动作只能执行一次
type Request struct {
	id      fetch.RequestID
	data    *traffic.Request
	client  *cdp.Client
	cookies *CookieStore
	handled atomic.Bool
}

func newRequest(ev *fetch.RequestPausedReply, client *cdp.Client, cookies *CookieStore) *Request {
	return &Request{
		id:      ev.RequestID,
		data:    ToNeutralRequest(ev),
		client:  client,
		cookies: cookies,
	}
}

func (r *Request) URL() string                  { return r.data.URL }
func (r *Request) Method() string               { return r.data.Method }
func (r *Request) Body() []byte                 { return r.data.Body }
func (r *Request) Headers() traffic.Header      { return r.data.Headers.Clone() }
func (r *Request) IsNavigation() bool           { return r.data.Navigation }
func (r *Request) Cookies() browser.CookieStore { return r.cookies }
func (r *Request) ResourceType() string         { return r.data.ResourceType }
func (r *Request) Handled() bool                { return r.handled.Load() }

func (r *Request) claim() error {
	if !r.handled.CompareAndSwap(false, true) {
		return browser.ErrAlreadyHandled
	}
	return nil
}

// Continue 放行请求，ov 非空时覆盖对应字段
func (r *Request) Continue(ctx context.Context, ov *traffic.Overrides) error {
	if err := r.claim(); err != nil {
		return err
	}
	if err := r.client.Fetch.ContinueRequest(ctx, ToContinueArgs(r.id, ov)); err != nil {
		return fmt.Errorf("continue request %s: %w", r.id, err)
	}
	return nil
}

// Abort 以 Failed 原因中止请求
func (r *Request) Abort(ctx context.Context) error {
	if err := r.claim(); err != nil {
		return err
	}
	args := &fetch.FailRequestArgs{RequestID: r.id, ErrorReason: network.ErrorReasonFailed}
	if err := r.client.Fetch.FailRequest(ctx, args); err != nil {
		return fmt.Errorf("fail request %s: %w", r.id, err)
	}
	return nil
}

// Fulfill 用重放响应回填请求
func (r *Request) Fulfill(ctx context.Context, resp *traffic.Response) error {
	if err := r.claim(); err != nil {
		return err
	}
	if err := r.client.Fetch.FulfillRequest(ctx, ToFulfillArgs(r.id, resp)); err != nil {
		return fmt.Errorf("fulfill request %s: %w", r.id, err)
	}
	return nil
}

// CookieStore 基于 Network 域的浏览器 Cookie 存储
type CookieStore struct {
	client *cdp.Client
	conn   *rpcc.Conn
}

// Cookies 读取对 rawURL 可见的 Cookie
func (s *CookieStore) Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error) {
	reply, err := s.client.Network.GetCookies(ctx, network.NewGetCookiesArgs().SetURLs([]string{rawURL}))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	return FromNetworkCookies(reply.Cookies), nil
}

// SetCookies 写入 Cookie，未带 Domain 的绑定到 rawURL
func (s *CookieStore) SetCookies(ctx context.Context, rawURL string, cookies []*http.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	args := struct {
		Cookies []cookieParam `json:"cookies"`
	}{Cookies: toCookieParams(rawURL, cookies)}
	if err := rpcc.Invoke(ctx, "Network.setCookies", &args, nil, s.conn); err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	return nil
}
