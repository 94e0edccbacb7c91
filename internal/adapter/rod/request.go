package rod

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	rodlib "github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"cdpproxy/pkg/browser"
	"cdpproxy/pkg/traffic"
)

// Request 被暂停的请求
type Request struct {
	id      proto.FetchRequestID
	data    *traffic.Request
	page    *rodlib.Page
	cookies *CookieStore
	handled atomic.Bool
}

func newRequest(ev *proto.FetchRequestPaused, page *rodlib.Page, cookies *CookieStore) *Request {
	return &Request{id: ev.RequestID, data: toNeutralRequest(ev), page: page, cookies: cookies}
}

func (r *Request) URL() string                  { return r.data.URL }
func (r *Request) Method() string               { return r.data.Method }
func (r *Request) Body() []byte                 { return r.data.Body }
func (r *Request) Headers() traffic.Header      { return r.data.Headers.Clone() }
func (r *Request) IsNavigation() bool           { return r.data.Navigation }
func (r *Request) Cookies() browser.CookieStore { return r.cookies }
func (r *Request) Handled() bool                { return r.handled.Load() }

func (r *Request) claim() error {
	if !r.handled.CompareAndSwap(false, true) {
		return browser.ErrAlreadyHandled
	}
	return nil
}

func (r *Request) Continue(ctx context.Context, ov *traffic.Overrides) error {
	if err := r.claim(); err != nil {
		return err
	}
	if err := toContinue(r.id, ov).Call(r.page.Context(ctx)); err != nil {
		return fmt.Errorf("continue request %s: %w", r.id, err)
	}
	return nil
}

func (r *Request) Abort(ctx context.Context) error {
	if err := r.claim(); err != nil {
		return err
	}
	err := proto.FetchFailRequest{RequestID: r.id, ErrorReason: proto.NetworkErrorReasonFailed}.Call(r.page.Context(ctx))
	if err != nil {
		return fmt.Errorf("fail request %s: %w", r.id, err)
	}
	return nil
}

func (r *Request) Fulfill(ctx context.Context, resp *traffic.Response) error {
	if err := r.claim(); err != nil {
		return err
	}
	if err := toFulfill(r.id, resp).Call(r.page.Context(ctx)); err != nil {
		return fmt.Errorf("fulfill request %s: %w", r.id, err)
	}
	return nil
}

// CookieStore 页面所在浏览器上下文的 Cookie
type CookieStore struct {
	page *rodlib.Page
}

func (s *CookieStore) Cookies(ctx context.Context, rawURL string) ([]*http.Cookie, error) {
	res, err := proto.NetworkGetCookies{Urls: []string{rawURL}}.Call(s.page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("get cookies: %w", err)
	}
	return fromNetworkCookies(res.Cookies), nil
}

func (s *CookieStore) SetCookies(ctx context.Context, rawURL string, cookies []*http.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	if err := (proto.NetworkSetCookies{Cookies: toCookieParams(rawURL, cookies)}).Call(s.page.Context(ctx)); err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	return nil
}
