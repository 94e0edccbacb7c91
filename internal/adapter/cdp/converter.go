package cdp

import (
	"net/http"
	"sort"
	"time"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
	"github.com/tidwall/gjson"

	"cdpproxy/pkg/traffic"
)

// ToNeutralRequest 将 CDP 暂停事件转换为中立 Request 模型
func ToNeutralRequest(ev *fetch.RequestPausedReply) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = string(ev.RequestID)
	req.URL = ev.Request.URL
	if ev.Request.URLFragment != nil {
		req.URL += *ev.Request.URLFragment
	}
	req.Method = ev.Request.Method
	req.ResourceType = string(ev.ResourceType)
	req.Navigation = ev.ResourceType == network.ResourceTypeDocument

	if len(ev.Request.Headers) > 0 {
		gjson.ParseBytes([]byte(ev.Request.Headers)).ForEach(func(k, v gjson.Result) bool {
			req.Headers.Set(k.String(), v.String())
			return true
		})
	}
	if ev.Request.PostData != nil {
		req.Body = []byte(*ev.Request.PostData)
	}
	return req
}

// ToHeaderEntries 将中立 Header 转换为 CDP Header 条目，按名称排序
func ToHeaderEntries(h traffic.Header) []fetch.HeaderEntry {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for _, k := range keys {
		entries = append(entries, fetch.HeaderEntry{Name: k, Value: h[k]})
	}
	return entries
}

// ToContinueArgs 构造放行参数，ov 为空时原样放行
func ToContinueArgs(id fetch.RequestID, ov *traffic.Overrides) *fetch.ContinueRequestArgs {
	args := &fetch.ContinueRequestArgs{RequestID: id}
	if ov.IsEmpty() {
		return args
	}
	args.URL = ov.URL
	args.Method = ov.Method
	if ov.Body != nil {
		args.PostData = ov.Body
	}
	if len(ov.Headers) > 0 {
		args.Headers = ToHeaderEntries(ov.Headers)
	}
	return args
}

// ToFulfillArgs 构造回填参数
func ToFulfillArgs(id fetch.RequestID, resp *traffic.Response) *fetch.FulfillRequestArgs {
	args := &fetch.FulfillRequestArgs{
		RequestID:       id,
		ResponseCode:    resp.StatusCode,
		ResponseHeaders: ToHeaderEntries(resp.Headers),
	}
	if len(resp.Body) > 0 {
		args.Body = resp.Body
	}
	return args
}

// FromNetworkCookies 将浏览器 Cookie 转换为 net/http Cookie
func FromNetworkCookies(list []network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(list))
	for _, c := range list {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}

// cookieParam Network.setCookies 的参数条目，expires 为秒级时间戳
type cookieParam struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	URL      string  `json:"url,omitempty"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
}

// toCookieParams 将 Set-Cookie 解析结果转换为浏览器写入参数。
// 未指定 Domain 的 Cookie 通过 URL 绑定到响应来源
func toCookieParams(rawURL string, cookies []*http.Cookie) []cookieParam {
	out := make([]cookieParam, 0, len(cookies))
	now := time.Now()
	for _, c := range cookies {
		p := cookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HttpOnly,
			SameSite: sameSite(c.SameSite),
		}
		if p.Domain == "" {
			p.URL = rawURL
		}
		switch {
		case c.MaxAge < 0:
			p.Expires = float64(now.Add(-time.Hour).Unix())
		case c.MaxAge > 0:
			p.Expires = float64(now.Add(time.Duration(c.MaxAge) * time.Second).Unix())
		case !c.Expires.IsZero():
			p.Expires = float64(c.Expires.Unix())
		}
		out = append(out, p)
	}
	return out
}

func sameSite(s http.SameSite) string {
	switch s {
	case http.SameSiteStrictMode:
		return "Strict"
	case http.SameSiteLaxMode:
		return "Lax"
	case http.SameSiteNoneMode:
		return "None"
	default:
		return ""
	}
}
