package rod

import (
	"net/http"
	"sort"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"cdpproxy/pkg/traffic"
)

// toNeutralRequest 将 FetchRequestPaused 事件转换为中立 Request 模型
func toNeutralRequest(ev *proto.FetchRequestPaused) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = string(ev.RequestID)
	req.ResourceType = string(ev.ResourceType)
	req.Navigation = ev.ResourceType == proto.NetworkResourceTypeDocument
	if ev.Request == nil {
		return req
	}
	req.URL = ev.Request.URL + ev.Request.URLFragment
	req.Method = ev.Request.Method
	for k, v := range ev.Request.Headers {
		req.Headers.Set(k, v.Str())
	}
	if ev.Request.PostData != "" {
		req.Body = []byte(ev.Request.PostData)
	}
	return req
}

func toHeaderEntries(h traffic.Header) []*proto.FetchHeaderEntry {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*proto.FetchHeaderEntry, 0, len(h))
	for _, k := range keys {
		out = append(out, &proto.FetchHeaderEntry{Name: k, Value: h[k]})
	}
	return out
}

func toContinue(id proto.FetchRequestID, ov *traffic.Overrides) proto.FetchContinueRequest {
	args := proto.FetchContinueRequest{RequestID: id}
	if ov.IsEmpty() {
		return args
	}
	if ov.URL != nil {
		args.URL = *ov.URL
	}
	if ov.Method != nil {
		args.Method = *ov.Method
	}
	if ov.Body != nil {
		args.PostData = ov.Body
	}
	if len(ov.Headers) > 0 {
		args.Headers = toHeaderEntries(ov.Headers)
	}
	return args
}

func toFulfill(id proto.FetchRequestID, resp *traffic.Response) proto.FetchFulfillRequest {
	return proto.FetchFulfillRequest{
		RequestID:       id,
		ResponseCode:    resp.StatusCode,
		ResponseHeaders: toHeaderEntries(resp.Headers),
		Body:            resp.Body,
	}
}

func fromNetworkCookies(list []*proto.NetworkCookie) []*http.Cookie {
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
			hc.Expires = c.Expires.Time()
		}
		out = append(out, hc)
	}
	return out
}

// toCookieParams 未指定 Domain 的 Cookie 通过 URL 绑定到响应来源
func toCookieParams(rawURL string, cookies []*http.Cookie) []*proto.NetworkCookieParam {
	now := time.Now()
	out := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &proto.NetworkCookieParam{
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
			p.Expires = proto.TimeSinceEpoch(now.Add(-time.Hour).Unix())
		case c.MaxAge > 0:
			p.Expires = proto.TimeSinceEpoch(now.Add(time.Duration(c.MaxAge) * time.Second).Unix())
		case !c.Expires.IsZero():
			p.Expires = proto.TimeSinceEpoch(c.Expires.Unix())
		}
		out = append(out, p)
	}
	return out
}

func sameSite(s http.SameSite) proto.NetworkCookieSameSite {
	switch s {
	case http.SameSiteStrictMode:
		return proto.NetworkCookieSameSiteStrict
	case http.SameSiteLaxMode:
		return proto.NetworkCookieSameSiteLax
	case http.SameSiteNoneMode:
		return proto.NetworkCookieSameSiteNone
	default:
		return ""
	}
}
