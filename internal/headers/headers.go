// Package headers 根据被拦截请求推导重放时使用的请求头。
//
// 浏览器拦截接口暴露的请求头并不完整（Host、Accept-Encoding、Sec-Fetch-* 常缺失或不准确），
// 这里补齐这些字段，并让调用方追加的头部拥有最高优先级。所有键均为小写。
package headers

import (
	"net/url"

	"cdpproxy/pkg/traffic"
)

const (
	// DefaultAccept 覆盖浏览器上报的 accept
	DefaultAccept = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.9"
	// DefaultAcceptEncoding 覆盖浏览器上报的 accept-encoding
	DefaultAcceptEncoding = "gzip, deflate, br"
)

// Source 推导所需的请求信息
type Source interface {
	URL() string
	Headers() traffic.Header
	IsNavigation() bool
}

// Build 生成重放请求头，targetURL 为空时使用请求原始 URL
func Build(req Source, targetURL string, additional map[string]string) traffic.Header {
	if targetURL == "" {
		targetURL = req.URL()
	}
	h := req.Headers().Clone()
	h.Set("accept", DefaultAccept)
	h.Set("accept-encoding", DefaultAcceptEncoding)
	if u, err := url.Parse(targetURL); err == nil && u.Hostname() != "" {
		h.Set("host", u.Hostname())
	}

	if req.IsNavigation() {
		h.Set("sec-fetch-mode", "navigate")
		h.Set("sec-fetch-site", "none")
		h.Set("sec-fetch-user", "?1")
	} else {
		h.Set("sec-fetch-mode", "no-cors")
		h.Set("sec-fetch-site", "same-origin")
		h.Del("sec-fetch-user")
	}

	h.Merge(additional)
	return h
}
