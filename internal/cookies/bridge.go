// Package cookies 在浏览器 Cookie 存储与重放客户端的临时 CookieJar 之间同步 Cookie。
package cookies

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"cdpproxy/internal/logger"
	"cdpproxy/pkg/browser"
)

// Bridge Cookie 桥
type Bridge struct {
	log logger.Logger
}

// New 创建 Cookie 桥
func New(l logger.Logger) *Bridge {
	if l == nil {
		l = logger.NewNop()
	}
	return &Bridge{log: l}
}

// Load 读取浏览器中对 rawURL 可见的 Cookie，放入一次性 CookieJar
func (b *Bridge) Load(ctx context.Context, store browser.CookieStore, rawURL string) (http.CookieJar, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	if store == nil {
		return jar, nil
	}
	list, err := store.Cookies(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("read browser cookies: %w", err)
	}
	if len(list) > 0 {
		jar.SetCookies(u, list)
	}
	b.log.Debug("载入浏览器Cookie", "url", rawURL, "count", len(list))
	return jar, nil
}

// Store 解析 Set-Cookie 指令并写回浏览器，单条解析失败时跳过该条。返回写入数量
func (b *Bridge) Store(ctx context.Context, store browser.CookieStore, rawURL string, setCookie []string) (int, error) {
	if store == nil {
		return 0, nil
	}
	parsed := Parse(setCookie, func(line string, err error) {
		b.log.Debug("忽略非法Set-Cookie", "url", rawURL, "value", line, "error", err)
	})
	if len(parsed) == 0 {
		return 0, nil
	}
	if err := store.SetCookies(ctx, rawURL, parsed); err != nil {
		return 0, fmt.Errorf("write browser cookies: %w", err)
	}
	b.log.Debug("写回Set-Cookie", "url", rawURL, "count", len(parsed))
	return len(parsed), nil
}

// Parse 解析 Set-Cookie 值，单个值中以换行分隔的多条指令会被拆开
func Parse(values []string, onInvalid func(line string, err error)) []*http.Cookie {
	var out []*http.Cookie
	for _, v := range values {
		for _, line := range strings.Split(v, "\n") {
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			c, err := http.ParseSetCookie(line)
			if err != nil {
				if onInvalid != nil {
					onInvalid(line, err)
				}
				continue
			}
			out = append(out, c)
		}
	}
	return out
}
