// Package agent 根据代理描述符构造 http / https 两种传输角色使用的代理。
package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/proxy"
)

// ErrProxyConfiguration 代理描述符非法或解析器失败
var ErrProxyConfiguration = errors.New("proxy configuration error")

// Kind 代理类型
type Kind string

const (
	KindHTTP   Kind = "http"   // 明文请求经由代理转发
	KindTunnel Kind = "tunnel" // https 请求经由 CONNECT 隧道
	KindSOCKS  Kind = "socks"  // SOCKS5 拨号
)

// Agent 单个传输角色的代理
type Agent struct {
	Kind   Kind
	URL    *url.URL
	Proxy  func(*http.Request) (*url.URL, error)
	Dialer proxy.ContextDialer
}

// Apply 将代理配置到 transport 上
func (a *Agent) Apply(t *http.Transport) {
	if a == nil {
		return
	}
	if a.Proxy != nil {
		t.Proxy = a.Proxy
	}
	if a.Dialer != nil {
		t.Proxy = nil
		t.DialContext = a.Dialer.DialContext
	}
}

// Pair http 与 https 两种角色的代理
type Pair struct {
	HTTP  *Agent
	HTTPS *Agent
}

// For 按目标 URL 的 scheme 选择代理
func (p *Pair) For(scheme string) *Agent {
	if p == nil {
		return nil
	}
	if strings.EqualFold(scheme, "https") {
		return p.HTTPS
	}
	return p.HTTP
}

// Resolver 将代理描述符映射为代理对，可由调用方整体替换
type Resolver func(descriptor string) (*Pair, error)

// Resolve 默认解析器：socks* 使用同一个 SOCKS 拨号器，其余构造独立的 http / https 代理
func Resolve(descriptor string) (*Pair, error) {
	u, err := Parse(descriptor)
	if err != nil {
		return nil, err
	}

	if strings.HasPrefix(u.Scheme, "socks") {
		d, err := socksDialer(u)
		if err != nil {
			return nil, err
		}
		return &Pair{
			HTTP:  &Agent{Kind: KindSOCKS, URL: u, Dialer: d},
			HTTPS: &Agent{Kind: KindSOCKS, URL: u, Dialer: d},
		}, nil
	}

	switch u.Scheme {
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: unsupported proxy scheme %q", ErrProxyConfiguration, u.Scheme)
	}
	return &Pair{
		HTTP:  &Agent{Kind: KindHTTP, URL: u, Proxy: http.ProxyURL(u)},
		HTTPS: &Agent{Kind: KindTunnel, URL: u, Proxy: http.ProxyURL(u)},
	}, nil
}

// Parse 校验并解析代理描述符
func Parse(descriptor string) (*url.URL, error) {
	descriptor = strings.TrimSpace(descriptor)
	if descriptor == "" {
		return nil, fmt.Errorf("%w: empty proxy", ErrProxyConfiguration)
	}
	u, err := url.Parse(descriptor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProxyConfiguration, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: proxy %q must look like scheme://host:port", ErrProxyConfiguration, Redact(descriptor))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	return u, nil
}

func socksDialer(u *url.URL) (proxy.ContextDialer, error) {
	su := *u
	switch su.Scheme {
	case "socks", "socks5":
		su.Scheme = "socks5"
	case "socks5h":
	default:
		return nil, fmt.Errorf("%w: unsupported socks version %q", ErrProxyConfiguration, u.Scheme)
	}
	d, err := proxy.FromURL(&su, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProxyConfiguration, err)
	}
	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd, nil
	}
	return contextDialer{d}, nil
}

type contextDialer struct{ proxy.Dialer }

func (c contextDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := c.Dial(network, addr)
		ch <- result{conn, err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case r := <-ch:
		return r.conn, r.err
	}
}

// Redact 隐去代理描述符中的密码，用于日志
func Redact(descriptor string) string {
	u, err := url.Parse(descriptor)
	if err != nil || u.User == nil {
		return descriptor
	}
	return u.Redacted()
}
