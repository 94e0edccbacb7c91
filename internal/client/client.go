// Package client 基于 resty 执行重放请求：不自动跟随重定向、不因非 2xx 报错、返回原始字节。
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"cdpproxy/internal/agent"
	"cdpproxy/internal/logger"
	"cdpproxy/pkg/traffic"
)

// MaxRedirects 开启跟随重定向时的上限
const MaxRedirects = 15

// Options 透传给 HTTP 客户端的配置
type Options struct {
	InsecureSkipVerify bool                 // 跳过证书校验
	FollowRedirects    bool                 // 由客户端跟随重定向（默认交给浏览器处理）
	Configure          func(*resty.Client) // 额外定制
}

// Call 一次重放调用的参数
type Call struct {
	URL     string
	Method  string
	Body    []byte
	Headers traffic.Header
	Agents  *agent.Pair
	Jar     http.CookieJar
	Timeout time.Duration
	Options *Options
}

// Result 重放调用的结果
type Result struct {
	StatusCode int
	Proto      string
	Header     http.Header
	Body       []byte
}

// Doer 执行重放调用
type Doer interface {
	Do(ctx context.Context, call *Call) (*Result, error)
}

// Client resty 实现
type Client struct {
	log logger.Logger
}

// New 创建客户端
func New(l logger.Logger) *Client {
	if l == nil {
		l = logger.NewNop()
	}
	return &Client{log: l}
}

// Do 执行调用，每次调用使用独立的 transport 以绑定对应代理
func (c *Client) Do(ctx context.Context, call *Call) (*Result, error) {
	if call == nil {
		return nil, errors.New("nil call")
	}
	opts := call.Options
	if opts == nil {
		opts = &Options{}
	}

	req, err := http.NewRequest(call.Method, call.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = nil
	tr.DisableCompression = true
	if opts.InsecureSkipVerify {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	call.Agents.For(req.URL.Scheme).Apply(tr)
	defer tr.CloseIdleConnections()

	rc := resty.New().
		SetTransport(tr).
		SetLogger(restyLogger{c.log}).
		SetDisableWarn(true)
	if opts.FollowRedirects {
		rc.SetRedirectPolicy(resty.FlexibleRedirectPolicy(MaxRedirects))
	} else {
		rc.SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}))
	}
	if call.Jar != nil {
		rc.SetCookieJar(call.Jar)
	}
	if call.Timeout > 0 {
		rc.SetTimeout(call.Timeout)
	}
	if opts.Configure != nil {
		opts.Configure(rc)
	}

	// 响应体按原样读取，与 content-encoding / content-length 保持一致
	r := rc.R().SetContext(ctx).SetHeaders(call.Headers).SetDoNotParseResponse(true)
	if len(call.Body) > 0 {
		r.SetBody(call.Body)
	}

	resp, err := r.Execute(call.Method, call.URL)
	if err != nil {
		return nil, err
	}
	raw := resp.RawBody()
	if raw == nil {
		return nil, errors.New("empty response")
	}
	defer raw.Close()
	body, err := io.ReadAll(raw)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return &Result{
		StatusCode: resp.StatusCode(),
		Proto:      resp.Proto(),
		Header:     resp.Header(),
		Body:       body,
	}, nil
}

type restyLogger struct{ l logger.Logger }

func (r restyLogger) Errorf(format string, v ...any) { r.l.Error(fmt.Sprintf(format, v...)) }
func (r restyLogger) Warnf(format string, v ...any)  { r.l.Warn(fmt.Sprintf(format, v...)) }
func (r restyLogger) Debugf(format string, v ...any) { r.l.Debug(fmt.Sprintf(format, v...)) }
