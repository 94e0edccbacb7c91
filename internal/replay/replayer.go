// Package replay 将被拦截的浏览器请求经由代理重放，并把结果回填给浏览器。
package replay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"cdpproxy/internal/agent"
	"cdpproxy/internal/client"
	"cdpproxy/internal/cookies"
	"cdpproxy/internal/headers"
	"cdpproxy/internal/logger"
	"cdpproxy/pkg/browser"
	"cdpproxy/pkg/traffic"
)

// Replayer 请求重放器，可在多个请求与页面之间复用
type Replayer struct {
	opts     Options
	client   client.Doer
	cookies  *cookies.Bridge
	log      logger.Logger
	recorder Recorder
}

// Option 重放器依赖注入
type Option func(*Replayer)

// WithClient 替换 HTTP 客户端
func WithClient(c client.Doer) Option { return func(r *Replayer) { r.client = c } }

// WithLogger 设置日志器
func WithLogger(l logger.Logger) Option { return func(r *Replayer) { r.log = l } }

// WithRecorder 设置处理记录接收方
func WithRecorder(rec Recorder) Option { return func(r *Replayer) { r.recorder = rec } }

// New 创建重放器
func New(opts Options, options ...Option) *Replayer {
	r := &Replayer{opts: opts}
	for _, o := range options {
		o(r)
	}
	if r.log == nil {
		r.log = logger.NewNop()
	}
	if r.client == nil {
		r.client = client.New(r.log)
	}
	r.cookies = cookies.New(r.log)
	return r
}

// Options 返回配置副本
func (r *Replayer) Options() Options { return r.opts }

// ResolveProxy 使用当前配置的解析器解析代理，失败时返回 agent.ErrProxyConfiguration
func (r *Replayer) ResolveProxy(proxy string) (*agent.Pair, error) {
	pair, err := r.opts.resolver()(proxy)
	if err != nil {
		if errors.Is(err, agent.ErrProxyConfiguration) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", agent.ErrProxyConfiguration, err)
	}
	if pair == nil {
		return nil, fmt.Errorf("%w: resolver returned no agents", agent.ErrProxyConfiguration)
	}
	return pair, nil
}

// Handle 对请求执行且仅执行一个终结动作：放行、中止或回填。
// proxy 为空时带着 ov 原样放行；代理配置错误总是返回给调用方；
// 重放失败时按 AbortOnErrors 中止请求或返回错误。
func (r *Replayer) Handle(ctx context.Context, req browser.Request, proxy string, ov *traffic.Overrides) error {
	start := time.Now()
	entry := Entry{Time: start, URL: req.URL(), Method: req.Method(), Proxy: agent.Redact(proxy)}
	l := r.log.With("url", req.URL(), "method", req.Method())

	if !httpScheme(req.URL()) {
		l.Debug("非HTTP请求，直接放行")
		entry.Err = ErrSchemeUnsupported
		return r.finish(ctx, entry, OutcomeSkipped, 0, req.Continue(ctx, nil))
	}
	if proxy == "" {
		l.Debug("未设置代理，直接放行")
		return r.finish(ctx, entry, OutcomeContinued, 0, req.Continue(ctx, ov))
	}

	pair, err := r.ResolveProxy(proxy)
	if err != nil {
		l.Err(err, "代理配置错误", "proxy", entry.Proxy)
		return r.finish(ctx, entry, OutcomeFailed, 0, err)
	}

	call := r.buildCall(req, ov, pair)
	entry.URL, entry.Method = call.URL, call.Method

	res, err := r.execute(ctx, req, call)
	if err != nil {
		if r.opts.AbortOnErrors {
			l.Warn("重放失败，中止请求", "proxy", entry.Proxy, "error", err)
			entry.Err = err
			return r.finish(ctx, entry, OutcomeAborted, 0, req.Abort(ctx))
		}
		l.Err(err, "重放失败", "proxy", entry.Proxy)
		return r.finish(ctx, entry, OutcomeFailed, 0, err)
	}

	if setCookie := res.Header.Values("Set-Cookie"); len(setCookie) > 0 {
		if _, err := r.cookies.Store(ctx, req.Cookies(), call.URL, setCookie); err != nil {
			l.Warn("写回Cookie失败", "error", err)
		}
	}
	resp := ToResponse(res)
	if err := req.Fulfill(ctx, resp); err != nil {
		return r.finish(ctx, entry, OutcomeFailed, res.StatusCode, fmt.Errorf("fulfill: %w", err))
	}
	l.Debug("重放完成", "status", res.StatusCode, "duration", time.Since(start))
	return r.finish(ctx, entry, OutcomeFulfilled, res.StatusCode, nil)
}

// buildCall 组合原始请求与覆盖项
func (r *Replayer) buildCall(req browser.Request, ov *traffic.Overrides, pair *agent.Pair) *client.Call {
	if ov == nil {
		ov = &traffic.Overrides{}
	}
	call := &client.Call{
		URL:     req.URL(),
		Method:  req.Method(),
		Body:    req.Body(),
		Agents:  pair,
		Timeout: r.opts.Timeout,
		Options: r.opts.ClientOptions,
	}
	if ov.URL != nil {
		call.URL = *ov.URL
	}
	if ov.Method != nil {
		call.Method = *ov.Method
	}
	if ov.Body != nil {
		call.Body = ov.Body
	}
	if ov.Headers != nil {
		call.Headers = ov.Headers.Clone()
	} else {
		call.Headers = headers.Build(req, call.URL, r.opts.AdditionalHeaders)
	}
	return call
}

// execute 载入 Cookie、执行调用并校验，所有失败都包装为 TransportError 或 ValidationError
func (r *Replayer) execute(ctx context.Context, req browser.Request, call *client.Call) (*client.Result, error) {
	jar, err := r.cookies.Load(ctx, req.Cookies(), call.URL)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	call.Jar = jar

	res, err := r.client.Do(ctx, call)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	if r.opts.ValidateResponse != nil {
		if err := r.opts.ValidateResponse(res); err != nil {
			return nil, &ValidationError{Err: err}
		}
	}
	return res, nil
}

func (r *Replayer) finish(ctx context.Context, e Entry, outcome Outcome, status int, err error) error {
	if r.recorder != nil {
		e.Outcome = outcome
		e.StatusCode = status
		e.Duration = time.Since(e.Time)
		if err != nil {
			e.Err = err
		}
		r.recorder.Record(ctx, e)
	}
	return err
}

// ToResponse 构造回填响应：移除 set-cookie 与 HTTP/2 伪头 :status
func ToResponse(res *client.Result) *traffic.Response {
	h := traffic.FromHTTP(res.Header)
	h.Del("set-cookie")
	h.Del(":status")
	return &traffic.Response{
		StatusCode: res.StatusCode,
		Headers:    h,
		Body:       res.Body,
	}
}

func httpScheme(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}
