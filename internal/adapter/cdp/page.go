package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/runtime"
	"github.com/mafredri/cdp/rpcc"

	"cdpproxy/internal/logger"
	"cdpproxy/pkg/browser"
	"cdpproxy/pkg/model"
)

// releaseTimeout 兜底放行或中止请求的超时
const releaseTimeout = time.Second

// Page 通过 CDP 连接附加的页面
type Page struct {
	info      model.TargetInfo
	conn      *rpcc.Conn
	client    *cdp.Client
	cookies   *CookieStore
	listeners *browser.Listeners
	log       logger.Logger

	mu      sync.Mutex
	stream  fetch.RequestPausedClient
	stopped chan struct{}
}

// NewPage 在已建立的连接上创建页面，concurrency<=0 表示不限制同时处理的请求数
func NewPage(ctx context.Context, info model.TargetInfo, conn *rpcc.Conn, concurrency int, l logger.Logger) *Page {
	if l == nil {
		l = logger.NewNop()
	}
	client := cdp.NewClient(conn)
	p := &Page{
		info:    info,
		conn:    conn,
		client:  client,
		cookies: &CookieStore{client: client, conn: conn},
		log:     l.With("target", string(info.ID)),
	}
	p.listeners = browser.NewListeners(ctx, browser.ListenersOptions{
		Concurrency: concurrency,
		OnError:     p.onListenerError,
	})
	return p
}

// Info 目标信息
func (p *Page) Info() model.TargetInfo { return p.info }

// Listeners 返回页面监听注册表
func (p *Page) Listeners() *browser.Listeners { return p.listeners }

// SetRequestInterception 开启或关闭 Fetch 域拦截，重复调用无副作用
func (p *Page) SetRequestInterception(ctx context.Context, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if enabled {
		return p.enable(ctx)
	}
	return p.disable(ctx)
}

func (p *Page) enable(ctx context.Context) error {
	if p.stream != nil {
		return nil
	}
	// 先订阅再开启，否则开启期间暂停的请求会丢失
	stream, err := p.client.Fetch.RequestPaused(p.listeners.Context())
	if err != nil {
		return fmt.Errorf("subscribe request paused: %w", err)
	}
	pattern := "*"
	err = p.client.Fetch.Enable(ctx, &fetch.EnableArgs{
		Patterns: []fetch.RequestPattern{{URLPattern: &pattern, RequestStage: fetch.RequestStageRequest}},
	})
	if err != nil {
		_ = stream.Close()
		return fmt.Errorf("fetch enable: %w", err)
	}
	p.stream = stream
	p.stopped = make(chan struct{})
	go p.consume(stream, p.stopped)
	p.log.Info("已开启请求拦截")
	return nil
}

func (p *Page) disable(ctx context.Context) error {
	if p.stream == nil {
		return nil
	}
	_ = p.stream.Close()
	<-p.stopped
	p.stream, p.stopped = nil, nil
	if err := p.client.Fetch.Disable(ctx); err != nil {
		return fmt.Errorf("fetch disable: %w", err)
	}
	p.log.Info("已关闭请求拦截")
	return nil
}

// consume 持续接收拦截事件并交给监听注册表
func (p *Page) consume(stream fetch.RequestPausedClient, stopped chan struct{}) {
	defer close(stopped)
	for {
		ev, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, rpcc.ErrStreamClosing) && p.listeners.Context().Err() == nil {
				p.log.Err(err, "接收拦截事件失败")
			}
			return
		}
		p.dispatch(newRequest(ev, p.client, p.cookies))
	}
}

func (p *Page) dispatch(req *Request) {
	err := p.listeners.Emit(req)
	switch {
	case err == nil:
	case errors.Is(err, browser.ErrNoListener):
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := req.Continue(ctx, nil); err != nil {
			p.log.Warn("无监听，放行请求失败", "url", req.URL(), "error", err)
		}
	case errors.Is(err, browser.ErrClosed):
		p.log.Debug("页面已关闭，忽略拦截事件", "url", req.URL())
	default:
		p.log.Err(err, "分发拦截事件失败", "url", req.URL())
	}
}

// onListenerError 监听返回错误时记录日志，请求仍挂起则中止，避免页面一直等待
func (p *Page) onListenerError(req browser.Request, err error) {
	p.log.Err(err, "请求处理失败", "url", req.URL())
	r, ok := req.(*Request)
	if !ok || r.Handled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := r.Abort(ctx); err != nil {
		p.log.Warn("中止请求失败", "url", req.URL(), "error", err)
	}
}

// Evaluate 在页面中执行表达式，等待 Promise 并返回字符串结果
func (p *Page) Evaluate(ctx context.Context, expression string) (string, error) {
	args := runtime.NewEvaluateArgs(expression).SetAwaitPromise(true).SetReturnByValue(true)
	reply, err := p.client.Runtime.Evaluate(ctx, args)
	if err != nil {
		return "", fmt.Errorf("runtime evaluate: %w", err)
	}
	if reply.ExceptionDetails != nil {
		return "", fmt.Errorf("script exception: %s", exceptionText(reply.ExceptionDetails))
	}
	var out string
	if err := json.Unmarshal(reply.Result.Value, &out); err != nil {
		return string(reply.Result.Value), nil
	}
	return out, nil
}

func exceptionText(d *runtime.ExceptionDetails) string {
	if d.Exception != nil && d.Exception.Description != nil {
		return *d.Exception.Description
	}
	return d.Text
}

// Close 停止拦截、取消进行中的处理并断开连接
func (p *Page) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	_ = p.SetRequestInterception(ctx, false)
	_ = p.listeners.Close()
	return p.conn.Close()
}
