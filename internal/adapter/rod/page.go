package rod

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	rodlib "github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"cdpproxy/internal/logger"
	"cdpproxy/pkg/browser"
	"cdpproxy/pkg/model"
)

const releaseTimeout = time.Second

// Page go-rod 页面上的拦截实现
type Page struct {
	info      model.TargetInfo
	page      *rodlib.Page
	cookies   *CookieStore
	listeners *browser.Listeners
	log       logger.Logger

	mu      sync.Mutex
	stop    context.CancelFunc
	stopped chan struct{}
}

// NewPage 包装 rod 页面
func NewPage(ctx context.Context, info model.TargetInfo, page *rodlib.Page, concurrency int, l logger.Logger) *Page {
	if l == nil {
		l = logger.NewNop()
	}
	p := &Page{
		info:    info,
		page:    page,
		cookies: &CookieStore{page: page},
		log:     l.With("target", string(info.ID), "engine", string(model.EngineRod)),
	}
	p.listeners = browser.NewListeners(ctx, browser.ListenersOptions{
		Concurrency: concurrency,
		OnError:     p.onListenerError,
	})
	return p
}

func (p *Page) Info() model.TargetInfo { return p.info }

func (p *Page) Listeners() *browser.Listeners { return p.listeners }

// SetRequestInterception 开启或关闭拦截
func (p *Page) SetRequestInterception(ctx context.Context, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if enabled {
		return p.enable(ctx)
	}
	return p.disable(ctx)
}

func (p *Page) enable(ctx context.Context) error {
	if p.stop != nil {
		return nil
	}
	// 先订阅事件再开启拦截，避免丢失最早暂停的请求
	evCtx, cancel := context.WithCancel(p.listeners.Context())
	wait := p.page.Context(evCtx).EachEvent(func(ev *proto.FetchRequestPaused) {
		p.dispatch(newRequest(ev, p.page, p.cookies))
	})
	err := proto.FetchEnable{
		Patterns: []*proto.FetchRequestPattern{{URLPattern: "*", RequestStage: proto.FetchRequestStageRequest}},
	}.Call(p.page.Context(ctx))
	if err != nil {
		cancel()
		return fmt.Errorf("fetch enable: %w", err)
	}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		wait()
	}()
	p.stop, p.stopped = cancel, stopped
	p.log.Info("已开启请求拦截")
	return nil
}

func (p *Page) disable(ctx context.Context) error {
	if p.stop == nil {
		return nil
	}
	p.stop()
	<-p.stopped
	p.stop, p.stopped = nil, nil
	if err := (proto.FetchDisable{}).Call(p.page.Context(ctx)); err != nil {
		return fmt.Errorf("fetch disable: %w", err)
	}
	p.log.Info("已关闭请求拦截")
	return nil
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
	default:
		p.log.Err(err, "分发拦截事件失败", "url", req.URL())
	}
}

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

// Evaluate 执行表达式并等待 Promise，返回字符串结果
func (p *Page) Evaluate(ctx context.Context, expression string) (string, error) {
	res, err := p.page.Context(ctx).Evaluate(&rodlib.EvalOptions{
		JS:           "() => " + expression,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return "", fmt.Errorf("evaluate: %w", err)
	}
	return res.Value.Str(), nil
}

// Close 关闭拦截并取消进行中的处理；页面本身保持打开
func (p *Page) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	err := p.SetRequestInterception(ctx, false)
	_ = p.listeners.Close()
	return err
}
