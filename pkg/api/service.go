// Package api 是对外的唯一入口：把单个请求或整个页面交给代理重放。
package api

import (
	"context"
	"errors"
	"fmt"

	"cdpproxy/internal/agent"
	"cdpproxy/internal/binder"
	"cdpproxy/internal/logger"
	"cdpproxy/internal/lookup"
	"cdpproxy/internal/replay"
	"cdpproxy/internal/rules"
	"cdpproxy/pkg/browser"
	"cdpproxy/pkg/traffic"
)

// ErrInvalidTarget 目标未设置或类型与句柄不符
var ErrInvalidTarget = errors.New("invalid proxy target")

// TargetKind 目标类型
type TargetKind int

const (
	TargetRequest TargetKind = iota + 1 // 单个进行中的请求，一次性重放
	TargetPage                          // 页面，此后所有请求持续重放
)

func (k TargetKind) String() string {
	switch k {
	case TargetRequest:
		return "request"
	case TargetPage:
		return "page"
	default:
		return fmt.Sprintf("TargetKind(%d)", int(k))
	}
}

// Target 显式标记类型的目标
type Target struct {
	Kind    TargetKind
	Request browser.Request
	Page    browser.Page
}

// ForRequest 以单个请求为目标
func ForRequest(req browser.Request) Target { return Target{Kind: TargetRequest, Request: req} }

// ForPage 以页面为目标
func ForPage(page browser.Page) Target { return Target{Kind: TargetPage, Page: page} }

// Route 代理描述符及可选的覆盖项；Proxy 为空表示不使用代理
type Route struct {
	Proxy     string
	Overrides *traffic.Overrides
}

// Proxy 只有代理的路由
func Proxy(descriptor string) Route { return Route{Proxy: descriptor} }

// WithOverrides 代理加覆盖项
func WithOverrides(descriptor string, ov *traffic.Overrides) Route {
	return Route{Proxy: descriptor, Overrides: ov}
}

// Service 持有一个重放器，可在多个请求和页面之间复用
type Service struct {
	log      logger.Logger
	replayer *replay.Replayer
}

// NewService 创建服务，opts 在此之后不再修改
func NewService(l logger.Logger, opts replay.Options, options ...replay.Option) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	all := append([]replay.Option{replay.WithLogger(l)}, options...)
	return &Service{log: l, replayer: replay.New(opts, all...)}
}

// Replayer 返回内部重放器
func (s *Service) Replayer() *replay.Replayer { return s.replayer }

// Apply 按目标类型分派：请求直接重放，页面安装持久监听。
// 代理配置错误总是同步返回。
func (s *Service) Apply(ctx context.Context, t Target, route Route) error {
	switch t.Kind {
	case TargetRequest:
		if t.Request == nil {
			return fmt.Errorf("%w: request target without request", ErrInvalidTarget)
		}
		return s.replayer.Handle(ctx, t.Request, route.Proxy, route.Overrides)
	case TargetPage:
		if t.Page == nil {
			return fmt.Errorf("%w: page target without page", ErrInvalidTarget)
		}
		if !route.Overrides.IsEmpty() {
			return fmt.Errorf("%w: overrides apply to single requests, not pages", agent.ErrProxyConfiguration)
		}
		if err := binder.BindProxy(ctx, t.Page, s.replayer, route.Proxy); err != nil {
			return err
		}
		if route.Proxy == "" {
			s.log.Info("页面代理已解除")
		} else {
			s.log.Info("页面代理已绑定", "proxy", agent.Redact(route.Proxy))
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrInvalidTarget, t.Kind)
	}
}

// BindRoutes 在页面上安装按规则选择代理的监听。
// 未命中任何规则时使用 fallback，fallback 为空则原样放行；规则代理为 rules.Direct 时同样放行。
func (s *Service) BindRoutes(ctx context.Context, page browser.Page, engine *rules.Engine, fallback string) error {
	if page == nil {
		return fmt.Errorf("%w: nil page", ErrInvalidTarget)
	}
	if engine == nil {
		return s.Apply(ctx, ForPage(page), Proxy(fallback))
	}
	if fallback != "" {
		if _, err := s.replayer.ResolveProxy(fallback); err != nil {
			return err
		}
	}
	for _, r := range engine.Rules() {
		if r.Proxy == "" || r.Proxy == rules.Direct {
			continue
		}
		if _, err := s.replayer.ResolveProxy(r.Proxy); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}

	err := binder.Bind(ctx, page, func(ctx context.Context, req browser.Request) error {
		return s.Apply(ctx, ForRequest(req), Proxy(pickProxy(engine, req, fallback)))
	})
	if err != nil {
		return err
	}
	s.log.Info("页面路由规则已绑定", "rules", engine.Len(), "fallback", agent.Redact(fallback))
	return nil
}

func pickProxy(engine *rules.Engine, req browser.Request, fallback string) string {
	r := engine.Eval(rules.FromRequest(req))
	if r == nil {
		return fallback
	}
	if r.Proxy == rules.Direct {
		return ""
	}
	return r.Proxy
}

// Lookup 经由页面查询当前出口 IP
func (s *Service) Lookup(ctx context.Context, ev lookup.Evaluator, opts lookup.Options) (*lookup.Result, error) {
	res, err := lookup.Lookup(ctx, ev, opts)
	if err != nil {
		s.log.Err(err, "IP查询失败")
		return nil, err
	}
	s.log.Debug("IP查询完成", "ip", res.IP())
	return res, nil
}

// Apply 使用一次性服务分派；opts 为 nil 时使用 replay.DefaultOptions
func Apply(ctx context.Context, t Target, route Route, opts *replay.Options) error {
	o := replay.DefaultOptions()
	if opts != nil {
		o = *opts
	}
	return NewService(nil, o).Apply(ctx, t, route)
}

// Lookup 经由页面查询当前出口 IP
func Lookup(ctx context.Context, ev lookup.Evaluator, opts lookup.Options) (*lookup.Result, error) {
	return lookup.Lookup(ctx, ev, opts)
}
