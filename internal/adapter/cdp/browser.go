// Package cdp 基于 mafredri/cdp 实现浏览器能力：Fetch 域拦截、Network 域 Cookie、Runtime 域脚本执行。
package cdp

import (
	"context"
	"fmt"

	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/rpcc"

	"cdpproxy/internal/logger"
	"cdpproxy/pkg/model"
)

// Browser DevTools 端点上的目标发现与附加
type Browser struct {
	devtoolsURL string
	concurrency int
	log         logger.Logger
}

// New 创建浏览器连接器
func New(devtoolsURL string, concurrency int, l logger.Logger) *Browser {
	if l == nil {
		l = logger.NewNop()
	}
	return &Browser{devtoolsURL: devtoolsURL, concurrency: concurrency, log: l}
}

// Targets 列出当前可附加的目标
func (b *Browser) Targets(ctx context.Context) ([]model.TargetInfo, error) {
	targets, err := devtool.New(b.devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	out := make([]model.TargetInfo, 0, len(targets))
	for _, t := range targets {
		out = append(out, toTargetInfo(t))
	}
	return out, nil
}

// Attach 连接指定目标；id 为空时选择第一个页面
func (b *Browser) Attach(ctx context.Context, id model.TargetID) (*Page, error) {
	targets, err := devtool.New(b.devtoolsURL).List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	sel := selectTarget(targets, id)
	if sel == nil {
		if id == "" {
			return nil, fmt.Errorf("no page target at %s", b.devtoolsURL)
		}
		return nil, fmt.Errorf("target %s not found", id)
	}

	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", sel.ID, err)
	}
	info := toTargetInfo(sel)
	b.log.Info("已附加目标", "target", sel.ID, "url", sel.URL)
	return NewPage(context.Background(), info, conn, b.concurrency, b.log), nil
}

func selectTarget(targets []*devtool.Target, id model.TargetID) *devtool.Target {
	for _, t := range targets {
		if id == "" {
			if t.Type == devtool.Page {
				return t
			}
			continue
		}
		if string(t.ID) == string(id) {
			return t
		}
	}
	return nil
}

func toTargetInfo(t *devtool.Target) model.TargetInfo {
	return model.TargetInfo{
		ID:    model.TargetID(t.ID),
		Type:  string(t.Type),
		URL:   t.URL,
		Title: t.Title,
	}
}
