// Package rod 基于 go-rod 实现浏览器能力，作为 mafredri/cdp 之外的另一种驱动。
package rod

import (
	"context"
	"fmt"
	"sync"

	rodlib "github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"cdpproxy/internal/logger"
	"cdpproxy/pkg/model"
)

// Browser 连接到已运行的浏览器
type Browser struct {
	controlURL  string
	concurrency int
	log         logger.Logger

	mu      sync.Mutex
	browser *rodlib.Browser
	cancel  context.CancelFunc
}

// New 创建连接器，controlURL 可以是 http 调试地址或 ws 地址
func New(controlURL string, concurrency int, l logger.Logger) *Browser {
	if l == nil {
		l = logger.NewNop()
	}
	return &Browser{controlURL: controlURL, concurrency: concurrency, log: l}
}

// connect 建立长连接，生命周期由 Close 结束
func (b *Browser) connect() (*rodlib.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}
	wsURL, err := launcher.ResolveURL(b.controlURL)
	if err != nil {
		return nil, fmt.Errorf("resolve control url: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	br := rodlib.New().ControlURL(wsURL).Context(ctx)
	if err := br.Connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	b.browser, b.cancel = br, cancel
	return br, nil
}

// Targets 列出浏览器目标
func (b *Browser) Targets(ctx context.Context) ([]model.TargetInfo, error) {
	br, err := b.connect()
	if err != nil {
		return nil, err
	}
	res, err := proto.TargetGetTargets{}.Call(br.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("get targets: %w", err)
	}
	out := make([]model.TargetInfo, 0, len(res.TargetInfos))
	for _, t := range res.TargetInfos {
		out = append(out, model.TargetInfo{
			ID:    model.TargetID(t.TargetID),
			Type:  string(t.Type),
			URL:   t.URL,
			Title: t.Title,
		})
	}
	return out, nil
}

// Attach 附加目标；id 为空时选择第一个页面
func (b *Browser) Attach(ctx context.Context, id model.TargetID) (*Page, error) {
	targets, err := b.Targets(ctx)
	if err != nil {
		return nil, err
	}
	var sel *model.TargetInfo
	for i := range targets {
		if (id == "" && targets[i].IsPage()) || (id != "" && targets[i].ID == id) {
			sel = &targets[i]
			break
		}
	}
	if sel == nil {
		return nil, fmt.Errorf("target %q not found", id)
	}

	br, err := b.connect()
	if err != nil {
		return nil, err
	}
	page, err := br.PageFromTarget(proto.TargetTargetID(sel.ID))
	if err != nil {
		return nil, fmt.Errorf("attach %s: %w", sel.ID, err)
	}
	b.log.Info("已附加目标", "target", string(sel.ID), "url", sel.URL)
	return NewPage(context.Background(), *sel, page, b.concurrency, b.log), nil
}

// Close 断开连接，不关闭浏览器本身
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
	b.browser, b.cancel = nil, nil
	return nil
}
