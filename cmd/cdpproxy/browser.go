package main

import (
	"context"
	"fmt"

	cdpadapter "cdpproxy/internal/adapter/cdp"
	rodadapter "cdpproxy/internal/adapter/rod"
	"cdpproxy/internal/config"
	"cdpproxy/internal/logger"
	"cdpproxy/internal/session"
	"cdpproxy/pkg/model"
)

// connector 屏蔽两种浏览器驱动的差异
type connector struct {
	targets func(ctx context.Context) ([]model.TargetInfo, error)
	attach  session.Attacher
	close   func() error
}

func newConnector(c *config.Config, l logger.Logger) (*connector, error) {
	switch model.Engine(c.DevTools.Engine) {
	case model.EngineCDP:
		b := cdpadapter.New(c.DevTools.URL, c.Concurrency, l)
		return &connector{
			targets: b.Targets,
			attach: func(ctx context.Context, id model.TargetID) (session.Page, error) {
				p, err := b.Attach(ctx, id)
				if err != nil {
					return nil, err
				}
				return p, nil
			},
			close: func() error { return nil },
		}, nil
	case model.EngineRod:
		b := rodadapter.New(c.DevTools.URL, c.Concurrency, l)
		return &connector{
			targets: b.Targets,
			attach: func(ctx context.Context, id model.TargetID) (session.Page, error) {
				p, err := b.Attach(ctx, id)
				if err != nil {
					return nil, err
				}
				return p, nil
			},
			close: b.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown engine %q", c.DevTools.Engine)
	}
}
