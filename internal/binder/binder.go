// Package binder 在页面上安装唯一的请求拦截监听。
package binder

import (
	"context"
	"fmt"

	"cdpproxy/internal/replay"
	"cdpproxy/pkg/browser"
)

// ListenerName 代理监听在页面注册表中的固定名称
const ListenerName = "$cdpproxy_request_listener"

// Bind 开启拦截并以固定名称注册监听，替换之前的同名监听
func Bind(ctx context.Context, page browser.Page, fn browser.Listener) error {
	if page == nil {
		return fmt.Errorf("bind: nil page")
	}
	if err := page.SetRequestInterception(ctx, true); err != nil {
		return fmt.Errorf("enable interception: %w", err)
	}
	page.Listeners().Set(ListenerName, fn)
	return nil
}

// BindProxy 让页面后续所有请求都经由 proxy 重放；proxy 为空时解除绑定并关闭拦截。
// 代理描述符在绑定时即校验，配置错误直接返回。
func BindProxy(ctx context.Context, page browser.Page, r *replay.Replayer, proxy string) error {
	if proxy == "" {
		return Unbind(ctx, page)
	}
	if _, err := r.ResolveProxy(proxy); err != nil {
		return err
	}
	return Bind(ctx, page, func(ctx context.Context, req browser.Request) error {
		return r.Handle(ctx, req, proxy, nil)
	})
}

// Unbind 移除监听并关闭拦截，恢复正常浏览
func Unbind(ctx context.Context, page browser.Page) error {
	if page == nil {
		return fmt.Errorf("unbind: nil page")
	}
	page.Listeners().Remove(ListenerName)
	if err := page.SetRequestInterception(ctx, false); err != nil {
		return fmt.Errorf("disable interception: %w", err)
	}
	return nil
}

// Bound 页面当前是否已安装代理监听
func Bound(page browser.Page) bool {
	_, ok := page.Listeners().Get(ListenerName)
	return ok
}
