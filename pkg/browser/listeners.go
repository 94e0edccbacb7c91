package browser

import (
	"context"
	"errors"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoListener 当前没有注册任何监听
	ErrNoListener = errors.New("no request listener registered")
	// ErrClosed 注册表已关闭
	ErrClosed = errors.New("listeners closed")
)

// ListenersOptions 注册表配置
type ListenersOptions struct {
	Concurrency int                  // 同时处理的请求数，<=0 表示不限
	OnError     func(Request, error) // 监听返回错误时的回调
}

// Listeners 页面级监听注册表，按名称唯一。
// 注册表同时是页面的取消域：Close 会取消所有进行中的处理任务并等待其退出。
type Listeners struct {
	mu      sync.RWMutex
	byName  map[string]Listener
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	group   errgroup.Group
	onError func(Request, error)
}

// NewListeners 创建绑定到 parent 生命周期的注册表
func NewListeners(parent context.Context, opts ListenersOptions) *Listeners {
	ctx, cancel := context.WithCancel(parent)
	l := &Listeners{
		byName:  make(map[string]Listener),
		ctx:     ctx,
		cancel:  cancel,
		onError: opts.OnError,
	}
	if opts.Concurrency > 0 {
		l.group.SetLimit(opts.Concurrency)
	}
	return l
}

// Set 注册监听，同名监听会被替换。返回是否发生替换
func (l *Listeners) Set(name string, fn Listener) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, replaced := l.byName[name]
	l.byName[name] = fn
	return replaced
}

// Remove 移除监听，返回是否存在
func (l *Listeners) Remove(name string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.byName[name]
	delete(l.byName, name)
	return ok
}

// Get 获取指定名称的监听
func (l *Listeners) Get(name string) (Listener, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn, ok := l.byName[name]
	return fn, ok
}

// Len 当前监听数量
func (l *Listeners) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byName)
}

// Names 按名称排序返回所有监听名
func (l *Listeners) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.byName))
	for n := range l.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Emit 为请求启动独立的处理任务，依次调用所有监听
func (l *Listeners) Emit(req Request) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed || l.ctx.Err() != nil {
		return ErrClosed
	}
	fns := make([]Listener, 0, len(l.byName))
	for _, n := range sortedKeys(l.byName) {
		fns = append(fns, l.byName[n])
	}
	if len(fns) == 0 {
		return ErrNoListener
	}

	// 持有读锁提交，保证 Close 的 Wait 不会与 Go 并发
	l.group.Go(func() error {
		for _, fn := range fns {
			if err := fn(l.ctx, req); err != nil && l.onError != nil {
				l.onError(req, err)
			}
		}
		return nil
	})
	return nil
}

// Context 返回注册表的取消域
func (l *Listeners) Context() context.Context { return l.ctx }

// Close 取消所有进行中的任务并等待退出，可重复调用
func (l *Listeners) Close() error {
	l.cancel()
	l.mu.Lock()
	l.closed = true
	l.byName = make(map[string]Listener)
	l.mu.Unlock()

	return l.group.Wait()
}

func sortedKeys(m map[string]Listener) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
