// Package session 管理 CLI 附加的页面及其当前代理绑定。
package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"cdpproxy/internal/logger"
	"cdpproxy/internal/lookup"
	"cdpproxy/pkg/browser"
	"cdpproxy/pkg/model"
)

// ErrNotAttached 目标未附加
var ErrNotAttached = errors.New("target not attached")

// Page 已附加的页面
type Page interface {
	browser.Page
	lookup.Evaluator
	Info() model.TargetInfo
	Close() error
}

// Attacher 按目标ID附加页面，空ID表示任选一个页面
type Attacher func(ctx context.Context, id model.TargetID) (Page, error)

// Session 单个已附加页面
type Session struct {
	Page    Page
	Binding model.Binding
}

// Manager 已附加页面的注册表
type Manager struct {
	mu       sync.RWMutex
	sessions map[model.TargetID]*Session
	attach   Attacher
	log      logger.Logger
}

// NewManager 创建会话管理器
func NewManager(attach Attacher, l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[model.TargetID]*Session),
		attach:   attach,
		log:      l,
	}
}

// Attach 附加目标，已附加时返回现有会话
func (m *Manager) Attach(ctx context.Context, id model.TargetID) (*Session, error) {
	if id != "" {
		if s, ok := m.Get(id); ok {
			return s, nil
		}
	}
	page, err := m.attach(ctx, id)
	if err != nil {
		return nil, err
	}
	info := page.Info()

	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[info.ID]; ok {
		_ = page.Close()
		return cur, nil
	}
	s := &Session{Page: page, Binding: model.Binding{Target: info.ID}}
	m.sessions[info.ID] = s
	m.log.Info("附加页面", "target", string(info.ID), "url", info.URL)
	return s, nil
}

// Get 获取会话
func (m *Manager) Get(id model.TargetID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// SetBinding 记录页面当前的代理绑定
func (m *Manager) SetBinding(id model.TargetID, proxy string, rules int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAttached, id)
	}
	s.Binding = model.Binding{Target: id, Proxy: proxy, Rules: rules, CreatedAt: time.Now()}
	return nil
}

// Detach 关闭并移除会话
func (m *Manager) Detach(id model.TargetID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotAttached, id)
	}
	m.log.Info("分离页面", "target", string(id))
	return s.Page.Close()
}

// List 按目标ID排序返回所有会话
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Binding.Target < list[j].Binding.Target })
	return list
}

// Close 分离所有页面
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[model.TargetID]*Session)
	m.mu.Unlock()

	var errs []error
	for id, s := range sessions {
		if err := s.Page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}
