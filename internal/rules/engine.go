package rules

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"cdpproxy/pkg/browser"
)

// Direct 规则代理取该值时表示不经代理直接放行
const Direct = "direct"

// Condition 匹配条件
type Condition struct {
	Type    string   `yaml:"type" json:"type"`       // url / method / header / host
	Mode    string   `yaml:"mode" json:"mode"`       // url: prefix / regex / exact / glob(默认)
	Pattern string   `yaml:"pattern" json:"pattern"` // url / host 模式
	Values  []string `yaml:"values" json:"values"`   // method 取值
	Key     string   `yaml:"key" json:"key"`         // header 名称
	Op      string   `yaml:"op" json:"op"`           // header: equals / contains / regex，缺省只判断存在
	Value   string   `yaml:"value" json:"value"`
}

// Match 组合条件
type Match struct {
	AllOf  []Condition `yaml:"allOf" json:"allOf"`
	AnyOf  []Condition `yaml:"anyOf" json:"anyOf"`
	NoneOf []Condition `yaml:"noneOf" json:"noneOf"`
}

// Rule 路由规则：命中后使用 Proxy 重放
type Rule struct {
	ID       string `yaml:"id" json:"id"`
	Priority int    `yaml:"priority" json:"priority"`
	Match    Match  `yaml:"match" json:"match"`
	Proxy    string `yaml:"proxy" json:"proxy"`
}

// Engine 规则引擎，按优先级从高到低取第一条命中规则
type Engine struct {
	mu    sync.RWMutex
	rules []Rule
}

// New 创建规则引擎
func New(rs []Rule) *Engine {
	e := &Engine{}
	e.Update(rs)
	return e
}

// Update 替换规则集
func (e *Engine) Update(rs []Rule) {
	sorted := make([]Rule, len(rs))
	copy(sorted, rs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })
	e.mu.Lock()
	e.rules = sorted
	e.mu.Unlock()
}

// Rules 返回按优先级排序的规则副本
func (e *Engine) Rules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Len 规则数量
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// Ctx 匹配上下文
type Ctx struct {
	URL     string
	Host    string
	Method  string
	Headers map[string]string
}

// FromRequest 由被拦截请求构造匹配上下文
func FromRequest(req browser.Request) Ctx {
	return Ctx{
		URL:     req.URL(),
		Host:    hostOf(req.URL()),
		Method:  req.Method(),
		Headers: req.Headers(),
	}
}

// Eval 返回命中的规则，未命中返回 nil
func (e *Engine) Eval(ctx Ctx) *Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i := range e.rules {
		if matchRule(ctx, e.rules[i].Match) {
			r := e.rules[i]
			return &r
		}
	}
	return nil
}

func matchRule(ctx Ctx, m Match) bool {
	ok := true
	if len(m.AllOf) > 0 {
		ok = ok && allOf(ctx, m.AllOf)
	}
	if len(m.AnyOf) > 0 {
		ok = ok && anyOf(ctx, m.AnyOf)
	}
	if len(m.NoneOf) > 0 {
		ok = ok && noneOf(ctx, m.NoneOf)
	}
	return ok
}

func allOf(ctx Ctx, cs []Condition) bool {
	for i := range cs {
		if !cond(ctx, cs[i]) {
			return false
		}
	}
	return true
}

func anyOf(ctx Ctx, cs []Condition) bool {
	for i := range cs {
		if cond(ctx, cs[i]) {
			return true
		}
	}
	return false
}

func noneOf(ctx Ctx, cs []Condition) bool { return !anyOf(ctx, cs) }

func cond(ctx Ctx, c Condition) bool {
	switch c.Type {
	case "url":
		return matchString(ctx.URL, c.Mode, c.Pattern)
	case "host":
		return matchString(ctx.Host, c.Mode, c.Pattern)
	case "method":
		for _, v := range c.Values {
			if strings.EqualFold(ctx.Method, v) {
				return true
			}
		}
		return false
	case "header":
		v, ok := ctx.Headers[strings.ToLower(c.Key)]
		if !ok {
			return false
		}
		switch c.Op {
		case "equals":
			return v == c.Value
		case "contains":
			return strings.Contains(v, c.Value)
		case "regex":
			return matchRegex(v, c.Value)
		default:
			return true
		}
	default:
		return false
	}
}

func matchString(s, mode, pattern string) bool {
	switch mode {
	case "prefix":
		return strings.HasPrefix(s, pattern)
	case "regex":
		return matchRegex(s, pattern)
	case "exact":
		return s == pattern
	default:
		return glob(s, pattern)
	}
}

var regexCache sync.Map

func matchRegex(s, pattern string) bool {
	if v, ok := regexCache.Load(pattern); ok {
		return v.(*regexp.Regexp).MatchString(s)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	regexCache.Store(pattern, re)
	return re.MatchString(s)
}

func glob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(s, strings.TrimPrefix(pattern, "*")) {
		return true
	}
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(s, strings.TrimSuffix(pattern, "*")) {
		return true
	}
	return s == pattern
}

func hostOf(raw string) string {
	rest := raw
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		rest = rest[i+1:]
	}
	if strings.HasPrefix(rest, "[") {
		if i := strings.Index(rest, "]"); i >= 0 {
			return rest[1:i]
		}
	}
	if i := strings.LastIndex(rest, ":"); i >= 0 {
		rest = rest[:i]
	}
	return strings.ToLower(rest)
}
