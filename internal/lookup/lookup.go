// Package lookup 在页面内发起一次 GET 请求，查询页面当前出口的 IP 信息。
package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// DefaultService 默认查询服务
	DefaultService = "https://api64.ipify.org?format=json"
	// DefaultTimeout 默认超时
	DefaultTimeout = 30 * time.Second
)

// ErrInvalidJSON 响应体不是合法 JSON
var ErrInvalidJSON = errors.New("lookup response is not valid json")

// Evaluator 在页面上下文执行脚本，等待 Promise 并以字符串返回结果
type Evaluator interface {
	Evaluate(ctx context.Context, expression string) (string, error)
}

// Options 查询参数
type Options struct {
	Service string        // 查询服务地址，空则使用 DefaultService
	Text    bool          // 为 true 时不解析 JSON，原样返回
	Timeout time.Duration // 页面内请求超时，<=0 使用 DefaultTimeout
}

// Result 查询结果
type Result struct {
	Body string
	JSON gjson.Result // Text 模式下为空
}

// IP 返回结果中的 ip 字段
func (r *Result) IP() string {
	if r == nil {
		return ""
	}
	if r.JSON.Exists() {
		return r.JSON.Get("ip").String()
	}
	return strings.TrimSpace(r.Body)
}

// Lookup 经由页面发起查询，请求走页面当前的网络路径（包括已绑定的代理）
func Lookup(ctx context.Context, ev Evaluator, opts Options) (*Result, error) {
	if ev == nil {
		return nil, fmt.Errorf("lookup: nil evaluator")
	}
	script, err := Script(opts)
	if err != nil {
		return nil, err
	}
	body, err := ev.Evaluate(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("lookup request: %w", err)
	}
	res := &Result{Body: body}
	if opts.Text {
		return res, nil
	}
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidJSON, truncate(body, 64))
	}
	res.JSON = gjson.Parse(body)
	return res, nil
}

// Script 生成页面内执行的 fetch 脚本，超时后中止请求
func Script(opts Options) (string, error) {
	service := opts.Service
	if service == "" {
		service = DefaultService
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	quoted, err := json.Marshal(service)
	if err != nil {
		return "", fmt.Errorf("encode service url: %w", err)
	}
	return fmt.Sprintf(`(async () => {
	const controller = new AbortController();
	const timer = setTimeout(() => controller.abort(), %d);
	try {
		const res = await fetch(%s, { method: "GET", signal: controller.signal });
		return await res.text();
	} finally {
		clearTimeout(timer);
	}
})()`, timeout.Milliseconds(), quoted), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
