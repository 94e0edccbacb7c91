package replay

import (
	"context"
	"time"
)

// Outcome 请求的终结结果
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"   // 非 http(s)，原样放行
	OutcomeContinued Outcome = "continued" // 未设置代理，原样放行
	OutcomeFulfilled Outcome = "fulfilled" // 已用重放响应回填
	OutcomeAborted   Outcome = "aborted"   // 重放失败并中止
	OutcomeFailed    Outcome = "failed"    // 重放失败，错误交给调用方
)

// Entry 一次处理的记录
type Entry struct {
	Time       time.Time
	URL        string
	Method     string
	Proxy      string
	Outcome    Outcome
	StatusCode int
	Duration   time.Duration
	Err        error
}

// Recorder 接收处理记录
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// MultiRecorder 依次分发给多个 Recorder
type MultiRecorder []Recorder

// Record 分发记录
func (m MultiRecorder) Record(ctx context.Context, e Entry) {
	for _, r := range m {
		if r != nil {
			r.Record(ctx, e)
		}
	}
}
