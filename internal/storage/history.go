package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	applog "cdpproxy/internal/logger"
	"cdpproxy/internal/replay"
)

// ReplayRecord 一次请求处理的历史记录
type ReplayRecord struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt  time.Time `gorm:"index" json:"createdAt"`
	URL        string    `json:"url"`
	Method     string    `gorm:"size:16" json:"method"`
	Proxy      string    `json:"proxy"`
	Outcome    string    `gorm:"size:16;index" json:"outcome"`
	StatusCode int       `json:"statusCode"`
	DurationMS int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
}

// History 重放历史仓库，同时作为 replay.Recorder 使用
type History struct {
	db  *gorm.DB
	log applog.Logger
}

// NewHistory 创建历史仓库
func NewHistory(db *gorm.DB, l applog.Logger) *History {
	if l == nil {
		l = applog.NewNop()
	}
	return &History{db: db, log: l}
}

// Record 写入一条记录，失败只记录日志
func (h *History) Record(ctx context.Context, e replay.Entry) {
	rec := &ReplayRecord{
		ID:         uuid.NewString(),
		CreatedAt:  e.Time,
		URL:        e.URL,
		Method:     e.Method,
		Proxy:      e.Proxy,
		Outcome:    string(e.Outcome),
		StatusCode: e.StatusCode,
		DurationMS: e.Duration.Milliseconds(),
	}
	if e.Err != nil {
		rec.Error = e.Err.Error()
	}
	if err := h.db.WithContext(context.WithoutCancel(ctx)).Create(rec).Error; err != nil {
		h.log.Err(err, "写入重放历史失败", "url", e.URL)
	}
}

// Recent 按时间倒序返回最近 n 条记录
func (h *History) Recent(ctx context.Context, n int) ([]ReplayRecord, error) {
	var out []ReplayRecord
	err := h.db.WithContext(ctx).Order("created_at desc").Limit(n).Find(&out).Error
	return out, err
}

// OutcomeCount 结果统计
type OutcomeCount struct {
	Outcome string
	Count   int64
}

// Summary 按结果分组统计
func (h *History) Summary(ctx context.Context) ([]OutcomeCount, error) {
	var out []OutcomeCount
	err := h.db.WithContext(ctx).Model(&ReplayRecord{}).
		Select("outcome, count(*) as count").
		Group("outcome").
		Order("outcome").
		Scan(&out).Error
	return out, err
}

// Prune 删除早于 before 的记录
func (h *History) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := h.db.WithContext(ctx).Where("created_at < ?", before).Delete(&ReplayRecord{})
	return res.RowsAffected, res.Error
}
