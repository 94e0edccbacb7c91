package model

import "time"

type TargetID string

// Engine 浏览器驱动实现
type Engine string

const (
	EngineCDP Engine = "cdp"
	EngineRod Engine = "rod"
)

// TargetInfo 可附加的浏览器目标
type TargetInfo struct {
	ID    TargetID `json:"id"`
	Type  string   `json:"type"`
	URL   string   `json:"url"`
	Title string   `json:"title"`
}

// IsPage 是否为普通页面目标
func (t TargetInfo) IsPage() bool { return t.Type == "page" }

// Binding 页面上当前生效的代理绑定
type Binding struct {
	Target    TargetID  `json:"target"`
	Proxy     string    `json:"proxy"`
	Rules     int       `json:"rules"`
	CreatedAt time.Time `json:"createdAt"`
}
