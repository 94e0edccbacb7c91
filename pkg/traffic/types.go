package traffic

import (
	"net/http"
	"strings"
)

// Header 封装通用的头部操作，键统一为小写
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Has 判断 Header 是否存在
func (h Header) Has(key string) bool {
	_, ok := h[strings.ToLower(key)]
	return ok
}

// Clone 返回副本，nil 返回空 Header
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = v
	}
	return out
}

// Merge 用 src 覆盖当前 Header
func (h Header) Merge(src map[string]string) {
	for k, v := range src {
		h.Set(k, v)
	}
}

// FromHTTP 将 net/http 头部转换为小写 Header，多值以 ", " 连接
func FromHTTP(src http.Header) Header {
	out := make(Header, len(src))
	for k, vals := range src {
		out.Set(k, strings.Join(vals, ", "))
	}
	return out
}

// ToHTTP 转换为 net/http 头部
func (h Header) ToHTTP() http.Header {
	out := make(http.Header, len(h))
	for k, v := range h {
		out.Set(k, v)
	}
	return out
}

// Request 中立的请求模型（拦截时刻的快照）
type Request struct {
	ID           string // 浏览器侧请求ID
	URL          string // 完整URL
	Method       string // HTTP方法
	Headers      Header // 请求头
	Body         []byte // 请求体原始数据
	ResourceType string // 资源类型 (如 Document, XHR)
	Navigation   bool   // 是否为顶层导航请求
}

// Response 重放得到的响应，用于回填浏览器
type Response struct {
	StatusCode int    // 状态码
	Headers    Header // 响应头
	Body       []byte // 响应体数据
}

// Overrides 单次调用的覆盖项，未设置的字段回退到原始请求
type Overrides struct {
	URL     *string
	Method  *string
	Body    []byte
	Headers Header
}

// IsEmpty 判断是否没有任何覆盖
func (o *Overrides) IsEmpty() bool {
	return o == nil || (o.URL == nil && o.Method == nil && o.Body == nil && len(o.Headers) == 0)
}

// NewRequest 创建初始化请求对象
func NewRequest() *Request {
	return &Request{
		Headers: make(Header),
	}
}

// String 返回指针，便于构造 Overrides
func String(s string) *string { return &s }
