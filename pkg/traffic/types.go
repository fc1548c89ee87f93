package traffic

import (
	"net/http"
	"strings"
)

// Header 封装通用的头部操作
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

// Stage 拦截阶段
type Stage string

const (
	StageRequest  Stage = "request"
	StageResponse Stage = "response"
)

// Request 中立的请求模型，既描述代理完成的请求，也描述浏览器内被拦截的请求
type Request struct {
	ID           string // 请求ID
	URL          string // 完整URL
	Method       string // HTTP方法
	Headers      Header // 请求头
	ResourceType string // 资源类型 (如 Document, Image)
	Stage        Stage  // 拦截阶段，代理请求为空
}

// Response 中立的响应模型
type Response struct {
	StatusCode int    // 状态码
	Headers    Header // 响应头
}

// NewRequest 创建初始化请求对象
func NewRequest() *Request {
	return &Request{
		Headers: make(Header),
	}
}

// NewResponse 创建初始化响应对象
func NewResponse() *Response {
	return &Response{
		StatusCode: http.StatusOK,
		Headers:    make(Header),
	}
}

// Exchange 代理完成的一次请求/响应
type Exchange struct {
	Request  *Request
	Response *Response
}

// URL 返回请求 URL，请求为空时返回空串
func (e Exchange) URL() string {
	if e.Request == nil {
		return ""
	}
	return e.Request.URL
}
