// Package protocol 定义生命周期逻辑所依赖的浏览器控制协议表面。
//
// Browser 是宿主提供的浏览器级连接；Attach 打开的 Page 是作用于单个目标的短连接，
// 调用方必须在所有退出路径上 Close。
package protocol

import (
	"context"
	"errors"

	"cdpkeeper/pkg/model"
)

var (
	// ErrTargetNotFound 调试端点中不存在指定目标
	ErrTargetNotFound = errors.New("target not found")
	// ErrNotEnabled 页面连接尚未 Enable
	ErrNotEnabled = errors.New("page connection not enabled")
)

// Browser 浏览器级控制句柄
type Browser interface {
	// CreateTarget 新建标签页并返回其目标ID
	CreateTarget(ctx context.Context, url string) (model.TargetID, error)
	// CloseTarget 关闭标签页
	CloseTarget(ctx context.Context, id model.TargetID) error
	// Attach 打开作用于指定目标的短连接
	Attach(ctx context.Context, id model.TargetID) (Page, error)
}

// Page 单个目标上的短连接
type Page interface {
	// Enable 启用页面生命周期事件与资源拦截
	Enable(ctx context.Context) error
	// Navigate 导航并等待 load 事件
	Navigate(ctx context.Context, url string) error
	// Reload 重新加载并等待 load 事件
	Reload(ctx context.Context) error
	// Close 关闭连接，标签页保持打开
	Close() error
}

// Conn 宿主持有的浏览器级连接
type Conn interface {
	Browser
	Close() error
}

// Dialer 建立浏览器级连接
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}
