package api

import (
	"context"

	"cdpkeeper/internal/config"
	"cdpkeeper/internal/lifecycle"
	"cdpkeeper/internal/logger"
	"cdpkeeper/pkg/model"
	"cdpkeeper/pkg/protocol"
	"cdpkeeper/pkg/traffic"
)

// IterationContext 一次代理请求完成后交给钩子的上下文
type IterationContext struct {
	State    model.SessionState
	Exchange traffic.Exchange
	Logger   logger.Logger
}

// Result 钩子返回值。WantsProtocolAccess 为真时宿主须提供浏览器连接并执行 Callback，
// 再把 Callback 返回的状态作为新的会话状态保存。
type Result struct {
	State               model.SessionState
	WantsProtocolAccess bool
	Operation           model.Operation
	Callback            lifecycle.Callback
}

// Hook 代理流水线的迭代钩子
type Hook struct {
	m *lifecycle.Machine
}

// NewHook 创建迭代钩子
func NewHook(c config.LifecycleConfig) *Hook {
	return &Hook{m: lifecycle.NewFromConfig(c)}
}

// AfterIteration 每个代理请求完成后调用一次；自身不做任何浏览器调用
func (h *Hook) AfterIteration(ic IterationContext) Result {
	l := ic.Logger
	if l == nil {
		l = logger.NewNop()
	}
	d := h.m.AfterIteration(ic.State, ic.Exchange, l)
	return Result{
		State:               d.State,
		WantsProtocolAccess: d.WantsProtocolAccess(),
		Operation:           d.Op,
		Callback:            h.m.Callback(d.Op),
	}
}

// OnStart 流水线启动时显式初始化会话
func (h *Hook) OnStart(ctx context.Context, b protocol.Browser, s model.SessionState, l logger.Logger) (model.SessionState, error) {
	if l == nil {
		l = logger.NewNop()
	}
	return h.m.Initialize(ctx, b, s, l)
}
