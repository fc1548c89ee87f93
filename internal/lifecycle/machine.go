// Package lifecycle 维护受控标签页的会话生命周期：按请求计数调度初始化与刷新，
// 并在标签页丢失时回退到重新初始化。
//
// 状态机本身不做任何浏览器调用；AfterIteration 只返回需要执行的操作，
// 由持有协议连接的宿主调用 Run 或 Callback 完成。同一会话的调用必须由宿主串行化。
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"cdpkeeper/internal/config"
	"cdpkeeper/internal/decoy"
	"cdpkeeper/internal/logger"
	"cdpkeeper/pkg/model"
	"cdpkeeper/pkg/protocol"
	"cdpkeeper/pkg/traffic"
)

// DefaultRefreshInterval 每隔多少次代理请求刷新一次
const DefaultRefreshInterval = 4

// Callback 宿主拿到协议连接后执行的延迟操作
type Callback func(ctx context.Context, b protocol.Browser, s model.SessionState, l logger.Logger) (model.SessionState, error)

// Config 状态机参数
type Config struct {
	RefreshInterval       int
	OnStartOnFirstRequest bool
	CloseReplacedTab      bool
	Pool                  *decoy.Pool
	Now                   func() time.Time
}

// Machine 生命周期状态机，自身无可变状态
type Machine struct {
	interval         int64
	onStartFirst     bool
	closeReplacedTab bool
	pool             *decoy.Pool
	now              func() time.Time
}

// New 创建状态机
func New(cfg Config) *Machine {
	m := &Machine{
		interval:         int64(cfg.RefreshInterval),
		onStartFirst:     cfg.OnStartOnFirstRequest,
		closeReplacedTab: cfg.CloseReplacedTab,
		pool:             cfg.Pool,
		now:              cfg.Now,
	}
	if m.interval <= 0 {
		m.interval = DefaultRefreshInterval
	}
	if m.pool == nil {
		m.pool = decoy.New(nil)
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// NewFromConfig 按配置文件中的生命周期参数创建状态机
func NewFromConfig(c config.LifecycleConfig) *Machine {
	return New(Config{
		RefreshInterval:       c.RefreshInterval,
		OnStartOnFirstRequest: c.OnStartOnFirstRequest,
		CloseReplacedTab:      c.CloseReplacedTab,
		Pool:                  decoy.New(c.DecoyURLs),
	})
}

// Decision 一次钩子调用的结果
type Decision struct {
	State model.SessionState
	Op    model.Operation
}

// WantsProtocolAccess 是否需要宿主提供协议连接
func (d Decision) WantsProtocolAccess() bool { return d.Op != model.OpNone }

// AfterIteration 每次代理请求完成后调用：推进计数并决定本次需要的浏览器操作
func (m *Machine) AfterIteration(s model.SessionState, ex traffic.Exchange, l logger.Logger) Decision {
	s.RequestCount++
	first := s.RequestCount == 1
	due := s.RequestCount%m.interval == 0

	op := model.OpNone
	decision := "none"
	switch {
	case first && m.onStartFirst:
		op, decision = model.OpInitialize, "initialize"
	case due && s.HasTab():
		op, decision = model.OpRefresh, "refresh"
	case due:
		// 刷新在没有句柄时会转为初始化
		op, decision = model.OpRefresh, "bootstrap"
	}

	l.Info("迭代钩子已执行",
		"request_count", s.RequestCount,
		"is_first", first,
		"needs_refresh", due,
		"has_tab", s.HasTab(),
		"decision", decision,
		"url", ex.URL(),
	)
	return Decision{State: s, Op: op}
}

// Run 执行指定操作
func (m *Machine) Run(ctx context.Context, b protocol.Browser, op model.Operation, s model.SessionState, l logger.Logger) (model.SessionState, error) {
	if l == nil {
		l = logger.NewNop()
	}
	switch op {
	case model.OpNone:
		return s, nil
	case model.OpInitialize:
		return m.Initialize(ctx, b, s, l)
	case model.OpRefresh:
		return m.Refresh(ctx, b, s, l)
	default:
		return s, fmt.Errorf("unknown operation %q", op)
	}
}

// Callback 返回指定操作的延迟回调；OpNone 返回 nil
func (m *Machine) Callback(op model.Operation) Callback {
	if op == model.OpNone {
		return nil
	}
	return func(ctx context.Context, b protocol.Browser, s model.SessionState, l logger.Logger) (model.SessionState, error) {
		return m.Run(ctx, b, op, s, l)
	}
}

func (m *Machine) markRefreshed(s model.SessionState) model.SessionState {
	s.LastRefreshAt = m.now()
	s.RefreshCount++
	return s
}
