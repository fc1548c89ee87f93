package lifecycle

import (
	"context"
	"fmt"

	"cdpkeeper/internal/logger"
	"cdpkeeper/internal/recovery"
	"cdpkeeper/pkg/model"
	"cdpkeeper/pkg/protocol"
)

// Initialize 新建标签页并导航到随机诱饵页面，成功后记录新句柄。
// 每次调用都会创建新标签页；被替换的旧标签页按配置尽力关闭。
func (m *Machine) Initialize(ctx context.Context, b protocol.Browser, s model.SessionState, l logger.Logger) (model.SessionState, error) {
	url, err := m.pool.Pick()
	if err != nil {
		return s, fmt.Errorf("initialize: %w", err)
	}
	l.Info("初始化：打开诱饵页面，标签页保持打开供后续刷新", "url", url)

	id, err := b.CreateTarget(ctx, "about:blank")
	if err != nil {
		l.Err(err, "初始化：创建标签页失败")
		return s, fmt.Errorf("initialize: %w", err)
	}
	err = m.withPage(ctx, b, id, l, func(p protocol.Page) error {
		return p.Navigate(ctx, url)
	})
	if err != nil {
		l.Err(err, "初始化：导航失败", "target", string(id), "url", url)
		m.discard(ctx, b, id, l)
		return s, fmt.Errorf("initialize %s: %w", url, err)
	}

	prev := s.OpenTabTargetID
	s.OpenTabTargetID = id
	s.Initialized = true
	s.InitializedAt = m.now()
	l.Info("初始化：页面加载成功", "target", string(id))

	if prev != "" && prev != id && m.closeReplacedTab {
		m.discard(ctx, b, prev, l)
	}
	return s, nil
}

// Refresh 重新加载已记录的标签页。没有句柄或标签页已丢失时转为初始化；
// 其他失败原样返回，刷新计数不变。
func (m *Machine) Refresh(ctx context.Context, b protocol.Browser, s model.SessionState, l logger.Logger) (model.SessionState, error) {
	if !s.HasTab() {
		l.Warn("请求刷新但没有已打开的标签页（open_tab_target_id 缺失），转为初始化")
		ns, err := m.Initialize(ctx, b, s, l)
		if err != nil {
			return s, err
		}
		return m.markRefreshed(ns), nil
	}

	id := s.OpenTabTargetID
	l.Info("刷新：重新加载诱饵页面", "target", string(id))
	err := m.withPage(ctx, b, id, l, func(p protocol.Page) error {
		return p.Reload(ctx)
	})
	if err == nil {
		l.Info("刷新：页面重新加载成功", "target", string(id))
		return m.markRefreshed(s), nil
	}

	rule, lost := recovery.Classify(err)
	if !lost {
		l.Err(err, "刷新失败", "target", string(id))
		return s, fmt.Errorf("refresh %s: %w", id, err)
	}

	l.Warn("标签页已丢失，重新初始化", "target", string(id), "rule", rule, "error", err.Error())
	lostState := s
	lostState.OpenTabTargetID = ""
	ns, err := m.Initialize(ctx, b, lostState, l)
	if err != nil {
		return s, err
	}
	return m.markRefreshed(ns), nil
}

// Release 关闭记录的标签页并清除句柄，用于会话结束
func (m *Machine) Release(ctx context.Context, b protocol.Browser, s model.SessionState, l logger.Logger) model.SessionState {
	if !s.HasTab() {
		return s
	}
	m.discard(ctx, b, s.OpenTabTargetID, l)
	s.OpenTabTargetID = ""
	return s
}

// withPage 打开作用于目标的短连接，启用事件与拦截后执行 fn；连接在所有路径上关闭
func (m *Machine) withPage(ctx context.Context, b protocol.Browser, id model.TargetID, l logger.Logger, fn func(protocol.Page) error) error {
	p, err := b.Attach(ctx, id)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			l.Debug("关闭目标连接失败", "target", string(id), "error", cerr.Error())
		}
	}()
	if err := p.Enable(ctx); err != nil {
		return err
	}
	return fn(p)
}

// discard 尽力关闭不再使用的标签页
func (m *Machine) discard(ctx context.Context, b protocol.Browser, id model.TargetID, l logger.Logger) {
	err := b.CloseTarget(ctx, id)
	switch {
	case err == nil:
		l.Debug("已关闭废弃标签页", "target", string(id))
	case recovery.IsTargetLost(err):
		l.Debug("废弃标签页已不存在", "target", string(id))
	default:
		l.Warn("关闭废弃标签页失败", "target", string(id), "error", err.Error())
	}
}
