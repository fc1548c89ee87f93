// Package service 是流水线一侧的宿主：保存会话状态、串行化钩子调用，
// 并在钩子请求时提供浏览器连接执行延迟操作。
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cdpkeeper/internal/cdp"
	"cdpkeeper/internal/config"
	"cdpkeeper/internal/ctxkeys"
	"cdpkeeper/internal/lifecycle"
	"cdpkeeper/internal/logger"
	"cdpkeeper/internal/rules"
	"cdpkeeper/internal/session"
	"cdpkeeper/internal/state"
	"cdpkeeper/internal/storage"
	"cdpkeeper/pkg/model"
	"cdpkeeper/pkg/protocol"
	"cdpkeeper/pkg/traffic"

	"github.com/google/uuid"
)

// ErrNoTargetLister 浏览器连接不支持列出目标
var ErrNoTargetLister = errors.New("dialer cannot list targets")

// TargetLister 可选能力：列出浏览器中的页面目标
type TargetLister interface {
	ListTargets(ctx context.Context) ([]model.TargetInfo, error)
}

// Options 服务依赖
type Options struct {
	Machine          *lifecycle.Machine
	Dialer           protocol.Dialer
	Store            *storage.Store
	OperationTimeout time.Duration
	Logger           logger.Logger
}

// Service 会话宿主
type Service struct {
	machine  *lifecycle.Machine
	dialer   protocol.Dialer
	store    *storage.Store
	sessions *session.Manager
	timeout  time.Duration
	log      logger.Logger
}

// New 创建服务
func New(opts Options) *Service {
	l := opts.Logger
	if l == nil {
		l = logger.NewNop()
	}
	m := opts.Machine
	if m == nil {
		m = lifecycle.New(lifecycle.Config{})
	}
	return &Service{
		machine:  m,
		dialer:   opts.Dialer,
		store:    opts.Store,
		sessions: session.NewManager(l),
		timeout:  opts.OperationTimeout,
		log:      l,
	}
}

// NewBrowserClient 按配置创建协议客户端；拦截关闭时不挂载策略引擎
func NewBrowserClient(cfg *config.Config, l logger.Logger) *cdp.Manager {
	if l == nil {
		l = logger.NewNop()
	}
	var eng *rules.Engine
	if cfg.Intercept.Enabled {
		eng = rules.New(cfg.Intercept.BlockedResourceTypes, cfg.Intercept.TrackerPatterns)
		types, trackers := eng.Stats()
		l.Info("资源拦截已启用", "blockedTypes", types, "trackerPatterns", trackers)
	} else {
		l.Info("资源拦截已关闭")
	}
	return cdp.New(cdp.Config{
		DevToolsURL:      cfg.DevToolsURL(),
		Engine:           eng,
		Concurrency:      cfg.Intercept.Concurrency,
		QueueSize:        cfg.Intercept.QueueSize,
		ProcessTimeoutMS: cfg.Intercept.ProcessTimeoutMS,
		Logger:           l,
	})
}

// StartSession 创建新会话并保存初始状态
func (s *Service) StartSession(ctx context.Context) (model.SessionID, error) {
	id := model.SessionID(uuid.NewString())
	doc, err := state.Encode(nil, model.SessionState{})
	if err != nil {
		return "", err
	}
	if err := s.store.Save(ctx, id, doc); err != nil {
		return "", err
	}
	s.sessions.Acquire(id)
	return id, nil
}

// StopSession 关闭会话的标签页（尽力而为）并删除会话
func (s *Service) StopSession(ctx context.Context, id model.SessionID) error {
	_, err := s.withSession(ctx, id, func(ctx context.Context, _ []byte, st model.SessionState, l logger.Logger) (model.SessionState, error) {
		if st.HasTab() {
			_, oerr := s.operate(ctx, func(ctx context.Context, b protocol.Browser, st model.SessionState, l logger.Logger) (model.SessionState, error) {
				return s.machine.Release(ctx, b, st, l), nil
			}, st, l)
			if oerr != nil {
				l.Warn("结束会话时未能关闭标签页", "target", string(st.OpenTabTargetID), "error", oerr.Error())
			}
		}
		return st, s.store.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.sessions.Delete(id)
	return nil
}

// AfterIteration 记录一次代理请求；到期时连接浏览器执行钩子请求的操作。
// 请求计数先于浏览器操作保存，操作失败不会回滚。
func (s *Service) AfterIteration(ctx context.Context, id model.SessionID, ex traffic.Exchange) (model.SessionState, error) {
	return s.withSession(ctx, id, func(ctx context.Context, doc []byte, st model.SessionState, l logger.Logger) (model.SessionState, error) {
		d := s.machine.AfterIteration(st, ex, l)
		if err := s.save(ctx, id, doc, d.State); err != nil {
			return st, err
		}
		if !d.WantsProtocolAccess() {
			return d.State, nil
		}
		return s.runAndSave(ctx, id, doc, s.machine.Callback(d.Op), d.State, l)
	})
}

// OnStart 显式初始化会话：打开新标签页并导航到诱饵页面
func (s *Service) OnStart(ctx context.Context, id model.SessionID) (model.SessionState, error) {
	return s.withSession(ctx, id, func(ctx context.Context, doc []byte, st model.SessionState, l logger.Logger) (model.SessionState, error) {
		return s.runAndSave(ctx, id, doc, s.machine.Initialize, st, l)
	})
}

// Refresh 立即刷新会话，不推进请求计数
func (s *Service) Refresh(ctx context.Context, id model.SessionID) (model.SessionState, error) {
	return s.withSession(ctx, id, func(ctx context.Context, doc []byte, st model.SessionState, l logger.Logger) (model.SessionState, error) {
		return s.runAndSave(ctx, id, doc, s.machine.Refresh, st, l)
	})
}

// State 读取会话状态
func (s *Service) State(ctx context.Context, id model.SessionID) (model.SessionState, error) {
	doc, err := s.store.Load(ctx, id)
	if err != nil {
		return model.SessionState{}, err
	}
	return state.Decode(doc)
}

// ListSessions 列出已保存的会话；无法解析的记录跳过
func (s *Service) ListSessions(ctx context.Context) ([]model.SessionInfo, error) {
	recs, err := s.store.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.SessionInfo, 0, len(recs))
	for _, r := range recs {
		st, err := state.Decode(r.State)
		if err != nil {
			s.log.Warn("会话状态无法解析", "sessionID", r.ID, "error", err.Error())
			continue
		}
		out = append(out, model.SessionInfo{ID: model.SessionID(r.ID), State: st, UpdatedAt: r.UpdatedAt})
	}
	return out, nil
}

// ListTargets 列出浏览器中的页面目标
func (s *Service) ListTargets(ctx context.Context) ([]model.TargetInfo, error) {
	tl, ok := s.dialer.(TargetLister)
	if !ok {
		return nil, ErrNoTargetLister
	}
	return tl.ListTargets(ctx)
}

type sessionFunc func(ctx context.Context, doc []byte, st model.SessionState, l logger.Logger) (model.SessionState, error)

// withSession 持有会话锁，载入并解码状态后执行 fn
func (s *Service) withSession(ctx context.Context, id model.SessionID, fn sessionFunc) (model.SessionState, error) {
	traceID := uuid.NewString()
	ctx = context.WithValue(ctx, ctxkeys.TraceIDKey{}, traceID)
	ctx = context.WithValue(ctx, ctxkeys.SessionIDKey{}, string(id))
	l := s.log.With("sessionID", string(id), "traceId", traceID)

	var out model.SessionState
	err := s.sessions.Acquire(id).Do(func() error {
		doc, err := s.store.Load(ctx, id)
		if err != nil {
			return err
		}
		st, err := state.Decode(doc)
		if err != nil {
			return fmt.Errorf("decode state %s: %w", id, err)
		}
		out, err = fn(ctx, doc, st, l)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		// 未知会话不留在注册表中
		s.sessions.Delete(id)
	}
	return out, err
}

// runAndSave 执行延迟操作并保存其返回的状态；操作失败时仍保存
func (s *Service) runAndSave(ctx context.Context, id model.SessionID, doc []byte, cb lifecycle.Callback, st model.SessionState, l logger.Logger) (model.SessionState, error) {
	ns, err := s.operate(ctx, cb, st, l)
	if serr := s.save(ctx, id, doc, ns); serr != nil {
		return ns, errors.Join(err, serr)
	}
	return ns, err
}

// operate 建立浏览器级连接执行 cb，连接在返回前关闭
func (s *Service) operate(ctx context.Context, cb lifecycle.Callback, st model.SessionState, l logger.Logger) (model.SessionState, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	conn, err := s.dialer.Dial(ctx)
	if err != nil {
		l.Err(err, "连接浏览器失败")
		return st, fmt.Errorf("dial browser: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			l.Debug("关闭浏览器连接失败", "error", cerr.Error())
		}
	}()
	return cb(ctx, conn, st, l)
}

func (s *Service) save(ctx context.Context, id model.SessionID, doc []byte, st model.SessionState) error {
	out, err := state.Encode(doc, st)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", id, err)
	}
	return s.store.Save(ctx, id, out)
}
