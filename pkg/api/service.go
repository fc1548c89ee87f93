package api

import (
	"context"

	"cdpkeeper/internal/config"
	"cdpkeeper/internal/lifecycle"
	"cdpkeeper/internal/logger"
	"cdpkeeper/internal/service"
	"cdpkeeper/internal/storage"
	"cdpkeeper/pkg/model"
	"cdpkeeper/pkg/traffic"
)

// Service 服务接口
type Service interface {
	// StartSession 创建会话
	StartSession(ctx context.Context) (model.SessionID, error)

	// StopSession 关闭会话标签页并删除会话
	StopSession(ctx context.Context, id model.SessionID) error

	// AfterIteration 记录一次代理请求，到期时执行初始化或刷新
	AfterIteration(ctx context.Context, id model.SessionID, ex traffic.Exchange) (model.SessionState, error)

	// OnStart 显式初始化会话
	OnStart(ctx context.Context, id model.SessionID) (model.SessionState, error)

	// Refresh 立即刷新会话
	Refresh(ctx context.Context, id model.SessionID) (model.SessionState, error)

	// State 读取会话状态
	State(ctx context.Context, id model.SessionID) (model.SessionState, error)

	// ListSessions 列出会话
	ListSessions(ctx context.Context) ([]model.SessionInfo, error)

	// ListTargets 列出浏览器页面目标
	ListTargets(ctx context.Context) ([]model.TargetInfo, error)
}

// NewService 按配置创建服务，并返回需要在退出时关闭的存储
func NewService(cfg *config.Config, l logger.Logger) (Service, func() error, error) {
	store, err := storage.Open(cfg.Sqlite.Dsn, cfg.Sqlite.Prefix, l)
	if err != nil {
		return nil, nil, err
	}
	svc := service.New(service.Options{
		Machine:          lifecycle.NewFromConfig(cfg.Lifecycle),
		Dialer:           service.NewBrowserClient(cfg, l),
		Store:            store,
		OperationTimeout: cfg.Lifecycle.OperationTimeout,
		Logger:           l,
	})
	return svc, store.Close, nil
}
