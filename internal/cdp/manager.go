package cdp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cdpkeeper/internal/handler"
	"cdpkeeper/internal/logger"
	"cdpkeeper/internal/rules"
	"cdpkeeper/pkg/model"
	"cdpkeeper/pkg/protocol"

	"github.com/mafredri/cdp"
	"github.com/mafredri/cdp/devtool"
	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/page"
	"github.com/mafredri/cdp/protocol/target"
	"github.com/mafredri/cdp/rpcc"
)

// Config 协议客户端配置
type Config struct {
	DevToolsURL      string
	Engine           *rules.Engine // 为空时不启用拦截
	Concurrency      int
	QueueSize        int
	ProcessTimeoutMS int
	Logger           logger.Logger
}

// Manager 远程浏览器调试端点的协议客户端
type Manager struct {
	devtoolsURL      string
	dt               *devtool.DevTools
	engine           *rules.Engine
	concurrency      int
	queueSize        int
	processTimeoutMS int
	log              logger.Logger
}

// New 创建协议客户端
func New(cfg Config) *Manager {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		devtoolsURL:      cfg.DevToolsURL,
		dt:               devtool.New(cfg.DevToolsURL),
		engine:           cfg.Engine,
		concurrency:      cfg.Concurrency,
		queueSize:        cfg.QueueSize,
		processTimeoutMS: cfg.ProcessTimeoutMS,
		log:              l,
	}
}

// Dial 建立浏览器级连接
func (m *Manager) Dial(ctx context.Context) (protocol.Conn, error) {
	v, err := m.dt.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("query devtools version at %s: %w", m.devtoolsURL, err)
	}
	if v.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("browser at %s exposes no websocket debugger url", m.devtoolsURL)
	}
	conn, err := rpcc.DialContext(ctx, v.WebSocketDebuggerURL)
	if err != nil {
		return nil, fmt.Errorf("dial browser: %w", err)
	}
	m.log.Debug("已连接浏览器", "browser", v.Browser)
	return &Browser{m: m, conn: conn, client: cdp.NewClient(conn)}, nil
}

// ListTargets 列出所有页面类型的目标
func (m *Manager) ListTargets(ctx context.Context) ([]model.TargetInfo, error) {
	targets, err := m.dt.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	out := make([]model.TargetInfo, 0, len(targets))
	for _, t := range targets {
		if t.Type != devtool.Page {
			continue
		}
		out = append(out, model.TargetInfo{ID: model.TargetID(t.ID), Type: string(t.Type), URL: t.URL, Title: t.Title})
	}
	return out, nil
}

// Browser 浏览器级连接，实现 protocol.Conn
type Browser struct {
	m      *Manager
	conn   *rpcc.Conn
	client *cdp.Client
}

// CreateTarget 新建标签页
func (b *Browser) CreateTarget(ctx context.Context, url string) (model.TargetID, error) {
	reply, err := b.client.Target.CreateTarget(ctx, target.NewCreateTargetArgs(url))
	if err != nil {
		return "", fmt.Errorf("create target: %w", err)
	}
	b.m.log.Debug("已创建标签页", "target", reply.TargetID)
	return model.TargetID(reply.TargetID), nil
}

// CloseTarget 关闭标签页
func (b *Browser) CloseTarget(ctx context.Context, id model.TargetID) error {
	if err := b.m.dt.Close(ctx, &devtool.Target{ID: string(id)}); err != nil {
		return fmt.Errorf("close target %s: %w", id, err)
	}
	return nil
}

// Attach 打开作用于指定目标的短连接
func (b *Browser) Attach(ctx context.Context, id model.TargetID) (protocol.Page, error) {
	targets, err := b.m.dt.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	var sel *devtool.Target
	for _, t := range targets {
		if t.ID == string(id) {
			sel = t
			break
		}
	}
	if sel == nil {
		return nil, fmt.Errorf("attach %s: %w", id, protocol.ErrTargetNotFound)
	}
	if sel.WebSocketDebuggerURL == "" {
		return nil, fmt.Errorf("attach %s: target exposes no websocket debugger url", id)
	}
	pctx, cancel := context.WithCancel(context.Background())
	conn, err := rpcc.DialContext(ctx, sel.WebSocketDebuggerURL)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("dial target %s: %w", id, err)
	}
	hc := handler.Config{Logger: b.m.log.With("target", string(id))}
	if b.m.engine != nil {
		hc.Decider = b.m.engine
	}
	return &Page{
		id:      id,
		m:       b.m,
		conn:    conn,
		client:  cdp.NewClient(conn),
		ctx:     pctx,
		cancel:  cancel,
		handler: handler.New(hc),
	}, nil
}

// Close 关闭浏览器级连接
func (b *Browser) Close() error {
	return b.conn.Close()
}

// Page 单个目标上的短连接，实现 protocol.Page
type Page struct {
	id      model.TargetID
	m       *Manager
	conn    *rpcc.Conn
	client  *cdp.Client
	ctx     context.Context
	cancel  context.CancelFunc
	handler *handler.Handler

	mu        sync.Mutex
	enabled   bool
	pool      *workerPool
	consumeWG sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Enable 启用页面事件；配置了策略时同时在请求阶段启用 Fetch 拦截
func (p *Page) Enable(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.enabled {
		return nil
	}
	if err := p.client.Page.Enable(ctx); err != nil {
		return fmt.Errorf("page enable: %w", err)
	}
	if p.m.engine != nil {
		if err := p.enableInterception(ctx); err != nil {
			return err
		}
	}
	p.enabled = true
	return nil
}

func (p *Page) enableInterception(ctx context.Context) error {
	// 先订阅再启用，避免漏掉第一批事件
	rp, err := p.client.Fetch.RequestPaused(p.ctx)
	if err != nil {
		return fmt.Errorf("subscribe request paused: %w", err)
	}
	pattern := "*"
	patterns := []fetch.RequestPattern{
		{URLPattern: &pattern, RequestStage: fetch.RequestStageRequest},
	}
	if err := p.client.Fetch.Enable(ctx, &fetch.EnableArgs{Patterns: patterns}); err != nil {
		rp.Close()
		return fmt.Errorf("fetch enable: %w", err)
	}
	if p.m.concurrency > 0 {
		p.pool = newWorkerPool(p.m.concurrency, p.m.queueSize)
	}
	p.consumeWG.Add(1)
	go p.consume(rp)
	return nil
}

// Navigate 导航并等待 load 事件
func (p *Page) Navigate(ctx context.Context, url string) error {
	if !p.isEnabled() {
		return protocol.ErrNotEnabled
	}
	loaded, err := p.client.Page.LoadEventFired(ctx)
	if err != nil {
		return fmt.Errorf("subscribe load event: %w", err)
	}
	defer loaded.Close()

	reply, err := p.client.Page.Navigate(ctx, page.NewNavigateArgs(url))
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if reply.ErrorText != nil && *reply.ErrorText != "" {
		return fmt.Errorf("navigate %s: %s", url, *reply.ErrorText)
	}
	if _, err := loaded.Recv(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// Reload 重新加载并等待 load 事件
func (p *Page) Reload(ctx context.Context) error {
	if !p.isEnabled() {
		return protocol.ErrNotEnabled
	}
	loaded, err := p.client.Page.LoadEventFired(ctx)
	if err != nil {
		return fmt.Errorf("subscribe load event: %w", err)
	}
	defer loaded.Close()

	if err := p.client.Page.Reload(ctx, page.NewReloadArgs()); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if _, err := loaded.Recv(); err != nil {
		return fmt.Errorf("wait reload: %w", err)
	}
	return nil
}

// Close 停止拦截并关闭连接，可重复调用
func (p *Page) Close() error {
	p.closeOnce.Do(func() {
		start := time.Now()
		p.cancel()
		p.consumeWG.Wait()
		if p.pool != nil {
			p.pool.stop()
		}
		p.closeErr = p.conn.Close()
		s := p.handler.Stats()
		p.m.log.Debug("已关闭目标连接",
			"target", string(p.id),
			"intercepted", s.Intercepted,
			"blocked", s.Blocked,
			"allowed", s.Allowed,
			"degraded", s.Degraded,
			"duration", time.Since(start),
		)
	})
	return p.closeErr
}

func (p *Page) isEnabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}
