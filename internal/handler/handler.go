package handler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"cdpkeeper/internal/adapter/cdp"
	"cdpkeeper/internal/logger"
	"cdpkeeper/internal/rules"
	"cdpkeeper/pkg/traffic"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"
)

// Fetch 处理拦截事件所需的 Fetch 域命令，cdp.Client.Fetch 满足该接口
type Fetch interface {
	ContinueRequest(ctx context.Context, args *fetch.ContinueRequestArgs) error
	ContinueResponse(ctx context.Context, args *fetch.ContinueResponseArgs) error
	FailRequest(ctx context.Context, args *fetch.FailRequestArgs) error
}

// Decider 拦截决策函数
type Decider interface {
	Decide(req *traffic.Request) rules.Decision
}

// Stats 拦截统计
type Stats struct {
	Intercepted int64 `json:"intercepted"`
	Allowed     int64 `json:"allowed"`
	Blocked     int64 `json:"blocked"`
	Passed      int64 `json:"passed"`
	Degraded    int64 `json:"degraded"`
}

// Handler 事件处理器，负责调用决策并把结果应用到浏览器
type Handler struct {
	decider Decider
	log     logger.Logger

	intercepted atomic.Int64
	allowed     atomic.Int64
	blocked     atomic.Int64
	passed      atomic.Int64
	degraded    atomic.Int64
}

// Config 配置选项
type Config struct {
	Decider Decider
	Logger  logger.Logger
}

// New 创建事件处理器
func New(cfg Config) *Handler {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Handler{decider: cfg.Decider, log: l}
}

// Handle 处理一次拦截事件，返回实际应用的决策
func (h *Handler) Handle(ctx context.Context, f Fetch, ev *fetch.RequestPausedReply) rules.Decision {
	start := time.Now()
	h.intercepted.Add(1)
	req := cdp.ToNeutralRequest(ev)

	d := h.decide(req)
	var err error
	switch {
	case d.Blocked():
		err = f.FailRequest(ctx, fetch.NewFailRequestArgs(ev.RequestID, network.ErrorReasonBlockedByClient))
		h.blocked.Add(1)
	case d.Action == rules.ActionPass:
		err = h.continueAny(ctx, f, ev, req.Stage)
		h.passed.Add(1)
	default:
		err = f.ContinueRequest(ctx, fetch.NewContinueRequestArgs(ev.RequestID))
		h.allowed.Add(1)
	}
	if err != nil {
		// 请求可能已被浏览器取消，仅记录
		h.log.Debug("应用拦截决策失败", "action", d.Action, "url", req.URL, "error", err)
	}
	h.log.Debug("拦截事件处理完成",
		"action", d.Action,
		"reason", d.Reason,
		"resourceType", req.ResourceType,
		"url", req.URL,
		"referer", req.Headers.Get("Referer"),
		"duration", time.Since(start),
	)
	return d
}

// Degrade 统一的降级处理：直接放行请求
func (h *Handler) Degrade(ctx context.Context, f Fetch, ev *fetch.RequestPausedReply, reason string) {
	h.intercepted.Add(1)
	h.degraded.Add(1)
	h.log.Warn("执行降级策略：直接放行", "reason", reason, "requestID", ev.RequestID, "url", ev.Request.URL)
	if err := h.continueAny(ctx, f, ev, cdp.StageOf(ev)); err != nil {
		h.log.Debug("降级放行失败", "requestID", ev.RequestID, "error", err)
	}
}

// Stats 返回统计快照
func (h *Handler) Stats() Stats {
	return Stats{
		Intercepted: h.intercepted.Load(),
		Allowed:     h.allowed.Load(),
		Blocked:     h.blocked.Load(),
		Passed:      h.passed.Load(),
		Degraded:    h.degraded.Load(),
	}
}

// decide 调用决策函数；决策本身出错时放行请求
func (h *Handler) decide(req *traffic.Request) (d rules.Decision) {
	if h.decider == nil {
		return rules.Decision{Action: rules.ActionAllow, Reason: "no-policy"}
	}
	defer func() {
		if r := recover(); r != nil {
			h.log.Warn("拦截决策异常，放行请求", "url", req.URL, "panic", fmt.Sprint(r))
			d = rules.Decision{Action: rules.ActionAllow, Reason: "decision-failed"}
		}
	}()
	return h.decider.Decide(req)
}

func (h *Handler) continueAny(ctx context.Context, f Fetch, ev *fetch.RequestPausedReply, stage traffic.Stage) error {
	if stage == traffic.StageResponse {
		return f.ContinueResponse(ctx, &fetch.ContinueResponseArgs{RequestID: ev.RequestID})
	}
	return f.ContinueRequest(ctx, fetch.NewContinueRequestArgs(ev.RequestID))
}
