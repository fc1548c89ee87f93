package rules

import (
	"strings"

	"cdpkeeper/pkg/traffic"
)

// Action 拦截决策
type Action string

const (
	ActionAllow Action = "allow"
	ActionBlock Action = "block"
	// ActionPass 非请求阶段，原样放行
	ActionPass Action = "pass"
)

// Decision 单个请求的决策结果
type Decision struct {
	Action Action
	Reason string
}

// Blocked 是否阻止
func (d Decision) Blocked() bool { return d.Action == ActionBlock }

// Engine 资源拦截策略，构建后只读，可被并发调用
type Engine struct {
	blockedTypes map[string]struct{}
	trackers     []string
}

// New 创建策略引擎
func New(blockedTypes, trackerPatterns []string) *Engine {
	e := &Engine{blockedTypes: make(map[string]struct{}, len(blockedTypes))}
	for _, t := range blockedTypes {
		if t = strings.TrimSpace(t); t != "" {
			e.blockedTypes[strings.ToLower(t)] = struct{}{}
		}
	}
	for _, p := range trackerPatterns {
		if p = strings.TrimSpace(p); p != "" {
			e.trackers = append(e.trackers, strings.ToLower(p))
		}
	}
	return e
}

// Decide 对拦截到的请求给出放行或阻止
func (e *Engine) Decide(req *traffic.Request) Decision {
	if req.Stage != traffic.StageRequest {
		return Decision{Action: ActionPass, Reason: "stage:" + string(req.Stage)}
	}
	if _, ok := e.blockedTypes[strings.ToLower(req.ResourceType)]; ok {
		return Decision{Action: ActionBlock, Reason: "resource-type:" + req.ResourceType}
	}
	u := strings.ToLower(req.URL)
	for _, p := range e.trackers {
		if strings.Contains(u, p) {
			return Decision{Action: ActionBlock, Reason: "tracker:" + p}
		}
	}
	return Decision{Action: ActionAllow}
}

// Stats 策略规模
func (e *Engine) Stats() (blockedTypes, trackers int) {
	return len(e.blockedTypes), len(e.trackers)
}
