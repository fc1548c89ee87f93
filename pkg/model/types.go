package model

import "time"

type SessionID string
type TargetID string

// Operation 一次钩子调用请求宿主执行的浏览器操作
type Operation string

const (
	OpNone       Operation = ""
	OpInitialize Operation = "initialize"
	OpRefresh    Operation = "refresh"
)

// SessionState 由宿主持久化、生命周期状态机独占修改的会话状态
type SessionState struct {
	RequestCount    int64     `json:"request_count"`
	OpenTabTargetID TargetID  `json:"open_tab_target_id,omitempty"`
	Initialized     bool      `json:"initialized"`
	InitializedAt   time.Time `json:"initialized_at"`
	LastRefreshAt   time.Time `json:"last_refresh_at"`
	RefreshCount    int64     `json:"refresh_count"`
}

// HasTab 是否记录了可用的标签页句柄
func (s SessionState) HasTab() bool { return s.OpenTabTargetID != "" }

// SessionInfo 会话概要
type SessionInfo struct {
	ID        SessionID    `json:"id"`
	State     SessionState `json:"state"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type TargetInfo struct {
	ID    TargetID `json:"id"`
	Type  string   `json:"type"`
	URL   string   `json:"url"`
	Title string   `json:"title"`
}
