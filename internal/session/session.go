// Package session 串行化同一会话上的钩子调用与延迟操作。
package session

import (
	"sync"
	"time"

	"cdpkeeper/pkg/model"
)

// Session 单个业务会话
type Session struct {
	ID        model.SessionID
	CreatedAt time.Time

	mu sync.Mutex
}

// New 创建会话
func New(id model.SessionID) *Session {
	return &Session{ID: id, CreatedAt: time.Now()}
}

// Do 持有会话锁执行 fn；钩子与其回调必须在同一次 Do 内完成
func (s *Session) Do(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}
