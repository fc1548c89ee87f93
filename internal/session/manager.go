package session

import (
	"sync"

	"cdpkeeper/internal/logger"
	"cdpkeeper/pkg/model"
)

// Manager 进程内会话注册表。会话在首次使用时登记，
// 持久化记录只在存储中，这里只保存串行化所需的锁。
type Manager struct {
	mu       sync.Mutex
	sessions map[model.SessionID]*Session
	log      logger.Logger
}

// NewManager 创建会话注册表
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{sessions: make(map[model.SessionID]*Session), log: l}
}

// Acquire 返回会话，首次使用时登记；新建会话与进程重启后接管的会话走同一路径
func (m *Manager) Acquire(id model.SessionID) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := New(id)
	m.sessions[id] = s
	m.log.Debug("登记会话", "sessionID", string(id), "active", len(m.sessions))
	return s
}

// Get 查询已登记的会话
func (m *Manager) Get(id model.SessionID) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete 注销会话，返回是否曾经登记
func (m *Manager) Delete(id model.SessionID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return false
	}
	delete(m.sessions, id)
	m.log.Debug("注销会话", "sessionID", string(id), "active", len(m.sessions))
	return true
}

// List 返回已登记会话的快照
func (m *Manager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	return list
}
