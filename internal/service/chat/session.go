package chat

import (
	"context"
	"sync"

	"pomelo/internal/model"
)

// Session 单个用户的会话状态容器
// 激活会话、会话模型、配额镜像和待发队列都挂在这里，
// 不做任何包级全局状态
type Session struct {
	UserID string

	Quota QuotaState

	mu          sync.Mutex
	active      model.RecordID
	modelByConv map[string]string

	queue *PendingQueue
}

// NewSession 创建用户会话
func NewSession(userID string) *Session {
	return &Session{
		UserID:      userID,
		modelByConv: make(map[string]string),
		queue:       NewPendingQueue(),
	}
}

// Active 当前激活会话标识
func (s *Session) Active() model.RecordID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActive 切换激活会话
func (s *Session) SetActive(id model.RecordID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = id
}

// beginResolve 读取激活会话；没有时登记一个临时 ID
// fresh 为 true 表示由调用方负责发起会话创建
func (s *Session) beginResolve() (model.RecordID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active.IsZero() {
		return s.active, false
	}
	prov := model.NewProvisionalID()
	s.active = prov
	// 新的创建窗口，上一轮的回放标记作废
	s.queue.Reset()
	return prov, true
}

// promote 临时 ID 升级为持久 ID，仅在激活会话仍是该临时 ID 时生效
func (s *Session) promote(old, durable model.RecordID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Equal(old) {
		s.active = durable
	}
}

// clearActive 会话创建失败时回收临时 ID
func (s *Session) clearActive(old model.RecordID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Equal(old) {
		s.active = model.RecordID{}
	}
}

// ModelFor 查询会话绑定的模型
func (s *Session) ModelFor(convID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modelByConv[convID]
	return m, ok
}

// SetModel 记录会话绑定的模型
func (s *Session) SetModel(convID, modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modelByConv[convID] = modelID
}

// Manager 按用户维护会话状态
type Manager struct {
	engine *Engine

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager 创建会话管理器
func NewManager(engine *Engine) *Manager {
	return &Manager{
		engine:   engine,
		sessions: make(map[string]*Session),
	}
}

// Session 取出用户会话，不存在则新建
func (m *Manager) Session(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[userID]
	if !ok {
		sess = NewSession(userID)
		m.sessions[userID] = sess
	}
	return sess
}

// Send 以用户身份发送一条消息
func (m *Manager) Send(ctx context.Context, userID string, req SendRequest) (*model.SendMessageResponse, error) {
	return m.engine.Send(ctx, m.Session(userID), req)
}
