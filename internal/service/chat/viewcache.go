package chat

import (
	"sync"

	"pomelo/internal/model"
)

// ViewCache 会话消息的内存视图
// 流式增量先落这里再落库，读消息接口用它覆盖落库的滞后内容
// 所有修改都生成新切片，读取方拿到的快照不会被后续写入改动
type ViewCache struct {
	mu     sync.RWMutex
	byConv map[string][]*model.Message
}

// NewViewCache 创建消息视图缓存
func NewViewCache() *ViewCache {
	return &ViewCache{byConv: make(map[string][]*model.Message)}
}

// Messages 返回会话消息快照，未缓存时返回 nil
func (c *ViewCache) Messages(convID string) []*model.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byConv[convID]
}

// Replace 整体替换会话消息
func (c *ViewCache) Replace(convID string, msgs []*model.Message) {
	snapshot := make([]*model.Message, len(msgs))
	copy(snapshot, msgs)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byConv[convID] = snapshot
}

// Append 追加一条消息
func (c *ViewCache) Append(convID string, msg *model.Message) {
	m := *msg

	c.mu.Lock()
	defer c.mu.Unlock()
	old := c.byConv[convID]
	next := make([]*model.Message, len(old), len(old)+1)
	copy(next, old)
	c.byConv[convID] = append(next, &m)
}

// UpdateContent 更新某条消息的内容（整条替换）
// 会话未缓存或消息不存在时是 no-op，流收尾晚于视图卸载的情况依赖这一点
func (c *ViewCache) UpdateContent(convID, msgID, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.byConv[convID]
	if !ok {
		return
	}
	next := make([]*model.Message, len(old))
	copy(next, old)
	for i, m := range next {
		if m.ID == msgID {
			updated := *m
			updated.Content = content
			next[i] = &updated
			c.byConv[convID] = next
			return
		}
	}
}

// SetTokensUsed 回填某条消息的 token 用量
func (c *ViewCache) SetTokensUsed(convID, msgID string, tokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.byConv[convID]
	if !ok {
		return
	}
	next := make([]*model.Message, len(old))
	copy(next, old)
	for i, m := range next {
		if m.ID == msgID {
			updated := *m
			updated.TokensUsed = tokens
			next[i] = &updated
			c.byConv[convID] = next
			return
		}
	}
}

// Rekey 临时会话 ID 换成持久 ID，消息上的会话引用一并改写
func (c *ViewCache) Rekey(oldID, newID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, ok := c.byConv[oldID]
	if !ok {
		return
	}
	next := make([]*model.Message, len(old))
	for i, m := range old {
		updated := *m
		updated.ConversationID = newID
		next[i] = &updated
	}
	delete(c.byConv, oldID)
	c.byConv[newID] = next
}

// Drop 丢弃会话缓存
func (c *ViewCache) Drop(convID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byConv, convID)
}
