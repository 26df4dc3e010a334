package model

import "time"

// 消息角色
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message 会话消息文档
// Content 只保存展示文本，附件提取的文本不落在这里
type Message struct {
	ID             string    `bson:"_id" json:"id"`
	ConversationID string    `bson:"conversation_id" json:"conversationId"`
	Role           string    `bson:"role" json:"role"`
	Content        string    `bson:"content" json:"content"`
	TokensUsed     int       `bson:"tokens_used,omitempty" json:"tokensUsed,omitempty"`
	CreatedAt      time.Time `bson:"created_at" json:"createdAt"`
}
