package model

import "time"

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// TokenUsage Token 使用统计
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatChunk 流式对话片段
// Content 为累计全文而非增量，客户端直接整体替换
type ChatChunk struct {
	Content string      `json:"content,omitempty"`
	Done    bool        `json:"done,omitempty"`
	Usage   *TokenUsage `json:"usage,omitempty"`
}

// SendMessageResponse 发送完成后的终态响应
type SendMessageResponse struct {
	ConversationID string      `json:"conversation_id"`
	UserMessageID  string      `json:"user_message_id"`
	MessageID      string      `json:"message_id"`
	Content        string      `json:"content"`
	Usage          *TokenUsage `json:"usage,omitempty"`
}

// UserSettingsResponse 用户设置响应
type UserSettingsResponse struct {
	DailyQueryCount int       `json:"dailyQueryCount"`
	LastQueryReset  time.Time `json:"lastQueryReset"`
	Email           string    `json:"email,omitempty"`
	HasProviderKey  bool      `json:"hasProviderApiKey"`
}

// ModelInfo 可选模型条目
type ModelInfo struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	PricePerMillion *float64 `json:"price_per_million"`
}

// ConversationListResponse 会话列表响应
type ConversationListResponse struct {
	Conversations []*Conversation `json:"conversations"`
	Total         int64           `json:"total"`
}
