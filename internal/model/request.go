package model

// SendMessageRequest 发送消息请求
// ConversationID 为空表示在当前激活会话（或新会话）中发送
type SendMessageRequest struct {
	Text           string   `json:"text"`
	ConversationID string   `json:"conversation_id,omitempty"`
	AttachmentIDs  []string `json:"attachment_ids,omitempty"`
}

// CreateConversationRequest 创建会话请求
type CreateConversationRequest struct {
	Title string `json:"title,omitempty"`
	Model string `json:"model,omitempty"`
}

// UpdateConversationRequest 更新会话请求
type UpdateConversationRequest struct {
	Title    *string `json:"title,omitempty"`
	Model    *string `json:"model,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

// UpdateUserSettingsRequest 用户设置请求
// Model 用于扣减配额时判断是否为免费模型
type UpdateUserSettingsRequest struct {
	Model          string  `json:"model,omitempty"`
	ProviderAPIKey *string `json:"provider_api_key,omitempty"`
}
