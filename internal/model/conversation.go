package model

import "time"

// Conversation 会话文档
type Conversation struct {
	ID            string    `bson:"_id" json:"id"`
	UserID        string    `bson:"user_id" json:"userId"`
	Title         string    `bson:"title" json:"title"`
	Model         string    `bson:"model" json:"model"`
	Archived      bool      `bson:"archived" json:"archived"`
	CreatedAt     time.Time `bson:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `bson:"updated_at" json:"updatedAt"`
	LastMessageAt time.Time `bson:"last_message_at" json:"lastMessageAt"`
}
