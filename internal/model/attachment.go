package model

import "time"

// 附件处理状态
const (
	AttachmentStatusPending  = "pending"
	AttachmentStatusUploaded = "uploaded"
	AttachmentStatusError    = "error"
)

// 附件大小上限：10 MiB
const MaxAttachmentSize = 10 * 1024 * 1024

// Attachment 消息附件文档
// 图片保存为 data URL，文档类附件保存提取后的文本
type Attachment struct {
	ID            string    `bson:"_id" json:"id"`
	MessageID     string    `bson:"message_id,omitempty" json:"messageId,omitempty"`
	FileName      string    `bson:"file_name" json:"fileName"`
	FileType      string    `bson:"file_type" json:"fileType"`
	FileSize      int64     `bson:"file_size" json:"fileSize"`
	FileURL       string    `bson:"file_url,omitempty" json:"fileUrl,omitempty"`
	DataURL       string    `bson:"data_url,omitempty" json:"dataUrl,omitempty"`
	ExtractedText string    `bson:"extracted_text,omitempty" json:"extractedText,omitempty"`
	Status        string    `bson:"status" json:"status"`
	ErrorMessage  string    `bson:"error_message,omitempty" json:"errorMessage,omitempty"`
	CreatedAt     time.Time `bson:"created_at" json:"createdAt"`
}

// IsImage 是否为可直接传给多模态模型的图片类型
func (a *Attachment) IsImage() bool {
	switch a.FileType {
	case "image/png", "image/jpeg", "image/webp":
		return true
	}
	return false
}
