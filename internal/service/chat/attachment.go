package chat

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"pomelo/internal/model"
	"pomelo/internal/pkg/extract"
	"pomelo/internal/pkg/id"
	"pomelo/internal/pkg/storage"
)

// FileInput 待处理的上传文件
type FileInput struct {
	Name        string
	ContentType string
	Size        int64
	Data        []byte
}

// Extractors 文本提取函数集，测试时可替换
type Extractors struct {
	PDF   func([]byte) (string, error)
	DOCX  func([]byte) (string, error)
	Plain func([]byte) (string, error)
}

// AttachmentProcessor 附件处理器
// 大小校验、图片内联、文档提取都在这里完成；处理失败只标记该附件，
// 不影响同批次其他附件，也不阻止发送
type AttachmentProcessor struct {
	store storage.Storage // 可为 nil，此时只做内联处理不上传
	ex    Extractors
}

// NewAttachmentProcessor 创建附件处理器
func NewAttachmentProcessor(store storage.Storage) *AttachmentProcessor {
	return &AttachmentProcessor{
		store: store,
		ex: Extractors{
			PDF:   extract.PDFText,
			DOCX:  extract.DOCXText,
			Plain: extract.PlainText,
		},
	}
}

// Process 处理单个上传文件
// 超过 10 MiB 直接标记 error，不做任何提取和上传
func (p *AttachmentProcessor) Process(ctx context.Context, in FileInput) *model.Attachment {
	att := &model.Attachment{
		ID:        id.New(),
		FileName:  in.Name,
		FileType:  in.ContentType,
		FileSize:  in.Size,
		Status:    model.AttachmentStatusPending,
		CreatedAt: time.Now(),
	}

	if in.Size > model.MaxAttachmentSize {
		att.Status = model.AttachmentStatusError
		att.ErrorMessage = "File too large"
		return att
	}

	switch classify(in.Name, in.ContentType) {
	case kindImage:
		att.DataURL = fmt.Sprintf("data:%s;base64,%s",
			in.ContentType, base64.StdEncoding.EncodeToString(in.Data))
		att.Status = model.AttachmentStatusUploaded

	case kindPDF:
		p.extractInto(att, in.Data, p.ex.PDF, "Failed to extract PDF text")

	case kindDOCX:
		p.extractInto(att, in.Data, p.ex.DOCX, "Failed to extract DOCX text")

	case kindText:
		p.extractInto(att, in.Data, p.ex.Plain, "Failed to extract text file")

	default:
		// 其他类型只记录元信息，发送管线把它当作惰性附件
		att.Status = model.AttachmentStatusUploaded
	}

	if att.Status != model.AttachmentStatusError {
		p.uploadBestEffort(ctx, att, in)
	}
	return att
}

func (p *AttachmentProcessor) extractInto(att *model.Attachment, data []byte, fn func([]byte) (string, error), failMsg string) {
	text, err := fn(data)
	if err != nil {
		att.Status = model.AttachmentStatusError
		att.ErrorMessage = failMsg
		return
	}
	att.ExtractedText = text
	att.Status = model.AttachmentStatusUploaded
}

// uploadBestEffort 附件原件上传到对象存储，失败只记日志
func (p *AttachmentProcessor) uploadBestEffort(ctx context.Context, att *model.Attachment, in FileInput) {
	if p.store == nil {
		return
	}
	key := fmt.Sprintf("attachments/%s/%s", att.ID, in.Name)
	url, err := p.store.Upload(ctx, key, bytes.NewReader(in.Data), in.ContentType)
	if err != nil {
		log.Warn().Err(err).Str("file", in.Name).Msg("attachment upload failed")
		return
	}
	att.FileURL = url
}

type fileKind int

const (
	kindOther fileKind = iota
	kindImage
	kindPDF
	kindDOCX
	kindText
)

func classify(name, contentType string) fileKind {
	ct := strings.ToLower(contentType)
	ext := strings.ToLower(path.Ext(name))

	switch ct {
	case "image/png", "image/jpeg", "image/webp":
		return kindImage
	case "application/pdf":
		return kindPDF
	case "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return kindDOCX
	}
	if strings.HasPrefix(ct, "text/") {
		return kindText
	}

	switch ext {
	case ".pdf":
		return kindPDF
	case ".docx":
		return kindDOCX
	case ".md", ".txt", ".markdown":
		return kindText
	}
	return kindOther
}
