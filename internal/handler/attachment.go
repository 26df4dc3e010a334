package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"pomelo/internal/model"
	"pomelo/internal/repository"
	"pomelo/internal/service/chat"
)

// AttachmentHandler 附件上传处理器
type AttachmentHandler struct {
	processor *chat.AttachmentProcessor
	repo      *repository.AttachmentRepo
}

// NewAttachmentHandler 创建附件上传处理器
func NewAttachmentHandler(processor *chat.AttachmentProcessor, repo *repository.AttachmentRepo) *AttachmentHandler {
	return &AttachmentHandler{
		processor: processor,
		repo:      repo,
	}
}

// Upload 上传附件
// 处理结果（包括校验失败）都以附件记录返回，前端据 status 内联展示错误，
// 单个附件失败不影响其他附件也不阻止发送
// @Summary 上传附件
// @Tags attachment
// @Router /api/v1/attachments [post]
func (h *AttachmentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Code:    40001,
			Message: "file is required",
			Detail:  err.Error(),
		})
		return
	}

	in := chat.FileInput{
		Name:        fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Size:        fileHeader.Size,
	}

	// 超限文件不读内容，大小校验在处理器里兜底
	if fileHeader.Size <= model.MaxAttachmentSize {
		f, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusInternalServerError, model.ErrorResponse{
				Code:    50001,
				Message: "Failed to read file",
				Detail:  err.Error(),
			})
			return
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			c.JSON(http.StatusInternalServerError, model.ErrorResponse{
				Code:    50001,
				Message: "Failed to read file",
				Detail:  err.Error(),
			})
			return
		}
		in.Data = data
	}

	att := h.processor.Process(c.Request.Context(), in)

	if err := h.repo.Create(c.Request.Context(), att); err != nil {
		log.Warn().Err(err).Str("file", att.FileName).Msg("attachment record persist failed")
	}

	c.JSON(http.StatusCreated, att)
}

// Get 查询附件记录
// @Summary 查询附件
// @Tags attachment
// @Router /api/v1/attachments/{id} [get]
func (h *AttachmentHandler) Get(c *gin.Context) {
	att, err := h.repo.FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Code:    40401,
			Message: "Attachment not found",
		})
		return
	}
	c.JSON(http.StatusOK, att)
}
