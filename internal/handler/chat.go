package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pomelo/internal/model"
	"pomelo/internal/pkg/ctxutil"
	"pomelo/internal/repository"
	"pomelo/internal/service/chat"
)

// ChatHandler 消息发送处理器
type ChatHandler struct {
	manager     *chat.Manager
	attachments *repository.AttachmentRepo
}

// NewChatHandler 创建消息发送处理器
func NewChatHandler(manager *chat.Manager, attachments *repository.AttachmentRepo) *ChatHandler {
	return &ChatHandler{
		manager:     manager,
		attachments: attachments,
	}
}

// Send 发送消息并等待完整响应
// @Summary 发送消息
// @Tags chat
// @Router /api/v1/chat [post]
func (h *ChatHandler) Send(c *gin.Context) {
	req, atts, ok := h.bindSend(c)
	if !ok {
		return
	}
	userID, _ := ctxutil.GetUserID(c.Request.Context())

	res, err := h.manager.Send(c.Request.Context(), userID, chat.SendRequest{
		Text:           req.Text,
		ConversationID: req.ConversationID,
		Attachments:    atts,
	})
	if err != nil {
		writeSendError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// SendStream 流式发送消息 (SSE)
// content 事件携带累计全文，end 事件携带用量
// @Summary 流式发送消息
// @Tags chat
// @Router /api/v1/chat/stream [post]
func (h *ChatHandler) SendStream(c *gin.Context) {
	req, atts, ok := h.bindSend(c)
	if !ok {
		return
	}
	userID, _ := ctxutil.GetUserID(c.Request.Context())

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	streamed := false
	onChunk := func(chunk model.ChatChunk) {
		streamed = true
		if chunk.Done {
			payload := gin.H{}
			if chunk.Usage != nil {
				payload["usage"] = chunk.Usage
			}
			c.SSEvent("end", payload)
		} else {
			c.SSEvent("content", gin.H{"content": chunk.Content})
		}
		c.Writer.Flush()
	}

	_, err := h.manager.Send(c.Request.Context(), userID, chat.SendRequest{
		Text:           req.Text,
		ConversationID: req.ConversationID,
		Attachments:    atts,
		OnChunk:        onChunk,
	})
	if err != nil {
		if streamed {
			// 头已经发出去了，错误只能走事件通道
			c.SSEvent("error", gin.H{"message": sendErrorMessage(err)})
			c.Writer.Flush()
			return
		}
		writeSendError(c, err)
	}
}

// bindSend 解析发送请求并装载附件
func (h *ChatHandler) bindSend(c *gin.Context) (*model.SendMessageRequest, []*model.Attachment, bool) {
	var req model.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Code:    40001,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return nil, nil, false
	}

	var atts []*model.Attachment
	if len(req.AttachmentIDs) > 0 && h.attachments != nil {
		loaded, err := h.attachments.FindByIDs(c.Request.Context(), req.AttachmentIDs)
		if err != nil {
			c.JSON(http.StatusInternalServerError, model.ErrorResponse{
				Code:    50001,
				Message: "Failed to load attachments",
				Detail:  err.Error(),
			})
			return nil, nil, false
		}
		// 处理失败的附件留在草稿里提示用户，不参与发送
		for _, att := range loaded {
			if att.Status != model.AttachmentStatusError {
				atts = append(atts, att)
			}
		}
	}

	return &req, atts, true
}

// writeSendError 把 SendError 映射成 HTTP 响应
func writeSendError(c *gin.Context, err error) {
	se, ok := chat.AsSendError(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to send message",
			Detail:  err.Error(),
		})
		return
	}

	switch se.Kind {
	case chat.ErrKindValidation:
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Code: 40001, Message: se.Message})
	case chat.ErrKindQuotaDenied:
		// 非致命：前端保留草稿并提示配置自己的 API Key
		c.JSON(http.StatusForbidden, gin.H{"error": se.Message})
	case chat.ErrKindQuotaCheck:
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{Code: 50301, Message: se.Message})
	case chat.ErrKindConversation:
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Code: 50002, Message: se.Message})
	case chat.ErrKindProvider:
		c.JSON(http.StatusBadGateway, model.ErrorResponse{Code: 50201, Message: se.Message})
	default:
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Code: 50001, Message: se.Message})
	}
}

func sendErrorMessage(err error) string {
	if se, ok := chat.AsSendError(err); ok {
		return se.Message
	}
	return "Failed to send message"
}
