package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"pomelo/internal/model"
	"pomelo/internal/pkg/cache"
	"pomelo/internal/pkg/ctxutil"
	"pomelo/internal/repository"
	"pomelo/internal/service/chat"
)

// ConversationHandler 会话管理处理器
type ConversationHandler struct {
	repo    *repository.ConversationRepo
	msgs    *repository.MessageRepo
	rcache  *cache.RedisCache // 可为 nil
	view    *chat.ViewCache
	manager *chat.Manager
}

// NewConversationHandler 创建会话管理处理器
func NewConversationHandler(repo *repository.ConversationRepo, msgs *repository.MessageRepo, rcache *cache.RedisCache, view *chat.ViewCache, manager *chat.Manager) *ConversationHandler {
	return &ConversationHandler{
		repo:    repo,
		msgs:    msgs,
		rcache:  rcache,
		view:    view,
		manager: manager,
	}
}

// Create 创建会话
// @Summary 创建会话
// @Tags conversation
// @Router /api/v1/conversations [post]
func (h *ConversationHandler) Create(c *gin.Context) {
	userID, _ := ctxutil.GetUserID(c.Request.Context())

	var req model.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Code:    40001,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	title := req.Title
	if title == "" {
		title = "New Chat"
	}
	conv := &model.Conversation{
		UserID: userID,
		Title:  title,
		Model:  req.Model,
	}
	if err := h.repo.Create(c.Request.Context(), conv); err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to create conversation",
			Detail:  err.Error(),
		})
		return
	}

	sess := h.manager.Session(userID)
	sess.SetActive(model.DurableID(conv.ID))
	if conv.Model != "" {
		sess.SetModel(conv.ID, conv.Model)
	}

	h.invalidateList(c, userID)
	c.JSON(http.StatusCreated, conv)
}

// List 会话列表，按最近消息时间倒序
// @Summary 会话列表
// @Tags conversation
// @Router /api/v1/conversations [get]
func (h *ConversationHandler) List(c *gin.Context) {
	userID, _ := ctxutil.GetUserID(c.Request.Context())

	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	// 首页列表走 Redis 缓存
	cacheable := h.rcache != nil && offset == 0 && limit == 20
	if cacheable {
		var cached model.ConversationListResponse
		if err := h.rcache.Get(c.Request.Context(), cache.ConversationListCacheKey(userID), &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	convs, err := h.repo.ListByUserID(c.Request.Context(), userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to list conversations",
			Detail:  err.Error(),
		})
		return
	}
	total, err := h.repo.CountByUserID(c.Request.Context(), userID)
	if err != nil {
		total = int64(len(convs))
	}

	resp := model.ConversationListResponse{Conversations: convs, Total: total}
	if cacheable {
		if err := h.rcache.Set(c.Request.Context(), cache.ConversationListCacheKey(userID), resp, cache.ConversationListCacheTTL); err != nil {
			log.Debug().Err(err).Msg("conversation list cache set failed")
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Get 查询单个会话
// @Summary 查询会话
// @Tags conversation
// @Router /api/v1/conversations/{id} [get]
func (h *ConversationHandler) Get(c *gin.Context) {
	userID, _ := ctxutil.GetUserID(c.Request.Context())

	conv, err := h.repo.FindByIDForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			c.JSON(http.StatusNotFound, model.ErrorResponse{
				Code:    40401,
				Message: "Conversation not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to get conversation",
			Detail:  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, conv)
}

// Update 更新会话（标题、模型、归档状态）
// @Summary 更新会话
// @Tags conversation
// @Router /api/v1/conversations/{id} [patch]
func (h *ConversationHandler) Update(c *gin.Context) {
	userID, _ := ctxutil.GetUserID(c.Request.Context())
	convID := c.Param("id")

	var req model.UpdateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Code:    40001,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	if _, err := h.repo.FindByIDForUser(c.Request.Context(), convID, userID); err != nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Code:    40401,
			Message: "Conversation not found",
		})
		return
	}

	set := bson.M{}
	if req.Title != nil {
		set["title"] = *req.Title
	}
	if req.Model != nil {
		set["model"] = *req.Model
	}
	if req.Archived != nil {
		set["archived"] = *req.Archived
	}
	if len(set) == 0 {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Code:    40002,
			Message: "Nothing to update",
		})
		return
	}

	if err := h.repo.Update(c.Request.Context(), convID, bson.M{"$set": set}); err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to update conversation",
			Detail:  err.Error(),
		})
		return
	}

	// 模型切换立即对后续发送生效
	if req.Model != nil {
		h.manager.Session(userID).SetModel(convID, *req.Model)
	}

	h.invalidateList(c, userID)
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// Delete 删除会话及其全部消息
// @Summary 删除会话
// @Tags conversation
// @Router /api/v1/conversations/{id} [delete]
func (h *ConversationHandler) Delete(c *gin.Context) {
	userID, _ := ctxutil.GetUserID(c.Request.Context())
	convID := c.Param("id")

	if _, err := h.repo.FindByIDForUser(c.Request.Context(), convID, userID); err != nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Code:    40401,
			Message: "Conversation not found",
		})
		return
	}

	if err := h.repo.Delete(c.Request.Context(), convID); err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to delete conversation",
			Detail:  err.Error(),
		})
		return
	}
	if err := h.msgs.DeleteByConversation(c.Request.Context(), convID); err != nil {
		log.Warn().Err(err).Str("conversation_id", convID).Msg("failed to delete conversation messages")
	}
	h.view.Drop(convID)

	sess := h.manager.Session(userID)
	if sess.Active().String() == convID {
		sess.SetActive(model.RecordID{})
	}

	h.invalidateList(c, userID)
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// Messages 读取会话消息
// 流式进行中的消息以视图缓存的累计内容为准，落库可以滞后
// @Summary 会话消息列表
// @Tags conversation
// @Router /api/v1/conversations/{id}/messages [get]
func (h *ConversationHandler) Messages(c *gin.Context) {
	userID, _ := ctxutil.GetUserID(c.Request.Context())
	convID := c.Param("id")

	if _, err := h.repo.FindByIDForUser(c.Request.Context(), convID, userID); err != nil {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Code:    40401,
			Message: "Conversation not found",
		})
		return
	}

	durable, err := h.msgs.ListByConversation(c.Request.Context(), convID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to list messages",
			Detail:  err.Error(),
		})
		return
	}

	// 视图缓存覆盖同 ID 消息的内容
	if cached := h.view.Messages(convID); len(cached) > 0 {
		newest := make(map[string]*model.Message, len(cached))
		for _, m := range cached {
			newest[m.ID] = m
		}
		for i, m := range durable {
			if fresher, ok := newest[m.ID]; ok {
				durable[i] = fresher
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"messages": durable})
}

func (h *ConversationHandler) invalidateList(c *gin.Context, userID string) {
	if h.rcache == nil {
		return
	}
	if err := h.rcache.Delete(c.Request.Context(), cache.ConversationListCacheKey(userID)); err != nil {
		log.Debug().Err(err).Msg("conversation list cache invalidate failed")
	}
}
