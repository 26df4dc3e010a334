package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"

	"pomelo/internal/model"
	"pomelo/internal/pkg/cache"
	"pomelo/internal/pkg/ctxutil"
	"pomelo/internal/service/chat"
)

// UserStore 用户数据存取接口
type UserStore interface {
	FindByID(ctx context.Context, userID string) (*model.User, error)
	SetProviderKey(ctx context.Context, userID, key string) error
	ResetDailyQuota(ctx context.Context, userID string, limit int, at time.Time) (*model.User, error)
	DecrementDailyQuota(ctx context.Context, userID string) (*model.User, error)
}

// UserSettingsHandler 用户设置与配额处理器
// PATCH 是配额端点：校验并扣减一次当日额度，
// 免费模型和自带 API Key 的用户不扣减
type UserSettingsHandler struct {
	users      UserStore
	rcache     *cache.RedisCache // 可为 nil
	dailyLimit int
}

// NewUserSettingsHandler 创建用户设置处理器
func NewUserSettingsHandler(users UserStore, rcache *cache.RedisCache, dailyLimit int) *UserSettingsHandler {
	return &UserSettingsHandler{
		users:      users,
		rcache:     rcache,
		dailyLimit: dailyLimit,
	}
}

// Get 读取用户设置
// @Summary 用户设置
// @Tags user-settings
// @Router /api/v1/user-settings [get]
func (h *UserSettingsHandler) Get(c *gin.Context) {
	userID, _ := ctxutil.GetUserID(c.Request.Context())

	if h.rcache != nil {
		var cached model.UserSettingsResponse
		if err := h.rcache.Get(c.Request.Context(), cache.UserSettingsCacheKey(userID), &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	user, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			c.JSON(http.StatusNotFound, model.ErrorResponse{
				Code:    40401,
				Message: "User not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to load user settings",
			Detail:  err.Error(),
		})
		return
	}

	resp := model.UserSettingsResponse{
		DailyQueryCount: user.DailyQueryCount,
		LastQueryReset:  user.LastQueryReset,
		Email:           user.Email,
		HasProviderKey:  user.ProviderAPIKey != "",
	}
	if h.rcache != nil {
		if err := h.rcache.Set(c.Request.Context(), cache.UserSettingsCacheKey(userID), resp, cache.UserSettingsCacheTTL); err != nil {
			log.Debug().Err(err).Msg("user settings cache set failed")
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Update 保存用户自带的模型 API Key
// @Summary 更新用户设置
// @Tags user-settings
// @Router /api/v1/user-settings [post]
func (h *UserSettingsHandler) Update(c *gin.Context) {
	userID, _ := ctxutil.GetUserID(c.Request.Context())

	var req model.UpdateUserSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Code:    40001,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	if req.ProviderAPIKey != nil {
		if err := h.users.SetProviderKey(c.Request.Context(), userID, *req.ProviderAPIKey); err != nil {
			c.JSON(http.StatusInternalServerError, model.ErrorResponse{
				Code:    50001,
				Message: "Failed to update user settings",
				Detail:  err.Error(),
			})
			return
		}
	}

	h.invalidate(c, userID)
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// CheckQuota 配额端点
// 跨天的首次请求先把额度重置到上限；免费模型放行不扣减；
// 额度用尽时返回 403 {error}，扣减成功返回剩余次数
// @Summary 校验并扣减当日配额
// @Tags user-settings
// @Router /api/v1/user-settings [patch]
func (h *UserSettingsHandler) CheckQuota(c *gin.Context) {
	userID, _ := ctxutil.GetUserID(c.Request.Context())

	var req model.UpdateUserSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Code:    40001,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	user, err := h.users.FindByID(c.Request.Context(), userID)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			c.JSON(http.StatusNotFound, model.ErrorResponse{
				Code:    40401,
				Message: "User not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to check query limit",
			Detail:  err.Error(),
		})
		return
	}

	// 跨天重置
	now := time.Now().UTC()
	if !sameDay(user.LastQueryReset.UTC(), now) {
		user, err = h.users.ResetDailyQuota(c.Request.Context(), userID, h.dailyLimit, now)
		if err != nil {
			c.JSON(http.StatusInternalServerError, model.ErrorResponse{
				Code:    50001,
				Message: "Failed to check query limit",
				Detail:  err.Error(),
			})
			return
		}
	}

	if chat.IsFreeModel(req.Model) {
		h.invalidate(c, userID)
		c.JSON(http.StatusOK, gin.H{"dailyQueryCount": user.DailyQueryCount})
		return
	}

	// 用户自带 API Key 时额度不设限，不扣减
	if user.ProviderAPIKey != "" {
		h.invalidate(c, userID)
		c.JSON(http.StatusOK, gin.H{"dailyQueryCount": user.DailyQueryCount, "unlimited": true})
		return
	}

	user, err = h.users.DecrementDailyQuota(c.Request.Context(), userID)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			// 条件更新未命中：额度已经是 0
			c.JSON(http.StatusForbidden, gin.H{"error": "Query limit reached"})
			return
		}
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to check query limit",
			Detail:  err.Error(),
		})
		return
	}

	h.invalidate(c, userID)
	c.JSON(http.StatusOK, gin.H{"dailyQueryCount": user.DailyQueryCount})
}

func (h *UserSettingsHandler) invalidate(c *gin.Context, userID string) {
	if h.rcache == nil {
		return
	}
	if err := h.rcache.Delete(c.Request.Context(), cache.UserSettingsCacheKey(userID)); err != nil {
		log.Debug().Err(err).Msg("user settings cache invalidate failed")
	}
}

func sameDay(a, b time.Time) bool {
	ya, ma, da := a.Date()
	yb, mb, db := b.Date()
	return ya == yb && ma == mb && da == db
}
