package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"pomelo/internal/model"
	"pomelo/internal/pkg/cache"
)

// ModelsHandler 模型列表代理
// 转发 Provider 的 /models 并裁剪成 {name, description, price_per_million}，
// 结果缓存 60 分钟；端点不要求认证，按客户端 IP 限速
type ModelsHandler struct {
	baseURL string
	apiKey  string
	client  *http.Client
	rcache  *cache.RedisCache // 可为 nil

	mu       sync.Mutex
	cached   []model.ModelInfo
	cachedAt time.Time

	limiters sync.Map // client ip -> *rate.Limiter
}

// 每 IP 每分钟 30 次
const modelsRatePerMinute = 30

// NewModelsHandler 创建模型列表处理器
func NewModelsHandler(baseURL, apiKey string, rcache *cache.RedisCache) *ModelsHandler {
	if baseURL == "" {
		baseURL = "https://api.together.xyz/v1"
	}
	return &ModelsHandler{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
		rcache:  rcache,
	}
}

func (h *ModelsHandler) allow(ip string) bool {
	v, _ := h.limiters.LoadOrStore(ip, rate.NewLimiter(rate.Every(time.Minute/modelsRatePerMinute), modelsRatePerMinute))
	return v.(*rate.Limiter).Allow()
}

// List 可选模型列表
// @Summary 可选模型列表
// @Tags models
// @Router /api/v1/models [get]
func (h *ModelsHandler) List(c *gin.Context) {
	if !h.allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
		return
	}

	if h.apiKey == "" {
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Model provider API key not configured",
		})
		return
	}

	if models, ok := h.fromCache(c); ok {
		c.JSON(http.StatusOK, models)
		return
	}

	models, err := h.fetch(c)
	if err != nil {
		log.Warn().Err(err).Msg("model list fetch failed")
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "Failed to fetch models",
			Detail:  err.Error(),
		})
		return
	}

	h.store(c, models)
	c.JSON(http.StatusOK, models)
}

func (h *ModelsHandler) fromCache(c *gin.Context) ([]model.ModelInfo, bool) {
	if h.rcache != nil {
		var cached []model.ModelInfo
		if err := h.rcache.Get(c.Request.Context(), cache.ModelListCacheKey, &cached); err == nil && len(cached) > 0 {
			return cached, true
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cached != nil && time.Since(h.cachedAt) < cache.ModelListCacheTTL {
		return h.cached, true
	}
	return nil, false
}

func (h *ModelsHandler) store(c *gin.Context, models []model.ModelInfo) {
	h.mu.Lock()
	h.cached = models
	h.cachedAt = time.Now()
	h.mu.Unlock()

	if h.rcache != nil {
		if err := h.rcache.Set(c.Request.Context(), cache.ModelListCacheKey, models, cache.ModelListCacheTTL); err != nil {
			log.Debug().Err(err).Msg("model list cache set failed")
		}
	}
}

// upstreamModel Provider /models 响应条目
type upstreamModel struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Pricing     *struct {
		Input *float64 `json:"input"`
	} `json:"pricing"`
}

func (h *ModelsHandler) fetch(c *gin.Context) ([]model.ModelInfo, error) {
	req, err := http.NewRequestWithContext(c.Request.Context(), http.MethodGet, h.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.apiKey)

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("upstream returned %d: %s", resp.StatusCode, body)
	}

	// 响应可能是裸数组，也可能包在 {models: []} 里
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var entries []upstreamModel
	if err := json.Unmarshal(raw, &entries); err != nil {
		var wrapped struct {
			Models []upstreamModel `json:"models"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil || wrapped.Models == nil {
			return nil, fmt.Errorf("malformed model list response")
		}
		entries = wrapped.Models
	}

	models := make([]model.ModelInfo, 0, len(entries))
	for _, m := range entries {
		if m.ID == "" {
			continue
		}
		info := model.ModelInfo{
			Name:        m.ID,
			Description: m.DisplayName,
		}
		if m.Pricing != nil {
			info.PricePerMillion = m.Pricing.Input
		}
		models = append(models, info)
	}
	return models, nil
}
