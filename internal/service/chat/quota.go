package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"pomelo/internal/pkg/ctxutil"
)

const quotaCheckFailedMsg = "Failed to check query limit"

// IsFreeModel 模型 ID 含 free（不区分大小写）视为免费模型，不占每日配额
func IsFreeModel(modelID string) bool {
	return strings.Contains(strings.ToLower(modelID), "free")
}

// QuotaDecision 配额校验结果
type QuotaDecision struct {
	Allowed   bool
	Unlimited bool
	Remaining int
	Message   string // 拒绝原因，仅 Denied 时有值
}

// QuotaChecker 配额校验接口
// 每次发送都重新校验，不跨请求缓存
type QuotaChecker interface {
	CheckAndReserve(ctx context.Context, modelID string) (QuotaDecision, error)
}

// HTTPQuotaGate 走配额端点的校验器
// 端点语义: PATCH {model} -> 200 {dailyQueryCount} | 403 {error}
type HTTPQuotaGate struct {
	endpoint string
	client   *http.Client
}

// NewHTTPQuotaGate 创建配额校验器
func NewHTTPQuotaGate(endpoint string) *HTTPQuotaGate {
	return &HTTPQuotaGate{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// CheckAndReserve 校验并扣减一次配额
// 免费模型直接放行，不发网络请求；端点异常时拒绝发送（fail closed）
func (g *HTTPQuotaGate) CheckAndReserve(ctx context.Context, modelID string) (QuotaDecision, error) {
	if IsFreeModel(modelID) {
		return QuotaDecision{Allowed: true, Unlimited: true}, nil
	}

	payload, err := json.Marshal(map[string]string{"model": modelID})
	if err != nil {
		return QuotaDecision{}, newSendError(ErrKindQuotaCheck, quotaCheckFailedMsg, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return QuotaDecision{}, newSendError(ErrKindQuotaCheck, quotaCheckFailedMsg, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token, ok := ctxutil.GetAuthToken(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return QuotaDecision{}, newSendError(ErrKindQuotaCheck, quotaCheckFailedMsg, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body struct {
			DailyQueryCount int  `json:"dailyQueryCount"`
			Unlimited       bool `json:"unlimited"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return QuotaDecision{}, newSendError(ErrKindQuotaCheck, quotaCheckFailedMsg, err)
		}
		// 用户自带 API Key 时端点不扣减并标记无限额度
		if body.Unlimited {
			return QuotaDecision{Allowed: true, Unlimited: true}, nil
		}
		return QuotaDecision{Allowed: true, Remaining: body.DailyQueryCount}, nil

	case http.StatusForbidden:
		var body struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&body)
		msg := body.Error
		if msg == "" {
			msg = "Query limit reached"
		}
		return QuotaDecision{Allowed: false, Message: msg}, nil

	default:
		return QuotaDecision{}, newSendError(ErrKindQuotaCheck, quotaCheckFailedMsg, nil)
	}
}

// QuotaState 服务端配额的本地镜像
// 只用于展示剩余次数，真实额度以端点响应为准
type QuotaState struct {
	mu        sync.Mutex
	remaining int
	unlimited bool
	known     bool
}

// Apply 用一次校验结果刷新镜像
func (s *QuotaState) Apply(d QuotaDecision) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Unlimited {
		s.unlimited = true
		return
	}
	s.unlimited = false
	s.known = true
	if d.Remaining < 0 {
		s.remaining = 0
		return
	}
	s.remaining = d.Remaining
}

// Remaining 返回剩余次数；未知或无限时第二个返回值为 false
func (s *QuotaState) Remaining() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unlimited || !s.known {
		return 0, false
	}
	return s.remaining, true
}
