// Package chat 消息发送引擎
// 一次发送按固定阶段推进：配额校验、会话解析、用户消息落库、
// 附件落库、助手占位消息、流式应用；任何阶段失败都不回滚已落库的状态
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"pomelo/internal/ai"
	"pomelo/internal/model"
	"pomelo/internal/pkg/id"
)

// ConversationStore 会话持久化接口
type ConversationStore interface {
	Create(ctx context.Context, conv *model.Conversation) error
	FindByID(ctx context.Context, convID string) (*model.Conversation, error)
	TouchLastMessage(ctx context.Context, convID string, at time.Time) error
}

// MessageStore 消息持久化接口
type MessageStore interface {
	Create(ctx context.Context, msg *model.Message) error
	ListByConversation(ctx context.Context, convID string) ([]*model.Message, error)
	UpdateContent(ctx context.Context, msgID, content string) error
	SetTokensUsed(ctx context.Context, msgID string, tokens int) error
}

// AttachmentStore 附件持久化接口
type AttachmentStore interface {
	Save(ctx context.Context, att *model.Attachment) error
}

// TokenCounter token 用量估算接口
type TokenCounter interface {
	Count(text string) int
}

// errNothingToSend 文本和附件都为空时管线不启动
var errNothingToSend = &SendError{Kind: ErrKindValidation, Message: "Nothing to send"}

// EngineDeps 引擎依赖
type EngineDeps struct {
	Conversations ConversationStore
	Messages      MessageStore
	Attachments   AttachmentStore
	Quota         QuotaChecker
	Completer     ai.Completer
	Cache         *ViewCache
	Tokens        TokenCounter // 可为 nil，此时缺省不回填用量
	DefaultModel  string
	SystemPrompt  string
}

// Engine 消息发送引擎
type Engine struct {
	conversations ConversationStore
	messages      MessageStore
	attachments   AttachmentStore
	quota         QuotaChecker
	completer     ai.Completer
	cache         *ViewCache
	applier       *StreamApplier
	tokens        TokenCounter
	defaultModel  string
	systemPrompt  string
}

// NewEngine 创建发送引擎
func NewEngine(d EngineDeps) *Engine {
	return &Engine{
		conversations: d.Conversations,
		messages:      d.Messages,
		attachments:   d.Attachments,
		quota:         d.Quota,
		completer:     d.Completer,
		cache:         d.Cache,
		applier:       NewStreamApplier(d.Messages, d.Cache),
		tokens:        d.Tokens,
		defaultModel:  d.DefaultModel,
		systemPrompt:  d.SystemPrompt,
	}
}

// Cache 消息视图缓存
func (e *Engine) Cache() *ViewCache { return e.cache }

// SendRequest 一次发送的输入
type SendRequest struct {
	Text           string
	ConversationID string
	Attachments    []*model.Attachment
	OnChunk        func(model.ChatChunk)
}

// Send 发送一条消息并等待完成
// 配额拒绝、会话创建失败等都以 SendError 返回；排队中的发送会
// 阻塞到持久 ID 到位并完成回放
func (e *Engine) Send(ctx context.Context, sess *Session, req SendRequest) (*model.SendMessageResponse, error) {
	if strings.TrimSpace(req.Text) == "" && len(req.Attachments) == 0 {
		return nil, errNothingToSend
	}

	modelID := e.pickModel(ctx, sess, req.ConversationID)

	// 免费模型完全绕过配额，不发任何网络请求
	if !IsFreeModel(modelID) {
		decision, err := e.quota.CheckAndReserve(ctx, modelID)
		if err != nil {
			if se, ok := AsSendError(err); ok {
				return nil, se
			}
			return nil, newSendError(ErrKindQuotaCheck, quotaCheckFailedMsg, err)
		}
		if !decision.Allowed {
			msg := decision.Message
			if msg == "" {
				msg = "Query limit reached"
			}
			// 非致命：输入不清空，调用方提示用户配置自己的 API Key
			return nil, newSendError(ErrKindQuotaDenied, msg, nil)
		}
		sess.Quota.Apply(decision)
	}

	res, err := e.resolveConversation(ctx, sess, req.ConversationID, modelID, deriveTitle(req.Text))
	if err != nil {
		return nil, err
	}

	job := newJob(sess.UserID, req.Text, modelID, req.Attachments, req.OnChunk)
	if res.Deferred {
		// 解析和入队之间持久 ID 可能已经就绪且回放已结束，
		// 此时任务不再进队，直接走管线
		if ok, durable := sess.queue.Enqueue(job); !ok {
			e.flush(ctx, durable, job, nil)
			return job.result, job.err
		}
		return job.Wait(ctx)
	}

	e.flush(ctx, res.ID.String(), job, res.drain)
	return job.result, job.err
}

// pickModel 确定本次发送使用的模型
func (e *Engine) pickModel(ctx context.Context, sess *Session, reqConvID string) string {
	convID := reqConvID
	if convID == "" {
		if active := sess.Active(); active.IsDurable() {
			convID = active.String()
		}
	}
	if convID != "" {
		if m, ok := sess.ModelFor(convID); ok && m != "" {
			return m
		}
		if conv, err := e.conversations.FindByID(ctx, convID); err == nil && conv.Model != "" {
			sess.SetModel(convID, conv.Model)
			return conv.Model
		}
	}
	return e.defaultModel
}

// flush 执行一次发送的落库与流式阶段，并结束任务
func (e *Engine) flush(ctx context.Context, convID string, job *Job, drainReady func()) {
	res, err := e.runPipeline(ctx, convID, job, drainReady)
	if err != nil {
		log.Warn().Err(err).Str("conversation_id", convID).Msg("send pipeline failed")
	}
	job.finish(res, err)
}

func (e *Engine) runPipeline(ctx context.Context, convID string, job *Job, drainReady func()) (*model.SendMessageResponse, error) {
	// 无论成败都要触发队列回放，排队任务不能跟着本次失败一起卡死
	if drainReady != nil {
		defer drainReady()
	}

	logger := log.With().Str("conversation_id", convID).Str("user_id", job.UserID).Logger()

	// 发送前的持久转录快照，回放时在此刻读取保证包含前序任务的消息
	history, err := e.messages.ListByConversation(ctx, convID)
	if err != nil {
		return nil, newSendError(ErrKindTransport, "Failed to load conversation history", err)
	}

	logger.Debug().Str("state", string(StatePersistingUserMessage)).Msg("pipeline advance")
	userMsg := &model.Message{
		ID:             id.New(),
		ConversationID: convID,
		Role:           model.RoleUser,
		Content:        job.Text, // 只存展示文本，附件提取文本不进消息体
		CreatedAt:      time.Now(),
	}
	if err := e.messages.Create(ctx, userMsg); err != nil {
		return nil, newSendError(ErrKindTransport, "Failed to send message", err)
	}
	e.cache.Append(convID, userMsg)

	// 用户消息已落库，排队任务可以开始回放了
	if drainReady != nil {
		drainReady()
	}

	logger.Debug().Str("state", string(StatePersistingAttachments)).Msg("pipeline advance")
	for _, att := range job.Attachments {
		att.MessageID = userMsg.ID
		if err := e.attachments.Save(ctx, att); err != nil {
			// 附件落库尽力而为，不回滚用户消息
			logger.Warn().Err(err).Str("file", att.FileName).Msg("attachment persist failed")
		}
	}

	logger.Debug().Str("state", string(StateCreatingPlaceholder)).Msg("pipeline advance")
	placeholder := &model.Message{
		ID:             id.New(),
		ConversationID: convID,
		Role:           model.RoleAssistant,
		Content:        "",
		CreatedAt:      time.Now(),
	}
	if err := e.messages.Create(ctx, placeholder); err != nil {
		return nil, newSendError(ErrKindTransport, "Failed to send message", err)
	}
	e.cache.Append(convID, placeholder)

	logger.Debug().Str("state", string(StateStreaming)).Msg("pipeline advance")
	outbound := e.buildOutbound(history, job)
	events, err := e.completer.StreamCompletion(ctx, job.ModelID, outbound)
	if err != nil {
		return nil, newSendError(ErrKindProvider, "Failed to get response", err)
	}

	final, usage, streamErr := e.applier.Apply(ctx, events, convID, placeholder.ID, job.OnChunk)
	if streamErr != nil {
		// 占位消息保持现状，空内容由展示层渲染成生成中
		return nil, newSendError(ErrKindProvider, "Failed to get response", streamErr)
	}

	tokens := 0
	if usage != nil {
		tokens = usage.TotalTokens
	} else if e.tokens != nil {
		tokens = e.tokens.Count(final)
	}
	if tokens > 0 {
		if err := e.messages.SetTokensUsed(ctx, placeholder.ID, tokens); err != nil {
			logger.Warn().Err(err).Msg("tokens_used persist failed")
		}
		e.cache.SetTokensUsed(convID, placeholder.ID, tokens)
	}
	if err := e.conversations.TouchLastMessage(ctx, convID, time.Now()); err != nil {
		logger.Warn().Err(err).Msg("conversation touch failed")
	}

	logger.Debug().Str("state", string(StateFinalized)).Msg("pipeline advance")
	return &model.SendMessageResponse{
		ConversationID: convID,
		UserMessageID:  userMsg.ID,
		MessageID:      placeholder.ID,
		Content:        final,
		Usage:          usage,
	}, nil
}

// buildOutbound 组装发给模型的消息列表
// 历史转录按角色映射；新用户轮把展示文本和附件提取文本合并，
// 图片附件以多模态分片单独携带
func (e *Engine) buildOutbound(history []*model.Message, job *Job) []*schema.Message {
	out := make([]*schema.Message, 0, len(history)+2)
	if e.systemPrompt != "" {
		out = append(out, schema.SystemMessage(e.systemPrompt))
	}
	for _, m := range history {
		switch m.Role {
		case model.RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case model.RoleAssistant:
			if m.Content != "" {
				out = append(out, schema.AssistantMessage(m.Content, nil))
			}
		}
	}

	parts := make([]string, 0, len(job.Attachments)+1)
	if job.Text != "" {
		parts = append(parts, job.Text)
	}
	var images []string
	for _, att := range job.Attachments {
		if att.IsImage() && att.DataURL != "" {
			images = append(images, att.DataURL)
		}
		if att.ExtractedText != "" {
			parts = append(parts, fmt.Sprintf("[Attachment: %s]\n%s", att.FileName, att.ExtractedText))
		}
	}

	out = append(out, ai.UserMessage(strings.Join(parts, "\n\n"), images))
	return out
}
