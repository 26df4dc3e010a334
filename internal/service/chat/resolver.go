package chat

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"pomelo/internal/model"
)

// Resolution 会话解析结果
// Deferred 为 true 表示会话创建尚未回执，任务已交给待发队列
type Resolution struct {
	ID       model.RecordID
	Deferred bool

	// drain 由触发创建的那次发送在用户消息落库后调用，开始回放队列
	// 幂等，失败路径上也会被触发，保证排队任务不会饿死
	drain func()
}

// resolveConversation 确定本次发送的目标会话
// 指定会话 ID 时直接使用；没有激活会话时同步创建并在创建窗口内
// 把并发到来的发送转入待发队列
func (e *Engine) resolveConversation(ctx context.Context, sess *Session, reqConvID, modelID, title string) (Resolution, error) {
	if reqConvID != "" {
		durable := model.DurableID(reqConvID)
		sess.SetActive(durable)
		return Resolution{ID: durable}, nil
	}

	active, fresh := sess.beginResolve()
	if !fresh {
		if active.IsDurable() {
			return Resolution{ID: active}, nil
		}
		// 创建回执未到，本次发送排队等持久 ID
		return Resolution{ID: active, Deferred: true}, nil
	}

	conv := &model.Conversation{
		UserID: sess.UserID,
		Model:  modelID,
		Title:  title,
	}
	if err := e.conversations.Create(ctx, conv); err != nil {
		sess.clearActive(active)
		sendErr := newSendError(ErrKindConversation, "No conversation available", err)
		// 创建窗口内排进来的任务一并失败，不能无限等待
		sess.queue.FailAll(sendErr)
		return Resolution{}, sendErr
	}

	durable := model.DurableID(conv.ID)
	e.cache.Rekey(active.String(), conv.ID)
	sess.promote(active, durable)
	sess.SetModel(conv.ID, modelID)
	log.Debug().Str("conversation_id", conv.ID).Str("user_id", sess.UserID).Msg("conversation created")

	var once sync.Once
	drainCtx := context.WithoutCancel(ctx)
	drain := func() {
		once.Do(func() {
			go sess.queue.Drain(drainCtx, conv.ID, func(ctx context.Context, convID string, job *Job) {
				e.flush(ctx, convID, job, nil)
			})
		})
	}

	return Resolution{ID: durable, drain: drain}, nil
}

// deriveTitle 用首条消息生成会话标题
func deriveTitle(text string) string {
	const maxTitle = 50

	title := strings.TrimSpace(text)
	if title == "" {
		title = "New Chat"
	}
	if line, _, ok := strings.Cut(title, "\n"); ok {
		title = strings.TrimSpace(line)
	}
	runes := []rune(title)
	if len(runes) > maxTitle {
		title = string(runes[:maxTitle])
	}
	return title
}
