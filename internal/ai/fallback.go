package ai

import (
	"context"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
)

// FallbackCompleter 带降级重试的补全器
// 部分 Provider 对多轮结构化消息支持不稳，首次请求失败且尚未产出内容时，
// 把整段对话压平成单条用户消息重试一次
type FallbackCompleter struct {
	inner Completer
}

// NewFallbackCompleter 包装一个补全器
func NewFallbackCompleter(inner Completer) *FallbackCompleter {
	return &FallbackCompleter{inner: inner}
}

// StreamCompletion 先走结构化消息，失败则压平后重试
func (f *FallbackCompleter) StreamCompletion(ctx context.Context, modelID string, msgs []*schema.Message) (<-chan StreamEvent, error) {
	primary, err := f.inner.StreamCompletion(ctx, modelID, msgs)
	if err != nil {
		log.Warn().Err(err).Str("model", modelID).Msg("structured completion rejected, retrying with flattened prompt")
		return f.retryFlattened(ctx, modelID, msgs)
	}

	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)

		gotContent := false
		for ev := range primary {
			if ev.Err != nil && !gotContent {
				// 还没吐出任何内容，整体降级重试
				log.Warn().Err(ev.Err).Str("model", modelID).Msg("completion stream failed before first token, retrying with flattened prompt")
				fallback, ferr := f.retryFlattened(ctx, modelID, msgs)
				if ferr != nil {
					out <- StreamEvent{Err: ferr}
					return
				}
				for fev := range fallback {
					out <- fev
				}
				return
			}
			if ev.Content != "" {
				gotContent = true
			}
			out <- ev
		}
	}()

	return out, nil
}

func (f *FallbackCompleter) retryFlattened(ctx context.Context, modelID string, msgs []*schema.Message) (<-chan StreamEvent, error) {
	flat := FlattenPrompt(msgs)
	return f.inner.StreamCompletion(ctx, modelID, []*schema.Message{schema.UserMessage(flat)})
}

// FlattenPrompt 把结构化对话压平成单段文本
// 系统消息原样保留，用户/助手消息加角色前缀，结尾补 "Assistant:" 引导续写
func FlattenPrompt(msgs []*schema.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		content := m.Content
		if content == "" && len(m.MultiContent) > 0 {
			for _, part := range m.MultiContent {
				if part.Type == schema.ChatMessagePartTypeText {
					content = part.Text
					break
				}
			}
		}

		switch m.Role {
		case schema.System:
			sb.WriteString(content)
			sb.WriteString("\n\n")
		case schema.User:
			sb.WriteString("User: ")
			sb.WriteString(content)
			sb.WriteString("\n\n")
		case schema.Assistant:
			sb.WriteString("Assistant: ")
			sb.WriteString(content)
			sb.WriteString("\n\n")
		}
	}
	sb.WriteString("Assistant:")
	return sb.String()
}
