package chat

import (
	"context"

	"github.com/rs/zerolog/log"

	"pomelo/internal/ai"
	"pomelo/internal/model"
)

// contentWriter 流式内容的落库接口
type contentWriter interface {
	UpdateContent(ctx context.Context, msgID, content string) error
}

// StreamApplier 把流事件应用到视图缓存和持久存储
// 每个事件携带的是累计全文：视图缓存同步整条替换，落库异步合并写，
// 流本身从不等待任何一笔落库
type StreamApplier struct {
	writer contentWriter
	cache  *ViewCache
}

// NewStreamApplier 创建流应用器
func NewStreamApplier(writer contentWriter, cache *ViewCache) *StreamApplier {
	return &StreamApplier{writer: writer, cache: cache}
}

// Apply 消费一条流直到结束
// 返回最终累计全文和用量；单笔增量落库失败只记日志不中断流，
// 流结束后补一笔终态写入，保证落库内容收敛到最后一个增量
func (a *StreamApplier) Apply(ctx context.Context, events <-chan ai.StreamEvent, convID, msgID string, notify func(model.ChatChunk)) (string, *model.TokenUsage, error) {
	// 容量为 1 的通道做合并写：写库跟不上时只保留最新的累计全文
	pending := make(chan string, 1)
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for content := range pending {
			if err := a.writer.UpdateContent(ctx, msgID, content); err != nil {
				log.Warn().Err(err).Str("message_id", msgID).Msg("delta persist failed")
			}
		}
	}()

	var (
		final     string
		usage     *model.TokenUsage
		streamErr error
	)

	for ev := range events {
		if ev.Usage != nil {
			usage = ev.Usage
		}
		if ev.Content != "" {
			final = ev.Content
			a.cache.UpdateContent(convID, msgID, ev.Content)
			if notify != nil {
				notify(model.ChatChunk{Content: ev.Content})
			}

			select {
			case pending <- ev.Content:
			default:
				// 丢掉过期的那笔，换成最新全文
				select {
				case <-pending:
				default:
				}
				pending <- ev.Content
			}
		}
		if ev.Err != nil {
			streamErr = ev.Err
			break
		}
		if ev.Done {
			break
		}
	}

	close(pending)
	<-writerDone

	// 终态补写：确保最后落库的内容就是最终全文
	if final != "" {
		if err := a.writer.UpdateContent(ctx, msgID, final); err != nil {
			log.Warn().Err(err).Str("message_id", msgID).Msg("final content persist failed")
		}
	}

	if notify != nil && streamErr == nil {
		chunk := model.ChatChunk{Done: true}
		if usage != nil {
			chunk.Usage = usage
		}
		notify(chunk)
	}

	return final, usage, streamErr
}
