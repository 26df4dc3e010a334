// Package ai 模型访问层
// 对上游暴露累计式流事件，屏蔽各 Provider 的增量差异
package ai

import (
	"context"
	"io"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"pomelo/internal/ai/component"
	"pomelo/internal/config"
	pmodel "pomelo/internal/model"
)

// StreamEvent 流式事件
// Content 为到目前为止的累计全文，消费方整体替换即可
type StreamEvent struct {
	Content string
	Done    bool
	Usage   *pmodel.TokenUsage
	Err     error
}

// Completer 流式补全接口
type Completer interface {
	StreamCompletion(ctx context.Context, modelID string, msgs []*schema.Message) (<-chan StreamEvent, error)
}

// Client 基于 eino ChatModel 的补全客户端
type Client struct {
	cm model.ChatModel
}

// NewClient 创建补全客户端
func NewClient(ctx context.Context, cfg *config.AIConfig) (*Client, error) {
	cm, err := component.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Client{cm: cm}, nil
}

// StreamCompletion 发起流式补全
// modelID 非空时覆盖默认模型，事件通道在流结束或出错后关闭
func (c *Client) StreamCompletion(ctx context.Context, modelID string, msgs []*schema.Message) (<-chan StreamEvent, error) {
	var opts []model.Option
	if modelID != "" {
		opts = append(opts, model.WithModel(modelID))
	}

	reader, err := c.cm.Stream(ctx, msgs, opts...)
	if err != nil {
		return nil, err
	}

	ch := make(chan StreamEvent, 16)
	go func() {
		defer close(ch)
		defer reader.Close()

		var sb strings.Builder
		var usage *pmodel.TokenUsage

		for {
			chunk, err := reader.Recv()
			if err == io.EOF {
				ch <- StreamEvent{Content: sb.String(), Done: true, Usage: usage}
				return
			}
			if err != nil {
				log.Warn().Err(err).Str("model", modelID).Msg("completion stream aborted")
				ch <- StreamEvent{Content: sb.String(), Err: err}
				return
			}

			if chunk.ResponseMeta != nil && chunk.ResponseMeta.Usage != nil {
				usage = &pmodel.TokenUsage{
					PromptTokens:     chunk.ResponseMeta.Usage.PromptTokens,
					CompletionTokens: chunk.ResponseMeta.Usage.CompletionTokens,
					TotalTokens:      chunk.ResponseMeta.Usage.TotalTokens,
				}
			}

			if chunk.Content == "" {
				continue
			}
			sb.WriteString(chunk.Content)

			select {
			case ch <- StreamEvent{Content: sb.String()}:
			case <-ctx.Done():
				ch <- StreamEvent{Content: sb.String(), Err: ctx.Err()}
				return
			}
		}
	}()

	return ch, nil
}

// UserMessage 构造用户消息，带图片时使用多模态分片
func UserMessage(text string, imageDataURLs []string) *schema.Message {
	if len(imageDataURLs) == 0 {
		return schema.UserMessage(text)
	}

	parts := make([]schema.ChatMessagePart, 0, len(imageDataURLs)+1)
	if text != "" {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeText,
			Text: text,
		})
	}
	for _, u := range imageDataURLs {
		parts = append(parts, schema.ChatMessagePart{
			Type: schema.ChatMessagePartTypeImageURL,
			ImageURL: &schema.ChatMessageImageURL{
				URL: u,
			},
		})
	}

	return &schema.Message{
		Role:         schema.User,
		MultiContent: parts,
	}
}
