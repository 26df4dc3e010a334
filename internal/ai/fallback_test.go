package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	. "github.com/smartystreets/goconvey/convey"
)

// fakeCompleter 可编程的补全器，记录每次收到的消息
type fakeCompleter struct {
	calls   [][]*schema.Message
	scripts []func() <-chan StreamEvent
	errs    []error
}

func (f *fakeCompleter) StreamCompletion(ctx context.Context, modelID string, msgs []*schema.Message) (<-chan StreamEvent, error) {
	i := len(f.calls)
	f.calls = append(f.calls, msgs)
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.scripts) {
		return f.scripts[i](), nil
	}
	return nil, errors.New("unexpected call")
}

func eventsOf(evs ...StreamEvent) func() <-chan StreamEvent {
	return func() <-chan StreamEvent {
		ch := make(chan StreamEvent, len(evs))
		for _, ev := range evs {
			ch <- ev
		}
		close(ch)
		return ch
	}
}

func TestFlattenPrompt(t *testing.T) {
	Convey("FlattenPrompt 能把结构化对话压平成单段文本", t, func() {
		Convey("系统消息原样保留，对话消息带角色前缀", func() {
			msgs := []*schema.Message{
				schema.SystemMessage("You are a helpful assistant."),
				schema.UserMessage("hello"),
				schema.AssistantMessage("hi there", nil),
				schema.UserMessage("how are you"),
			}

			flat := FlattenPrompt(msgs)
			So(flat, ShouldStartWith, "You are a helpful assistant.\n\n")
			So(flat, ShouldContainSubstring, "User: hello\n\n")
			So(flat, ShouldContainSubstring, "Assistant: hi there\n\n")
			So(flat, ShouldContainSubstring, "User: how are you\n\n")
		})

		Convey("结尾必须以 Assistant: 引导续写", func() {
			flat := FlattenPrompt([]*schema.Message{schema.UserMessage("hello")})
			So(flat, ShouldEndWith, "Assistant:")
		})

		Convey("多模态消息取其文本分片", func() {
			msg := UserMessage("look at this", []string{"data:image/png;base64,AAAA"})
			flat := FlattenPrompt([]*schema.Message{msg})
			So(flat, ShouldContainSubstring, "User: look at this")
		})
	})
}

func TestFallbackCompleter(t *testing.T) {
	Convey("FallbackCompleter 失败降级重试", t, func() {
		ctx := context.Background()
		msgs := []*schema.Message{
			schema.UserMessage("hello"),
			schema.AssistantMessage("hi", nil),
			schema.UserMessage("again"),
		}

		Convey("首次请求被拒绝时用压平后的单条消息重试", func() {
			fake := &fakeCompleter{
				errs: []error{errors.New("messages format not supported"), nil},
				scripts: []func() <-chan StreamEvent{
					nil,
					eventsOf(StreamEvent{Content: "ok"}, StreamEvent{Content: "ok done", Done: true}),
				},
			}
			fc := NewFallbackCompleter(fake)

			ch, err := fc.StreamCompletion(ctx, "m1", msgs)
			So(err, ShouldBeNil)

			var last StreamEvent
			for ev := range ch {
				last = ev
			}
			So(last.Done, ShouldBeTrue)
			So(last.Content, ShouldEqual, "ok done")

			So(len(fake.calls), ShouldEqual, 2)
			So(len(fake.calls[1]), ShouldEqual, 1)
			So(fake.calls[1][0].Content, ShouldEndWith, "Assistant:")
			So(fake.calls[1][0].Content, ShouldContainSubstring, "User: hello")
		})

		Convey("首个 token 之前流失败也会降级", func() {
			fake := &fakeCompleter{
				scripts: []func() <-chan StreamEvent{
					eventsOf(StreamEvent{Err: errors.New("upstream reset")}),
					eventsOf(StreamEvent{Content: "recovered", Done: true}),
				},
			}
			fc := NewFallbackCompleter(fake)

			ch, err := fc.StreamCompletion(ctx, "m1", msgs)
			So(err, ShouldBeNil)

			var last StreamEvent
			for ev := range ch {
				last = ev
			}
			So(last.Content, ShouldEqual, "recovered")
			So(len(fake.calls), ShouldEqual, 2)
		})

		Convey("已产出内容后出错不再重试", func() {
			fake := &fakeCompleter{
				scripts: []func() <-chan StreamEvent{
					eventsOf(StreamEvent{Content: "partial"}, StreamEvent{Content: "partial", Err: errors.New("cut off")}),
				},
			}
			fc := NewFallbackCompleter(fake)

			ch, err := fc.StreamCompletion(ctx, "m1", msgs)
			So(err, ShouldBeNil)

			var sawErr bool
			for ev := range ch {
				if ev.Err != nil {
					sawErr = true
				}
			}
			So(sawErr, ShouldBeTrue)
			So(len(fake.calls), ShouldEqual, 1)
		})
	})
}
