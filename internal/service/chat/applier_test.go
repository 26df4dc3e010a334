package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"pomelo/internal/ai"
	"pomelo/internal/model"
)

// slowWriter 记录每笔写入，可注入延迟和错误
type slowWriter struct {
	mu     sync.Mutex
	writes []string
	delay  time.Duration
	err    error
}

func (w *slowWriter) UpdateContent(ctx context.Context, msgID, content string) error {
	if w.delay > 0 {
		time.Sleep(w.delay)
	}
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, content)
	return nil
}

func (w *slowWriter) last() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.writes) == 0 {
		return ""
	}
	return w.writes[len(w.writes)-1]
}

func cumulativeEvents(parts ...string) <-chan ai.StreamEvent {
	ch := make(chan ai.StreamEvent, len(parts)+1)
	for _, p := range parts {
		ch <- ai.StreamEvent{Content: p}
	}
	last := ""
	if len(parts) > 0 {
		last = parts[len(parts)-1]
	}
	ch <- ai.StreamEvent{Content: last, Done: true}
	close(ch)
	return ch
}

func TestStreamApplierCumulative(t *testing.T) {
	Convey("StreamApplier 累计增量收敛", t, func() {
		cache := NewViewCache()
		cache.Replace("c1", []*model.Message{{ID: "m1", ConversationID: "c1", Role: model.RoleAssistant}})

		Convey("最终落库与缓存内容都等于最后一个累计值", func() {
			writer := &slowWriter{}
			applier := NewStreamApplier(writer, cache)

			final, _, err := applier.Apply(context.Background(),
				cumulativeEvents("H", "He", "Hel", "Hello"), "c1", "m1", nil)
			So(err, ShouldBeNil)
			So(final, ShouldEqual, "Hello")
			So(writer.last(), ShouldEqual, "Hello")
			So(cache.Messages("c1")[0].Content, ShouldEqual, "Hello")
		})

		Convey("落库慢于流时最终内容仍收敛", func() {
			writer := &slowWriter{delay: 5 * time.Millisecond}
			applier := NewStreamApplier(writer, cache)

			final, _, err := applier.Apply(context.Background(),
				cumulativeEvents("H", "He", "Hel", "Hello"), "c1", "m1", nil)
			So(err, ShouldBeNil)
			So(final, ShouldEqual, "Hello")
			// 合并写可以丢中间值，但最后一笔必须是全文
			So(writer.last(), ShouldEqual, "Hello")
		})

		Convey("单笔落库失败不中断流", func() {
			writer := &slowWriter{err: errors.New("write refused")}
			applier := NewStreamApplier(writer, cache)

			final, _, err := applier.Apply(context.Background(),
				cumulativeEvents("H", "He", "Hello"), "c1", "m1", nil)
			So(err, ShouldBeNil)
			So(final, ShouldEqual, "Hello")
			// 缓存不受落库失败影响
			So(cache.Messages("c1")[0].Content, ShouldEqual, "Hello")
		})

		Convey("流中途出错返回已累计的内容和错误", func() {
			writer := &slowWriter{}
			applier := NewStreamApplier(writer, cache)

			ch := make(chan ai.StreamEvent, 3)
			ch <- ai.StreamEvent{Content: "par"}
			ch <- ai.StreamEvent{Content: "partial"}
			ch <- ai.StreamEvent{Content: "partial", Err: errors.New("upstream reset")}
			close(ch)

			final, _, err := applier.Apply(context.Background(), ch, "c1", "m1", nil)
			So(err, ShouldNotBeNil)
			So(final, ShouldEqual, "partial")
			So(writer.last(), ShouldEqual, "partial")
		})

		Convey("回调按序收到累计内容和结束标记", func() {
			writer := &slowWriter{}
			applier := NewStreamApplier(writer, cache)

			var chunks []model.ChatChunk
			_, _, err := applier.Apply(context.Background(),
				cumulativeEvents("He", "Hello"), "c1", "m1",
				func(c model.ChatChunk) { chunks = append(chunks, c) })
			So(err, ShouldBeNil)
			So(len(chunks), ShouldBeGreaterThanOrEqualTo, 3)
			So(chunks[0].Content, ShouldEqual, "He")
			So(chunks[len(chunks)-1].Done, ShouldBeTrue)
		})
	})
}

func TestViewCache(t *testing.T) {
	Convey("ViewCache 快照语义", t, func() {
		cache := NewViewCache()

		Convey("读取到的快照不随后续写入变化", func() {
			cache.Append("c1", &model.Message{ID: "m1", Content: "a"})
			snap := cache.Messages("c1")
			cache.UpdateContent("c1", "m1", "b")

			So(snap[0].Content, ShouldEqual, "a")
			So(cache.Messages("c1")[0].Content, ShouldEqual, "b")
		})

		Convey("Rekey 迁移消息并改写会话引用", func() {
			cache.Append("prov-1", &model.Message{ID: "m1", ConversationID: "prov-1"})
			cache.Rekey("prov-1", "durable-1")

			So(cache.Messages("prov-1"), ShouldBeNil)
			moved := cache.Messages("durable-1")
			So(len(moved), ShouldEqual, 1)
			So(moved[0].ConversationID, ShouldEqual, "durable-1")
		})

		Convey("未缓存会话的内容更新是 no-op", func() {
			cache.UpdateContent("missing", "m1", "x")
			So(cache.Messages("missing"), ShouldBeNil)
		})
	})
}
