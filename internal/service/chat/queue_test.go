package chat

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestPendingQueue(t *testing.T) {
	Convey("PendingQueue 回放语义", t, func() {
		ctx := context.Background()

		Convey("按入队顺序串行回放", func() {
			q := NewPendingQueue()
			q.Enqueue(newJob("u1", "First queued", "m", nil, nil))
			q.Enqueue(newJob("u1", "Second queued", "m", nil, nil))

			var order []string
			q.Drain(ctx, "conv-1", func(ctx context.Context, convID string, job *Job) {
				order = append(order, job.Text)
				job.finish(nil, nil)
			})

			So(order, ShouldResemble, []string{"First queued", "Second queued"})
			So(q.Len(), ShouldEqual, 0)
		})

		Convey("同一创建窗口只触发一次回放", func() {
			q := NewPendingQueue()
			q.Enqueue(newJob("u1", "only", "m", nil, nil))

			runs := 0
			run := func(ctx context.Context, convID string, job *Job) {
				runs++
				job.finish(nil, nil)
			}
			q.Drain(ctx, "conv-1", run)
			q.Drain(ctx, "conv-1", run)

			So(runs, ShouldEqual, 1)
		})

		Convey("回放结束后入队被拒收并交回持久 ID", func() {
			q := NewPendingQueue()
			q.Drain(ctx, "conv-1", func(ctx context.Context, convID string, job *Job) {
				job.finish(nil, nil)
			})

			ok, durable := q.Enqueue(newJob("u1", "late", "m", nil, nil))
			So(ok, ShouldBeFalse)
			So(durable, ShouldEqual, "conv-1")
			So(q.Len(), ShouldEqual, 0)
		})

		Convey("Reset 后的新窗口重新接受入队和回放", func() {
			q := NewPendingQueue()
			q.Drain(ctx, "conv-1", func(ctx context.Context, convID string, job *Job) {
				job.finish(nil, nil)
			})
			q.Reset()

			ok, _ := q.Enqueue(newJob("u1", "next window", "m", nil, nil))
			So(ok, ShouldBeTrue)

			var got []string
			q.Drain(ctx, "conv-2", func(ctx context.Context, convID string, job *Job) {
				got = append(got, convID+"/"+job.Text)
				job.finish(nil, nil)
			})
			So(got, ShouldResemble, []string{"conv-2/next window"})
		})

		Convey("回放期间入队的任务在本轮末尾处理", func() {
			q := NewPendingQueue()
			q.Enqueue(newJob("u1", "a", "m", nil, nil))

			var order []string
			q.Drain(ctx, "conv-1", func(ctx context.Context, convID string, job *Job) {
				order = append(order, job.Text)
				if job.Text == "a" {
					q.Enqueue(newJob("u1", "b", "m", nil, nil))
				}
				job.finish(nil, nil)
			})

			So(order, ShouldResemble, []string{"a", "b"})
		})

		Convey("FailAll 以同一错误结束全部排队任务", func() {
			q := NewPendingQueue()
			j1 := newJob("u1", "a", "m", nil, nil)
			j2 := newJob("u1", "b", "m", nil, nil)
			q.Enqueue(j1)
			q.Enqueue(j2)

			cause := errors.New("conversation create failed")
			q.FailAll(cause)

			_, err1 := j1.Wait(ctx)
			_, err2 := j2.Wait(ctx)
			So(err1, ShouldEqual, cause)
			So(err2, ShouldEqual, cause)
			So(q.Len(), ShouldEqual, 0)
		})
	})
}
