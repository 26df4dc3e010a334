package chat

import (
	"context"
	"sync"

	"pomelo/internal/model"
)

// Job 一次发送任务
// 会话 ID 还是临时 ID 时任务进入 PendingQueue，持久 ID 到位后按入队顺序回放
type Job struct {
	UserID      string
	Text        string
	ModelID     string
	Attachments []*model.Attachment
	OnChunk     func(model.ChatChunk)

	done   chan struct{}
	result *model.SendMessageResponse
	err    error
}

func newJob(userID, text, modelID string, atts []*model.Attachment, onChunk func(model.ChatChunk)) *Job {
	return &Job{
		UserID:      userID,
		Text:        text,
		ModelID:     modelID,
		Attachments: atts,
		OnChunk:     onChunk,
		done:        make(chan struct{}),
	}
}

func (j *Job) finish(res *model.SendMessageResponse, err error) {
	j.result = res
	j.err = err
	close(j.done)
}

// Wait 阻塞到任务完成
func (j *Job) Wait(ctx context.Context) (*model.SendMessageResponse, error) {
	select {
	case <-j.done:
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// PendingQueue 会话落库前的待发队列
// FIFO 回放：每个任务的转录快照假定前序任务都已落库，必须串行执行
// settled/draining 和入队共用一把锁，迟到的 Enqueue 要么赶上本轮回放，
// 要么拿到持久 ID 改走直接执行，任务不会滞留在队列里
type PendingQueue struct {
	mu       sync.Mutex
	jobs     []*Job
	settled  string // 回放开始后记录的持久 ID
	draining bool
}

// NewPendingQueue 创建待发队列
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{}
}

// Enqueue 入队
// 返回 false 表示持久 ID 已就绪且回放已经结束，任务没有入队，
// 调用方拿第二个返回值里的持久 ID 直接交给管线执行
func (q *PendingQueue) Enqueue(job *Job) (bool, string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.settled != "" && !q.draining {
		return false, q.settled
	}
	q.jobs = append(q.jobs, job)
	return true, ""
}

// Len 当前排队任务数
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Reset 新的会话创建窗口开始前清掉上一轮的回放标记
func (q *PendingQueue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.settled = ""
	q.draining = false
}

// Drain 持久 ID 到位后按序回放全部排队任务
// 同一个创建窗口只会触发一次回放；回放期间新入队的任务在本轮末尾继续处理
func (q *PendingQueue) Drain(ctx context.Context, durableID string, run func(ctx context.Context, convID string, job *Job)) {
	q.mu.Lock()
	if q.settled != "" {
		q.mu.Unlock()
		return
	}
	q.settled = durableID
	q.draining = true
	q.mu.Unlock()

	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			// 结束判定和出队同锁：此后入队的任务由 Enqueue 拒收并直接执行
			q.draining = false
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		// 串行执行，保证后一个任务的转录包含前一个任务的消息
		run(ctx, durableID, job)
	}
}

// FailAll 会话创建失败时结束所有排队任务
func (q *PendingQueue) FailAll(err error) {
	q.mu.Lock()
	jobs := q.jobs
	q.jobs = nil
	q.mu.Unlock()

	for _, job := range jobs {
		job.finish(nil, err)
	}
}
