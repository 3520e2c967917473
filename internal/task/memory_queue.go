package task

import (
	"context"
	"sync"
)

// MemoryQueue 使用 channel 模拟消息队列。
type MemoryQueue struct {
	ch        chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue 创建一个内存队列，size 为缓冲区长度。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size), done: make(chan struct{})}
}

// Publish 将任务投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return ErrQueueClosed
	case q.ch <- taskID:
		return nil
	}
}

// Consume 启动 workerCount 个协程消费任务。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.done:
					return
				case taskID := <-q.ch:
					if err := handler(ctx, taskID); err != nil && ctx.Err() == nil {
						q.requeue(taskID)
					}
				}
			}
		}()
	}
	select {
	case <-ctx.Done():
	case <-q.done:
	}
	wg.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrQueueClosed
}

func (q *MemoryQueue) requeue(taskID string) {
	select {
	case q.ch <- taskID:
	case <-q.done:
	default:
		// 缓冲区已满时丢弃，任务仍保持 pending 状态。
	}
}

// Close 关闭队列，消费协程随之退出。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
