package job

import (
	"context"
	"sync"
	"time"

	xerrors "contract-deployer/internal/errors"
)

// MemoryQueue 是进程内队列，延迟消息由定时器在到期后放入缓冲区。
type MemoryQueue struct {
	mu      sync.Mutex
	ready   chan Message
	pending map[*time.Timer]struct{}
	closed  bool
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue 创建容量为 size 的内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		ready:   make(chan Message, size),
		pending: make(map[*time.Timer]struct{}),
	}
}

// Publish 投递消息；缓冲区满时阻塞直到 ctx 结束。
func (q *MemoryQueue) Publish(ctx context.Context, msg Message) error {
	if msg.JobID == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "队列消息缺少 job_id")
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now().UTC()
	}
	if delay := msg.Delay(time.Now()); delay > 0 {
		return q.schedule(msg, delay)
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	}
	// 非阻塞尝试放在锁内，避免与 Close 竞争关闭 channel。
	select {
	case q.ready <- msg:
		q.mu.Unlock()
		return nil
	default:
	}
	q.mu.Unlock()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if ok, err := q.tryPush(msg); ok || err != nil {
				return err
			}
		}
	}
}

func (q *MemoryQueue) tryPush(msg Message) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	}
	select {
	case q.ready <- msg:
		return true, nil
	default:
		return false, nil
	}
}

func (q *MemoryQueue) schedule(msg Message, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		delete(q.pending, timer)
		q.mu.Unlock()
		msg.NotBefore = time.Time{}
		_ = q.Publish(context.Background(), msg)
	})
	q.pending[timer] = struct{}{}
	return nil
}

// Len 返回已就绪且未被消费的消息数量。
func (q *MemoryQueue) Len() int {
	return len(q.ready)
}

// Consume 启动 workerCount 个协程消费消息，直到 ctx 结束或队列关闭。
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
				case msg, ok := <-q.ready:
					if !ok {
						return
					}
					_ = handler(ctx, msg)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close 关闭队列并丢弃尚未到期的延迟消息。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	for timer := range q.pending {
		timer.Stop()
	}
	q.pending = nil
	q.closed = true
	close(q.ready)
	return nil
}
