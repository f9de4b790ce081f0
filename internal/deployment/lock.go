package deployment

import (
	"context"
	"sync"
)

// Unlock 释放一把已获得的锁。
type Unlock func(ctx context.Context) error

// Locker 提供按 key 的互斥，用于串行化同一合约的部署。
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

// LockKey 返回 (task, network, contract) 的锁名。
func LockKey(task, network, contract string) string {
	return "deploy:" + task + ":" + network + ":" + contract
}

// MemoryLocker 是进程内的 Locker。
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewMemoryLocker 创建内存锁。
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]chan struct{})}
}

// Lock 阻塞直到获得 key 对应的锁或 ctx 结束。
func (l *MemoryLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	for {
		l.mu.Lock()
		held, ok := l.locks[key]
		if !ok {
			released := make(chan struct{})
			l.locks[key] = released
			l.mu.Unlock()

			var once sync.Once
			return func(context.Context) error {
				once.Do(func() {
					l.mu.Lock()
					delete(l.locks, key)
					l.mu.Unlock()
					close(released)
				})
				return nil
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-held:
		}
	}
}
