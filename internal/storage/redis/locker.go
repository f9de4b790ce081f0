package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"contract-deployer/internal/deployment"
	xerrors "contract-deployer/internal/errors"
)

const defaultPollInterval = 200 * time.Millisecond

// releaseScript 只在持有者匹配时删除锁。
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Client 是 Locker 依赖的 Redis 命令子集，*goredis.Client 满足该接口。
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
	goredis.Scripter
}

// Locker 以 SET NX PX 实现带过期时间的互斥锁。
type Locker struct {
	client       Client
	prefix       string
	ttl          time.Duration
	pollInterval time.Duration
}

var _ deployment.Locker = (*Locker)(nil)

// Option 自定义 Locker。
type Option func(*Locker)

// WithPrefix 设置键前缀。
func WithPrefix(prefix string) Option {
	return func(l *Locker) {
		l.prefix = prefix
	}
}

// WithPollInterval 设置锁被占用时的重试间隔。
func WithPollInterval(interval time.Duration) Option {
	return func(l *Locker) {
		if interval > 0 {
			l.pollInterval = interval
		}
	}
}

// NewLocker 创建分布式锁，ttl 必须为正数。
func NewLocker(client Client, ttl time.Duration, opts ...Option) (*Locker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client 不能为空")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("锁过期时间必须大于 0")
	}
	l := &Locker{client: client, prefix: "contract-deployer:", ttl: ttl, pollInterval: defaultPollInterval}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Dial 连接 Redis 并返回 Locker 与底层客户端。
func Dial(ctx context.Context, address, password string, db int, ttl time.Duration, opts ...Option) (*Locker, *goredis.Client, error) {
	if strings.TrimSpace(address) == "" {
		return nil, nil, fmt.Errorf("Redis 地址不能为空")
	}
	client := goredis.NewClient(&goredis.Options{Addr: address, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("无法连接到 Redis: %w", err)
	}
	locker, err := NewLocker(client, ttl, opts...)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return locker, client, nil
}

// Lock 轮询直到获得锁或 ctx 结束。
func (l *Locker) Lock(ctx context.Context, key string) (deployment.Unlock, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()
	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取 Redis 锁失败",
				xerrors.WithMetadata("key", key))
		}
		if ok {
			return l.unlocker(fullKey, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locker) unlocker(key, token string) deployment.Unlock {
	var (
		once sync.Once
		err  error
	)
	return func(ctx context.Context) error {
		once.Do(func() {
			released, runErr := releaseScript.Run(ctx, l.client, []string{key}, token).Int64()
			if runErr != nil {
				err = xerrors.Wrap(xerrors.CodeStorageFailure, runErr, "释放 Redis 锁失败")
				return
			}
			if released == 0 {
				err = xerrors.New(xerrors.CodeConflict, "锁已过期或被其他进程持有",
					xerrors.WithMetadata("key", key))
			}
		})
		return err
	}
}
