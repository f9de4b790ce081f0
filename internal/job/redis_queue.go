package job

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "contract-deployer/internal/errors"
)

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
	// PollInterval 控制延迟集合的扫描周期。
	PollInterval time.Duration
}

// RedisQueue 由一个就绪 list 与一个按 NotBefore 排序的延迟 zset 组成，
// 多个部署进程可以共享同一组 key。
type RedisQueue struct {
	client  *redis.Client
	ready   string
	delayed string
	wait    time.Duration
	poll    time.Duration
}

var _ Queue = (*RedisQueue)(nil)

// promoteScript 把到期的延迟消息原子地移入就绪 list。
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, body in ipairs(due) do
  redis.call('ZREM', KEYS[1], body)
  redis.call('LPUSH', KEYS[2], body)
end
return #due
`)

// NewRedisQueue 连接 Redis 并创建队列。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis 队列地址不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 队列失败")
	}
	return newRedisQueue(client, cfg), nil
}

func newRedisQueue(client *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	name := cfg.Queue
	if name == "" {
		name = "contract-deployer:jobs"
	}
	q := &RedisQueue{
		client:  client,
		ready:   name,
		delayed: name + ":delayed",
		wait:    cfg.BlockWait,
		poll:    cfg.PollInterval,
	}
	if q.wait <= 0 {
		q.wait = 5 * time.Second
	}
	if q.poll <= 0 {
		q.poll = time.Second
	}
	return q
}

// Publish 写入就绪 list；带 NotBefore 的消息进入延迟 zset。
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	body, err := encodeMessage(msg)
	if err != nil {
		return err
	}
	if msg.Delay(time.Now()) > 0 {
		member := redis.Z{Score: float64(msg.NotBefore.UnixMilli()), Member: body}
		if err := q.client.ZAdd(ctx, q.delayed, member).Err(); err != nil {
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "写入 Redis 延迟队列失败")
		}
		return nil
	}
	if err := q.client.LPush(ctx, q.ready, body).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "写入 Redis 队列失败")
	}
	return nil
}

func (q *RedisQueue) promote(ctx context.Context, now time.Time) (int64, error) {
	keys := []string{q.delayed, q.ready}
	return promoteScript.Run(ctx, q.client, keys, strconv.FormatInt(now.UnixMilli(), 10), 100).Int64()
}

// Consume 通过 BRPOP 取出消息。处理失败的消息不会回推，
// 重试由 Processor 以新的信封重新发布。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount+1)
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(q.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := q.promote(ctx, time.Now()); err != nil && ctx.Err() == nil && !errors.Is(err, redis.ErrClosed) {
					errCh <- xerrors.Wrap(xerrors.CodeQueueFailure, err, "迁移 Redis 延迟消息失败")
					return
				}
			}
		}
	}()

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				values, err := q.client.BRPop(ctx, q.wait, q.ready).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if ctx.Err() != nil || errors.Is(err, redis.ErrClosed) {
						return
					}
					errCh <- xerrors.Wrap(xerrors.CodeQueueFailure, err, "从 Redis 取作业失败")
					return
				}
				if len(values) != 2 {
					continue
				}
				msg, err := decodeMessage([]byte(values[1]))
				if err != nil {
					continue
				}
				_ = handler(ctx, msg)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}
	wg.Wait()
	return err
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
