package task

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	xerrors "text-pipeline/internal/errors"
)

// DefaultRedisQueueKey 是 Redis 队列默认使用的 list 键。
const DefaultRedisQueueKey = "textpipeline:analyses"

// RedisQueue 使用 Redis list 实现任务队列：LPUSH 投递，BRPOP 消费。
type RedisQueue struct {
	client redis.UniversalClient
	key    string
	wait   time.Duration
	owned  bool
}

// RedisQueueOption 调整 RedisQueue。
type RedisQueueOption func(*RedisQueue)

// WithRedisKey 指定 list 键名。
func WithRedisKey(key string) RedisQueueOption {
	return func(q *RedisQueue) {
		if key != "" {
			q.key = key
		}
	}
}

// WithBlockWait 指定 BRPOP 的阻塞时长。
func WithBlockWait(wait time.Duration) RedisQueueOption {
	return func(q *RedisQueue) {
		if wait > 0 {
			q.wait = wait
		}
	}
}

// WithOwnedClient 让 Close 同时关闭底层连接。
func WithOwnedClient() RedisQueueOption {
	return func(q *RedisQueue) { q.owned = true }
}

// NewRedisQueue 基于已有的 Redis 客户端创建队列，并检查连通性。
func NewRedisQueue(ctx context.Context, client redis.UniversalClient, opts ...RedisQueueOption) (*RedisQueue, error) {
	if client == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "redis client 不能为空")
	}
	q := &RedisQueue{client: client, key: DefaultRedisQueueKey, wait: 5 * time.Second}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	return q, nil
}

// Publish 将任务投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, taskID string) error {
	if err := q.client.LPush(ctx, q.key, taskID).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布任务失败")
	}
	return nil
}

// Consume 通过 BRPOP 获取任务，任一协程遇到连接错误时整体返回。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		g.Go(func() error {
			for gctx.Err() == nil {
				values, err := q.client.BRPop(gctx, q.wait, q.key).Result()
				if err != nil {
					if errors.Is(err, redis.Nil) {
						continue
					}
					if gctx.Err() != nil {
						return nil
					}
					return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取任务失败")
				}
				if len(values) != 2 {
					continue
				}
				taskID := values[1]
				if handlerErr := handler(gctx, taskID); handlerErr != nil && gctx.Err() == nil {
					// 放回队尾，避免同一任务连续占用工作协程。
					_ = q.client.LPush(gctx, q.key, taskID).Err()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Close 在持有连接时关闭 Redis 客户端。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil || !q.owned {
		return nil
	}
	return q.client.Close()
}
