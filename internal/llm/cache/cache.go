// Package cache 为大模型调用提供基于 Redis 的响应缓存。
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"text-pipeline/internal/llm"
	"text-pipeline/pkg/logger"
)

const defaultPrefix = "textpipeline:llm:"

// Store 抽象缓存的读写。
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// RedisStore 使用 Redis 保存缓存内容。
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore 创建 Redis 缓存。
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get 读取缓存，未命中时返回 false。
func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set 写入缓存。
func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

type cachedClient struct {
	next   llm.Client
	store  Store
	ttl    time.Duration
	prefix string
}

// Option 定义缓存的可选配置。
type Option func(*cachedClient)

// WithPrefix 设置缓存键前缀。
func WithPrefix(prefix string) Option {
	return func(c *cachedClient) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// Cached 在 client 外包裹一层缓存，缓存读写失败时直接调用下游。
func Cached(client llm.Client, store Store, ttl time.Duration, opts ...Option) llm.Client {
	c := &cachedClient{next: client, store: store, ttl: ttl, prefix: defaultPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

func (c *cachedClient) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	key := c.prefix + Key(req)
	log := logger.Named("llm.cache")

	if text, ok, err := c.store.Get(ctx, key); err != nil {
		log.Warn("读取缓存失败", "key", key, "error", err)
	} else if ok {
		log.Debug("命中缓存", "key", key)
		return &llm.Response{Text: text, Model: req.Model}, nil
	}

	resp, err := c.next.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := c.store.Set(ctx, key, resp.Text, c.ttl); err != nil {
		log.Warn("写入缓存失败", "key", key, "error", err)
	}
	return resp, nil
}

// Key 根据请求的全部参数计算缓存键。
func Key(req llm.Request) string {
	h := sha256.New()
	for _, part := range []string{
		req.Model,
		req.System,
		req.Prompt,
		strconv.FormatFloat(req.Temperature, 'f', -1, 64),
		fmt.Sprintf("%d", req.MaxTokens),
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
