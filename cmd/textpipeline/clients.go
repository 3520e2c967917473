package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"text-pipeline/internal/component"
	"text-pipeline/internal/config"
	xerrors "text-pipeline/internal/errors"
	"text-pipeline/internal/llm"
	"text-pipeline/internal/llm/cache"
	"text-pipeline/internal/llm/dashscope"
	"text-pipeline/internal/llm/langchain"
	"text-pipeline/internal/llm/mock"
	"text-pipeline/internal/llm/openai"
	"text-pipeline/internal/pipeline"
	"text-pipeline/pkg/logger"
)

const retryBackoff = 500 * time.Millisecond

// mockHook 接收 createLLMClient 创建的底层 Mock 实例。
type mockHook func(*mock.Manager)

// createLLMClient 根据配置创建大模型客户端，并按需叠加重试、指标与 Redis 缓存。
// 返回的 cleanup 用于释放缓存连接。provider 为 mock 时依次调用 hooks。
func createLLMClient(ctx context.Context, cfg *config.Config, hooks ...mockHook) (llm.Client, func() error, error) {
	cleanup := func() error { return nil }
	lc := cfg.LLM

	var client llm.Client
	switch lc.Provider {
	case config.ProviderMock:
		m := mock.New(
			mock.WithDelay(time.Duration(lc.Mock.DelayMillis)*time.Millisecond),
			mock.WithMaxConcurrent(lc.Mock.MaxConcurrent),
		)
		for _, hook := range hooks {
			hook(m)
		}
		client = m
	case config.ProviderOpenAI, config.ProviderDashScope, config.ProviderLangChain:
		apiKey, err := lc.ResolveAPIKey()
		if err != nil {
			return nil, cleanup, err
		}
		client, err = newRemoteClient(lc, apiKey)
		if err != nil {
			return nil, cleanup, err
		}
		client = llm.WithRetry(client, lc.Retries+1, retryBackoff)
	default:
		return nil, cleanup, xerrors.New(xerrors.CodeInvalidArgument, "未知的大模型 provider: "+lc.Provider)
	}
	client = llm.Instrument(client, lc.Provider)

	if lc.Cache.Enabled {
		rdb := newRedisClient(cfg.Redis)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, cleanup, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接 Redis 缓存失败")
		}
		client = cache.Cached(client, cache.NewRedisStore(rdb),
			time.Duration(lc.Cache.TTLSeconds)*time.Second,
			cache.WithPrefix(lc.Cache.Prefix),
		)
		cleanup = rdb.Close
		logger.L().Info("已启用大模型响应缓存", slog.String("redis", cfg.Redis.Address), slog.Int("ttl_seconds", lc.Cache.TTLSeconds))
	}

	logger.L().Debug("大模型客户端就绪",
		slog.String("provider", lc.Provider),
		slog.String("model", lc.Model),
		slog.Int("retries", lc.Retries),
	)
	return client, cleanup, nil
}

func newRemoteClient(lc config.LLMConfig, apiKey string) (llm.Client, error) {
	switch lc.Provider {
	case config.ProviderDashScope:
		return dashscope.NewClient(dashscope.Config{
			APIKey:      apiKey,
			BaseURL:     lc.BaseURL,
			Model:       lc.Model,
			Timeout:     lc.Timeout(),
			Temperature: lc.Temperature,
			MaxTokens:   lc.MaxTokens,
		})
	case config.ProviderLangChain:
		return langchain.NewTongyi(langchain.Config{
			APIKey:      apiKey,
			BaseURL:     lc.BaseURL,
			Model:       lc.Model,
			Temperature: lc.Temperature,
			MaxTokens:   lc.MaxTokens,
		})
	default:
		return openai.NewClient(openai.Config{
			APIKey:      apiKey,
			BaseURL:     lc.BaseURL,
			Model:       lc.Model,
			Timeout:     lc.Timeout(),
			Temperature: lc.Temperature,
			MaxTokens:   lc.MaxTokens,
		})
	}
}

func newRedisClient(rc config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     rc.Address,
		Password: rc.Password,
		DB:       rc.DB,
	})
}

// buildComponents 按配置组装三个分析组件。
func buildComponents(cfg *config.Config, client llm.Client) pipeline.Components {
	var theoryOpts []component.TheoryOption
	if cfg.Pipeline.LLMTheory {
		theoryOpts = append(theoryOpts, component.WithTheoryAnalysis(client))
	}
	var tableOpts []component.TableOption
	if cfg.Pipeline.LLMTables {
		tableOpts = append(tableOpts, component.WithTableInterpretation(client))
	}
	return pipeline.Components{
		Theory: component.NewTheoryExtractor(theoryOpts...),
		Tables: component.NewTableExtractor(tableOpts...),
		Report: component.NewReportGenerator(client),
	}
}

func pipelineOptions(cfg *config.Config) []pipeline.Option {
	return []pipeline.Option{pipeline.WithStageTimeout(cfg.Pipeline.StageTimeout())}
}

func closeAll(fns ...func() error) error {
	var errs []error
	for _, fn := range fns {
		if fn != nil {
			errs = append(errs, fn())
		}
	}
	return errors.Join(errs...)
}

// releaseResources 在命令退出时释放资源，失败只记日志，不覆盖命令本身的结果。
func releaseResources(fns ...func() error) {
	if err := closeAll(fns...); err != nil {
		logger.L().Warn("释放资源失败", slog.Any("error", err))
	}
}
