// Package config 负责加载文本分析管道的运行配置，支持 YAML 与 JSON 两种格式。
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"text-pipeline/internal/auth"
	xerrors "text-pipeline/internal/errors"
	"text-pipeline/internal/llm"
	"text-pipeline/pkg/logger"
)

// DefaultAPIKeyEnv 是默认读取 API Key 的环境变量。
const DefaultAPIKeyEnv = "DASHSCOPE_API_KEY"

// 支持的大模型调用方式。
const (
	ProviderOpenAI    = "openai"
	ProviderDashScope = "dashscope"
	ProviderLangChain = "langchain"
	ProviderMock      = "mock"
)

// Config 描述运行时需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	LLM      LLMConfig      `json:"llm" yaml:"llm"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Queue    QueueConfig    `json:"queue" yaml:"queue"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Logging  logger.Config  `json:"logging" yaml:"logging"`
}

// ServerConfig 控制 API 服务的监听地址与认证方式。
type ServerConfig struct {
	Address string      `json:"address" yaml:"address"`
	Auth    auth.Config `json:"auth" yaml:"auth"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider       string      `json:"provider" yaml:"provider"`
	APIKey         string      `json:"api_key" yaml:"api_key"`
	APIKeyEnv      string      `json:"api_key_env" yaml:"api_key_env"`
	BaseURL        string      `json:"base_url" yaml:"base_url"`
	Model          string      `json:"model" yaml:"model"`
	Temperature    float64     `json:"temperature" yaml:"temperature"`
	MaxTokens      int         `json:"max_tokens" yaml:"max_tokens"`
	TimeoutSeconds int         `json:"timeout_seconds" yaml:"timeout_seconds"`
	Retries        int         `json:"retries" yaml:"retries"`
	Cache          CacheConfig `json:"cache" yaml:"cache"`
	Mock           MockConfig  `json:"mock" yaml:"mock"`
}

// CacheConfig 控制基于 Redis 的响应缓存。
type CacheConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
	Prefix     string `json:"prefix" yaml:"prefix"`
}

// MockConfig 控制 Mock 大模型的模拟参数。
type MockConfig struct {
	DelayMillis   int `json:"delay_ms" yaml:"delay_ms"`
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"`
}

// PipelineConfig 控制分析管道的组合方式。
type PipelineConfig struct {
	Mode                string `json:"mode" yaml:"mode"`
	LLMTheory           bool   `json:"llm_theory" yaml:"llm_theory"`
	LLMTables           bool   `json:"llm_tables" yaml:"llm_tables"`
	StageTimeoutSeconds int    `json:"stage_timeout_seconds" yaml:"stage_timeout_seconds"`
}

// StorageConfig 描述分析任务的持久化方式。
type StorageConfig struct {
	Driver     string `json:"driver" yaml:"driver"`
	DSN        string `json:"dsn" yaml:"dsn"`
	MaxRetries int    `json:"max_retries" yaml:"max_retries"`
}

// QueueConfig 描述任务队列。
type QueueConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Workers  int            `json:"workers" yaml:"workers"`
	Redis    RedisQueue     `json:"redis" yaml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
}

// RedisQueue 为 Redis 队列的附加参数，连接信息复用 RedisConfig。
type RedisQueue struct {
	Key              string `json:"key" yaml:"key"`
	BlockWaitSeconds int    `json:"block_wait_seconds" yaml:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url"`
	Queue      string `json:"queue" yaml:"queue"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
}

// RedisConfig 是缓存与队列共用的 Redis 连接信息。
type RedisConfig struct {
	Address  string `json:"address" yaml:"address"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// Default 返回填充了默认值的配置。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(".")
	return cfg
}

// Load 解析指定路径的配置文件；路径为空时返回默认配置。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取配置文件失败")
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(content, &cfg)
	default:
		err = yaml.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析配置失败")
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Server.Auth.Mode == "" {
		c.Server.Auth.Mode = auth.ModeDisabled
	}
	c.Server.Auth.Mode = auth.Mode(strings.ToLower(strings.TrimSpace(string(c.Server.Auth.Mode))))

	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderOpenAI
	}
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.APIKeyEnv == "" {
		c.LLM.APIKeyEnv = DefaultAPIKeyEnv
	}
	if c.LLM.Model == "" {
		c.LLM.Model = llm.DefaultModel
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = llm.DefaultTemperature
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = llm.DefaultMaxTokens
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.LLM.Retries < 0 {
		c.LLM.Retries = 0
	}
	if c.LLM.Cache.TTLSeconds <= 0 {
		c.LLM.Cache.TTLSeconds = 3600
	}
	if c.LLM.Cache.Prefix == "" {
		c.LLM.Cache.Prefix = "textpipeline:llm:"
	}
	if c.LLM.Mock.DelayMillis <= 0 {
		c.LLM.Mock.DelayMillis = 100
	}
	if c.LLM.Mock.MaxConcurrent <= 0 {
		c.LLM.Mock.MaxConcurrent = 3
	}

	if c.Pipeline.Mode == "" {
		c.Pipeline.Mode = "parallel"
	}
	c.Pipeline.Mode = strings.ToLower(strings.TrimSpace(c.Pipeline.Mode))

	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.DSN == "" {
		c.Storage.DSN = filepath.Join(baseDir, "data", "analyses.db")
	}
	if c.Storage.MaxRetries <= 0 {
		c.Storage.MaxRetries = 3
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = 2
	}
	if c.Queue.Redis.Key == "" {
		c.Queue.Redis.Key = "textpipeline:analyses"
	}
	if c.Queue.Redis.BlockWaitSeconds <= 0 {
		c.Queue.Redis.BlockWaitSeconds = 5
	}
	if c.Queue.RabbitMQ.Queue == "" {
		c.Queue.RabbitMQ.Queue = "textpipeline.analyses"
	}

	for i, out := range c.Logging.OutputPaths {
		if isFilePath(out) && !filepath.IsAbs(out) {
			c.Logging.OutputPaths[i] = filepath.Join(baseDir, out)
		}
	}
}

// Validate 检查配置取值是否在支持范围内。
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderDashScope, ProviderLangChain, ProviderMock:
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的大模型 provider: %s", c.LLM.Provider))
	}
	switch c.Pipeline.Mode {
	case "serial", "parallel":
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的管道模式: %s", c.Pipeline.Mode))
	}
	switch c.Storage.Driver {
	case "memory", "mysql", "sqlite":
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的存储驱动: %s", c.Storage.Driver))
	}
	switch c.Queue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的队列驱动: %s", c.Queue.Driver))
	}
	switch c.Server.Auth.Mode {
	case auth.ModeDisabled, auth.ModeToken:
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的认证方式: %s", c.Server.Auth.Mode))
	}
	if c.LLM.Cache.Enabled && c.Redis.Address == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "启用响应缓存时必须配置 redis.address")
	}
	return nil
}

// ResolveAPIKey 返回显式配置的 API Key，否则读取 api_key_env 指定的环境变量。
func (l LLMConfig) ResolveAPIKey() (string, error) {
	if key := strings.TrimSpace(l.APIKey); key != "" {
		return key, nil
	}
	if key := strings.TrimSpace(os.Getenv(l.APIKeyEnv)); key != "" {
		return key, nil
	}
	return "", xerrors.New(xerrors.CodeMissingCredential, fmt.Sprintf("未设置环境变量 %s", l.APIKeyEnv))
}

// Timeout 返回单次调用大模型的超时时间。
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutSeconds) * time.Second
}

// StageTimeout 返回单个管道阶段的超时时间，0 表示不限制。
func (p PipelineConfig) StageTimeout() time.Duration {
	if p.StageTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(p.StageTimeoutSeconds) * time.Second
}

func isFilePath(out string) bool {
	switch strings.ToLower(strings.TrimSpace(out)) {
	case "", "stdout", "stderr":
		return false
	}
	return true
}
