// Package chain 使用 langchaingo 组合 "提示词模板 | 模型 | 字符串解析" 链路。
package chain

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"

	xerrors "text-pipeline/internal/errors"
	"text-pipeline/internal/llm"
)

// 演示程序使用的模板。
const (
	JokeTemplate = "请告诉我一个关于{{.topic}}的笑话，要求幽默有趣。"

	RoleStyleTemplate = "作为一个{{.role}}，请用{{.style}}的风格回答以下问题：\n\n" +
		"问题: {{.question}}\n\n" +
		"请确保回答简洁明了，不超过100字。"
)

// PromptChain 把模板渲染结果交给模型，并返回解析后的字符串。
type PromptChain struct {
	chain     *chains.LLMChain
	prompt    prompts.PromptTemplate
	variables []string
	options   []chains.ChainCallOption
}

// Option 定义 PromptChain 的可选配置。
type Option func(*PromptChain)

// WithCallOptions 为每次调用附加 langchaingo 调用参数，例如温度与最大 token 数。
func WithCallOptions(opts ...chains.ChainCallOption) Option {
	return func(c *PromptChain) {
		c.options = append(c.options, opts...)
	}
}

// New 使用任意 langchaingo 模型构建链路。
func New(model llms.Model, template string, variables []string, opts ...Option) *PromptChain {
	prompt := prompts.NewPromptTemplate(template, variables)
	c := &PromptChain{
		chain:     chains.NewLLMChain(model, prompt),
		prompt:    prompt,
		variables: append([]string(nil), variables...),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// FromClient 使用 llm.Client 构建链路。
func FromClient(client llm.Client, template string, variables []string, opts ...Option) *PromptChain {
	return New(llm.NewModel(client), template, variables, opts...)
}

// NewJoke 返回讲笑话的链路，需要变量 topic。
func NewJoke(client llm.Client) *PromptChain {
	return FromClient(client, JokeTemplate, []string{"topic"})
}

// NewRoleStyle 返回角色扮演问答链路，需要变量 role、style、question。
func NewRoleStyle(client llm.Client) *PromptChain {
	return FromClient(client, RoleStyleTemplate, []string{"role", "style", "question"})
}

// Variables 返回模板需要的变量名。
func (c *PromptChain) Variables() []string {
	return append([]string(nil), c.variables...)
}

// Invoke 渲染模板、调用模型并返回文本输出。
func (c *PromptChain) Invoke(ctx context.Context, values map[string]any) (string, error) {
	var missing []string
	for _, name := range c.variables {
		if _, ok := values[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return "", xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("缺少模板变量: %s", strings.Join(missing, ", ")))
	}

	out, err := chains.Call(ctx, c.chain, values, c.options...)
	if err != nil {
		return "", err
	}
	text, ok := out[c.chain.OutputKey].(string)
	if !ok {
		return "", xerrors.New(llm.CodeEmptyResponse, "链路输出不是字符串")
	}
	return text, nil
}

// Format 只渲染模板，不调用模型。
func (c *PromptChain) Format(values map[string]any) (string, error) {
	return c.prompt.Format(values)
}
