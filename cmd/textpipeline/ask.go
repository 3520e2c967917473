package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"text-pipeline/internal/chain"
	"text-pipeline/internal/llm"
)

const (
	defaultQuestion     = "你好，请简单介绍一下你自己"
	defaultJokeTopic    = "编程"
	defaultRole         = "资深程序员"
	defaultStyle        = "幽默诙谐"
	defaultRoleQuestion = "为什么程序员喜欢用黑色主题的IDE？"
	langchainQuestion   = "请用一句话介绍什么是LangChain"
)

func newAskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "直接调用大模型",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				prompt = defaultQuestion
			}
			client, cleanup, err := createLLMClient(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer releaseResources(cleanup)
			text, err := llm.Complete(cmd.Context(), client, prompt)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, text)
			return nil
		},
	}
	cmd.AddCommand(newJokeCmd(a), newRoleCmd(a), newExamplesCmd(a))
	return cmd
}

func newJokeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "joke [topic]",
		Short: "通过提示词链讲一个笑话",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := defaultJokeTopic
			if len(args) == 1 {
				topic = args[0]
			}
			client, cleanup, err := createLLMClient(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer releaseResources(cleanup)
			text, err := chain.NewJoke(client).Invoke(cmd.Context(), map[string]any{"topic": topic})
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, text)
			return nil
		},
	}
}

func newRoleCmd(a *app) *cobra.Command {
	var role, style string
	cmd := &cobra.Command{
		Use:   "role [question]",
		Short: "以指定角色和风格回答问题",
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				question = defaultRoleQuestion
			}
			client, cleanup, err := createLLMClient(cmd.Context(), a.cfg)
			if err != nil {
				return err
			}
			defer releaseResources(cleanup)
			text, err := chain.NewRoleStyle(client).Invoke(cmd.Context(), map[string]any{
				"role":     role,
				"style":    style,
				"question": question,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, text)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", defaultRole, "回答者的角色")
	cmd.Flags().StringVar(&style, "style", defaultStyle, "回答风格")
	return cmd
}

// newExamplesCmd 依次运行四个链式调用示例。
func newExamplesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "examples",
		Short: "依次运行链式调用示例",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			client, cleanup, err := createLLMClient(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer releaseResources(cleanup)

			joke := chain.NewJoke(client)
			examples := []struct {
				title string
				run   func() (string, error)
			}{
				{"示例1: 编程笑话", func() (string, error) {
					return joke.Invoke(ctx, map[string]any{"topic": "编程"})
				}},
				{"示例2: 人工智能笑话", func() (string, error) {
					return joke.Invoke(ctx, map[string]any{"topic": "人工智能"})
				}},
				{"示例3: 复杂提示模板", func() (string, error) {
					return chain.NewRoleStyle(client).Invoke(ctx, map[string]any{
						"role":     defaultRole,
						"style":    defaultStyle,
						"question": defaultRoleQuestion,
					})
				}},
				{"示例4: 直接调用", func() (string, error) {
					return llm.Complete(ctx, client, langchainQuestion)
				}},
			}
			for _, ex := range examples {
				fmt.Fprintf(a.out, "=== %s ===\n", ex.title)
				text, err := ex.run()
				if err != nil {
					return err
				}
				fmt.Fprintln(a.out, text)
				fmt.Fprintln(a.out, "\n"+strings.Repeat("=", 50)+"\n")
			}
			return nil
		},
	}
}
