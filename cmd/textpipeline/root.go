package main

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"text-pipeline/internal/config"
	xerrors "text-pipeline/internal/errors"
	"text-pipeline/pkg/logger"
)

const defaultEnvFile = ".env"

// app 保存所有子命令共享的运行时状态。
type app struct {
	cfg *config.Config
	out io.Writer
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		envFile    string
		provider   string
		logLevel   string
	)
	a := &app{}

	root := &cobra.Command{
		Use:           "textpipeline",
		Short:         "基于通义千问的文本分析管道",
		Long:          "使用 langchaingo 组合提示词模板与通义千问模型，提取理论框架与表格并生成分析报告。",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadEnv(envFile); err != nil {
				return err
			}
			if configPath == "" {
				configPath = os.Getenv("TEXTPIPELINE_CONFIG")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if provider != "" {
				cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(provider))
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if err := logger.Init(cfg.Logging); err != nil {
				return xerrors.Wrap(xerrors.CodeInitializationFailure, err, "初始化日志失败")
			}
			a.cfg = cfg
			a.out = cmd.OutOrStdout()
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = logger.Sync()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "配置文件路径（YAML 或 JSON），默认读取 TEXTPIPELINE_CONFIG")
	flags.StringVar(&envFile, "env-file", defaultEnvFile, "启动时加载的 .env 文件")
	flags.StringVarP(&provider, "provider", "p", "", "覆盖 llm.provider：openai、dashscope、langchain 或 mock")
	flags.StringVar(&logLevel, "log-level", "", "覆盖日志级别")

	root.AddCommand(
		newDemoCmd(a),
		newBenchCmd(a),
		newAskCmd(a),
		newAnalyzeCmd(a),
		newServeCmd(a),
		newSubmitCmd(a),
	)
	return root
}

// loadEnv 加载 .env；默认文件不存在时忽略，显式指定的文件必须存在。
func loadEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) && path == defaultEnvFile {
		return nil
	}
	return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "加载 .env 文件失败")
}
