// Package sample 提供演示使用的示例文档。
package sample

import (
	_ "embed"
	"errors"
	"io/fs"
	"os"
	"strings"

	xerrors "text-pipeline/internal/errors"
)

var (
	//go:embed sample_data.md
	full string

	//go:embed simple_data.md
	simple string
)

// Full 返回包含理论说明与两个表格的完整示例。
func Full() string {
	return full
}

// Simple 返回简化示例。
func Simple() string {
	return simple
}

// Load 读取指定文件；路径为空或文件不存在时回退到完整示例。
func Load(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return full, nil
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return full, nil
	}
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取示例文件失败")
	}
	return string(content), nil
}
