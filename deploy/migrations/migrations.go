// Package migrations 按数据库方言暴露 analysis_tasks 的 SQL 迁移文件。
package migrations

import "embed"

// Files 按方言分目录存放迁移，文件名以版本号开头。
//
//go:embed mysql/*.sql sqlite/*.sql
var Files embed.FS
