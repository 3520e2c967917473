// Package component 实现理论提取、表格提取与报告生成三个分析步骤。
package component

// Type 标识结果来自哪个步骤。
type Type string

const (
	TypeTheory Type = "theory_framework"
	TypeTable  Type = "table_data"
	TypeReport Type = "report"
)

// Status 表示步骤执行状态。
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
)

// Result 是每个步骤统一的返回结构。
type Result[T any] struct {
	Type     Type           `json:"type"`
	Content  T              `json:"content"`
	Status   Status         `json:"status"`
	Summary  string         `json:"summary"`
	Metadata map[string]int `json:"metadata"`
}
