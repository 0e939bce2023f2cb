// Package storage 定义存储层领域错误
//
// 这些错误用于隔离业务层与底层存储引擎的错误类型，
// repository 负责将 sql.ErrNoRows 等底层错误转换为这些领域错误。
package storage

import "errors"

var (
	// ErrNotFound 实体不存在（或不属于调用方）
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate 唯一键冲突（INSERT 重复 ID）
	ErrDuplicate = errors.New("duplicate: entity already exists")
)
