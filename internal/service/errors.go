// Package service 包含了应用的业务逻辑层。
package service

import "errors"

// 检索路径上的哨兵错误。
// 命中缺少定位元数据、文章分块已被删除之类的数据不一致只会让单个命中被
// 跳过，不会以错误形式出现；只有完全不可达的后端才向调用方抛硬错误。
var (
	// ErrInvalidQuery 表示查询在发起任何 I/O 之前就被拒绝（例如为空）。
	ErrInvalidQuery = errors.New("invalid query")

	// ErrBackendUnavailable 表示向量索引或分块存储不可达。
	ErrBackendUnavailable = errors.New("backend unavailable")
)
