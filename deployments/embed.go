// Package deployments 嵌入部署相关文件到二进制
package deployments

import (
	_ "embed"
)

// InitDBSQL PostgreSQL 全量建表脚本（database.auto_migrate 开启时启动执行）
//
//go:embed init-db.sql
var InitDBSQL string
