// Package sqlite SQLite 数据库驱动
//
// 提供 SQLite 连接管理、方言实现和自动 Schema 迁移。
// 适用于本地开发、测试和单机部署。
package sqlite

import (
	"database/sql"
	"fmt"

	"map-agent/internal/shared/storage/dbutil"

	_ "modernc.org/sqlite"
)

// Dialect SQLite 方言实现
type Dialect struct{}

var _ dbutil.Dialect = (*Dialect)(nil)

func (d *Dialect) DriverType() dbutil.DriverType {
	return dbutil.DriverSQLite
}

func (d *Dialect) Rebind(query string) string {
	return dbutil.StripPgCasts(dbutil.RebindToQuestion(query))
}

func (d *Dialect) OnConflictDoNothing(conflictColumns ...string) string {
	return dbutil.OnConflictDoNothing(conflictColumns...)
}

func (d *Dialect) AutoMigrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// Open 创建 SQLite 数据库连接
// dsn 示例: "file:map-agent.db?cache=shared&mode=rwc" 或 ":memory:"
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// 内存库每个连接都是独立的数据库，限制为单连接
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return db, nil
}

// NewDialect 创建 SQLite 方言
func NewDialect() *Dialect {
	return &Dialect{}
}

// schema SQLite 完整建表语句（等价于 PostgreSQL 迁移文件）
const schema = `
-- maps
CREATE TABLE IF NOT EXISTS maps (
    map_id VARCHAR(12) PRIMARY KEY,
    owner_id VARCHAR(64) NOT NULL,
    title VARCHAR(200) NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    soft_deleted_at DATETIME,
    created_at DATETIME NOT NULL
);

-- layers
CREATE TABLE IF NOT EXISTS layers (
    layer_id VARCHAR(12) PRIMARY KEY,
    owner_id VARCHAR(64) NOT NULL,
    name VARCHAR(200) NOT NULL DEFAULT '',
    type VARCHAR(16) NOT NULL,
    s3_key TEXT NOT NULL DEFAULT '',
    size_bytes INTEGER NOT NULL DEFAULT 0,
    source_map_id VARCHAR(12),
    created_at DATETIME NOT NULL,
    last_edited DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_layers_owner ON layers(owner_id, created_at);

-- map_layers：地图可见图层（有序集合）
CREATE TABLE IF NOT EXISTS map_layers (
    map_id VARCHAR(12) NOT NULL REFERENCES maps(map_id),
    layer_id VARCHAR(12) NOT NULL REFERENCES layers(layer_id),
    attached_at DATETIME NOT NULL,
    PRIMARY KEY (map_id, layer_id)
);

-- chat_messages：只追加的消息日志
CREATE TABLE IF NOT EXISTS chat_messages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    map_id VARCHAR(12) NOT NULL,
    sender_id VARCHAR(64) NOT NULL,
    message_json TEXT NOT NULL,
    created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_messages_map ON chat_messages(map_id, created_at, id);

-- project_postgres_connections
CREATE TABLE IF NOT EXISTS project_postgres_connections (
    id VARCHAR(64) PRIMARY KEY,
    owner_id VARCHAR(64) NOT NULL,
    friendly_name VARCHAR(200) NOT NULL DEFAULT '',
    connection_uri TEXT NOT NULL,
    created_at DATETIME NOT NULL
);
`
