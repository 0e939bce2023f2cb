package infra

import (
	"database/sql"
	"fmt"
	"log"
	"strings"

	"map-agent/deployments"
	"map-agent/internal/config"
	"map-agent/internal/shared/storage"
	"map-agent/internal/shared/storage/dbutil"
	"map-agent/internal/shared/storage/driver/postgres"
	"map-agent/internal/shared/storage/driver/sqlite"
	"map-agent/internal/shared/storage/repository"
)

// OpenStorage 按驱动类型打开持久化存储
//
// SQLite 每次启动执行内置 schema；PostgreSQL 仅在 auto_migrate 开启时执行 init-db.sql。
func OpenStorage(cfg *config.Config) (storage.PersistentStore, error) {
	var (
		db      *sql.DB
		dialect dbutil.Dialect
		err     error
	)

	switch cfg.DatabaseDriver {
	case "postgres":
		db, err = postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		dialect = postgres.NewDialect()
		if cfg.AutoMigrate {
			if _, err := db.Exec(deployments.InitDBSQL); err != nil {
				db.Close()
				return nil, fmt.Errorf("apply init-db.sql: %w", err)
			}
			log.Printf("[infra.storage.migrated] driver=postgres")
		}
	default:
		db, err = sqlite.Open(sqliteDSN(cfg.DatabaseURL))
		if err != nil {
			return nil, err
		}
		dialect = sqlite.NewDialect()
		if err := dialect.AutoMigrate(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite auto migrate: %w", err)
		}
	}

	log.Printf("[infra.storage.opened] driver=%s", dialect.DriverType())
	return repository.NewStore(db, dialect), nil
}

// sqliteDSN 去掉 sqlite:// 前缀，其余原样交给驱动
func sqliteDSN(url string) string {
	return strings.TrimPrefix(url, "sqlite://")
}
