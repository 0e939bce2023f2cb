// Package repository PostGIS 连接相关的存储操作
package repository

import (
	"context"

	"map-agent/internal/shared/model"
)

// CreatePostgresConnection 注册 PostGIS 连接
func (s *Store) CreatePostgresConnection(ctx context.Context, conn *model.PostgresConnection) error {
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = s.now()
	}
	query := s.rebind(`INSERT INTO project_postgres_connections (id, owner_id, friendly_name, connection_uri, created_at)
		VALUES ($1, $2, $3, $4, $5)`)
	_, err := s.db.ExecContext(ctx, query, conn.ID, conn.OwnerID, conn.FriendlyName, conn.ConnectionURI, conn.CreatedAt)
	return translateError(err)
}

// GetPostgresConnection 获取属于 ownerID 的 PostGIS 连接
func (s *Store) GetPostgresConnection(ctx context.Context, id, ownerID string) (*model.PostgresConnection, error) {
	query := s.rebind(`SELECT id, owner_id, friendly_name, connection_uri, created_at
		FROM project_postgres_connections WHERE id = $1 AND owner_id = $2`)
	c := &model.PostgresConnection{}
	err := s.db.QueryRowContext(ctx, query, id, ownerID).Scan(&c.ID, &c.OwnerID, &c.FriendlyName, &c.ConnectionURI, &c.CreatedAt)
	if err != nil {
		return nil, translateError(err)
	}
	return c, nil
}

// ListPostgresConnections 列出用户的 PostGIS 连接，按名称排序
func (s *Store) ListPostgresConnections(ctx context.Context, ownerID string) ([]*model.PostgresConnection, error) {
	query := s.rebind(`SELECT id, owner_id, friendly_name, connection_uri, created_at
		FROM project_postgres_connections WHERE owner_id = $1 ORDER BY friendly_name, id`)
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	var conns []*model.PostgresConnection
	for rows.Next() {
		c := &model.PostgresConnection{}
		if err := rows.Scan(&c.ID, &c.OwnerID, &c.FriendlyName, &c.ConnectionURI, &c.CreatedAt); err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}
