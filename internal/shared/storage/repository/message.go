// Package repository 消息日志相关的存储操作
package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"map-agent/internal/shared/model"
)

// AppendMessage 追加一条消息
//
// 载荷按 JSON 序列化存储，不做语义校验；ID 和创建时间由存储层分配。
func (s *Store) AppendMessage(ctx context.Context, mapID, senderID string, payload model.Payload) (*model.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal message payload: %w", err)
	}

	msg := &model.Message{
		MapID:     mapID,
		SenderID:  senderID,
		Payload:   payload,
		CreatedAt: s.now(),
	}

	query := s.rebind(`INSERT INTO chat_messages (map_id, sender_id, message_json, created_at)
		VALUES ($1, $2, $3, $4) RETURNING id`)
	if err := s.db.QueryRowContext(ctx, query, mapID, senderID, string(data), msg.CreatedAt).Scan(&msg.ID); err != nil {
		return nil, fmt.Errorf("append message for map %s: %w", mapID, translateError(err))
	}
	return msg, nil
}

// ListMessages 按时间顺序返回地图的全部消息
func (s *Store) ListMessages(ctx context.Context, mapID string) ([]*model.Message, error) {
	query := s.rebind(`SELECT id, map_id, sender_id, message_json, created_at
		FROM chat_messages WHERE map_id = $1 ORDER BY created_at ASC, id ASC`)
	rows, err := s.db.QueryContext(ctx, query, mapID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []*model.Message
	for rows.Next() {
		m := &model.Message{}
		var raw string
		if err := rows.Scan(&m.ID, &m.MapID, &m.SenderID, &raw, &m.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &m.Payload); err != nil {
			return nil, fmt.Errorf("decode message %d: %w", m.ID, err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListUserVisibleMessages 返回对用户展示的会话记录
func (s *Store) ListUserVisibleMessages(ctx context.Context, mapID string) ([]*model.Message, error) {
	messages, err := s.ListMessages(ctx, mapID)
	if err != nil {
		return nil, err
	}
	return model.FilterUserVisible(messages), nil
}
