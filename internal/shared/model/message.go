// Package model 定义核心数据模型
//
// message.go 包含会话消息相关的数据模型：
//   - Message：消息日志中的一条记录（数据库存储）
//   - Payload：消息载荷（user / assistant / tool / system 四种角色）
//   - ToolInvocation：模型发起的一次工具调用
package model

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Role - 消息角色
// ============================================================================

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"    // 系统指令（如 MapState 描述）
	RoleUser      Role = "user"      // 用户输入
	RoleAssistant Role = "assistant" // 模型回复（可携带工具调用）
	RoleTool      Role = "tool"      // 工具执行结果
)

// ============================================================================
// ToolInvocation - 工具调用
// ============================================================================

// ToolInvocation 模型在一次 assistant 回复中发起的工具调用
//
// 结构与 chat completions 协议保持一致，持久化后可直接回放给模型。
// ID 在同一条 assistant 消息内唯一，对应的 tool 消息通过 ToolCallID 引用。
type ToolInvocation struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"` // 固定为 "function"
	Function FunctionCall `json:"function"`
}

// FunctionCall 工具名称与参数
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // 模型输出的原始 JSON 字符串
}

// NewToolInvocation 创建 function 类型的工具调用
func NewToolInvocation(id, name, arguments string) ToolInvocation {
	return ToolInvocation{
		ID:   id,
		Type: "function",
		Function: FunctionCall{
			Name:      name,
			Arguments: arguments,
		},
	}
}

// ============================================================================
// Payload - 消息载荷
// ============================================================================

// Payload 消息载荷
//
// 四种形态：
//   - user：Role=user, Content
//   - assistant：Role=assistant, Content, ToolCalls（0..n）
//   - tool：Role=tool, ToolCallID, Content（ToolResult 的 JSON）
//   - system：Role=system, Content
type Payload struct {
	Role       Role             `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ToolInvocation `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

// UserPayload 创建用户消息载荷
func UserPayload(content string) Payload {
	return Payload{Role: RoleUser, Content: content}
}

// SystemPayload 创建系统指令载荷
func SystemPayload(content string) Payload {
	return Payload{Role: RoleSystem, Content: content}
}

// AssistantPayload 创建模型回复载荷
func AssistantPayload(content string, calls ...ToolInvocation) Payload {
	return Payload{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolPayload 创建工具结果载荷，内容为 ToolResult 的 JSON 编码
func ToolPayload(invocationID string, result ToolResult) Payload {
	data, err := json.Marshal(result)
	if err != nil {
		data, _ = json.Marshal(ErrorResult("failed to encode tool result: " + err.Error()))
	}
	return Payload{Role: RoleTool, ToolCallID: invocationID, Content: string(data)}
}

// HasToolCalls 是否携带工具调用
func (p Payload) HasToolCalls() bool {
	return len(p.ToolCalls) > 0
}

// UserVisible 是否属于对用户展示的会话记录
//
// 仅保留 user / assistant 角色，且 assistant 不携带待执行的工具调用。
func (p Payload) UserVisible() bool {
	switch p.Role {
	case RoleUser:
		return true
	case RoleAssistant:
		return !p.HasToolCalls()
	default:
		return false
	}
}

// ============================================================================
// Message - 消息日志记录（数据库存储）
// ============================================================================

// Message 消息日志中的一条记录
//
// 字段说明：
//   - ID：自增主键，由存储层分配
//   - MapID：所属地图
//   - SenderID：发送者（用户 ID 或 "assistant"）
//   - Payload：消息载荷
//   - CreatedAt：创建时间，由存储层分配
//
// 同一地图的消息按 (CreatedAt, ID) 全序排列，只追加，不修改也不删除。
type Message struct {
	ID        int64     `json:"id" db:"id"`
	MapID     string    `json:"map_id" db:"map_id"`
	SenderID  string    `json:"sender_id" db:"sender_id"`
	Payload   Payload   `json:"message_json" db:"message_json"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// SenderAssistant assistant 消息使用的发送者标识
const SenderAssistant = "assistant"

// FilterUserVisible 过滤出对用户可见的消息，保持原有顺序
func FilterUserVisible(messages []*Message) []*Message {
	visible := make([]*Message, 0, len(messages))
	for _, m := range messages {
		if m.Payload.UserVisible() {
			visible = append(visible, m)
		}
	}
	return visible
}
