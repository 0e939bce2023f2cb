// Package llm 模型服务契约
//
// 编排循环只依赖 Model 接口：输入系统提示词、完整消息回放与当前工具目录，
// 输出一条 assistant 载荷（文本和/或工具调用）。具体服务由适配器实现。
package llm

import (
	"context"
	"errors"

	"map-agent/internal/shared/model"
)

// ToolChoice 工具选择策略
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"
	ToolChoiceRequired ToolChoice = "required"
)

// ErrEmptyResponse 模型未返回任何候选
var ErrEmptyResponse = errors.New("model returned no choices")

// Request 一次模型调用的输入
type Request struct {
	System     string
	Messages   []model.Payload
	Tools      []model.ToolSpec
	ToolChoice ToolChoice
}

// Response 一次模型调用的输出
type Response struct {
	// Message 恒为 assistant 角色
	Message model.Payload
}

// Model 模型服务
type Model interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}
