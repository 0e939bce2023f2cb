// Package tools 工具目录与调用边界
//
// 每一轮编排都通过 Registry.Build 重新生成一份不可变的 Catalog：
// 工具的可见性与参数（例如可挂载图层的枚举）取决于当前地图状态。
// 工具失败以错误结果的形式返回给模型，不中断编排循环；
// 只有调用了目录之外的工具才属于协议违规（ErrUnknownTool）。
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"map-agent/internal/shared/model"
)

// ErrUnknownTool 模型调用了目录中不存在的工具
var ErrUnknownTool = errors.New("unknown tool")

// Call 一次工具调用的上下文
type Call struct {
	MapID        string
	UserID       string
	InvocationID string
	Args         json.RawMessage
}

// Decode 解析调用参数
func (c Call) Decode(v any) error {
	args := c.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if err := json.Unmarshal(args, v); err != nil {
		return c.Errorf("invalid arguments: %v", err)
	}
	return nil
}

// Errorf 创建与本次调用关联的 InvocationError
func (c Call) Errorf(format string, args ...any) *InvocationError {
	return &InvocationError{InvocationID: c.InvocationID, Message: fmt.Sprintf(format, args...)}
}

// Tool 可被模型调用的工具
type Tool interface {
	Spec() model.ToolSpec
	// Execute 执行工具。返回 error 时由 Dispatch 转换为错误结果。
	Execute(ctx context.Context, call Call) (model.ToolResult, error)
}

// Func 以函数实现的 Tool
type Func struct {
	ToolSpec model.ToolSpec
	Fn       func(ctx context.Context, call Call) (model.ToolResult, error)
}

// Spec 返回工具描述
func (f *Func) Spec() model.ToolSpec { return f.ToolSpec }

// Execute 执行工具
func (f *Func) Execute(ctx context.Context, call Call) (model.ToolResult, error) {
	return f.Fn(ctx, call)
}

// ============================================================================
// InvocationError
// ============================================================================

// InvocationError 可恢复的工具调用失败
//
// 错误信息原样返回给模型，模型可据此修正参数后重试。
type InvocationError struct {
	InvocationID string
	Message      string
	Err          error
}

func (e *InvocationError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// ============================================================================
// Dispatch
// ============================================================================

// Dispatch 调用工具并保证总是得到一个结果
//
// InvocationError 与其他错误都转换为错误结果，panic 被恢复并转换为错误结果。
func Dispatch(ctx context.Context, tool Tool, call Call) (result model.ToolResult) {
	defer func() {
		if r := recover(); r != nil {
			result = model.ErrorResultf("tool %s failed unexpectedly: %v", tool.Spec().Name, r)
		}
	}()

	res, err := tool.Execute(ctx, call)
	if err != nil {
		var invErr *InvocationError
		if errors.As(err, &invErr) {
			return model.ErrorResult(invErr.Error())
		}
		return model.ErrorResultf("%s failed: %v", tool.Spec().Name, err)
	}
	if res.Status == "" {
		res.Status = model.ResultSuccess
	}
	return res
}
