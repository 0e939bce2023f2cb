// Package model 工具调用结果与工具描述
package model

import (
	"encoding/json"
	"fmt"
)

// ResultStatus 工具执行结果状态
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
)

// ToolResult 一次工具调用的执行结果
//
// JSON 编码为扁平结构：
//
//	{"status": "success", ...Data}
//	{"status": "error", "error": "...", ...Data}
//
// 对应的调用 ID 由 tool 消息的 ToolCallID 携带。
type ToolResult struct {
	Status ResultStatus
	Error  string
	Data   map[string]any
}

// SuccessResult 创建成功结果
func SuccessResult(data map[string]any) ToolResult {
	return ToolResult{Status: ResultSuccess, Data: data}
}

// ErrorResult 创建错误结果
func ErrorResult(message string) ToolResult {
	return ToolResult{Status: ResultError, Error: message}
}

// ErrorResultf 创建格式化的错误结果
func ErrorResultf(format string, args ...any) ToolResult {
	return ErrorResult(fmt.Sprintf(format, args...))
}

// IsError 是否为错误结果
func (r ToolResult) IsError() bool {
	return r.Status == ResultError
}

// MarshalJSON 编码为扁平 JSON
func (r ToolResult) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Data)+2)
	for k, v := range r.Data {
		out[k] = v
	}
	out["status"] = r.Status
	if r.Status == ResultError {
		out["error"] = r.Error
	}
	return json.Marshal(out)
}

// UnmarshalJSON 从扁平 JSON 解码
func (r *ToolResult) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	status, _ := raw["status"].(string)
	r.Status = ResultStatus(status)
	r.Error, _ = raw["error"].(string)
	delete(raw, "status")
	delete(raw, "error")
	if len(raw) > 0 {
		r.Data = raw
	} else {
		r.Data = nil
	}
	return nil
}

// ToolSpec 提供给模型的工具描述
//
// Parameters 为 JSON Schema（object 类型）。
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
	Strict      bool           `json:"strict,omitempty"`
}
