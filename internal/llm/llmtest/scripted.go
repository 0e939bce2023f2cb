// Package llmtest 提供按脚本回复的测试模型
package llmtest

import (
	"context"
	"errors"
	"sync"

	"map-agent/internal/llm"
	"map-agent/internal/shared/model"
)

// ErrScriptExhausted 脚本回复已用完
var ErrScriptExhausted = errors.New("llmtest: script exhausted")

// Step 一次调用的回复；Err 非空时返回错误
type Step struct {
	Message model.Payload
	Err     error
}

// Reply 文本回复
func Reply(content string) Step {
	return Step{Message: model.AssistantPayload(content)}
}

// Call 工具调用回复
func Call(calls ...model.ToolInvocation) Step {
	return Step{Message: model.AssistantPayload("", calls...)}
}

// Fail 错误回复
func Fail(err error) Step {
	return Step{Err: err}
}

// Scripted 依次返回预设回复的模型
//
// 设置 Repeat 后脚本用完时重复最后一步。
type Scripted struct {
	mu       sync.Mutex
	steps    []Step
	Repeat   bool
	requests []*llm.Request
	// OnCall 每次调用时执行（调用次数从 1 开始），用于在轮次之间注入动作
	OnCall func(n int)
}

var _ llm.Model = (*Scripted)(nil)

// New 创建脚本模型
func New(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

// Complete 返回下一步回复
func (s *Scripted) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	n := len(s.requests)
	var step Step
	switch {
	case n <= len(s.steps):
		step = s.steps[n-1]
	case s.Repeat && len(s.steps) > 0:
		step = s.steps[len(s.steps)-1]
	default:
		s.mu.Unlock()
		return nil, ErrScriptExhausted
	}
	hook := s.OnCall
	s.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return &llm.Response{Message: step.Message}, nil
}

// Calls 返回调用次数
func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests 返回收到的全部请求
func (s *Scripted) Requests() []*llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*llm.Request(nil), s.requests...)
}
