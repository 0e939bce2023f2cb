package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"map-agent/internal/config"
	"map-agent/internal/shared/model"
)

// OpenAI 基于 chat completions 接口的 Model 实现
type OpenAI struct {
	client openai.Client
	model  string
}

// 确保 OpenAI 实现了 Model 接口
var _ Model = (*OpenAI)(nil)

// NewOpenAI 创建 OpenAI 兼容服务的适配器
//
// 失败不重试：编排循环对模型错误直接终止。
func NewOpenAI(cfg config.LLMConfig) *OpenAI {
	opts := []option.RequestOption{option.WithMaxRetries(0)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
	}
}

// ModelName 返回模型名称
func (o *OpenAI) ModelName() string {
	return o.model
}

// Complete 调用模型
func (o *OpenAI) Complete(ctx context.Context, req *Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: convertMessages(req),
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
		choice := req.ToolChoice
		if choice == "" {
			choice = ToolChoiceAuto
		}
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String(string(choice)),
		}
	}

	completion, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	msg := completion.Choices[0].Message
	calls := make([]model.ToolInvocation, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		calls = append(calls, model.NewToolInvocation(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	return &Response{Message: model.AssistantPayload(msg.Content, calls...)}, nil
}

func convertMessages(req *Request) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		out = append(out, openai.SystemMessage(req.System))
	}

	for _, p := range req.Messages {
		switch p.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(p.Content))
		case model.RoleUser:
			out = append(out, openai.UserMessage(p.Content))
		case model.RoleTool:
			out = append(out, openai.ToolMessage(p.Content, p.ToolCallID))
		case model.RoleAssistant:
			asst := openai.ChatCompletionAssistantMessageParam{}
			if p.Content != "" {
				asst.Content.OfString = openai.String(p.Content)
			}
			for _, call := range p.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Function.Name,
						Arguments: call.Function.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		}
	}
	return out
}

func convertTools(specs []model.ToolSpec) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		fn := openai.FunctionDefinitionParam{
			Name:        spec.Name,
			Description: openai.String(spec.Description),
		}
		if spec.Parameters != nil {
			fn.Parameters = openai.FunctionParameters(spec.Parameters)
		}
		if spec.Strict {
			fn.Strict = openai.Bool(true)
		}
		out = append(out, openai.ChatCompletionToolParam{Function: fn})
	}
	return out
}
