package orchestrator

import "map-agent/internal/shared/model"

// InterruptedResult 回放时为缺失结果的调用补上的错误
const InterruptedResult = "Not executed: the conversation was interrupted before this tool call finished"

// replay 把消息日志转换为模型请求
//
// 日志中可能残留没有 tool 消息应答的调用（例如进程在工具执行中崩溃）。
// 模型协议要求每个调用在下一条非 tool 消息之前得到应答，因此在原位置补上
// 错误结果。补齐只作用于本次请求，日志本身保持只追加。
func replay(history []*model.Message) ([]model.Payload, int) {
	out := make([]model.Payload, 0, len(history))
	var pending []string
	answered := map[string]bool{}
	repaired := 0

	flush := func() {
		for _, id := range pending {
			if !answered[id] {
				out = append(out, model.ToolPayload(id, model.ErrorResult(InterruptedResult)))
				repaired++
			}
		}
		pending = pending[:0]
		clear(answered)
	}

	for _, m := range history {
		p := m.Payload
		if p.Role == model.RoleTool {
			answered[p.ToolCallID] = true
			out = append(out, p)
			continue
		}
		flush()
		out = append(out, p)
		for _, inv := range p.ToolCalls {
			pending = append(pending, inv.ID)
		}
	}
	flush()
	return out, repaired
}
