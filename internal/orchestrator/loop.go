package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"map-agent/internal/llm"
	"map-agent/internal/shared/model"
	"map-agent/internal/tools"
	"map-agent/pkg/logging"
)

// loop 单个编排循环的状态
type loop struct {
	o      *Orchestrator
	mapID  string
	userID string
	token  string
	log    *logging.Logger
	// lost 心跳发现锁已被他人持有
	lost atomic.Bool
}

// run 循环主体；所有退出路径都经过这里的 defer 释放锁
func (o *Orchestrator) run(parent context.Context, mapID, userID, token string) {
	l := &loop{o: o, mapID: mapID, userID: userID, token: token, log: o.log.WithMapID(mapID)}
	ctx, cancel := context.WithCancel(logging.ContextWithMap(parent, mapID, userID))
	heartbeat := l.heartbeat(ctx, cancel)
	start := time.Now()
	reason := ReasonInternalError
	rounds := 0

	defer func() {
		if r := recover(); r != nil {
			l.log.Error(fmt.Sprintf("[orchestrator.loop.panic] panic=%v", r))
			reason = ReasonInternalError
		}
		cancel()
		<-heartbeat
		o.release(ctx, mapID, token)
		o.metrics.LoopsActive.Dec()
		o.metrics.LoopTerminations.WithLabelValues(string(reason)).Inc()
		l.log.WithDuration(time.Since(start)).Info(fmt.Sprintf("[orchestrator.loop.terminated] reason=%s rounds=%d", reason, rounds))
		if o.opts.OnExit != nil {
			o.opts.OnExit(mapID, reason)
		}
		o.wg.Done()
	}()

	l.log.Info("[orchestrator.loop.started]")
	for {
		if next, stop := l.admitRound(ctx, rounds+1); stop {
			reason = next
			return
		}
		rounds++
		o.metrics.RoundsTotal.Inc()

		if next, stop := l.round(ctx, rounds); stop {
			reason = next
			return
		}
	}
}

// admitRound 判断是否允许开始第 n 轮，并续期锁
func (l *loop) admitRound(ctx context.Context, n int) (Reason, bool) {
	if ctx.Err() != nil {
		return l.interrupted(), true
	}
	if n > l.o.opts.MaxRounds {
		return ReasonMaxRounds, true
	}

	cancelled, err := l.o.cancel.ConsumeCancel(ctx, l.mapID)
	if err != nil {
		l.log.WithError(err).Warn("[orchestrator.cancel.check_failed]")
	}
	if cancelled {
		return ReasonCancelled, true
	}

	if !l.refresh(ctx) {
		return ReasonLockLost, true
	}
	return "", false
}

// heartbeat 在后台按 LockRefreshInterval 续期锁，直到 ctx 结束
//
// 单次模型调用或工具执行可能跨越多个续期间隔。
// 发现锁已不属于本循环时取消循环上下文。返回的 channel 在心跳退出后关闭。
func (l *loop) heartbeat(ctx context.Context, cancel context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(l.o.opts.LockRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !l.refresh(ctx) {
					cancel()
					return
				}
			}
		}
	}()
	return done
}

// refresh 续期锁；续期出错时视为仍持有，由下一次续期重试
func (l *loop) refresh(ctx context.Context) bool {
	held, err := l.o.lock.RefreshLock(ctx, l.mapID, l.token, l.o.opts.LockTTL)
	if err != nil {
		if ctx.Err() == nil {
			l.log.WithError(err).Warn("[orchestrator.lock.refresh_failed]")
		}
		return true
	}
	if !held {
		if !l.lost.Swap(true) {
			l.log.Warn("[orchestrator.lock.lost]")
		}
		return false
	}
	return true
}

// interrupted 循环上下文被取消时的终止原因
func (l *loop) interrupted() Reason {
	if l.lost.Load() {
		return ReasonLockLost
	}
	return ReasonShutdown
}

// persist 以脱离循环取消的有界上下文追加消息
//
// 关停或失锁时已经开始的调用仍需把结果写入日志。
func (l *loop) persist(ctx context.Context, p model.Payload) (*model.Message, error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.o.opts.PersistTimeout)
	defer cancel()
	return l.o.messages.AppendMessage(pctx, l.mapID, model.SenderAssistant, p)
}

// round 执行一轮：回放、建目录、调用模型、派发工具
func (l *loop) round(ctx context.Context, n int) (Reason, bool) {
	log := l.log.WithRound(n)

	history, err := l.o.messages.ListMessages(ctx, l.mapID)
	if err != nil {
		log.WithError(err).Error("[orchestrator.round.replay_failed]")
		return ReasonStorageError, true
	}
	catalog, err := l.o.registry.Build(ctx, tools.Scope{MapID: l.mapID, UserID: l.userID})
	if err != nil {
		log.WithError(err).Error("[orchestrator.round.catalog_failed]")
		return ReasonStorageError, true
	}

	payloads, repaired := replay(history)
	if repaired > 0 {
		log.Warn(fmt.Sprintf("[orchestrator.round.history_repaired] unanswered=%d", repaired))
	}
	req := &llm.Request{
		System:     l.o.opts.SystemPrompt,
		Messages:   payloads,
		Tools:      catalog.Specs(),
		ToolChoice: llm.ToolChoiceAuto,
	}

	reply, err := l.callModel(ctx, req)
	if ctx.Err() != nil {
		// 打断时丢弃回复，日志中不会出现无人执行的工具调用
		return l.interrupted(), true
	}
	if err != nil {
		log.WithError(err).Error("[orchestrator.model.failed]")
		l.o.notifier.Error(ctx, l.mapID, ModelErrorNotice)
		return ReasonModelError, true
	}

	assistant := reply.Message
	assistant.Role = model.RoleAssistant
	msg, err := l.persist(ctx, assistant)
	if err != nil {
		log.WithError(err).Error("[orchestrator.round.append_failed] role=assistant")
		return ReasonStorageError, true
	}
	if assistant.UserVisible() {
		l.o.notifier.Message(ctx, msg)
	}
	if !assistant.HasToolCalls() {
		return ReasonCompleted, true
	}

	return l.dispatch(ctx, log, catalog, assistant.ToolCalls)
}

func (l *loop) callModel(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	var reply *llm.Response
	start := time.Now()
	err := l.o.notifier.Track(ctx, l.mapID, ThinkingAction, func(ctx context.Context) error {
		mctx, cancel := context.WithTimeout(ctx, l.o.opts.ModelTimeout)
		defer cancel()
		var err error
		reply, err = l.o.model.Complete(mctx, req)
		return err
	})
	l.o.metrics.ModelLatency.Observe(time.Since(start).Seconds())
	if err == nil && reply == nil {
		err = llm.ErrEmptyResponse
	}
	return reply, err
}

// dispatch 按模型给出的顺序依次执行工具，每个结果立即追加到日志
//
// 遇到目录之外的工具时，本轮剩余的调用全部以错误结果应答后终止循环。
// 循环被打断时同样为剩余调用写入错误结果，保证每个调用都有应答。
func (l *loop) dispatch(ctx context.Context, log *logging.Logger, catalog *tools.Catalog, calls []model.ToolInvocation) (Reason, bool) {
	for i, inv := range calls {
		if ctx.Err() != nil {
			reason := l.interrupted()
			log.Warn(fmt.Sprintf("[orchestrator.tool.skipped] reason=%s remaining=%d", reason, len(calls)-i))
			skipped := model.ErrorResultf("Not executed: conversation stopped (%s)", reason)
			if !l.answerAll(ctx, log, calls[i:], func(int) model.ToolResult { return skipped }) {
				return ReasonStorageError, true
			}
			return reason, true
		}

		tool, err := catalog.Lookup(inv.Function.Name)
		if errors.Is(err, tools.ErrUnknownTool) {
			unknown := inv.Function.Name
			log.Warn(fmt.Sprintf("[orchestrator.tool.unknown] tool=%s invocation_id=%s", unknown, inv.ID))
			ok := l.answerAll(ctx, log, calls[i:], func(j int) model.ToolResult {
				if j == 0 {
					return model.ErrorResultf("Unknown tool: %s", unknown)
				}
				return model.ErrorResultf("Not executed: turn aborted after call to unknown tool %s", unknown)
			})
			if !ok {
				return ReasonStorageError, true
			}
			return ReasonProtocolViolation, true
		}

		start := time.Now()
		result := tools.Dispatch(ctx, tool, tools.Call{
			MapID:        l.mapID,
			UserID:       l.userID,
			InvocationID: inv.ID,
			Args:         json.RawMessage(inv.Function.Arguments),
		})
		log.ToolLog(inv.Function.Name, inv.ID, string(result.Status), time.Since(start))
		l.o.metrics.ToolCallsTotal.WithLabelValues(inv.Function.Name, string(result.Status)).Inc()

		if !l.appendResult(ctx, log, inv.ID, result) {
			return ReasonStorageError, true
		}
	}
	return "", false
}

const abortedToolLabel = "_aborted"

// answerAll 为未执行的调用追加错误结果
func (l *loop) answerAll(ctx context.Context, log *logging.Logger, pending []model.ToolInvocation, result func(i int) model.ToolResult) bool {
	for i, inv := range pending {
		// 模型给出的名字不可信，不作为指标标签
		l.o.metrics.ToolCallsTotal.WithLabelValues(abortedToolLabel, string(model.ResultError)).Inc()
		if !l.appendResult(ctx, log, inv.ID, result(i)) {
			return false
		}
	}
	return true
}

func (l *loop) appendResult(ctx context.Context, log *logging.Logger, invocationID string, result model.ToolResult) bool {
	if _, err := l.persist(ctx, model.ToolPayload(invocationID, result)); err != nil {
		log.WithError(err).Error(fmt.Sprintf("[orchestrator.round.append_failed] role=tool invocation_id=%s", invocationID))
		return false
	}
	return true
}
