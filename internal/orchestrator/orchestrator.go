// Package orchestrator 会话编排循环
//
// 每次用户发送消息，编排器为该地图获取互斥锁并在后台启动一个循环：
// 每一轮回放完整消息日志、重建工具目录、调用模型、按顺序执行模型请求的
// 工具并把结果追加到日志，直到模型不再请求工具、被取消或达到轮次上限。
// 循环运行期间后台心跳按 TTL/3 续期锁；锁在循环的唯一退出点释放。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"map-agent/internal/llm"
	"map-agent/internal/notify"
	"map-agent/internal/shared/cache"
	"map-agent/internal/shared/model"
	"map-agent/internal/shared/storage"
	"map-agent/internal/tools"
	"map-agent/pkg/logging"
)

// ErrConflict 地图已有编排循环在运行
var ErrConflict = errors.New("map is currently being processed by another request")

// 默认值
const (
	DefaultMaxRounds      = 25
	DefaultLockTTL        = cache.TTLMapLock
	DefaultCancelTTL      = cache.TTLCancel
	DefaultModelTimeout   = 120 * time.Second
	DefaultReleaseTimeout = 5 * time.Second
	DefaultPersistTimeout = 5 * time.Second
)

// ModelErrorNotice 模型调用失败时推送给用户的提示
const ModelErrorNotice = "Error connecting to LLM. If trying again doesn't work, hit the save button in the bottom right of the layer list to reset the chat history."

// ThinkingAction 模型调用期间的临时动作文本
const ThinkingAction = "Thinking..."

// Reason 循环终止原因
type Reason string

const (
	ReasonCompleted         Reason = "completed"
	ReasonCancelled         Reason = "cancelled"
	ReasonMaxRounds         Reason = "max_rounds"
	ReasonModelError        Reason = "model_error"
	ReasonProtocolViolation Reason = "protocol_violation"
	ReasonStorageError      Reason = "storage_error"
	ReasonLockLost          Reason = "lock_lost"
	ReasonShutdown          Reason = "shutdown"
	ReasonInternalError     Reason = "internal_error"
)

// StateDescriber 生成 <MapState> 系统消息
type StateDescriber interface {
	SystemPayload(ctx context.Context, mapID, userID string) (model.Payload, error)
}

// Options 编排参数
type Options struct {
	MaxRounds      int
	LockTTL        time.Duration
	CancelTTL      time.Duration
	ModelTimeout   time.Duration
	ReleaseTimeout time.Duration
	SystemPrompt   string

	// LockRefreshInterval 心跳续期间隔，默认 LockTTL/3
	LockRefreshInterval time.Duration
	// PersistTimeout 循环被打断后写入剩余工具结果的时限
	PersistTimeout time.Duration
	// OnExit 循环退出（锁释放之后）时回调
	OnExit func(mapID string, reason Reason)
}

func (o *Options) setDefaults() {
	if o.MaxRounds <= 0 {
		o.MaxRounds = DefaultMaxRounds
	}
	if o.LockTTL <= 0 {
		o.LockTTL = DefaultLockTTL
	}
	if o.CancelTTL <= 0 {
		o.CancelTTL = DefaultCancelTTL
	}
	if o.ModelTimeout <= 0 {
		o.ModelTimeout = DefaultModelTimeout
	}
	if o.ReleaseTimeout <= 0 {
		o.ReleaseTimeout = DefaultReleaseTimeout
	}
	if o.LockRefreshInterval <= 0 || o.LockRefreshInterval >= o.LockTTL {
		o.LockRefreshInterval = o.LockTTL / 3
	}
	if o.PersistTimeout <= 0 {
		o.PersistTimeout = DefaultPersistTimeout
	}
	if o.SystemPrompt == "" {
		o.SystemPrompt = DefaultSystemPrompt
	}
}

// Deps 编排器依赖
type Deps struct {
	Messages  storage.MessageStore
	Lock      cache.ResourceLock
	Cancel    cache.CancelSignal
	Registry  *tools.Registry
	Model     llm.Model
	Notifier  *notify.Notifier
	Describer StateDescriber
	Metrics   *Metrics
	Logger    *logging.Logger
}

// Orchestrator 会话编排器
type Orchestrator struct {
	messages  storage.MessageStore
	lock      cache.ResourceLock
	cancel    cache.CancelSignal
	registry  *tools.Registry
	model     llm.Model
	notifier  *notify.Notifier
	describer StateDescriber
	metrics   *Metrics
	log       *logging.Logger
	opts      Options

	root context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
}

// New 创建编排器
func New(deps Deps, opts Options) *Orchestrator {
	opts.setDefaults()
	if deps.Logger == nil {
		deps.Logger = logging.Default("orchestrator")
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics("map_agent", nil)
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.New(nil, deps.Logger)
	}
	if deps.Registry == nil {
		deps.Registry = tools.NewRegistry()
	}
	root, stop := context.WithCancel(context.Background())
	return &Orchestrator{
		messages:  deps.Messages,
		lock:      deps.Lock,
		cancel:    deps.Cancel,
		registry:  deps.Registry,
		model:     deps.Model,
		notifier:  deps.Notifier,
		describer: deps.Describer,
		metrics:   deps.Metrics,
		log:       deps.Logger,
		opts:      opts,
		root:      root,
		stop:      stop,
	}
}

// ============================================================================
// 入口
// ============================================================================

// StartLoop 获取地图锁并在后台启动编排循环，立即返回
//
// 锁已被持有时返回 ErrConflict。
func (o *Orchestrator) StartLoop(ctx context.Context, mapID, userID string) error {
	token, err := o.admit(ctx, mapID)
	if err != nil {
		return err
	}
	o.spawn(mapID, userID, token)
	return nil
}

// Send 追加 <MapState> 与用户消息并启动编排循环
//
// 冲突在追加任何消息之前被拒绝。
func (o *Orchestrator) Send(ctx context.Context, mapID, userID, content string) (*model.Message, error) {
	token, err := o.admit(ctx, mapID)
	if err != nil {
		return nil, err
	}

	msg, err := o.appendInbound(ctx, mapID, userID, content)
	if err != nil {
		o.release(ctx, mapID, token)
		return nil, err
	}

	o.spawn(mapID, userID, token)
	return msg, nil
}

func (o *Orchestrator) appendInbound(ctx context.Context, mapID, userID, content string) (*model.Message, error) {
	if o.describer != nil {
		state, err := o.describer.SystemPayload(ctx, mapID, userID)
		if err != nil {
			return nil, fmt.Errorf("describe map state: %w", err)
		}
		if _, err := o.messages.AppendMessage(ctx, mapID, userID, state); err != nil {
			return nil, fmt.Errorf("append map state: %w", err)
		}
	}
	return o.AppendUserMessage(ctx, mapID, userID, content)
}

// AppendUserMessage 追加一条用户消息
func (o *Orchestrator) AppendUserMessage(ctx context.Context, mapID, userID, content string) (*model.Message, error) {
	msg, err := o.messages.AppendMessage(ctx, mapID, userID, model.UserPayload(content))
	if err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}
	o.notifier.Message(ctx, msg)
	return msg, nil
}

// ReadTranscript 返回对用户可见的会话记录
func (o *Orchestrator) ReadTranscript(ctx context.Context, mapID string) ([]*model.Message, error) {
	return o.messages.ListUserVisibleMessages(ctx, mapID)
}

// RequestCancel 请求取消正在运行的循环，在下一轮开始时生效
//
// 没有循环持有锁时为空操作。
func (o *Orchestrator) RequestCancel(ctx context.Context, mapID string) error {
	held, err := o.lock.LockHeld(ctx, mapID)
	if err != nil {
		return fmt.Errorf("check lock: %w", err)
	}
	if !held {
		return nil
	}
	if err := o.cancel.RequestCancel(ctx, mapID, o.opts.CancelTTL); err != nil {
		return fmt.Errorf("request cancel: %w", err)
	}
	o.log.WithMapID(mapID).Info("[orchestrator.cancel.requested]")
	return nil
}

// Wait 阻塞直到所有运行中的循环退出
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Shutdown 取消所有循环并等待退出
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}

// admit 获取锁并清除残留的取消标记
func (o *Orchestrator) admit(ctx context.Context, mapID string) (string, error) {
	token, ok, err := o.lock.AcquireLock(ctx, mapID, o.opts.LockTTL)
	if err != nil {
		return "", fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		o.metrics.LoopsRejected.Inc()
		o.log.WithMapID(mapID).Info("[orchestrator.loop.rejected] reason=locked")
		return "", ErrConflict
	}
	if err := o.cancel.ClearCancel(ctx, mapID); err != nil {
		o.log.WithMapID(mapID).WithError(err).Warn("[orchestrator.cancel.clear_failed]")
	}
	return token, nil
}

// release 使用独立的有界上下文释放锁，调用方上下文已取消时仍能释放
func (o *Orchestrator) release(ctx context.Context, mapID, token string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.ReleaseTimeout)
	defer cancel()
	if err := o.lock.ReleaseLock(rctx, mapID, token); err != nil {
		o.log.WithMapID(mapID).WithError(err).Error("[orchestrator.lock.release_failed]")
	}
}

func (o *Orchestrator) spawn(mapID, userID, token string) {
	o.metrics.LoopsStarted.Inc()
	o.metrics.LoopsActive.Inc()
	o.wg.Add(1)
	go o.run(o.root, mapID, userID, token)
}
