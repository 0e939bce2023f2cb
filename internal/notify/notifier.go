// Package notify 地图临时进度通知
//
// 每个工具或模型调用在开始时发布一条 status=active 事件，结束时发布一条
// 携带相同 action_id 的 status=completed 事件。通知是尽力而为的：发布失败
// 只记录日志，不影响编排流程。
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"map-agent/internal/shared/eventbus"
	"map-agent/internal/shared/model"
	"map-agent/pkg/logging"
)

// FinishTimeout 发布完成事件的时限
//
// 完成事件使用脱离调用方取消的上下文，关停时前端也能收到与 start 配对的 finish。
const FinishTimeout = 5 * time.Second

// Notifier 临时事件发布器
type Notifier struct {
	pub eventbus.Publisher
	log *logging.Logger
	now func() time.Time
}

// New 创建 Notifier
func New(pub eventbus.Publisher, log *logging.Logger) *Notifier {
	if log == nil {
		log = logging.Default("notify")
	}
	return &Notifier{
		pub: pub,
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Option 事件选项
type Option func(*eventbus.Event)

// WithLayer 关联图层
func WithLayer(layerID string) Option {
	return func(e *eventbus.Event) { e.LayerID = layerID }
}

// WithStyleUpdate 提示前端刷新样式
func WithStyleUpdate(styleJSON bool) Option {
	return func(e *eventbus.Event) {
		e.Updates = &eventbus.Updates{StyleJSON: styleJSON}
	}
}

// WithBounds 附带视图范围 [west, south, east, north]
func WithBounds(bounds [4]float64) Option {
	return func(e *eventbus.Event) { e.Bounds = bounds[:] }
}

// ============================================================================
// Scope
// ============================================================================

// Scope 一次 start/finish 事件对
type Scope struct {
	n     *Notifier
	event eventbus.Event
	once  sync.Once
}

// ActionID 返回事件对共享的 action_id
func (s *Scope) ActionID() string {
	return s.event.ActionID
}

// End 发布完成事件，多次调用只生效一次
func (s *Scope) End(ctx context.Context) {
	s.once.Do(func() {
		done := s.event
		now := s.n.now()
		done.Status = eventbus.StatusCompleted
		done.Timestamp = now
		done.CompletedAt = &now
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), FinishTimeout)
		defer cancel()
		s.n.publish(fctx, &done)
	})
}

// Announce 发布 status=active 事件并返回对应的 Scope
func (n *Notifier) Announce(ctx context.Context, mapID, action string, opts ...Option) *Scope {
	ev := eventbus.Event{
		Kind:      eventbus.KindEphemeral,
		MapID:     mapID,
		Ephemeral: true,
		ActionID:  uuid.NewString(),
		Action:    action,
		Status:    eventbus.StatusActive,
		Timestamp: n.now(),
	}
	for _, opt := range opts {
		opt(&ev)
	}

	start := ev
	n.publish(ctx, &start)
	return &Scope{n: n, event: ev}
}

// Track 在 start/finish 事件之间执行 fn
//
// fn panic 时仍会发布完成事件，然后重新抛出 panic。
func (n *Notifier) Track(ctx context.Context, mapID, action string, fn func(ctx context.Context) error, opts ...Option) error {
	scope := n.Announce(ctx, mapID, action, opts...)
	defer scope.End(ctx)
	return fn(ctx)
}

// Error 发布面向用户的错误通知
func (n *Notifier) Error(ctx context.Context, mapID, message string) {
	now := n.now()
	n.publish(ctx, &eventbus.Event{
		Kind:         eventbus.KindEphemeral,
		MapID:        mapID,
		Ephemeral:    true,
		ActionID:     uuid.NewString(),
		Action:       "error",
		Status:       eventbus.StatusError,
		Timestamp:    now,
		CompletedAt:  &now,
		ErrorMessage: message,
	})
}

// Message 推送新的会话消息，供实时会话视图使用
func (n *Notifier) Message(ctx context.Context, msg *model.Message) {
	if msg == nil {
		return
	}
	n.publish(ctx, &eventbus.Event{
		Kind:      eventbus.KindMessage,
		MapID:     msg.MapID,
		Timestamp: n.now(),
		Message:   msg,
	})
}

func (n *Notifier) publish(ctx context.Context, ev *eventbus.Event) {
	if n.pub == nil {
		return
	}
	if err := n.pub.Publish(ctx, ev); err != nil {
		n.log.WithMapID(ev.MapID).WithError(err).Warn(
			fmt.Sprintf("[notify.publish.failed] action=%q status=%s", ev.Action, ev.Status))
	}
}
