// Package logging 结构化日志
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// ContextKey 上下文键类型
type ContextKey string

const (
	TraceIDKey ContextKey = "trace_id"
	MapIDKey   ContextKey = "map_id"
	UserIDKey  ContextKey = "user_id"
)

// Logger 结构化日志器
type Logger struct {
	*slog.Logger
	base      *slog.Logger // 不带 component 的根日志器，供 Named 派生
	component string
}

// Config 日志配置
type Config struct {
	Level     string `json:"level" yaml:"level"`
	Format    string `json:"format" yaml:"format"` // json or text
	Output    string `json:"output" yaml:"output"` // stdout, stderr, or file path
	Component string `json:"component" yaml:"-"`
}

// New 创建新的日志器
func New(cfg Config) *Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return newWithWriter(cfg, level, openOutput(cfg.Output))
}

func openOutput(output string) io.Writer {
	switch output {
	case "stdout", "":
		return os.Stdout
	case "stderr":
		return os.Stderr
	case "discard":
		return io.Discard
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return os.Stdout
		}
		return f
	}
}

func newWithWriter(cfg Config, level slog.Level, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	base := slog.New(handler)
	return &Logger{
		Logger:    base.With(slog.String("component", cfg.Component)),
		base:      base,
		component: cfg.Component,
	}
}

// Default 创建默认日志器
func Default(component string) *Logger {
	return New(Config{
		Level:     os.Getenv("LOG_LEVEL"),
		Format:    os.Getenv("LOG_FORMAT"),
		Output:    "stdout",
		Component: component,
	})
}

// Discard 创建丢弃输出的日志器（测试用）
func Discard(component string) *Logger {
	return New(Config{Output: "discard", Component: component})
}

// Named 派生出另一个组件的日志器，沿用相同的输出配置
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		Logger:    l.base.With(slog.String("component", component)),
		base:      l.base,
		component: component,
	}
}

// WithContext 从上下文提取追踪信息
func (l *Logger) WithContext(ctx context.Context) *Logger {
	var attrs []any
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok && traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	if mapID, ok := ctx.Value(MapIDKey).(string); ok && mapID != "" {
		attrs = append(attrs, slog.String("map_id", mapID))
	}
	if userID, ok := ctx.Value(UserIDKey).(string); ok && userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	if len(attrs) == 0 {
		return l
	}
	return l.with(attrs...)
}

// ContextWithMap 将地图和用户写入上下文，供 WithContext 提取
func ContextWithMap(ctx context.Context, mapID, userID string) context.Context {
	ctx = context.WithValue(ctx, MapIDKey, mapID)
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithMapID 添加 Map ID
func (l *Logger) WithMapID(mapID string) *Logger {
	return l.with(slog.String("map_id", mapID))
}

// WithRound 添加编排轮次
func (l *Logger) WithRound(round int) *Logger {
	return l.with(slog.Int("round", round))
}

// WithError 添加错误信息
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.with(slog.String("error", err.Error()))
}

// WithDuration 添加持续时间
func (l *Logger) WithDuration(d time.Duration) *Logger {
	return l.with(slog.Float64("duration_ms", float64(d.Milliseconds())))
}

// WithFields 添加自定义字段
func (l *Logger) WithFields(fields map[string]any) *Logger {
	attrs := make([]any, 0, len(fields))
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return l.with(attrs...)
}

func (l *Logger) with(attrs ...any) *Logger {
	return &Logger{
		Logger:    l.Logger.With(attrs...),
		base:      l.base,
		component: l.component,
	}
}

// ToolLog 工具调用日志
func (l *Logger) ToolLog(tool, invocationID, status string, duration time.Duration) {
	l.Logger.Info("Tool executed",
		slog.String("tool", tool),
		slog.String("invocation_id", invocationID),
		slog.String("status", status),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}
