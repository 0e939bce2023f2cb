package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 编排循环指标
type Metrics struct {
	LoopsStarted     prometheus.Counter
	LoopsRejected    prometheus.Counter
	LoopsActive      prometheus.Gauge
	LoopTerminations *prometheus.CounterVec
	RoundsTotal      prometheus.Counter
	ToolCallsTotal   *prometheus.CounterVec
	ModelLatency     prometheus.Histogram
}

// NewMetrics 创建指标并注册到 reg；reg 为 nil 时不注册
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		LoopsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversation_loops_started_total",
				Help:      "Total conversation loops admitted",
			},
		),
		LoopsRejected: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversation_loops_rejected_total",
				Help:      "Total loop starts rejected because the map was locked",
			},
		),
		LoopsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "conversation_loops_active",
				Help:      "Conversation loops currently running",
			},
		),
		LoopTerminations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversation_loop_terminations_total",
				Help:      "Conversation loop terminations by reason",
			},
			[]string{"reason"},
		),
		RoundsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conversation_rounds_total",
				Help:      "Total orchestration rounds executed",
			},
		),
		ToolCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Tool invocations by tool and result status",
			},
			[]string{"tool", "status"},
		),
		ModelLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "model_call_duration_seconds",
				Help:      "Model call latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),
	}
}
