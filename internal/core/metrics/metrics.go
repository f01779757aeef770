// Package metrics 把可观测性事件转换为 Prometheus 指标。
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// Sink 消费网关事件并更新指标
type Sink struct {
	handshakes *prometheus.CounterVec
	rotations  *prometheus.CounterVec
	messages   *prometheus.CounterVec
	terminated prometheus.Counter
	unrouted   prometheus.Counter

	// ActiveSessions 当前活跃会话数，由路由器直接维护
	ActiveSessions prometheus.Gauge
}

// NewSink 构建指标接收器并注册到 reg
func NewSink(reg prometheus.Registerer) *Sink {
	s := &Sink{
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secgw",
			Name:      "handshakes_total",
			Help:      "握手次数，按结果分类",
		}, []string{"result"}),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secgw",
			Name:      "key_rotations_total",
			Help:      "密钥轮换次数，按阶段分类",
		}, []string{"phase"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "secgw",
			Name:      "messages_total",
			Help:      "处理的消息数，按结果分类",
		}, []string{"outcome"}),
		terminated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "secgw",
			Name:      "sessions_terminated_total",
			Help:      "会话终止次数",
		}),
		unrouted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "secgw",
			Name:      "messages_unrouted_total",
			Help:      "无匹配路由被丢弃的消息数",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "secgw",
			Name:      "active_sessions",
			Help:      "当前活跃会话数",
		}),
	}

	reg.MustRegister(s.handshakes, s.rotations, s.messages,
		s.terminated, s.unrouted, s.ActiveSessions)
	return s
}

// Publish 实现 types.EventSink
func (s *Sink) Publish(ev types.Event) {
	switch ev.Type {
	case types.EventHandshakeStarted:
		s.handshakes.WithLabelValues("started").Inc()
	case types.EventHandshakeCompleted:
		s.handshakes.WithLabelValues("completed").Inc()
	case types.EventHandshakeFailed:
		s.handshakes.WithLabelValues("failed").Inc()
	case types.EventRotationStarted:
		s.rotations.WithLabelValues("started").Inc()
	case types.EventRotationCompleted:
		s.rotations.WithLabelValues("completed").Inc()
	case types.EventMessageAccepted:
		s.messages.WithLabelValues("accepted").Inc()
	case types.EventMessageRejected:
		s.messages.WithLabelValues(rejectReason(ev.Reason)).Inc()
	case types.EventSessionTerminated:
		s.terminated.Inc()
	case types.EventMessageUnrouted:
		s.unrouted.Inc()
	}
}

// rejectReason 把拒绝原因归并为有限的标签值
func rejectReason(err error) string {
	switch {
	case err == nil:
		return "rejected"
	case errors.Is(err, types.ErrReplayDetected):
		return "replay"
	case errors.Is(err, types.ErrAuthenticationFailed):
		return "auth_failed"
	case errors.Is(err, types.ErrUnknownEpoch):
		return "unknown_epoch"
	case errors.Is(err, types.ErrMalformed):
		return "malformed"
	case errors.Is(err, types.ErrUnmappableField):
		return "unmappable"
	case errors.Is(err, types.ErrHandshakeRequired):
		return "handshake_required"
	default:
		return "rejected"
	}
}
