package types

import "time"

// ============================================================================
//                              EventType - 事件类型
// ============================================================================

// EventType 可观测性事件类型
//
// 核心通过遥测边界对外发布结构化事件，任何错误类别都不允许被静默吞掉。
type EventType int

const (
	// EventHandshakeStarted 握手开始
	EventHandshakeStarted EventType = iota
	// EventHandshakeCompleted 握手完成（会话进入 Established）
	EventHandshakeCompleted
	// EventHandshakeFailed 握手失败
	EventHandshakeFailed
	// EventRotationStarted 密钥轮换开始
	EventRotationStarted
	// EventRotationCompleted 密钥轮换完成（旧纪元已退役）
	EventRotationCompleted
	// EventMessageAccepted 消息通过验证并被接受
	EventMessageAccepted
	// EventMessageRejected 消息被拒绝（原因见 Reason）
	EventMessageRejected
	// EventSessionTerminated 会话终止
	EventSessionTerminated
	// EventMessageUnrouted 无匹配路由，消息被丢弃
	EventMessageUnrouted
)

// String 返回事件类型的字符串表示
func (e EventType) String() string {
	switch e {
	case EventHandshakeStarted:
		return "handshake_started"
	case EventHandshakeCompleted:
		return "handshake_completed"
	case EventHandshakeFailed:
		return "handshake_failed"
	case EventRotationStarted:
		return "rotation_started"
	case EventRotationCompleted:
		return "rotation_completed"
	case EventMessageAccepted:
		return "message_accepted"
	case EventMessageRejected:
		return "message_rejected"
	case EventSessionTerminated:
		return "session_terminated"
	case EventMessageUnrouted:
		return "message_unrouted"
	default:
		return "unknown"
	}
}

// ============================================================================
//                              Event - 结构化事件
// ============================================================================

// Event 网关核心对外发布的结构化事件
type Event struct {
	// Type 事件类型
	Type EventType
	// Time 事件发生时间
	Time time.Time
	// Session 相关会话（可为零值）
	Session SessionID
	// Peer 相关对端（可为空）
	Peer PeerID
	// Epoch 相关纪元
	Epoch Epoch
	// Reason 拒绝/终止原因（仅 Rejected/Failed/Terminated 事件）
	Reason error
	// Detail 附加说明
	Detail string
}

// EventSink 事件接收器
//
// 由外部的日志/遥测协作方实现；核心只负责发布。
// 实现必须是非阻塞或快速返回的，慢接收器会拖慢会话流水线。
type EventSink interface {
	Publish(ev Event)
}
