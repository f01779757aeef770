package types

// ============================================================================
//                              ProtocolType - 协议类型
// ============================================================================

// ProtocolType 协议类型
//
// 封闭枚举：网关支持的协议集在设计期固定，
// 编解码器与翻译引擎必须对其穷举处理，不允许开放式多态。
type ProtocolType int

const (
	// ProtocolUnknown 未知协议
	ProtocolUnknown ProtocolType = iota
	// ProtocolLegacy1553 MIL-STD-1553 总线协议（遗留侧）
	ProtocolLegacy1553
	// ProtocolModernENIP EtherNet/IP 风格网络协议（现代侧）
	ProtocolModernENIP
)

// String 返回协议类型的字符串表示
func (p ProtocolType) String() string {
	switch p {
	case ProtocolLegacy1553:
		return "MIL-STD-1553"
	case ProtocolModernENIP:
		return "EtherNet/IP"
	default:
		return "Unknown"
	}
}

// Valid 判断是否为已知协议
func (p ProtocolType) Valid() bool {
	return p == ProtocolLegacy1553 || p == ProtocolModernENIP
}

// ============================================================================
//                              SessionState - 会话状态
// ============================================================================

// SessionState 会话状态机状态
//
// 状态迁移：
//
//	Idle → HandshakeInitiated → Established → Rotating → Established
//	Idle → HandshakeResponded → Established
//	任意状态 → Terminated（吸收态，致命认证失败）
type SessionState int

const (
	// StateIdle 空闲（已创建，未握手）
	StateIdle SessionState = iota
	// StateHandshakeInitiated 握手已发起（发起方视角）
	StateHandshakeInitiated
	// StateHandshakeResponded 握手已响应（响应方视角）
	StateHandshakeResponded
	// StateEstablished 已建立（可收发应用消息）
	StateEstablished
	// StateRotating 密钥轮换中（两个纪元并存）
	StateRotating
	// StateTerminated 已终止（吸收态，必须重新握手）
	StateTerminated
)

// String 返回状态的字符串表示
func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateHandshakeInitiated:
		return "HandshakeInitiated"
	case StateHandshakeResponded:
		return "HandshakeResponded"
	case StateEstablished:
		return "Established"
	case StateRotating:
		return "Rotating"
	case StateTerminated:
		return "Terminated"
	default:
		return "Invalid"
	}
}

// Usable 判断会话是否可收发应用消息
func (s SessionState) Usable() bool {
	return s == StateEstablished || s == StateRotating
}

// ============================================================================
//                              FieldKind - 字段类型
// ============================================================================

// FieldKind 规范消息字段的值类型
type FieldKind int

const (
	// FieldUnsigned 无符号整数
	FieldUnsigned FieldKind = iota
	// FieldSigned 有符号整数
	FieldSigned
	// FieldFloat 浮点数
	FieldFloat
	// FieldBytes 原始字节
	FieldBytes
)

// String 返回字段类型的字符串表示
func (k FieldKind) String() string {
	switch k {
	case FieldUnsigned:
		return "Unsigned"
	case FieldSigned:
		return "Signed"
	case FieldFloat:
		return "Float"
	case FieldBytes:
		return "Bytes"
	default:
		return "Unknown"
	}
}
