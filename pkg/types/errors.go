// Package types 定义安全网关的基础类型
//
// 本文件定义所有公共错误类型。
package types

import "errors"

// ============================================================================
//                              ID 相关错误
// ============================================================================

var (
	// ErrEmptyPeerID 空对端 ID
	ErrEmptyPeerID = errors.New("empty peer ID")

	// ErrInvalidPeerID 无效的对端 ID
	ErrInvalidPeerID = errors.New("invalid peer ID")

	// ErrInvalidSessionID 无效的会话 ID
	ErrInvalidSessionID = errors.New("invalid session ID")
)

// ============================================================================
//                              解析/翻译错误（消息级，可恢复）
// ============================================================================

var (
	// ErrMalformed 帧结构违例（长度、同步字、声明字段越界等）
	//
	// 消息级错误：丢弃该消息，不影响会话。
	ErrMalformed = errors.New("malformed frame")

	// ErrUnmappableField 目标必填字段无可满足的源映射且无默认值
	ErrUnmappableField = errors.New("unmappable field")

	// ErrUnrouted 无匹配路由条目
	ErrUnrouted = errors.New("no matching route")
)

// ============================================================================
//                              会话错误（会话级，致命）
// ============================================================================
//
// 以下错误对会话致命：会话必须拆除并重新握手，本层绝不自动重试。
// 模糊的密码学失败一律按主动攻击处理（fail-closed）。

var (
	// ErrHandshakeRequired 会话未建立，须先完成握手
	ErrHandshakeRequired = errors.New("handshake required")

	// ErrUnknownEpoch 纪元不在有效解密表中（已过宽限期或从未存在）
	ErrUnknownEpoch = errors.New("unknown key epoch")

	// ErrReplayDetected (session, epoch, sequence) 三元组重复
	ErrReplayDetected = errors.New("replay detected")

	// ErrAuthenticationFailed 签名验证失败或 AEAD 认证失败
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrSessionTerminated 会话已处于终止态
	ErrSessionTerminated = errors.New("session terminated")

	// ErrUnknownPeer 对端身份未在身份库中登记
	ErrUnknownPeer = errors.New("unknown peer identity")
)

// IsSessionFatal 判断错误是否对会话致命
//
// 致命错误要求拆除会话并强制重新握手。
func IsSessionFatal(err error) bool {
	return errors.Is(err, ErrUnknownEpoch) ||
		errors.Is(err, ErrReplayDetected) ||
		errors.Is(err, ErrAuthenticationFailed) ||
		errors.Is(err, ErrUnknownPeer)
}
