// Package handshake 包含握手与重密钥协议的 payload 定义
//
// 使用 protobuf wire format 编码（length-delimited / varint），
// 与信封头的定长布局不同：握手 payload 字段可演进，采用带标签的编码。
package handshake

import (
	"encoding/binary"
	"errors"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrInvalidPayload 表示无效的 payload 数据
var ErrInvalidPayload = errors.New("invalid handshake payload data")

// ============================================================================
//                              HandshakeInit
// ============================================================================

// HandshakeInit 握手发起消息
//
// 字段：
//   - SessionID: 发起方生成的会话标识（16 字节）
//   - EphemeralPub: 发起方临时 Curve25519 公钥（32 字节）
//   - IdentityKey: 发起方长期 Ed25519 验证公钥（32 字节）
//   - PeerFingerprint: 期望对端长期验证公钥的 BLAKE3 指纹（32 字节）
//   - Timestamp: 发起时间（Unix 毫秒）
//   - Signature: 用发起方长期签名私钥对转录的签名（64 字节）
type HandshakeInit struct {
	SessionID       []byte
	EphemeralPub    []byte
	IdentityKey     []byte
	PeerFingerprint []byte
	Timestamp       uint64
	Signature       []byte
}

// Marshal 序列化 HandshakeInit
func (m *HandshakeInit) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, m.SessionID)
	b = appendBytesField(b, 2, m.EphemeralPub)
	b = appendBytesField(b, 3, m.IdentityKey)
	b = appendBytesField(b, 4, m.PeerFingerprint)
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Timestamp)
	b = appendBytesField(b, 6, m.Signature)
	return b
}

// Unmarshal 反序列化 HandshakeInit
func (m *HandshakeInit) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case 1:
			m.SessionID = v
		case 2:
			m.EphemeralPub = v
		case 3:
			m.IdentityKey = v
		case 4:
			m.PeerFingerprint = v
		case 5:
			m.Timestamp = u
		case 6:
			m.Signature = v
		}
		return nil
	})
}

// SignedTranscript 返回签名覆盖的转录字节
//
// 签名绑定会话标识、双方密钥材料与发起时间，
// 防止剪切粘贴攻击与旧发起帧的重放。
func (m *HandshakeInit) SignedTranscript() []byte {
	t := make([]byte, 0, 128)
	t = append(t, []byte("secgw-hs-init:")...)
	t = append(t, m.SessionID...)
	t = append(t, m.EphemeralPub...)
	t = append(t, m.PeerFingerprint...)
	t = binary.BigEndian.AppendUint64(t, m.Timestamp)
	return t
}

// ============================================================================
//                              HandshakeResp
// ============================================================================

// HandshakeResp 握手响应消息
//
// 响应方返回自己的临时公钥与长期身份，并附带对转录的签名，
// 以及基于 epoch-0 派生确认密钥计算的确认 MAC。
type HandshakeResp struct {
	SessionID    []byte
	EphemeralPub []byte
	IdentityKey  []byte
	Signature    []byte
	ConfirmMAC   []byte
}

// Marshal 序列化 HandshakeResp
func (m *HandshakeResp) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, m.SessionID)
	b = appendBytesField(b, 2, m.EphemeralPub)
	b = appendBytesField(b, 3, m.IdentityKey)
	b = appendBytesField(b, 4, m.Signature)
	b = appendBytesField(b, 5, m.ConfirmMAC)
	return b
}

// Unmarshal 反序列化 HandshakeResp
func (m *HandshakeResp) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case 1:
			m.SessionID = v
		case 2:
			m.EphemeralPub = v
		case 3:
			m.IdentityKey = v
		case 4:
			m.Signature = v
		case 5:
			m.ConfirmMAC = v
		}
		return nil
	})
}

// SignedTranscript 返回签名覆盖的转录字节
//
// 包含发起方临时公钥，将响应绑定到具体的一次握手。
func (m *HandshakeResp) SignedTranscript(initEphemeral []byte) []byte {
	t := make([]byte, 0, 128)
	t = append(t, []byte("secgw-hs-resp:")...)
	t = append(t, m.SessionID...)
	t = append(t, m.EphemeralPub...)
	t = append(t, initEphemeral...)
	return t
}

// ============================================================================
//                              HandshakeConfirm
// ============================================================================

// HandshakeConfirm 握手确认消息（最后一轮）
//
// 发起方证明自己持有匹配的派生密钥材料，双方进入 Established。
type HandshakeConfirm struct {
	SessionID  []byte
	ConfirmMAC []byte
}

// Marshal 序列化 HandshakeConfirm
func (m *HandshakeConfirm) Marshal() []byte {
	var b []byte
	b = appendBytesField(b, 1, m.SessionID)
	b = appendBytesField(b, 2, m.ConfirmMAC)
	return b
}

// Unmarshal 反序列化 HandshakeConfirm
func (m *HandshakeConfirm) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case 1:
			m.SessionID = v
		case 2:
			m.ConfirmMAC = v
		}
		return nil
	})
}

// ============================================================================
//                              Rekey 控制消息
// ============================================================================
//
// 重密钥消息不走明文链路：作为受保护信封内的控制载荷传输，
// 由当前纪元的 AEAD + 签名保证真实性（已认证信道上的前向保密换钥）。

// RekeyInit 重密钥发起
type RekeyInit struct {
	NewEpoch     uint32
	EphemeralPub []byte
}

// Marshal 序列化 RekeyInit
func (m *RekeyInit) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.NewEpoch))
	b = appendBytesField(b, 2, m.EphemeralPub)
	return b
}

// Unmarshal 反序列化 RekeyInit
func (m *RekeyInit) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case 1:
			m.NewEpoch = uint32(u)
		case 2:
			m.EphemeralPub = v
		}
		return nil
	})
}

// RekeyResp 重密钥响应
type RekeyResp struct {
	NewEpoch     uint32
	EphemeralPub []byte
	ConfirmMAC   []byte
}

// Marshal 序列化 RekeyResp
func (m *RekeyResp) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.NewEpoch))
	b = appendBytesField(b, 2, m.EphemeralPub)
	b = appendBytesField(b, 3, m.ConfirmMAC)
	return b
}

// Unmarshal 反序列化 RekeyResp
func (m *RekeyResp) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case 1:
			m.NewEpoch = uint32(u)
		case 2:
			m.EphemeralPub = v
		case 3:
			m.ConfirmMAC = v
		}
		return nil
	})
}

// RekeyConfirm 重密钥确认
//
// 发起方确认持有新纪元密钥；响应方收到后出站切换到新纪元，
// 旧纪元保留到宽限期满统一退役。
type RekeyConfirm struct {
	NewEpoch   uint32
	ConfirmMAC []byte
}

// Marshal 序列化 RekeyConfirm
func (m *RekeyConfirm) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.NewEpoch))
	b = appendBytesField(b, 2, m.ConfirmMAC)
	return b
}

// Unmarshal 反序列化 RekeyConfirm
func (m *RekeyConfirm) Unmarshal(data []byte) error {
	return walkFields(data, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case 1:
			m.NewEpoch = uint32(u)
		case 2:
			m.ConfirmMAC = v
		}
		return nil
	})
}

// ============================================================================
//                              编码辅助
// ============================================================================

// appendBytesField 追加 length-delimited 字段
func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, v)
	return b
}

// walkFields 遍历 protobuf wire format 字段
//
// bytes 字段回调 v，varint 字段回调 u；未知字段跳过（前向兼容）。
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ErrInvalidPayload
		}
		data = data[n:]

		switch typ {
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ErrInvalidPayload
			}
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
			data = data[n:]
		case protowire.VarintType:
			u, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return ErrInvalidPayload
			}
			if err := fn(num, typ, nil, u); err != nil {
				return err
			}
			data = data[n:]
		case protowire.Fixed64Type:
			u, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return ErrInvalidPayload
			}
			if err := fn(num, typ, nil, u); err != nil {
				return err
			}
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return ErrInvalidPayload
			}
			data = data[n:]
		}
	}
	return nil
}
