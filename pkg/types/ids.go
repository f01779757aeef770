package types

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// ============================================================================
//                              SessionID
// ============================================================================

// SessionIDSize SessionID 的字节长度
//
// 与线路信封中的 session-id 字段宽度一致（16 字节）。
const SessionIDSize = 16

// SessionID 会话标识
//
// 每个对端设备的逻辑通道对应一个 SessionID，
// 由握手发起方生成（UUID v4），在信封中以原始 16 字节传输。
type SessionID [SessionIDSize]byte

// NewSessionID 生成新的会话标识
func NewSessionID() SessionID {
	return SessionID(uuid.New())
}

// SessionIDFromBytes 从字节切片解析 SessionID
func SessionIDFromBytes(b []byte) (SessionID, error) {
	var sid SessionID
	if len(b) != SessionIDSize {
		return sid, fmt.Errorf("%w: got %d bytes", ErrInvalidSessionID, len(b))
	}
	copy(sid[:], b)
	return sid, nil
}

// Bytes 返回原始字节
func (s SessionID) Bytes() []byte {
	b := make([]byte, SessionIDSize)
	copy(b, s[:])
	return b
}

// String 返回十六进制表示（用于日志）
func (s SessionID) String() string {
	return hex.EncodeToString(s[:])
}

// IsZero 判断是否为零值
func (s SessionID) IsZero() bool {
	return s == SessionID{}
}

// ============================================================================
//                              PeerID
// ============================================================================

// PeerID 对端设备标识
//
// 由对端长期验证公钥的指纹派生（BLAKE3 哈希的 Base58 编码），
// 身份库以 PeerID 为键保存验证公钥。
type PeerID string

// PeerIDFromFingerprint 从公钥指纹派生 PeerID
func PeerIDFromFingerprint(fp []byte) PeerID {
	return PeerID(base58.Encode(fp))
}

// Validate 校验 PeerID 格式
func (p PeerID) Validate() error {
	if p == "" {
		return ErrEmptyPeerID
	}
	if _, err := base58.Decode(string(p)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPeerID, err)
	}
	return nil
}

// String 返回字符串表示
func (p PeerID) String() string {
	return string(p)
}

// ============================================================================
//                              Epoch
// ============================================================================

// Epoch 密钥纪元
//
// 每个会话内单调递增的代数计数器，标识当前使用的派生对称密钥。
// 轮换期间同时最多保留两个有效纪元（current 与 previous）。
type Epoch uint32
