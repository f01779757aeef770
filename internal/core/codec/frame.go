package codec

import (
	"fmt"
	"time"

	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// ============================================================================
//                              协议分发
// ============================================================================

// Decode 按协议解码原始帧
//
// at 为接收时间，解码结果的时间戳取自该值（线路格式不携带时间戳）。
// 协议集封闭，未知协议是调用方错误。
func Decode(proto types.ProtocolType, data []byte, at time.Time) (*types.CanonicalMessage, error) {
	switch proto {
	case types.ProtocolLegacy1553:
		return DecodeLegacy(data, at)
	case types.ProtocolModernENIP:
		return DecodeModern(data, at)
	default:
		return nil, fmt.Errorf("%w: protocol %v", types.ErrMalformed, proto)
	}
}

// Encode 按协议编码规范消息
//
// 消息的 Protocol 字段必须与目标协议一致；编码确定性。
func Encode(proto types.ProtocolType, m *types.CanonicalMessage) ([]byte, error) {
	switch proto {
	case types.ProtocolLegacy1553:
		return EncodeLegacy(m)
	case types.ProtocolModernENIP:
		return EncodeModern(m)
	default:
		return nil, fmt.Errorf("%w: protocol %v", types.ErrMalformed, proto)
	}
}
