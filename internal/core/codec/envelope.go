package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// ============================================================================
//                              受保护消息信封
// ============================================================================
//
// 规范线路布局（bit-exact）：
//
//	version(1) | session-id(16) | epoch(4 BE) | sequence(8 BE) |
//	ciphertext-length(4 BE) | ciphertext+tag | signature(64)
//
// nonce 不上线路：由 (epoch, sequence) 确定性重算。
// 任何超出声明长度的字段都是结构性解析失败。

const (
	// EnvelopeVersion 当前协议版本
	EnvelopeVersion = 1

	// envelopeHeaderSize 信封头长度：version + session-id + epoch + sequence
	envelopeHeaderSize = 1 + types.SessionIDSize + 4 + 8

	// envelopeSigSize Ed25519 签名长度
	envelopeSigSize = 64

	// envelopeMinSize 最小信封长度（空密文也含 ctlen 与签名）
	envelopeMinSize = envelopeHeaderSize + 4 + envelopeSigSize

	// envelopeMaxCiphertext 密文长度上限，拒绝畸形长度声明
	envelopeMaxCiphertext = 1 << 20
)

// Envelope 受保护的消息信封
//
// (session-id, epoch, sequence) 三元组在单方向上全时唯一，
// 是重放拒绝的唯一准入判据。
type Envelope struct {
	// Version 协议版本
	Version uint8
	// Session 会话标识
	Session types.SessionID
	// Epoch 密钥纪元
	Epoch types.Epoch
	// Sequence 序列号（纪元内单调递增，不回绕）
	Sequence uint64
	// Ciphertext AEAD 输出（含认证标签）
	Ciphertext []byte
	// Signature 对 header || ciphertext 的 Ed25519 签名
	Signature []byte
}

// Header 返回信封头字节（签名与 AEAD 关联数据均覆盖它）
func (e *Envelope) Header() []byte {
	h := make([]byte, 0, envelopeHeaderSize)
	h = append(h, e.Version)
	h = append(h, e.Session[:]...)
	h = binary.BigEndian.AppendUint32(h, uint32(e.Epoch))
	h = binary.BigEndian.AppendUint64(h, e.Sequence)
	return h
}

// SignedBytes 返回签名覆盖的字节：header || ciphertext
func (e *Envelope) SignedBytes() []byte {
	h := e.Header()
	out := make([]byte, 0, len(h)+len(e.Ciphertext))
	out = append(out, h...)
	out = append(out, e.Ciphertext...)
	return out
}

// EncodeEnvelope 序列化信封
func EncodeEnvelope(e *Envelope) ([]byte, error) {
	if len(e.Signature) != envelopeSigSize {
		return nil, fmt.Errorf("%w: signature length %d", ErrUnencodable, len(e.Signature))
	}
	if len(e.Ciphertext) > envelopeMaxCiphertext {
		return nil, fmt.Errorf("%w: ciphertext length %d", ErrUnencodable, len(e.Ciphertext))
	}
	out := make([]byte, 0, envelopeHeaderSize+4+len(e.Ciphertext)+envelopeSigSize)
	out = append(out, e.Header()...)
	out = binary.BigEndian.AppendUint32(out, uint32(len(e.Ciphertext)))
	out = append(out, e.Ciphertext...)
	out = append(out, e.Signature...)
	return out, nil
}

// DecodeEnvelope 反序列化信封
//
// 严格校验：版本、声明的密文长度与实际帧长必须完全一致，
// 任何多余或缺失的字节返回 types.ErrMalformed。
func DecodeEnvelope(data []byte) (*Envelope, error) {
	if len(data) < envelopeMinSize {
		return nil, fmt.Errorf("%w: envelope too short (%d bytes)", types.ErrMalformed, len(data))
	}

	e := &Envelope{Version: data[0]}
	if e.Version != EnvelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", types.ErrMalformed, e.Version)
	}

	offset := 1
	copy(e.Session[:], data[offset:offset+types.SessionIDSize])
	offset += types.SessionIDSize
	e.Epoch = types.Epoch(binary.BigEndian.Uint32(data[offset : offset+4]))
	offset += 4
	e.Sequence = binary.BigEndian.Uint64(data[offset : offset+8])
	offset += 8

	ctLen := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4
	if ctLen > envelopeMaxCiphertext {
		return nil, fmt.Errorf("%w: declared ciphertext length %d", types.ErrMalformed, ctLen)
	}
	if len(data) != offset+int(ctLen)+envelopeSigSize {
		return nil, fmt.Errorf("%w: declared ciphertext %d bytes, frame is %d bytes",
			types.ErrMalformed, ctLen, len(data))
	}

	e.Ciphertext = append([]byte(nil), data[offset:offset+int(ctLen)]...)
	offset += int(ctLen)
	e.Signature = append([]byte(nil), data[offset:offset+envelopeSigSize]...)
	return e, nil
}

// ============================================================================
//                              链路帧判别
// ============================================================================
//
// 传输边界投递的每个帧以 1 字节类别开头：
// 受保护信封与明文握手帧在同一链路上共存，由类别字节判别。
// 重密钥控制消息不在此处出现：它们作为受保护信封的内层载荷传输。

// WireKind 链路帧类别
type WireKind byte

const (
	// WireEnvelope 受保护消息信封
	WireEnvelope WireKind = 0x00
	// WireHandshakeInit 握手发起
	WireHandshakeInit WireKind = 0x01
	// WireHandshakeResp 握手响应
	WireHandshakeResp WireKind = 0x02
	// WireHandshakeConfirm 握手确认
	WireHandshakeConfirm WireKind = 0x03
)

// Valid 判断是否为已知类别
func (k WireKind) Valid() bool {
	return k <= WireHandshakeConfirm
}

// String 返回类别的字符串表示
func (k WireKind) String() string {
	switch k {
	case WireEnvelope:
		return "envelope"
	case WireHandshakeInit:
		return "handshake_init"
	case WireHandshakeResp:
		return "handshake_resp"
	case WireHandshakeConfirm:
		return "handshake_confirm"
	default:
		return "unknown"
	}
}

// EncodeWire 编码链路帧：kind(1) || body
func EncodeWire(kind WireKind, body []byte) []byte {
	out := make([]byte, 0, 1+len(body))
	out = append(out, byte(kind))
	out = append(out, body...)
	return out
}

// DecodeWire 解码链路帧
func DecodeWire(data []byte) (WireKind, []byte, error) {
	if len(data) < 1 {
		return 0, nil, fmt.Errorf("%w: empty wire frame", types.ErrMalformed)
	}
	kind := WireKind(data[0])
	if !kind.Valid() {
		return 0, nil, fmt.Errorf("%w: unknown wire kind 0x%02X", types.ErrMalformed, data[0])
	}
	return kind, data[1:], nil
}
