// Package canonical 包含规范消息的线路编码
//
// 规范消息作为 AEAD 明文在会话间传输时使用本编码。
// 编码是确定性的：字段按固定顺序写出，相同输入产生相同字节。
package canonical

import (
	"errors"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// ErrInvalidEncoding 表示无效的规范消息编码
var ErrInvalidEncoding = errors.New("invalid canonical message encoding")

// ============================================================================
//                              编码
// ============================================================================

// Marshal 序列化规范消息
//
// 顶层字段：
//
//	1 protocol (varint)   2 id (bytes)        3 source (bytes)
//	4 destination (bytes) 5 timestamp (varint) 6 priority (varint)
//	7 field (repeated, embedded)
func Marshal(m *types.CanonicalMessage) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Protocol))
	b = appendString(b, 2, m.ID)
	b = appendString(b, 3, m.Source)
	b = appendString(b, 4, m.Destination)
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, m.Timestamp)
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Priority))
	for i := range m.Fields {
		fb := marshalField(&m.Fields[i])
		b = protowire.AppendTag(b, 7, protowire.BytesType)
		b = protowire.AppendBytes(b, fb)
	}
	return b
}

// marshalField 序列化单个字段
//
// 字段编码：
//
//	1 name (bytes)  2 kind (varint)  3 uint (varint)  4 int (sint64)
//	5 float (fixed64)  6 bytes (bytes)  7 quality (varint)
func marshalField(f *types.Field) []byte {
	var b []byte
	b = appendString(b, 1, f.Name)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Kind))
	switch f.Kind {
	case types.FieldUnsigned:
		b = protowire.AppendTag(b, 3, protowire.VarintType)
		b = protowire.AppendVarint(b, f.Uint)
	case types.FieldSigned:
		b = protowire.AppendTag(b, 4, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeZigZag(f.Int))
	case types.FieldFloat:
		b = protowire.AppendTag(b, 5, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(f.Float))
	case types.FieldBytes:
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendBytes(b, f.Bytes)
	}
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(f.Quality))
	return b
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte(s))
	return b
}

// ============================================================================
//                              解码
// ============================================================================

// Unmarshal 反序列化规范消息
func Unmarshal(data []byte) (*types.CanonicalMessage, error) {
	m := &types.CanonicalMessage{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, ErrInvalidEncoding
		}
		data = data[n:]

		switch {
		case num == 1 && typ == protowire.VarintType:
			u, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrInvalidEncoding
			}
			m.Protocol = types.ProtocolType(u)
			data = data[n:]
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, ErrInvalidEncoding
			}
			m.ID = string(v)
			data = data[n:]
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, ErrInvalidEncoding
			}
			m.Source = string(v)
			data = data[n:]
		case num == 4 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, ErrInvalidEncoding
			}
			m.Destination = string(v)
			data = data[n:]
		case num == 5 && typ == protowire.VarintType:
			u, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrInvalidEncoding
			}
			m.Timestamp = u
			data = data[n:]
		case num == 6 && typ == protowire.VarintType:
			u, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, ErrInvalidEncoding
			}
			m.Priority = uint8(u)
			data = data[n:]
		case num == 7 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, ErrInvalidEncoding
			}
			f, err := unmarshalField(v)
			if err != nil {
				return nil, err
			}
			m.Fields = append(m.Fields, f)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, ErrInvalidEncoding
			}
			data = data[n:]
		}
	}
	return m, nil
}

// unmarshalField 反序列化单个字段
func unmarshalField(data []byte) (types.Field, error) {
	var f types.Field
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return f, ErrInvalidEncoding
		}
		data = data[n:]

		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return f, ErrInvalidEncoding
			}
			f.Name = string(v)
			data = data[n:]
		case num == 2 && typ == protowire.VarintType:
			u, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return f, ErrInvalidEncoding
			}
			f.Kind = types.FieldKind(u)
			data = data[n:]
		case num == 3 && typ == protowire.VarintType:
			u, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return f, ErrInvalidEncoding
			}
			f.Uint = u
			data = data[n:]
		case num == 4 && typ == protowire.VarintType:
			u, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return f, ErrInvalidEncoding
			}
			f.Int = protowire.DecodeZigZag(u)
			data = data[n:]
		case num == 5 && typ == protowire.Fixed64Type:
			u, n := protowire.ConsumeFixed64(data)
			if n < 0 {
				return f, ErrInvalidEncoding
			}
			f.Float = math.Float64frombits(u)
			data = data[n:]
		case num == 6 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return f, ErrInvalidEncoding
			}
			f.Bytes = append([]byte(nil), v...)
			data = data[n:]
		case num == 7 && typ == protowire.VarintType:
			u, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return f, ErrInvalidEncoding
			}
			f.Quality = types.QualityFlags(u)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return f, ErrInvalidEncoding
			}
			data = data[n:]
		}
	}
	return f, nil
}
