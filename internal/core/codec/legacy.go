package codec

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// ============================================================================
//                              MIL-STD-1553 帧布局
// ============================================================================
//
// 帧由 16 位大端字序列组成：
//
//	命令字: [RT 地址(5) | T/R(1) | 子地址(5) | 字数(5)]
//	状态字: 仅 RT->BC 传输时紧随命令字（RT 地址回显在高 5 位）
//	数据字: 0-32 个
//
// 长度规则是严格的：帧的总字节数必须与命令字声明的结构完全一致，
// 多一字节或少一字节都是结构违例。

const (
	// legacyWordSize 一个 1553 字的字节数
	legacyWordSize = 2

	// legacyMaxDataWords 单帧最大数据字数
	legacyMaxDataWords = 32
)

// 规范字段名（固定顺序，编码确定性依赖它）
const (
	fieldRTAddress  = "rt_address"
	fieldSubaddress = "subaddress"
	fieldTransmit   = "transmit"
	fieldWordCount  = "word_count"
	fieldStatusWord = "status_word"
)

// legacyWordField 第 i 个数据字的字段名
func legacyWordField(i int) string {
	return fmt.Sprintf("word_%02d", i)
}

// legacyDataWords 命令字声明的数据字个数
//
// 子地址 0 表示方式指令（mode code）：字数域承载方式码，
// 方式码 >= 16 时附带一个数据字，否则无数据字。
// 普通传输中字数域 0 表示 32 个字（1553 语义）。
func legacyDataWords(subaddress, wordCount uint16) int {
	if subaddress == 0 {
		if wordCount >= 16 {
			return 1
		}
		return 0
	}
	if wordCount == 0 {
		return legacyMaxDataWords
	}
	return int(wordCount)
}

// ============================================================================
//                              解码
// ============================================================================

// DecodeLegacy 解码 MIL-STD-1553 帧
func DecodeLegacy(data []byte, at time.Time) (*types.CanonicalMessage, error) {
	if len(data) < legacyWordSize {
		return nil, fmt.Errorf("%w: frame too short (%d bytes)", types.ErrMalformed, len(data))
	}
	if len(data)%legacyWordSize != 0 {
		return nil, fmt.Errorf("%w: odd frame length %d", types.ErrMalformed, len(data))
	}

	cmd := binary.BigEndian.Uint16(data[0:2])
	rtAddr := (cmd >> 11) & 0x1F
	transmit := (cmd >> 10) & 0x1
	subaddr := (cmd >> 5) & 0x1F
	wordCount := cmd & 0x1F

	modeCode := subaddr == 0
	dataWords := legacyDataWords(subaddr, wordCount)

	// RT->BC 传输携带状态字；方式指令不带
	hasStatus := transmit == 1 && !modeCode

	expected := legacyWordSize + dataWords*legacyWordSize
	if hasStatus {
		expected += legacyWordSize
	}
	if len(data) != expected {
		return nil, fmt.Errorf("%w: declared %d data words, frame is %d bytes (want %d)",
			types.ErrMalformed, dataWords, len(data), expected)
	}

	offset := legacyWordSize
	var statusWord uint16
	if hasStatus {
		statusWord = binary.BigEndian.Uint16(data[offset : offset+legacyWordSize])
		// 状态字高 5 位回显 RT 地址
		if (statusWord>>11)&0x1F != rtAddr {
			return nil, fmt.Errorf("%w: status word RT address mismatch", types.ErrMalformed)
		}
		offset += legacyWordSize
	}

	fields := make([]types.Field, 0, 5+dataWords)
	fields = append(fields,
		types.Field{Name: fieldRTAddress, Kind: types.FieldUnsigned, Uint: uint64(rtAddr), Quality: types.QualityValid},
		types.Field{Name: fieldSubaddress, Kind: types.FieldUnsigned, Uint: uint64(subaddr), Quality: types.QualityValid},
		types.Field{Name: fieldTransmit, Kind: types.FieldUnsigned, Uint: uint64(transmit), Quality: types.QualityValid},
		types.Field{Name: fieldWordCount, Kind: types.FieldUnsigned, Uint: uint64(wordCount), Quality: types.QualityValid},
	)
	if hasStatus {
		fields = append(fields, types.Field{
			Name: fieldStatusWord, Kind: types.FieldUnsigned, Uint: uint64(statusWord), Quality: types.QualityValid,
		})
	}
	for i := 0; i < dataWords; i++ {
		w := binary.BigEndian.Uint16(data[offset : offset+legacyWordSize])
		offset += legacyWordSize
		fields = append(fields, types.Field{
			Name: legacyWordField(i), Kind: types.FieldUnsigned, Uint: uint64(w), Quality: types.QualityValid,
		})
	}

	var id, src, dst string
	if modeCode {
		id = fmt.Sprintf("1553/RT%02d/MC%02d", rtAddr, wordCount)
	} else {
		id = fmt.Sprintf("1553/RT%02d/SA%02d", rtAddr, subaddr)
	}
	if transmit == 1 {
		src = fmt.Sprintf("RT%d", rtAddr)
		dst = "BC"
	} else {
		src = "BC"
		dst = fmt.Sprintf("RT%d", rtAddr)
	}

	return &types.CanonicalMessage{
		Protocol:    types.ProtocolLegacy1553,
		ID:          id,
		Source:      src,
		Destination: dst,
		Timestamp:   uint64(at.UnixMilli()),
		Priority:    2,
		Fields:      fields,
	}, nil
}

// ============================================================================
//                              编码
// ============================================================================

// EncodeLegacy 编码 MIL-STD-1553 帧
//
// 对相同的规范输入产生逐字节相同的输出。
func EncodeLegacy(m *types.CanonicalMessage) ([]byte, error) {
	rtAddr, err := legacyUintField(m, fieldRTAddress, 31)
	if err != nil {
		return nil, err
	}
	subaddr, err := legacyUintField(m, fieldSubaddress, 31)
	if err != nil {
		return nil, err
	}
	transmit, err := legacyUintField(m, fieldTransmit, 1)
	if err != nil {
		return nil, err
	}
	wordCount, err := legacyUintField(m, fieldWordCount, 31)
	if err != nil {
		return nil, err
	}

	modeCode := subaddr == 0
	dataWords := legacyDataWords(uint16(subaddr), uint16(wordCount))
	hasStatus := transmit == 1 && !modeCode

	size := legacyWordSize + dataWords*legacyWordSize
	if hasStatus {
		size += legacyWordSize
	}
	out := make([]byte, 0, size)

	cmd := uint16(rtAddr)<<11 | uint16(transmit)<<10 | uint16(subaddr)<<5 | uint16(wordCount)
	out = binary.BigEndian.AppendUint16(out, cmd)

	if hasStatus {
		status, err := legacyUintField(m, fieldStatusWord, 0xFFFF)
		if err != nil {
			return nil, err
		}
		if (status>>11)&0x1F != rtAddr {
			return nil, fmt.Errorf("%w: status word RT address mismatch", ErrUnencodable)
		}
		out = binary.BigEndian.AppendUint16(out, uint16(status))
	}

	for i := 0; i < dataWords; i++ {
		w, err := legacyUintField(m, legacyWordField(i), 0xFFFF)
		if err != nil {
			return nil, err
		}
		out = binary.BigEndian.AppendUint16(out, uint16(w))
	}

	return out, nil
}

// legacyUintField 提取无符号字段并校验上界
func legacyUintField(m *types.CanonicalMessage, name string, max uint64) (uint64, error) {
	f, ok := m.Field(name)
	if !ok {
		return 0, fmt.Errorf("%w: missing field %q", ErrUnencodable, name)
	}
	if f.Kind != types.FieldUnsigned {
		return 0, fmt.Errorf("%w: field %q kind %v, want Unsigned", ErrUnencodable, name, f.Kind)
	}
	if f.Uint > max {
		return 0, fmt.Errorf("%w: field %q value %d exceeds %d", ErrUnencodable, name, f.Uint, max)
	}
	return f.Uint, nil
}
