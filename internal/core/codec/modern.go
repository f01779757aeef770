package codec

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// ============================================================================
//                              EtherNet/IP 风格帧布局
// ============================================================================
//
// 24 字节定长头 + 变长数据：
//
//	command(1) | reserved(1) | length(2 BE) | session-handle(4 BE) |
//	status(4 BE) | sender-context(8) | options(4 BE) | data
//
// length 字段为整帧字节数，必须与实际帧长严格一致；
// reserved 字节必须为 0；命令必须属于已知命令集。

const (
	// modernHeaderSize 定长头字节数
	modernHeaderSize = 24

	// modernMaxFrame 最大帧长（典型 MTU）
	modernMaxFrame = 1500
)

// 已知命令码
const (
	CmdListIdentity      = 0x63
	CmdListServices      = 0x64
	CmdListInterfaces    = 0x65
	CmdRegisterSession   = 0x66
	CmdUnregisterSession = 0x67
	CmdSendRRData        = 0x6F
	CmdSendUnitData      = 0x70
	CmdDataRequest       = 0x0A
	CmdDataResponse      = 0x0B
)

// modernCommandNames 命令码 -> 助记符
var modernCommandNames = map[uint8]string{
	CmdListIdentity:      "ListIdentity",
	CmdListServices:      "ListServices",
	CmdListInterfaces:    "ListInterfaces",
	CmdRegisterSession:   "RegisterSession",
	CmdUnregisterSession: "UnregisterSession",
	CmdSendRRData:        "SendRRData",
	CmdSendUnitData:      "SendUnitData",
	CmdDataRequest:       "DataRequest",
	CmdDataResponse:      "DataResponse",
}

// 规范字段名
const (
	fieldCommand       = "command"
	fieldSessionHandle = "session_handle"
	fieldStatus        = "status"
	fieldSenderContext = "sender_context"
	fieldOptions       = "options"
	fieldPayload       = "payload"
)

// ============================================================================
//                              解码
// ============================================================================

// DecodeModern 解码 EtherNet/IP 风格帧
func DecodeModern(data []byte, at time.Time) (*types.CanonicalMessage, error) {
	if len(data) < modernHeaderSize {
		return nil, fmt.Errorf("%w: frame too short (%d bytes, header is %d)",
			types.ErrMalformed, len(data), modernHeaderSize)
	}
	if len(data) > modernMaxFrame {
		return nil, fmt.Errorf("%w: frame length %d exceeds %d", types.ErrMalformed, len(data), modernMaxFrame)
	}

	command := data[0]
	name, known := modernCommandNames[command]
	if !known {
		return nil, fmt.Errorf("%w: unknown command 0x%02X", types.ErrMalformed, command)
	}
	if data[1] != 0 {
		return nil, fmt.Errorf("%w: reserved byte 0x%02X", types.ErrMalformed, data[1])
	}
	length := binary.BigEndian.Uint16(data[2:4])
	if int(length) != len(data) {
		return nil, fmt.Errorf("%w: declared length %d, frame is %d bytes", types.ErrMalformed, length, len(data))
	}

	sessionHandle := binary.BigEndian.Uint32(data[4:8])
	status := binary.BigEndian.Uint32(data[8:12])
	senderContext := append([]byte(nil), data[12:20]...)
	options := binary.BigEndian.Uint32(data[20:24])
	payload := append([]byte(nil), data[modernHeaderSize:]...)

	isCommand := command == CmdListIdentity || command == CmdListServices ||
		command == CmdRegisterSession || command == CmdSendRRData || command == CmdDataRequest

	priority := uint8(3)
	if isCommand {
		priority = 1
	}

	return &types.CanonicalMessage{
		Protocol:  types.ProtocolModernENIP,
		ID:        "ENIP/" + name,
		Timestamp: uint64(at.UnixMilli()),
		Priority:  priority,
		Fields: []types.Field{
			{Name: fieldCommand, Kind: types.FieldUnsigned, Uint: uint64(command), Quality: types.QualityValid},
			{Name: fieldSessionHandle, Kind: types.FieldUnsigned, Uint: uint64(sessionHandle), Quality: types.QualityValid},
			{Name: fieldStatus, Kind: types.FieldUnsigned, Uint: uint64(status), Quality: types.QualityValid},
			{Name: fieldSenderContext, Kind: types.FieldBytes, Bytes: senderContext, Quality: types.QualityValid},
			{Name: fieldOptions, Kind: types.FieldUnsigned, Uint: uint64(options), Quality: types.QualityValid},
			{Name: fieldPayload, Kind: types.FieldBytes, Bytes: payload, Quality: types.QualityValid},
		},
	}, nil
}

// ============================================================================
//                              编码
// ============================================================================

// EncodeModern 编码 EtherNet/IP 风格帧
func EncodeModern(m *types.CanonicalMessage) ([]byte, error) {
	command, err := modernUintField(m, fieldCommand, 0xFF)
	if err != nil {
		return nil, err
	}
	if _, known := modernCommandNames[uint8(command)]; !known {
		return nil, fmt.Errorf("%w: unknown command 0x%02X", ErrUnencodable, command)
	}
	sessionHandle, err := modernUintField(m, fieldSessionHandle, 0xFFFFFFFF)
	if err != nil {
		return nil, err
	}
	status, err := modernUintField(m, fieldStatus, 0xFFFFFFFF)
	if err != nil {
		return nil, err
	}
	options, err := modernUintField(m, fieldOptions, 0xFFFFFFFF)
	if err != nil {
		return nil, err
	}

	context, ok := m.Field(fieldSenderContext)
	if !ok || context.Kind != types.FieldBytes || len(context.Bytes) != 8 {
		return nil, fmt.Errorf("%w: field %q must be 8 bytes", ErrUnencodable, fieldSenderContext)
	}
	payload, ok := m.Field(fieldPayload)
	if !ok || payload.Kind != types.FieldBytes {
		return nil, fmt.Errorf("%w: missing field %q", ErrUnencodable, fieldPayload)
	}

	total := modernHeaderSize + len(payload.Bytes)
	if total > modernMaxFrame {
		return nil, fmt.Errorf("%w: frame length %d exceeds %d", ErrUnencodable, total, modernMaxFrame)
	}

	out := make([]byte, 0, total)
	out = append(out, uint8(command), 0)
	out = binary.BigEndian.AppendUint16(out, uint16(total))
	out = binary.BigEndian.AppendUint32(out, uint32(sessionHandle))
	out = binary.BigEndian.AppendUint32(out, uint32(status))
	out = append(out, context.Bytes...)
	out = binary.BigEndian.AppendUint32(out, uint32(options))
	out = append(out, payload.Bytes...)
	return out, nil
}

// modernUintField 提取无符号字段并校验上界
func modernUintField(m *types.CanonicalMessage, name string, max uint64) (uint64, error) {
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
