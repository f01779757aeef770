package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-secure-gateway/pkg/types"
)

func testEnvelope() *Envelope {
	return &Envelope{
		Version:    EnvelopeVersion,
		Session:    types.SessionID{1, 2, 3, 4},
		Epoch:      7,
		Sequence:   42,
		Ciphertext: []byte("ciphertext-with-tag"),
		Signature:  make([]byte, envelopeSigSize),
	}
}

// TestEnvelopeRoundTrip 测试信封编解码往返
func TestEnvelopeRoundTrip(t *testing.T) {
	e := testEnvelope()

	wire, err := EncodeEnvelope(e)
	require.NoError(t, err)

	got, err := DecodeEnvelope(wire)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	// 确定性：再次编码结果相同
	again, err := EncodeEnvelope(got)
	require.NoError(t, err)
	assert.Equal(t, wire, again)
}

// TestEnvelopeSignedBytes 测试签名覆盖 header || ciphertext
func TestEnvelopeSignedBytes(t *testing.T) {
	e := testEnvelope()

	signed := e.SignedBytes()
	require.Equal(t, envelopeHeaderSize+len(e.Ciphertext), len(signed))
	assert.Equal(t, e.Header(), signed[:envelopeHeaderSize])
	assert.Equal(t, e.Ciphertext, signed[envelopeHeaderSize:])

	// 签名本身不在覆盖范围内：改签名不影响 SignedBytes
	e.Signature[0] ^= 0xFF
	assert.Equal(t, signed, e.SignedBytes())
}

// TestDecodeEnvelopeMalformed 测试畸形信封拒绝
func TestDecodeEnvelopeMalformed(t *testing.T) {
	valid, err := EncodeEnvelope(testEnvelope())
	require.NoError(t, err)

	badVersion := append([]byte(nil), valid...)
	badVersion[0] = 99

	badLength := append([]byte(nil), valid...)
	badLength[envelopeHeaderSize+3]++ // ct-len 声明多一字节

	tests := []struct {
		name string
		wire []byte
	}{
		{name: "空输入", wire: nil},
		{name: "不足最小长度", wire: valid[:envelopeMinSize-1]},
		{name: "版本不支持", wire: badVersion},
		{name: "长度声明与帧长不符", wire: badLength},
		{name: "尾部多余字节", wire: append(append([]byte(nil), valid...), 0x00)},
		{name: "尾部缺失字节", wire: valid[:len(valid)-1]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEnvelope(tt.wire)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrMalformed)
		})
	}
}

// TestEncodeEnvelopeRejectsBadSignature 测试签名长度校验
func TestEncodeEnvelopeRejectsBadSignature(t *testing.T) {
	e := testEnvelope()
	e.Signature = e.Signature[:63]
	_, err := EncodeEnvelope(e)
	assert.ErrorIs(t, err, ErrUnencodable)
}

// TestWireKind 测试链路帧类别判别
func TestWireKind(t *testing.T) {
	t.Run("往返", func(t *testing.T) {
		body := []byte("body")
		for _, kind := range []WireKind{WireEnvelope, WireHandshakeInit, WireHandshakeResp, WireHandshakeConfirm} {
			wire := EncodeWire(kind, body)
			gotKind, gotBody, err := DecodeWire(wire)
			require.NoError(t, err)
			assert.Equal(t, kind, gotKind)
			assert.Equal(t, body, gotBody)
		}
	})

	t.Run("空帧拒绝", func(t *testing.T) {
		_, _, err := DecodeWire(nil)
		assert.ErrorIs(t, err, types.ErrMalformed)
	})

	t.Run("未知类别拒绝", func(t *testing.T) {
		_, _, err := DecodeWire([]byte{0x7F, 0x00})
		assert.ErrorIs(t, err, types.ErrMalformed)
	})
}
