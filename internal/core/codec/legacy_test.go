package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// legacyCommandWord 组装 1553 命令字
func legacyCommandWord(rt, tr, sa, wc uint16) uint16 {
	return rt<<11 | tr<<10 | sa<<5 | wc
}

// legacyFrame 组装测试帧：命令字 + 附加字
func legacyFrame(words ...uint16) []byte {
	out := make([]byte, 0, len(words)*2)
	for _, w := range words {
		out = append(out, byte(w>>8), byte(w))
	}
	return out
}

// TestDecodeLegacy 测试 1553 帧解码
func TestDecodeLegacy(t *testing.T) {
	at := time.UnixMilli(1700000000000)

	tests := []struct {
		name    string
		frame   []byte
		wantID  string
		wantSrc string
		wantDst string
		words   int
	}{
		{
			name:    "BC到RT写传输",
			frame:   legacyFrame(legacyCommandWord(5, 0, 3, 2), 0xAAAA, 0xBBBB),
			wantID:  "1553/RT05/SA03",
			wantSrc: "BC",
			wantDst: "RT5",
			words:   2,
		},
		{
			name:    "RT到BC读传输带状态字",
			frame:   legacyFrame(legacyCommandWord(5, 1, 3, 2), 5<<11, 0x1111, 0x2222),
			wantID:  "1553/RT05/SA03",
			wantSrc: "RT5",
			wantDst: "BC",
			words:   2,
		},
		{
			name:    "字数域0表示32个字",
			frame:   legacyFrame(append([]uint16{legacyCommandWord(1, 0, 7, 0)}, make([]uint16, 32)...)...),
			wantID:  "1553/RT01/SA07",
			wantSrc: "BC",
			wantDst: "RT1",
			words:   32,
		},
		{
			name:    "方式指令无数据字",
			frame:   legacyFrame(legacyCommandWord(9, 1, 0, 2)),
			wantID:  "1553/RT09/MC02",
			wantSrc: "RT9",
			wantDst: "BC",
			words:   0,
		},
		{
			name:    "方式指令带一个数据字",
			frame:   legacyFrame(legacyCommandWord(9, 1, 0, 17), 0x00FF),
			wantID:  "1553/RT09/MC17",
			wantSrc: "RT9",
			wantDst: "BC",
			words:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := DecodeLegacy(tt.frame, at)
			require.NoError(t, err)
			assert.Equal(t, types.ProtocolLegacy1553, m.Protocol)
			assert.Equal(t, tt.wantID, m.ID)
			assert.Equal(t, tt.wantSrc, m.Source)
			assert.Equal(t, tt.wantDst, m.Destination)
			assert.Equal(t, uint64(at.UnixMilli()), m.Timestamp)

			for i := 0; i < tt.words; i++ {
				_, ok := m.Field(legacyWordField(i))
				assert.True(t, ok, "缺少数据字字段 %d", i)
			}
			_, extra := m.Field(legacyWordField(tt.words))
			assert.False(t, extra, "出现多余的数据字字段")
		})
	}
}

// TestDecodeLegacyMalformed 测试畸形帧拒绝
func TestDecodeLegacyMalformed(t *testing.T) {
	at := time.Now()

	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "空帧", frame: nil},
		{name: "奇数字节", frame: []byte{0x28}},
		{name: "缺少数据字", frame: legacyFrame(legacyCommandWord(5, 0, 3, 2), 0xAAAA)},
		{name: "多余数据字", frame: legacyFrame(legacyCommandWord(5, 0, 3, 1), 0xAAAA, 0xBBBB)},
		{name: "缺少状态字", frame: legacyFrame(legacyCommandWord(5, 1, 3, 1), 0x1111)},
		{name: "状态字RT地址不匹配", frame: legacyFrame(legacyCommandWord(5, 1, 3, 1), 6<<11, 0x1111)},
		{name: "方式指令附带多余字", frame: legacyFrame(legacyCommandWord(9, 1, 0, 2), 0x0001)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeLegacy(tt.frame, at)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrMalformed)
		})
	}
}

// TestLegacyRoundTrip 测试解码后重编码逐字节一致
func TestLegacyRoundTrip(t *testing.T) {
	at := time.UnixMilli(1700000000000)

	frames := [][]byte{
		legacyFrame(legacyCommandWord(5, 0, 3, 2), 0xAAAA, 0xBBBB),
		legacyFrame(legacyCommandWord(5, 1, 3, 2), 5<<11|0x01, 0x1111, 0x2222),
		legacyFrame(legacyCommandWord(9, 1, 0, 17), 0x00FF),
		legacyFrame(append([]uint16{legacyCommandWord(1, 0, 7, 0)}, make([]uint16, 32)...)...),
	}

	for _, frame := range frames {
		m, err := DecodeLegacy(frame, at)
		require.NoError(t, err)

		out, err := EncodeLegacy(m)
		require.NoError(t, err)
		assert.Equal(t, frame, out)

		// 确定性：同一输入再次编码结果相同
		again, err := EncodeLegacy(m)
		require.NoError(t, err)
		assert.Equal(t, out, again)
	}
}

// TestEncodeLegacyUnencodable 测试缺失或越界字段拒绝编码
func TestEncodeLegacyUnencodable(t *testing.T) {
	base := func() *types.CanonicalMessage {
		return &types.CanonicalMessage{
			Protocol: types.ProtocolLegacy1553,
			Fields: []types.Field{
				{Name: "rt_address", Kind: types.FieldUnsigned, Uint: 5, Quality: types.QualityValid},
				{Name: "subaddress", Kind: types.FieldUnsigned, Uint: 3, Quality: types.QualityValid},
				{Name: "transmit", Kind: types.FieldUnsigned, Uint: 0, Quality: types.QualityValid},
				{Name: "word_count", Kind: types.FieldUnsigned, Uint: 1, Quality: types.QualityValid},
				{Name: "word_00", Kind: types.FieldUnsigned, Uint: 0xBEEF, Quality: types.QualityValid},
			},
		}
	}

	t.Run("完整消息可编码", func(t *testing.T) {
		_, err := EncodeLegacy(base())
		require.NoError(t, err)
	})

	t.Run("缺少数据字", func(t *testing.T) {
		m := base()
		m.Fields = m.Fields[:4]
		_, err := EncodeLegacy(m)
		assert.ErrorIs(t, err, ErrUnencodable)
	})

	t.Run("RT地址越界", func(t *testing.T) {
		m := base()
		m.Fields[0].Uint = 32
		_, err := EncodeLegacy(m)
		assert.ErrorIs(t, err, ErrUnencodable)
	})

	t.Run("字段类型不匹配", func(t *testing.T) {
		m := base()
		m.Fields[0].Kind = types.FieldBytes
		_, err := EncodeLegacy(m)
		assert.ErrorIs(t, err, ErrUnencodable)
	})
}
