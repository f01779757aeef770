package translate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-secure-gateway/pkg/types"
)

func legacyTestMessage() *types.CanonicalMessage {
	return &types.CanonicalMessage{
		Protocol:    types.ProtocolLegacy1553,
		ID:          "1553/RT05/SA03",
		Source:      "RT5",
		Destination: "BC",
		Timestamp:   12345,
		Priority:    2,
		Fields: []types.Field{
			{Name: "rt_address", Kind: types.FieldUnsigned, Uint: 5, Quality: types.QualityValid},
			{Name: "word_00", Kind: types.FieldUnsigned, Uint: 400, Quality: types.QualityValid},
			{Name: "word_01", Kind: types.FieldUnsigned, Uint: 100, Quality: types.QualityValid},
		},
	}
}

// TestTranslate 测试各映射操作
func TestTranslate(t *testing.T) {
	rule := &Rule{
		Name: "legacy-to-modern",
		From: types.ProtocolLegacy1553,
		To:   types.ProtocolModernENIP,
		Mappings: []Mapping{
			{Destination: "rt_address", Op: MapIdentity},
			{Destination: "altitude_raw", Op: MapRename, Source: "word_00"},
			{Destination: "airspeed_mps", Op: MapScale, Source: "word_01", Factor: 0.5144, Offset: 0},
			{Destination: "status", Op: MapDefault, Default: &types.Field{Kind: types.FieldUnsigned, Uint: 0}},
		},
	}
	require.NoError(t, rule.Validate())

	out, err := Translate(legacyTestMessage(), rule)
	require.NoError(t, err)

	assert.Equal(t, types.ProtocolModernENIP, out.Protocol)
	assert.Equal(t, "1553/RT05/SA03", out.ID)
	require.Len(t, out.Fields, 4)

	t.Run("同名直取", func(t *testing.T) {
		f, ok := out.Field("rt_address")
		require.True(t, ok)
		assert.Equal(t, uint64(5), f.Uint)
		assert.Zero(t, f.Quality&types.QualityDefaulted)
	})

	t.Run("改名取值", func(t *testing.T) {
		f, ok := out.Field("altitude_raw")
		require.True(t, ok)
		assert.Equal(t, uint64(400), f.Uint)
	})

	t.Run("数值换算", func(t *testing.T) {
		f, ok := out.Field("airspeed_mps")
		require.True(t, ok)
		assert.Equal(t, types.FieldFloat, f.Kind)
		assert.InDelta(t, 51.44, f.Float, 1e-9)
	})

	t.Run("常量填充标记质量位", func(t *testing.T) {
		f, ok := out.Field("status")
		require.True(t, ok)
		assert.NotZero(t, f.Quality&types.QualityDefaulted)
	})
}

// TestTranslateUnmappable 测试无可满足来源且无默认值时显式失败
func TestTranslateUnmappable(t *testing.T) {
	tests := []struct {
		name string
		rule Rule
	}{
		{
			name: "源字段缺失",
			rule: Rule{
				Name: "missing-source",
				From: types.ProtocolLegacy1553,
				To:   types.ProtocolModernENIP,
				Mappings: []Mapping{
					{Destination: "velocity", Op: MapRename, Source: "word_99"},
				},
			},
		},
		{
			name: "换算源非数值",
			rule: Rule{
				Name: "scale-bytes",
				From: types.ProtocolLegacy1553,
				To:   types.ProtocolModernENIP,
				Mappings: []Mapping{
					{Destination: "scaled", Op: MapScale, Source: "blob", Factor: 2},
				},
			},
		},
	}

	msg := legacyTestMessage()
	msg.Fields = append(msg.Fields, types.Field{
		Name: "blob", Kind: types.FieldBytes, Bytes: []byte{1, 2}, Quality: types.QualityValid,
	})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, tt.rule.Validate())
			_, err := Translate(msg, &tt.rule)
			require.Error(t, err)
			assert.ErrorIs(t, err, types.ErrUnmappableField)
		})
	}
}

// TestTranslateSourceMissingWithDefault 测试源缺失时回退默认值
func TestTranslateSourceMissingWithDefault(t *testing.T) {
	rule := &Rule{
		Name: "fallback",
		From: types.ProtocolLegacy1553,
		To:   types.ProtocolModernENIP,
		Mappings: []Mapping{
			{
				Destination: "mode",
				Op:          MapRename,
				Source:      "word_99",
				Default:     &types.Field{Kind: types.FieldUnsigned, Uint: 7},
			},
		},
	}

	out, err := Translate(legacyTestMessage(), rule)
	require.NoError(t, err)

	f, ok := out.Field("mode")
	require.True(t, ok)
	assert.Equal(t, uint64(7), f.Uint)
	assert.NotZero(t, f.Quality&types.QualityDefaulted)
}

// TestRuleSetMatch 测试规则选择：协议、过滤条件与优先级
func TestRuleSetMatch(t *testing.T) {
	low := Rule{
		Name: "catch-all", From: types.ProtocolLegacy1553, To: types.ProtocolModernENIP,
		Priority: 1,
		Mappings: []Mapping{{Destination: "rt_address", Op: MapIdentity}},
	}
	high := Rule{
		Name: "rt5-only", From: types.ProtocolLegacy1553, To: types.ProtocolModernENIP,
		Priority: 10,
		Filter:   Filter{Source: "RT5"},
		Mappings: []Mapping{{Destination: "rt_address", Op: MapIdentity}},
	}
	modern := Rule{
		Name: "modern-to-legacy", From: types.ProtocolModernENIP, To: types.ProtocolLegacy1553,
		Priority: 5,
		Mappings: []Mapping{{Destination: "command", Op: MapIdentity}},
	}

	rs, err := NewRuleSet([]Rule{low, high, modern})
	require.NoError(t, err)
	assert.Equal(t, 3, rs.Len())

	t.Run("过滤命中时取高优先级规则", func(t *testing.T) {
		r, ok := rs.Match(legacyTestMessage())
		require.True(t, ok)
		assert.Equal(t, "rt5-only", r.Name)
	})

	t.Run("过滤不命中时回退低优先级规则", func(t *testing.T) {
		m := legacyTestMessage()
		m.Source = "RT9"
		r, ok := rs.Match(m)
		require.True(t, ok)
		assert.Equal(t, "catch-all", r.Name)
	})

	t.Run("协议不匹配时无规则", func(t *testing.T) {
		m := legacyTestMessage()
		m.Protocol = types.ProtocolModernENIP
		r, ok := rs.Match(m)
		require.True(t, ok)
		assert.Equal(t, "modern-to-legacy", r.Name)
	})

	t.Run("按名查找", func(t *testing.T) {
		_, ok := rs.Rule("rt5-only")
		assert.True(t, ok)
		_, ok = rs.Rule("no-such-rule")
		assert.False(t, ok)
	})
}

// TestRuleValidate 测试规则校验
func TestRuleValidate(t *testing.T) {
	valid := func() Rule {
		return Rule{
			Name: "r", From: types.ProtocolLegacy1553, To: types.ProtocolModernENIP,
			Mappings: []Mapping{{Destination: "a", Op: MapIdentity}},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Rule)
	}{
		{name: "空规则名", mutate: func(r *Rule) { r.Name = "" }},
		{name: "非法协议", mutate: func(r *Rule) { r.From = types.ProtocolType(99) }},
		{name: "空目标字段名", mutate: func(r *Rule) { r.Mappings[0].Destination = "" }},
		{name: "目标字段重复", mutate: func(r *Rule) { r.Mappings = append(r.Mappings, r.Mappings[0]) }},
		{name: "零换算系数", mutate: func(r *Rule) { r.Mappings[0].Op = MapScale; r.Mappings[0].Factor = 0 }},
		{name: "常量填充缺默认值", mutate: func(r *Rule) { r.Mappings[0].Op = MapDefault }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(&r)
			assert.Error(t, r.Validate())
		})
	}

	t.Run("规则集拒绝重名规则", func(t *testing.T) {
		_, err := NewRuleSet([]Rule{valid(), valid()})
		assert.Error(t, err)
	})
}

// TestTranslateTelemetryScenario 测试十字段遥测消息翻译：
// 八个字段映射自源数据字，两个字段取默认值
func TestTranslateTelemetryScenario(t *testing.T) {
	src := &types.CanonicalMessage{
		Protocol:    types.ProtocolLegacy1553,
		ID:          "1553/RT05/SA03",
		Source:      "RT5",
		Destination: "BC",
		Timestamp:   1700000000000,
		Priority:    2,
	}
	for i := 0; i < 8; i++ {
		src.Fields = append(src.Fields, types.Field{
			Name: fmt.Sprintf("word_%02d", i), Kind: types.FieldUnsigned,
			Uint: uint64(100 + i), Quality: types.QualityValid,
		})
	}

	mappings := make([]Mapping, 0, 10)
	for i := 0; i < 8; i++ {
		mappings = append(mappings, Mapping{
			Destination: fmt.Sprintf("channel_%d", i),
			Op:          MapRename,
			Source:      fmt.Sprintf("word_%02d", i),
		})
	}
	mappings = append(mappings,
		Mapping{Destination: "status", Op: MapDefault,
			Default: &types.Field{Kind: types.FieldUnsigned, Uint: 0}},
		Mapping{Destination: "options", Op: MapDefault,
			Default: &types.Field{Kind: types.FieldUnsigned, Uint: 0}},
	)
	rule := &Rule{
		Name: "telemetry", From: types.ProtocolLegacy1553,
		To: types.ProtocolModernENIP, Mappings: mappings,
	}
	require.NoError(t, rule.Validate())

	out, err := Translate(src, rule)
	require.NoError(t, err)
	require.Len(t, out.Fields, 10)

	for i := 0; i < 8; i++ {
		f, ok := out.Field(fmt.Sprintf("channel_%d", i))
		require.True(t, ok)
		assert.Equal(t, uint64(100+i), f.Uint)
		assert.Zero(t, f.Quality&types.QualityDefaulted)
	}
	for _, name := range []string{"status", "options"} {
		f, ok := out.Field(name)
		require.True(t, ok)
		assert.NotZero(t, f.Quality&types.QualityDefaulted)
	}

	// 源消息未被修改
	assert.Len(t, src.Fields, 8)
	assert.Equal(t, types.ProtocolLegacy1553, src.Protocol)
}
