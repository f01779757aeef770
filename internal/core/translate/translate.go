// Package translate 实现协议间的规范消息翻译。
//
// 翻译引擎是纯函数：读取外部提供的规则集，把一种协议的规范消息
// 映射为另一种协议的规范消息。目标字段缺乏可满足的来源且无默认值
// 时显式失败，绝不静默丢弃字段。
package translate

import (
	"fmt"

	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// Translate 按规则把规范消息翻译为目标协议的规范消息
//
// 输入消息与规则集均只读。目标字段按 Mappings 声明顺序产出。
func Translate(m *types.CanonicalMessage, r *Rule) (*types.CanonicalMessage, error) {
	if m.Protocol != r.From {
		return nil, fmt.Errorf("%w: rule %q expects %v, message is %v",
			types.ErrUnmappableField, r.Name, r.From, m.Protocol)
	}

	fields := make([]types.Field, 0, len(r.Mappings))
	for i := range r.Mappings {
		f, err := applyMapping(m, &r.Mappings[i])
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.Name, err)
		}
		fields = append(fields, f)
	}

	out := &types.CanonicalMessage{
		Protocol:    r.To,
		ID:          m.ID,
		Source:      m.Source,
		Destination: m.Destination,
		Timestamp:   m.Timestamp,
		Priority:    m.Priority,
		Fields:      fields,
	}
	if r.PriorityOverride != nil {
		out.Priority = *r.PriorityOverride
	}
	return out, nil
}

// applyMapping 产出一个目标字段
func applyMapping(m *types.CanonicalMessage, mp *Mapping) (types.Field, error) {
	if mp.Op == MapDefault {
		f := *mp.Default
		f.Name = mp.Destination
		f.Quality |= types.QualityDefaulted
		return f, nil
	}

	src, ok := m.Field(mp.sourceName())
	if !ok {
		if mp.Default != nil {
			f := *mp.Default
			f.Name = mp.Destination
			f.Quality |= types.QualityDefaulted
			return f, nil
		}
		return types.Field{}, fmt.Errorf("%w: destination %q has no source field %q",
			types.ErrUnmappableField, mp.Destination, mp.sourceName())
	}

	switch mp.Op {
	case MapIdentity, MapRename:
		f := src
		f.Name = mp.Destination
		return f, nil

	case MapScale:
		v, err := numericValue(&src)
		if err != nil {
			return types.Field{}, fmt.Errorf("destination %q: %w", mp.Destination, err)
		}
		return types.Field{
			Name:    mp.Destination,
			Kind:    types.FieldFloat,
			Float:   v*mp.Factor + mp.Offset,
			Quality: src.Quality,
		}, nil

	default:
		return types.Field{}, fmt.Errorf("%w: destination %q has unknown op",
			types.ErrUnmappableField, mp.Destination)
	}
}

// numericValue 提取数值字段的浮点值
func numericValue(f *types.Field) (float64, error) {
	switch f.Kind {
	case types.FieldUnsigned:
		return float64(f.Uint), nil
	case types.FieldSigned:
		return float64(f.Int), nil
	case types.FieldFloat:
		return f.Float, nil
	default:
		return 0, fmt.Errorf("%w: field %q is not numeric", types.ErrUnmappableField, f.Name)
	}
}
