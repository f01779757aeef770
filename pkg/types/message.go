package types

// ============================================================================
//                              QualityFlags - 质量标志
// ============================================================================

// QualityFlags 字段质量/状态标志位
type QualityFlags uint8

const (
	// QualityValid 数据有效
	QualityValid QualityFlags = 1 << iota
	// QualityStale 数据过期
	QualityStale
	// QualitySimulated 仿真数据
	QualitySimulated
	// QualityDefaulted 翻译时由默认值填充
	QualityDefaulted
)

// Has 判断是否包含指定标志
func (q QualityFlags) Has(flag QualityFlags) bool {
	return q&flag != 0
}

// ============================================================================
//                              Field - 规范字段
// ============================================================================

// Field 规范消息中的一个类型化字段
//
// 按 Kind 分槽存储值，访问方必须按 Kind 穷举处理。
type Field struct {
	// Name 字段名（翻译规则以字段名寻址）
	Name string
	// Kind 值类型
	Kind FieldKind
	// Uint 无符号整数值（Kind == FieldUnsigned 时有效）
	Uint uint64
	// Int 有符号整数值（Kind == FieldSigned 时有效）
	Int int64
	// Float 浮点值（Kind == FieldFloat 时有效）
	Float float64
	// Bytes 字节值（Kind == FieldBytes 时有效）
	Bytes []byte
	// Quality 质量标志
	Quality QualityFlags
}

// Equal 判断两个字段是否相等
func (f Field) Equal(o Field) bool {
	if f.Name != o.Name || f.Kind != o.Kind || f.Quality != o.Quality {
		return false
	}
	switch f.Kind {
	case FieldUnsigned:
		return f.Uint == o.Uint
	case FieldSigned:
		return f.Int == o.Int
	case FieldFloat:
		return f.Float == o.Float
	case FieldBytes:
		return bytesEqual(f.Bytes, o.Bytes)
	default:
		return false
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ============================================================================
//                              CanonicalMessage - 规范消息
// ============================================================================

// CanonicalMessage 协议无关的规范消息
//
// 帧编解码器、翻译引擎与路由器之间交换的内部表示，
// 与遗留/现代线路编码无关。字段顺序有语义（编码确定性依赖它）。
type CanonicalMessage struct {
	// Protocol 消息来源/目标协议
	Protocol ProtocolType
	// ID 消息标识（路由表按 (协议, ID) 匹配）
	ID string
	// Source 源地址（如 "BC"、"RT5"、IP 地址）
	Source string
	// Destination 目的地址
	Destination string
	// Timestamp Unix 毫秒时间戳
	Timestamp uint64
	// Priority 优先级（数值越小优先级越高）
	Priority uint8
	// Fields 有序类型化字段序列
	Fields []Field
}

// Field 按名称查找字段
func (m *CanonicalMessage) Field(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Equal 判断两条规范消息是否相等
func (m *CanonicalMessage) Equal(o *CanonicalMessage) bool {
	if m == nil || o == nil {
		return m == o
	}
	if m.Protocol != o.Protocol || m.ID != o.ID ||
		m.Source != o.Source || m.Destination != o.Destination ||
		m.Timestamp != o.Timestamp || m.Priority != o.Priority ||
		len(m.Fields) != len(o.Fields) {
		return false
	}
	for i := range m.Fields {
		if !m.Fields[i].Equal(o.Fields[i]) {
			return false
		}
	}
	return true
}
