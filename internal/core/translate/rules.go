package translate

import (
	"fmt"

	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// ============================================================================
//                              字段映射规则
// ============================================================================
//
// 规则集由外部配置提供，核心只读消费。
// 每条 Mapping 描述目标消息中一个字段的来源：
// 同名取值、改名取值、数值换算或常量填充。

// MappingOp 字段映射操作
type MappingOp uint8

const (
	// MapIdentity 同名直取
	MapIdentity MappingOp = iota
	// MapRename 改名取值
	MapRename
	// MapScale 数值换算：dst = src*Factor + Offset
	MapScale
	// MapDefault 常量填充（不读源字段）
	MapDefault
)

// String 返回操作的字符串表示
func (op MappingOp) String() string {
	switch op {
	case MapIdentity:
		return "identity"
	case MapRename:
		return "rename"
	case MapScale:
		return "scale"
	case MapDefault:
		return "default"
	default:
		return fmt.Sprintf("MappingOp(%d)", op)
	}
}

// Valid 判断是否为已知操作
func (op MappingOp) Valid() bool {
	return op <= MapDefault
}

// Mapping 单个目标字段的映射描述
type Mapping struct {
	// Destination 目标字段名
	Destination string
	// Op 映射操作
	Op MappingOp
	// Source 源字段名（MapIdentity 时可省略，默认与 Destination 同名）
	Source string
	// Factor 换算系数（仅 MapScale）
	Factor float64
	// Offset 换算偏移（仅 MapScale）
	Offset float64
	// Default 源字段缺失时的填充值；nil 表示无默认，
	// 此时源缺失是映射失败而非静默丢弃
	Default *types.Field
}

// sourceName 实际读取的源字段名
func (m *Mapping) sourceName() string {
	if m.Op == MapIdentity || m.Source == "" {
		return m.Destination
	}
	return m.Source
}

// Filter 规则级过滤条件，全部为可选；零值匹配一切
type Filter struct {
	// Source 限定消息来源地址
	Source string
	// Destination 限定消息目的地址
	Destination string
	// MinPriority 限定优先级下限（数值越小优先级越高；0 表示不限）
	MinPriority uint8
}

// Matches 判断消息是否满足过滤条件
func (f *Filter) Matches(m *types.CanonicalMessage) bool {
	if f.Source != "" && f.Source != m.Source {
		return false
	}
	if f.Destination != "" && f.Destination != m.Destination {
		return false
	}
	if f.MinPriority != 0 && m.Priority > f.MinPriority {
		return false
	}
	return true
}

// Rule 一条翻译规则
type Rule struct {
	// Name 规则名，日志与路由表引用它
	Name string
	// From 源协议
	From types.ProtocolType
	// To 目标协议
	To types.ProtocolType
	// Priority 规则优先级，数值越大越优先
	Priority int
	// Filter 过滤条件
	Filter Filter
	// PriorityOverride 非 nil 时覆盖目标消息优先级
	PriorityOverride *uint8
	// Mappings 目标字段映射表（顺序即目标字段顺序）
	Mappings []Mapping
}

// Validate 校验规则
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("translate: rule name is empty")
	}
	if !r.From.Valid() || !r.To.Valid() {
		return fmt.Errorf("translate: rule %q has invalid protocol pair %v -> %v", r.Name, r.From, r.To)
	}
	seen := make(map[string]struct{}, len(r.Mappings))
	for i := range r.Mappings {
		m := &r.Mappings[i]
		if m.Destination == "" {
			return fmt.Errorf("translate: rule %q mapping %d has empty destination", r.Name, i)
		}
		if _, dup := seen[m.Destination]; dup {
			return fmt.Errorf("translate: rule %q maps destination %q twice", r.Name, m.Destination)
		}
		seen[m.Destination] = struct{}{}
		if !m.Op.Valid() {
			return fmt.Errorf("translate: rule %q mapping %q has unknown op", r.Name, m.Destination)
		}
		if m.Op == MapScale && m.Factor == 0 {
			return fmt.Errorf("translate: rule %q mapping %q has zero scale factor", r.Name, m.Destination)
		}
		if m.Op == MapDefault && m.Default == nil {
			return fmt.Errorf("translate: rule %q mapping %q has no default value", r.Name, m.Destination)
		}
	}
	return nil
}

// RuleSet 不可变规则集
type RuleSet struct {
	rules  []Rule
	byName map[string]*Rule
}

// NewRuleSet 构建并校验规则集
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	rs := &RuleSet{
		rules:  append([]Rule(nil), rules...),
		byName: make(map[string]*Rule, len(rules)),
	}
	for i := range rs.rules {
		r := &rs.rules[i]
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := rs.byName[r.Name]; dup {
			return nil, fmt.Errorf("translate: duplicate rule name %q", r.Name)
		}
		rs.byName[r.Name] = r
	}
	return rs, nil
}

// Rule 按名查找规则
func (rs *RuleSet) Rule(name string) (*Rule, bool) {
	r, ok := rs.byName[name]
	return r, ok
}

// Match 选择匹配消息的最高优先级规则
//
// 同优先级取声明顺序靠前者。无匹配返回 false。
func (rs *RuleSet) Match(m *types.CanonicalMessage) (*Rule, bool) {
	var best *Rule
	for i := range rs.rules {
		r := &rs.rules[i]
		if r.From != m.Protocol {
			continue
		}
		if !r.Filter.Matches(m) {
			continue
		}
		if best == nil || r.Priority > best.Priority {
			best = r
		}
	}
	return best, best != nil
}

// Len 返回规则条数
func (rs *RuleSet) Len() int {
	return len(rs.rules)
}
