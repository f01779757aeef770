// Package config 定义配置边界：规则集、路由表、轮换策略与资源上限。
//
// 全部配置在构造期装载并校验，随后作为不可变结构供给核心；
// 核心自身不解析配置文件。
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/dep2p/go-secure-gateway/internal/core/translate"
	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// ============================================================================
//                              轮换与会话策略
// ============================================================================

// 默认策略值。重放窗口与宽限期没有权威默认，这里的取值是本实现的
// 显式策略：窗口 64 条容忍有限乱序，宽限 30 秒覆盖常见链路延迟。
const (
	DefaultMaxMessages    = 1000
	DefaultRotateInterval = time.Hour
	DefaultGracePeriod    = 30 * time.Second
	DefaultReplayWindow   = 64
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultQueueSize      = 256
)

// RotationPolicy 密钥轮换策略
//
// 消息计数与时钟间隔两个触发条件先到先触发。
type RotationPolicy struct {
	// MaxMessages 单纪元最大发送消息数
	MaxMessages uint64
	// Interval 时钟轮换间隔
	Interval time.Duration
	// Grace 旧纪元保留宽限期
	Grace time.Duration
}

// SessionPolicy 会话级策略
type SessionPolicy struct {
	// Rotation 轮换策略
	Rotation RotationPolicy
	// ReplayWindow 重放窗口大小（可容忍的乱序序列号跨度）
	ReplayWindow uint
	// IdleTimeout 空闲会话驱逐阈值
	IdleTimeout time.Duration
}

// DefaultSessionPolicy 返回默认会话策略
func DefaultSessionPolicy() SessionPolicy {
	return SessionPolicy{
		Rotation: RotationPolicy{
			MaxMessages: DefaultMaxMessages,
			Interval:    DefaultRotateInterval,
			Grace:       DefaultGracePeriod,
		},
		ReplayWindow: DefaultReplayWindow,
		IdleTimeout:  DefaultIdleTimeout,
	}
}

// Validate 校验会话策略
func (p *SessionPolicy) Validate() error {
	if p.Rotation.MaxMessages == 0 {
		return fmt.Errorf("config: rotation max messages must be positive")
	}
	if p.Rotation.Interval <= 0 {
		return fmt.Errorf("config: rotation interval must be positive")
	}
	if p.Rotation.Grace <= 0 {
		return fmt.Errorf("config: rotation grace period must be positive")
	}
	if p.ReplayWindow == 0 {
		return fmt.Errorf("config: replay window must be positive")
	}
	if p.IdleTimeout <= 0 {
		return fmt.Errorf("config: idle timeout must be positive")
	}
	return nil
}

// ============================================================================
//                              路由表
// ============================================================================

// Route 一条路由条目：源协议 + 消息标识模式到目标会话的绑定
type Route struct {
	// Name 条目名
	Name string
	// From 源协议
	From types.ProtocolType
	// Pattern 消息标识匹配模式；支持尾部 "*" 前缀通配
	Pattern string
	// Peer 目标对端（路由器据此解析目标会话）
	Peer types.PeerID
	// Rule 引用的翻译规则名
	Rule string
	// Priority 条目优先级，数值越大越优先
	Priority int
}

// matches 判断消息标识是否命中模式
func (r *Route) matches(proto types.ProtocolType, id string) bool {
	if r.From != proto {
		return false
	}
	if strings.HasSuffix(r.Pattern, "*") {
		return strings.HasPrefix(id, strings.TrimSuffix(r.Pattern, "*"))
	}
	return r.Pattern == id
}

// RouteTable 不可变路由表
type RouteTable struct {
	routes []Route
}

// NewRouteTable 构建路由表
func NewRouteTable(routes []Route) *RouteTable {
	return &RouteTable{routes: append([]Route(nil), routes...)}
}

// Lookup 查找 (源协议, 消息标识) 的最高优先级路由
//
// 同优先级取声明顺序靠前者。无命中返回 false。
func (t *RouteTable) Lookup(proto types.ProtocolType, id string) (*Route, bool) {
	var best *Route
	for i := range t.routes {
		r := &t.routes[i]
		if !r.matches(proto, id) {
			continue
		}
		if best == nil || r.Priority > best.Priority {
			best = r
		}
	}
	return best, best != nil
}

// Len 返回条目数
func (t *RouteTable) Len() int {
	return len(t.routes)
}

// Validate 校验路由表：规则引用须存在于规则集
func (t *RouteTable) Validate(rules *translate.RuleSet) error {
	seen := make(map[string]struct{}, len(t.routes))
	for i := range t.routes {
		r := &t.routes[i]
		if r.Name == "" {
			return fmt.Errorf("config: route %d has empty name", i)
		}
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("config: duplicate route name %q", r.Name)
		}
		seen[r.Name] = struct{}{}
		if !r.From.Valid() {
			return fmt.Errorf("config: route %q has invalid protocol", r.Name)
		}
		if r.Pattern == "" {
			return fmt.Errorf("config: route %q has empty pattern", r.Name)
		}
		if err := r.Peer.Validate(); err != nil {
			return fmt.Errorf("config: route %q: %w", r.Name, err)
		}
		if _, ok := rules.Rule(r.Rule); !ok {
			return fmt.Errorf("config: route %q references unknown rule %q", r.Name, r.Rule)
		}
	}
	return nil
}

// ============================================================================
//                              网关配置
// ============================================================================

// Config 网关完整配置
type Config struct {
	// Rules 翻译规则集
	Rules *translate.RuleSet
	// Routes 路由表
	Routes *RouteTable
	// Session 会话策略
	Session SessionPolicy
	// QueueSize 每目标出站队列上限（有界背压）
	QueueSize int
}

// DefaultConfig 返回默认配置（空规则集与路由表）
func DefaultConfig() *Config {
	rules, _ := translate.NewRuleSet(nil)
	return &Config{
		Rules:     rules,
		Routes:    NewRouteTable(nil),
		Session:   DefaultSessionPolicy(),
		QueueSize: DefaultQueueSize,
	}
}

// Validate 校验完整配置
func (c *Config) Validate() error {
	if c.Rules == nil || c.Routes == nil {
		return fmt.Errorf("config: rules and routes are required")
	}
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("config: queue size must be positive")
	}
	return c.Routes.Validate(c.Rules)
}
