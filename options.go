package securegateway

import (
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-secure-gateway/config"
	"github.com/dep2p/go-secure-gateway/internal/core/identity"
	"github.com/dep2p/go-secure-gateway/internal/core/translate"
	"github.com/dep2p/go-secure-gateway/internal/transport"
	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// Option 用户配置选项函数
type Option func(*options) error

// peerLink 对端链路绑定
type peerLink struct {
	peer types.PeerID
	tr   transport.Transport
	// url 非空时在 Start 阶段拨号建立 WebSocket 链路
	url string
}

// busLink 本地总线绑定
type busLink struct {
	proto types.ProtocolType
	tr    transport.Transport
}

// options 内部选项结构
type options struct {
	// 身份
	ids *identity.Store

	// 网关配置
	cfg *config.Config

	// 链路绑定
	peers []peerLink
	buses []busLink

	// 可观测性
	sink     types.EventSink
	registry prometheus.Registerer
	logLevel *slog.Level

	// 时钟（测试注入）
	clk clock.Clock
}

// defaultOptions 返回默认选项
func defaultOptions() *options {
	return &options{
		cfg: config.DefaultConfig(),
	}
}

// WithIdentity 使用给定的身份存储
//
// 未提供时 Start 会生成一个全新身份（不认识任何对端）。
func WithIdentity(ids *identity.Store) Option {
	return func(o *options) error {
		if ids == nil {
			return fmt.Errorf("identity store is nil")
		}
		o.ids = ids
		return nil
	}
}

// WithConfig 使用完整网关配置（覆盖 WithRules/WithRoutes 等单项选项）
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return fmt.Errorf("config is nil")
		}
		o.cfg = cfg
		return nil
	}
}

// WithRules 设置翻译规则集
func WithRules(rules *translate.RuleSet) Option {
	return func(o *options) error {
		o.cfg.Rules = rules
		return nil
	}
}

// WithRoutes 设置路由表
func WithRoutes(routes *config.RouteTable) Option {
	return func(o *options) error {
		o.cfg.Routes = routes
		return nil
	}
}

// WithSessionPolicy 设置会话策略（轮换、重放窗口、空闲超时）
func WithSessionPolicy(policy config.SessionPolicy) Option {
	return func(o *options) error {
		o.cfg.Session = policy
		return nil
	}
}

// WithQueueSize 设置出站积压队列上限
func WithQueueSize(n int) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("queue size must be positive, got %d", n)
		}
		o.cfg.QueueSize = n
		return nil
	}
}

// WithPeerLink 绑定一条到对端网关的受保护链路
func WithPeerLink(peer types.PeerID, tr transport.Transport) Option {
	return func(o *options) error {
		if err := peer.Validate(); err != nil {
			return err
		}
		if tr == nil {
			return fmt.Errorf("peer %s: transport is nil", peer)
		}
		o.peers = append(o.peers, peerLink{peer: peer, tr: tr})
		return nil
	}
}

// WithPeerWS 在 Start 阶段通过 WebSocket 拨号连接对端网关
func WithPeerWS(peer types.PeerID, url string) Option {
	return func(o *options) error {
		if err := peer.Validate(); err != nil {
			return err
		}
		if url == "" {
			return fmt.Errorf("peer %s: empty websocket url", peer)
		}
		o.peers = append(o.peers, peerLink{peer: peer, url: url})
		return nil
	}
}

// WithBus 绑定一条本地协议总线链路
func WithBus(proto types.ProtocolType, tr transport.Transport) Option {
	return func(o *options) error {
		if !proto.Valid() {
			return fmt.Errorf("invalid protocol %v", proto)
		}
		if tr == nil {
			return fmt.Errorf("bus %v: transport is nil", proto)
		}
		o.buses = append(o.buses, busLink{proto: proto, tr: tr})
		return nil
	}
}

// WithEventSink 附加事件接收器（结构化日志接收器之外的额外订阅方）
func WithEventSink(sink types.EventSink) Option {
	return func(o *options) error {
		o.sink = sink
		return nil
	}
}

// WithMetrics 注册 Prometheus 指标到给定 Registerer
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) error {
		o.registry = reg
		return nil
	}
}

// WithLogLevel 设置全局日志级别
func WithLogLevel(level slog.Level) Option {
	return func(o *options) error {
		o.logLevel = &level
		return nil
	}
}

// WithClock 注入时钟（测试用）
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		o.clk = clk
		return nil
	}
}
