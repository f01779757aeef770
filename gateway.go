package securegateway

import (
	"context"
	"crypto/ed25519"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/dep2p/go-secure-gateway/internal/core/identity"
	"github.com/dep2p/go-secure-gateway/internal/core/router"
	"github.com/dep2p/go-secure-gateway/internal/transport"
	"github.com/dep2p/go-secure-gateway/pkg/lib/log"
	"github.com/dep2p/go-secure-gateway/pkg/types"
)

var logger = log.Logger("gateway")

// gatewayState 网关生命周期状态
type gatewayState int

const (
	stateCreated gatewayState = iota
	stateStarted
	stateClosed
)

// Gateway 安全网关实例，用户交互的主入口
//
// 典型用法见包文档。所有方法并发安全。
type Gateway struct {
	mu    sync.Mutex
	state gatewayState

	opts *options
	ids  *identity.Store
	rtr  *router.Router

	// 运行期
	cancel context.CancelFunc
	done   chan error
	closed []transport.Transport
}

// New 创建网关（不启动）
func New(opts ...Option) (*Gateway, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	if o.logLevel != nil {
		log.SetLevel(*o.logLevel)
	}

	g := &Gateway{opts: o}
	if err := buildGateway(g, o); err != nil {
		return nil, err
	}
	return g, nil
}

// Start 创建并启动网关（便捷入口）
func Start(ctx context.Context, opts ...Option) (*Gateway, error) {
	g, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := g.Start(ctx); err != nil {
		return nil, err
	}
	return g, nil
}

// Start 启动网关：建立链路绑定并运行接收循环
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case stateStarted:
		return ErrAlreadyStarted
	case stateClosed:
		return ErrGatewayClosed
	}

	// WebSocket 对端在启动时拨号
	for _, p := range g.opts.peers {
		tr := p.tr
		if p.url != "" {
			conn, err := transport.DialWS(ctx, p.url)
			if err != nil {
				g.closeTransportsLocked()
				return err
			}
			tr = conn
		}
		g.rtr.AttachPeer(p.peer, tr)
		g.closed = append(g.closed, tr)
	}
	for _, b := range g.opts.buses {
		g.rtr.AttachBus(b.proto, b.tr)
		g.closed = append(g.closed, b.tr)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	g.done = make(chan error, 1)
	go func() {
		g.done <- g.rtr.Run(runCtx)
	}()

	g.state = stateStarted
	logger.Info("网关已启动", "id", g.ids.SelfID(), "version", Version)
	return nil
}

// ID 返回网关自身的对端标识
func (g *Gateway) ID() types.PeerID {
	return g.ids.SelfID()
}

// Identity 返回身份存储（预置/吊销对端公钥）
func (g *Gateway) Identity() *identity.Store {
	return g.ids
}

// Provision 预置一个对端验证公钥
//
// expiresAt 为零值表示永不过期。
func (g *Gateway) Provision(pub ed25519.PublicKey, expiresAt time.Time) (types.PeerID, error) {
	return g.ids.Provision(pub, expiresAt)
}

// Connect 主动向对端发起握手
func (g *Gateway) Connect(peer types.PeerID) error {
	g.mu.Lock()
	state := g.state
	g.mu.Unlock()
	if state != stateStarted {
		return ErrNotStarted
	}
	return g.rtr.Connect(peer)
}

// SessionState 查询与对端的会话状态
func (g *Gateway) SessionState(peer types.PeerID) (types.SessionState, bool) {
	return g.rtr.SessionState(peer)
}

// SessionCount 当前活跃会话数
func (g *Gateway) SessionCount() int {
	return g.rtr.SessionCount()
}

// ProcessBusFrame 直接注入一帧总线数据（嵌入式集成场景）
//
// 与挂接 WithBus 的接收循环等价，便于调用方自带总线 IO。
func (g *Gateway) ProcessBusFrame(proto types.ProtocolType, data []byte) error {
	g.mu.Lock()
	state := g.state
	g.mu.Unlock()
	if state != stateStarted {
		return ErrNotStarted
	}
	g.rtr.ProcessBusFrame(proto, data)
	return nil
}

// ServePeer 接入一条运行期建立的对端链路并阻塞处理其入站帧
//
// 供服务端接受连接的场景使用（如 WebSocket 升级后）。
// 对端必须已预置身份。链路关闭或 ctx 取消时返回。
func (g *Gateway) ServePeer(ctx context.Context, peer types.PeerID, tr transport.Transport) error {
	g.mu.Lock()
	state := g.state
	g.mu.Unlock()
	if state != stateStarted {
		return ErrNotStarted
	}
	if !g.ids.Known(peer) {
		return types.ErrUnknownPeer
	}
	return g.rtr.ServeLink(ctx, peer, tr)
}

// Close 关闭网关：停止接收循环、终止全部会话、关闭链路
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == stateClosed {
		return nil
	}
	wasStarted := g.state == stateStarted
	g.state = stateClosed

	var err error
	if wasStarted {
		g.cancel()
		err = multierr.Append(err, <-g.done)
	}
	g.rtr.Close()
	err = multierr.Append(err, g.closeTransportsLocked())

	logger.Info("网关已关闭", "id", g.ids.SelfID())
	return err
}

// closeTransportsLocked 关闭全部已绑定链路
func (g *Gateway) closeTransportsLocked() error {
	var err error
	for _, tr := range g.closed {
		err = multierr.Append(err, tr.Close())
	}
	g.closed = nil
	return err
}
