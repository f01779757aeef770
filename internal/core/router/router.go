// Package router 实现网关核心：按会话标识独占持有全部会话，
// 驱动逐消息流水线（编解码、会话加解密、翻译、路由），
// 并负责会话的惰性创建、空闲驱逐与终止回收。
//
// 同一会话的全部变更操作经会话自身的互斥锁严格串行；
// 不同会话并发执行。背压由有界传输队列提供：出站投递阻塞时，
// 对应目标的入站处理随之阻塞，不静默丢弃健康会话的消息。
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-secure-gateway/config"
	"github.com/dep2p/go-secure-gateway/internal/core/identity"
	"github.com/dep2p/go-secure-gateway/internal/core/metrics"
	"github.com/dep2p/go-secure-gateway/internal/core/session"
	"github.com/dep2p/go-secure-gateway/internal/transport"
	"github.com/dep2p/go-secure-gateway/pkg/lib/log"
	"github.com/dep2p/go-secure-gateway/pkg/types"
)

var logger = log.Logger("router")

// tombstoneCapacity 已终止会话墓碑上限
//
// 墓碑用于拒绝晚到的已终止会话帧，LRU 上限保证内存有界。
const tombstoneCapacity = 1024

// tickInterval 定时驱动周期（轮换间隔、宽限期、空闲驱逐）
const tickInterval = time.Second

// Router 网关核心
type Router struct {
	cfg   *config.Config
	ids   *identity.Store
	clk   clock.Clock
	sink  types.EventSink
	msink *metrics.Sink

	mu         sync.Mutex
	sessions   map[types.SessionID]*session.Session
	byPeer     map[types.PeerID]types.SessionID
	links      map[types.PeerID]transport.Transport
	buses      map[types.ProtocolType]transport.Transport
	backlog    map[types.PeerID][]*types.CanonicalMessage
	tombstones *lru.Cache[types.SessionID, struct{}]
}

// New 构建路由器
//
// msink 可为 nil（不采集指标）。配置在此处校验，之后只读。
func New(cfg *config.Config, ids *identity.Store, clk clock.Clock,
	sink types.EventSink, msink *metrics.Sink) (*Router, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	tombstones, err := lru.New[types.SessionID, struct{}](tombstoneCapacity)
	if err != nil {
		return nil, err
	}

	return &Router{
		cfg:        cfg,
		ids:        ids,
		clk:        clk,
		sink:       sink,
		msink:      msink,
		sessions:   make(map[types.SessionID]*session.Session),
		byPeer:     make(map[types.PeerID]types.SessionID),
		links:      make(map[types.PeerID]transport.Transport),
		buses:      make(map[types.ProtocolType]transport.Transport),
		backlog:    make(map[types.PeerID][]*types.CanonicalMessage),
		tombstones: tombstones,
	}, nil
}

// AttachPeer 绑定到对端网关的受保护链路
func (r *Router) AttachPeer(peer types.PeerID, tr transport.Transport) {
	r.mu.Lock()
	r.links[peer] = tr
	r.mu.Unlock()
}

// AttachBus 绑定本地协议总线链路
func (r *Router) AttachBus(proto types.ProtocolType, tr transport.Transport) {
	r.mu.Lock()
	r.buses[proto] = tr
	r.mu.Unlock()
}

// Connect 主动向对端发起握手
func (r *Router) Connect(peer types.PeerID) error {
	_, err := r.ensureSession(peer)
	return err
}

// Run 启动全部接收循环与定时驱动，阻塞到 ctx 取消
//
// 链路与总线必须在 Run 之前绑定完毕。
func (r *Router) Run(ctx context.Context) error {
	r.mu.Lock()
	buses := make(map[types.ProtocolType]transport.Transport, len(r.buses))
	for p, tr := range r.buses {
		buses[p] = tr
	}
	links := make(map[types.PeerID]transport.Transport, len(r.links))
	for p, tr := range r.links {
		links[p] = tr
	}
	r.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)

	for proto, tr := range buses {
		proto, tr := proto, tr
		g.Go(func() error { return r.receiveLoop(ctx, tr, func(data []byte) { r.ProcessBusFrame(proto, data) }) })
	}
	for peer, tr := range links {
		peer, tr := peer, tr
		g.Go(func() error { return r.receiveLoop(ctx, tr, func(data []byte) { r.ProcessWireFrame(peer, data) }) })
	}
	g.Go(func() error { return r.tickLoop(ctx) })

	return g.Wait()
}

// ServeLink 绑定对端链路并阻塞运行其接收循环
//
// 供 Run 之后动态接入的链路使用（如服务端接受的 WebSocket 连接）。
// 链路关闭或 ctx 取消时返回。
func (r *Router) ServeLink(ctx context.Context, peer types.PeerID, tr transport.Transport) error {
	r.AttachPeer(peer, tr)
	return r.receiveLoop(ctx, tr, func(data []byte) { r.ProcessWireFrame(peer, data) })
}

// receiveLoop 单链路接收循环
func (r *Router) receiveLoop(ctx context.Context, tr transport.Transport, handle func([]byte)) error {
	for {
		data, err := tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrClosed) {
				return nil
			}
			return err
		}
		handle(data)
	}
}

// tickLoop 周期性驱动会话定时状态
func (r *Router) tickLoop(ctx context.Context) error {
	ticker := r.clk.Ticker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.Tick(r.clk.Now())
		}
	}
}

// Tick 推进全部会话的定时状态并执行空闲驱逐
func (r *Router) Tick(now time.Time) {
	r.mu.Lock()
	snapshot := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()

	for _, s := range snapshot {
		s.Tick(now)
		r.flush(s)

		switch {
		case s.State() == types.StateTerminated:
			r.removeSession(s)
		case now.Sub(s.LastUsed()) > r.cfg.Session.IdleTimeout:
			logger.Info("驱逐空闲会话", "session", s.ID(), "peer", s.Peer())
			s.Terminate(fmt.Errorf("idle for %s", now.Sub(s.LastUsed())))
			r.removeSession(s)
		}
	}
}

// SessionCount 当前会话数
func (r *Router) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// SessionState 指定对端的会话状态；无会话返回 StateIdle 与 false
func (r *Router) SessionState(peer types.PeerID) (types.SessionState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sid, ok := r.byPeer[peer]
	if !ok {
		return types.StateIdle, false
	}
	return r.sessions[sid].State(), true
}

// Close 终止全部会话
func (r *Router) Close() {
	r.mu.Lock()
	snapshot := make([]*session.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.Unlock()

	for _, s := range snapshot {
		s.Terminate(types.ErrSessionTerminated)
		r.removeSession(s)
	}
}

// ============================================================================
//                              会话生命周期
// ============================================================================

// ensureSession 取出对端的可用会话，无则惰性创建并发起握手
func (r *Router) ensureSession(peer types.PeerID) (*session.Session, error) {
	r.mu.Lock()
	if sid, ok := r.byPeer[peer]; ok {
		s := r.sessions[sid]
		if s.State() != types.StateTerminated {
			r.mu.Unlock()
			return s, nil
		}
		r.removeSessionLocked(s)
	}
	r.mu.Unlock()

	s, err := session.NewInitiator(r.ids, peer, r.cfg.Session, r.clk, r.sink)
	if err != nil {
		return nil, err
	}
	r.registerSession(s)

	if err := s.Connect(); err != nil {
		r.removeSession(s)
		return nil, err
	}
	r.flush(s)
	return s, nil
}

// registerSession 登记会话
func (r *Router) registerSession(s *session.Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.byPeer[s.Peer()] = s.ID()
	n := len(r.sessions)
	r.mu.Unlock()

	if r.msink != nil {
		r.msink.ActiveSessions.Set(float64(n))
	}
}

// removeSession 注销会话并留下墓碑
func (r *Router) removeSession(s *session.Session) {
	r.mu.Lock()
	r.removeSessionLocked(s)
	n := len(r.sessions)
	r.mu.Unlock()

	if r.msink != nil {
		r.msink.ActiveSessions.Set(float64(n))
	}
}

func (r *Router) removeSessionLocked(s *session.Session) {
	sid := s.ID()
	delete(r.sessions, sid)
	if cur, ok := r.byPeer[s.Peer()]; ok && cur == sid {
		delete(r.byPeer, s.Peer())
	}
	delete(r.backlog, s.Peer())
	r.tombstones.Add(sid, struct{}{})
}

// sessionByID 按会话标识查找
func (r *Router) sessionByID(sid types.SessionID) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sid]
	return s, ok
}

// sessionByPeer 按对端查找
func (r *Router) sessionByPeer(peer types.PeerID) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sid, ok := r.byPeer[peer]
	if !ok {
		return nil, false
	}
	return r.sessions[sid], true
}

// flush 把会话待发控制帧投递到对端链路
func (r *Router) flush(s *session.Session) {
	frames := s.Drain()
	if len(frames) == 0 {
		return
	}

	r.mu.Lock()
	link, ok := r.links[s.Peer()]
	r.mu.Unlock()
	if !ok {
		logger.Warn("对端无链路，丢弃控制帧", "peer", s.Peer(), "frames", len(frames))
		return
	}

	for _, f := range frames {
		if err := link.Send(f); err != nil {
			logger.Warn("控制帧投递失败", "peer", s.Peer(), "err", err)
			return
		}
	}
}

// publish 发布路由器级事件
func (r *Router) publish(ev types.Event) {
	if r.sink == nil {
		return
	}
	ev.Time = r.clk.Now()
	r.sink.Publish(ev)
}
