package router

import (
	"errors"

	"github.com/dep2p/go-secure-gateway/internal/core/codec"
	"github.com/dep2p/go-secure-gateway/internal/core/session"
	"github.com/dep2p/go-secure-gateway/internal/core/translate"
	"github.com/dep2p/go-secure-gateway/internal/transport"
	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// ============================================================================
//                              逐消息流水线
// ============================================================================

// ProcessBusFrame 处理本地总线入站原始帧
//
// 流水线：帧解码 -> 翻译 -> 路由 -> 会话封装 -> 链路出站。
// 畸形帧只丢弃该帧并发布拒绝事件，不影响其他消息。
func (r *Router) ProcessBusFrame(proto types.ProtocolType, data []byte) {
	msg, err := codec.Decode(proto, data, r.clk.Now())
	if err != nil {
		logger.Warn("总线帧解码失败", "protocol", proto, "err", err)
		r.publish(types.Event{
			Type:   types.EventMessageRejected,
			Reason: err,
			Detail: "bus frame decode",
		})
		return
	}
	r.routeMessage(msg)
}

// ProcessWireFrame 处理受保护链路入站帧
//
// 握手帧分派到对端会话（发起帧惰性创建应答方会话）；
// 信封帧按会话标识解析会话后解封。已终止会话的晚到帧
// 经墓碑拒绝，不会复活会话。
func (r *Router) ProcessWireFrame(peer types.PeerID, data []byte) {
	kind, body, err := codec.DecodeWire(data)
	if err != nil {
		r.publish(types.Event{
			Type:   types.EventMessageRejected,
			Peer:   peer,
			Reason: err,
			Detail: "wire frame decode",
		})
		return
	}

	switch kind {
	case codec.WireEnvelope:
		r.handleEnvelope(peer, body)
	case codec.WireHandshakeInit:
		r.handleHandshakeInit(peer, kind, body)
	case codec.WireHandshakeResp, codec.WireHandshakeConfirm:
		r.handleHandshakeReply(peer, kind, body)
	}
}

// handleEnvelope 解封受保护信封并投递载荷
func (r *Router) handleEnvelope(peer types.PeerID, body []byte) {
	env, err := codec.DecodeEnvelope(body)
	if err != nil {
		r.publish(types.Event{
			Type:   types.EventMessageRejected,
			Peer:   peer,
			Reason: err,
			Detail: "envelope decode",
		})
		return
	}

	if _, dead := r.tombstones.Get(env.Session); dead {
		r.publish(types.Event{
			Type:    types.EventMessageRejected,
			Session: env.Session,
			Peer:    peer,
			Reason:  types.ErrSessionTerminated,
			Detail:  "envelope for terminated session",
		})
		return
	}

	s, ok := r.sessionByID(env.Session)
	if !ok {
		r.publish(types.Event{
			Type:    types.EventMessageRejected,
			Session: env.Session,
			Peer:    peer,
			Reason:  types.ErrUnknownPeer,
			Detail:  "envelope for unknown session",
		})
		return
	}

	msg, err := s.Receive(body)
	r.flush(s)
	if err != nil {
		if s.State() == types.StateTerminated {
			r.removeSession(s)
		}
		return
	}
	if msg == nil {
		// 轮换控制载荷，已在会话内处理
		return
	}
	r.routeMessage(msg)
}

// handleHandshakeInit 处理握手发起帧
//
// 同对端已有未终止会话时，新的发起帧使旧会话作废：
// 对端重启后重握手必须能接管链路。
func (r *Router) handleHandshakeInit(peer types.PeerID, kind codec.WireKind, body []byte) {
	if old, ok := r.sessionByPeer(peer); ok {
		old.Terminate(types.ErrSessionTerminated)
		r.removeSession(old)
	}

	s := session.NewResponder(r.ids, r.cfg.Session, r.clk, r.sink)
	if err := s.HandleHandshake(kind, body); err != nil {
		return
	}
	if s.Peer() != peer {
		logger.Warn("握手身份与链路对端不符", "link", peer, "claimed", s.Peer())
		s.Terminate(types.ErrAuthenticationFailed)
		return
	}
	r.registerSession(s)
	r.flush(s)
}

// handleHandshakeReply 处理握手应答/确认帧
func (r *Router) handleHandshakeReply(peer types.PeerID, kind codec.WireKind, body []byte) {
	s, ok := r.sessionByPeer(peer)
	if !ok {
		r.publish(types.Event{
			Type:   types.EventMessageRejected,
			Peer:   peer,
			Reason: types.ErrHandshakeRequired,
			Detail: "handshake reply without session",
		})
		return
	}

	err := s.HandleHandshake(kind, body)
	r.flush(s)
	if err != nil {
		if s.State() == types.StateTerminated {
			r.removeSession(s)
		}
		return
	}
	if s.State() == types.StateEstablished {
		r.flushBacklog(peer)
	}
}

// routeMessage 为规范消息选择去向
//
// 命中路由且通过规则过滤：按路由引用的规则翻译后发往目标对端会话。
// 过滤不命中或无路由时，本地挂有该协议总线则编码后投递总线
// （终点交付），否则发布 Unrouted 事件并丢弃。
func (r *Router) routeMessage(msg *types.CanonicalMessage) {
	if route, ok := r.cfg.Routes.Lookup(msg.Protocol, msg.ID); ok {
		// 路由引用的规则在配置校验时已保证存在
		rule, _ := r.cfg.Rules.Rule(route.Rule)
		if rule.Filter.Matches(msg) {
			out, err := translate.Translate(msg, rule)
			if err != nil {
				logger.Warn("翻译失败", "rule", rule.Name, "id", msg.ID, "err", err)
				r.publish(types.Event{
					Type:   types.EventMessageRejected,
					Peer:   route.Peer,
					Reason: err,
					Detail: "translate " + msg.ID,
				})
				return
			}
			r.sendToPeer(route.Peer, out)
			return
		}
		logger.Debug("规则过滤不命中", "rule", rule.Name, "id", msg.ID)
	}

	r.mu.Lock()
	bus, attached := r.buses[msg.Protocol]
	r.mu.Unlock()
	if attached {
		r.deliverToBus(bus, msg)
		return
	}

	r.publish(types.Event{
		Type:   types.EventMessageUnrouted,
		Detail: msg.ID,
	})
}

// deliverToBus 把规范消息编码回协议帧并投递本地总线
func (r *Router) deliverToBus(bus transport.Transport, msg *types.CanonicalMessage) {
	raw, err := codec.Encode(msg.Protocol, msg)
	if err != nil {
		logger.Warn("总线帧编码失败", "id", msg.ID, "err", err)
		r.publish(types.Event{
			Type:   types.EventMessageRejected,
			Reason: err,
			Detail: "bus frame encode " + msg.ID,
		})
		return
	}
	if err := bus.Send(raw); err != nil {
		logger.Warn("总线投递失败", "id", msg.ID, "err", err)
	}
}

// sendToPeer 把消息封装进对端会话并出站
//
// 会话未就绪（握手进行中）时入积压队列，握手完成后重放；
// 积压队列有界，溢出视为该对端不可达并丢弃最旧消息。
func (r *Router) sendToPeer(peer types.PeerID, msg *types.CanonicalMessage) {
	s, err := r.ensureSession(peer)
	if err != nil {
		r.publish(types.Event{
			Type:   types.EventMessageRejected,
			Peer:   peer,
			Reason: err,
			Detail: "no session " + msg.ID,
		})
		return
	}

	wire, err := s.Send(msg)
	switch {
	case err == nil:
		r.sendWire(peer, wire)
		r.flush(s)
	case errors.Is(err, types.ErrHandshakeRequired):
		r.enqueueBacklog(peer, msg)
	default:
		if s.State() == types.StateTerminated {
			r.removeSession(s)
		}
		r.publish(types.Event{
			Type:    types.EventMessageRejected,
			Session: s.ID(),
			Peer:    peer,
			Reason:  err,
			Detail:  "send " + msg.ID,
		})
	}
}

// sendWire 投递单帧到对端链路
func (r *Router) sendWire(peer types.PeerID, frame []byte) {
	r.mu.Lock()
	link, ok := r.links[peer]
	r.mu.Unlock()
	if !ok {
		logger.Warn("对端无链路，丢弃出站帧", "peer", peer)
		return
	}
	if err := link.Send(frame); err != nil {
		logger.Warn("链路投递失败", "peer", peer, "err", err)
	}
}

// enqueueBacklog 缓存等待握手完成的消息
func (r *Router) enqueueBacklog(peer types.PeerID, msg *types.CanonicalMessage) {
	r.mu.Lock()
	q := r.backlog[peer]
	if len(q) >= r.cfg.QueueSize {
		logger.Warn("握手积压队列溢出，丢弃最旧消息", "peer", peer, "id", q[0].ID)
		q = q[1:]
	}
	r.backlog[peer] = append(q, msg)
	r.mu.Unlock()
}

// flushBacklog 握手完成后重放积压消息
func (r *Router) flushBacklog(peer types.PeerID) {
	r.mu.Lock()
	q := r.backlog[peer]
	delete(r.backlog, peer)
	r.mu.Unlock()

	for _, msg := range q {
		r.sendToPeer(peer, msg)
	}
}
