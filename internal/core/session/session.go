// Package session 实现会话状态机：握手协议、纪元密钥管理、
// 序列号跟踪、重放拒绝与在线密钥轮换。
//
// 状态机：Idle → HandshakeInitiated → HandshakeResponded → Established
// → Rotating → Terminated。Terminated 是吸收态；任何密码学失败都对
// 会话致命，本层绝不自动重试（失败关闭）。
//
// Session 自身不起 goroutine：所有变更操作经内部互斥锁串行化，
// 由路由器按会话驱动。控制帧（握手、重密钥）先入待发队列，
// 调用方通过 Drain 取走后投递到传输边界。
package session

import (
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-secure-gateway/config"
	"github.com/dep2p/go-secure-gateway/internal/core/codec"
	"github.com/dep2p/go-secure-gateway/internal/core/crypto"
	"github.com/dep2p/go-secure-gateway/internal/core/identity"
	"github.com/dep2p/go-secure-gateway/pkg/lib/log"
	"github.com/dep2p/go-secure-gateway/pkg/lib/proto/canonical"
	"github.com/dep2p/go-secure-gateway/pkg/types"
)

var logger = log.Logger("session")

// 受保护载荷的内层类别：应用消息与重密钥控制消息
// 共用同一认证信道，以首字节区分。
const (
	payloadApp byte = iota
	payloadRekeyInit
	payloadRekeyResp
	payloadRekeyConfirm
)

// Session 到单个对端设备的认证逻辑通道
type Session struct {
	mu sync.Mutex

	id        types.SessionID
	peer      types.PeerID
	initiator bool
	state     types.SessionState

	ids        *identity.Store
	peerVerify ed25519.PublicKey

	// 握手瞬态材料，进入 Established 后清零
	hsEph     crypto.KeyPair
	hsInitEph []byte
	hsRespEph []byte

	// 解密纪元表（至多两个有效纪元）与发送侧状态
	epochs      epochTable
	sendEpoch   types.Epoch
	sendSeq     uint64
	sentInEpoch uint64

	// 重密钥瞬态材料
	rekeyEph               crypto.KeyPair
	rekeyEpoch             types.Epoch
	rekeyConfirmTranscript []byte

	policy config.SessionPolicy
	clk    clock.Clock

	rotateAt time.Time // 下一次时钟触发轮换
	graceAt  time.Time // previous 纪元退役时刻
	lastUsed time.Time

	pending [][]byte
	sink    types.EventSink
	termErr error
}

// NewInitiator 构建发起方会话
//
// 对端验证密钥必须已在身份库供给，否则失败关闭。
func NewInitiator(ids *identity.Store, peer types.PeerID, policy config.SessionPolicy,
	clk clock.Clock, sink types.EventSink) (*Session, error) {

	verify, err := ids.Lookup(peer)
	if err != nil {
		return nil, err
	}
	s := newSession(ids, policy, clk, sink)
	s.id = types.NewSessionID()
	s.peer = peer
	s.peerVerify = verify
	s.initiator = true
	return s, nil
}

// NewResponder 构建响应方会话
//
// 会话标识与对端身份在收到握手发起帧时确定。
func NewResponder(ids *identity.Store, policy config.SessionPolicy,
	clk clock.Clock, sink types.EventSink) *Session {
	return newSession(ids, policy, clk, sink)
}

func newSession(ids *identity.Store, policy config.SessionPolicy,
	clk clock.Clock, sink types.EventSink) *Session {
	if clk == nil {
		clk = clock.New()
	}
	s := &Session{
		state:  types.StateIdle,
		ids:    ids,
		policy: policy,
		clk:    clk,
		sink:   sink,
	}
	s.lastUsed = clk.Now()
	return s
}

// ID 会话标识
func (s *Session) ID() types.SessionID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Peer 对端标识
func (s *Session) Peer() types.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// State 当前状态
func (s *Session) State() types.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err 终止原因；未终止时为 nil
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termErr
}

// LastUsed 最近一次成功收发时刻（空闲驱逐依据）
func (s *Session) LastUsed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Drain 取走并清空待发控制帧（握手、重密钥载荷信封）
func (s *Session) Drain() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// ============================================================================
//                              发送
// ============================================================================

// Send 加密并签名一条规范消息，返回完整线路帧
//
// 仅 Established 与 Rotating 状态可发送；单方向序列号严格递增无空洞。
func (s *Session) Send(m *types.CanonicalMessage) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == types.StateTerminated {
		return nil, fmt.Errorf("%w: %v", types.ErrSessionTerminated, s.termErr)
	}
	if !s.state.Usable() {
		return nil, fmt.Errorf("%w: session state %v", types.ErrHandshakeRequired, s.state)
	}

	payload := append([]byte{payloadApp}, canonical.Marshal(m)...)
	wire, err := s.sealLocked(payload)
	if err != nil {
		return nil, err
	}

	s.lastUsed = s.clk.Now()
	s.maybeRotateLocked()
	return wire, nil
}

// sealLocked 在当前发送纪元下封装载荷为线路帧；要求已持锁
func (s *Session) sealLocked(payload []byte) ([]byte, error) {
	slot, err := s.epochs.lookup(s.sendEpoch)
	if err != nil {
		return nil, err
	}

	seq := s.sendSeq
	env := &codec.Envelope{
		Version:  codec.EnvelopeVersion,
		Session:  s.id,
		Epoch:    s.sendEpoch,
		Sequence: seq,
	}

	nonce := crypto.Nonce(s.sendEpoch, seq)
	ct, err := crypto.Seal(slot.keys.SendKey(s.initiator), nonce, env.Header(), payload)
	if err != nil {
		return nil, err
	}
	env.Ciphertext = ct
	env.Signature = crypto.Sign(s.ids.SigningKey(), env.SignedBytes())

	wire, err := codec.EncodeEnvelope(env)
	if err != nil {
		return nil, err
	}

	s.sendSeq++
	s.sentInEpoch++
	return codec.EncodeWire(codec.WireEnvelope, wire), nil
}

// queueControlLocked 把控制载荷封装后加入待发队列；要求已持锁
func (s *Session) queueControlLocked(kind byte, body []byte) error {
	wire, err := s.sealLocked(append([]byte{kind}, body...))
	if err != nil {
		return err
	}
	s.pending = append(s.pending, wire)
	return nil
}

// ============================================================================
//                              接收
// ============================================================================

// Receive 验签、解密并处理一个信封帧体
//
// 应用消息返回规范消息；重密钥控制消息返回 (nil, nil)，
// 产生的回应帧经 Drain 取走。任何密码学失败终止会话。
func (s *Session) Receive(body []byte) (*types.CanonicalMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == types.StateTerminated {
		return nil, fmt.Errorf("%w: %v", types.ErrSessionTerminated, s.termErr)
	}
	if !s.state.Usable() {
		return nil, fmt.Errorf("%w: session state %v", types.ErrHandshakeRequired, s.state)
	}

	env, err := codec.DecodeEnvelope(body)
	if err != nil {
		s.reject(err)
		return nil, err
	}
	if env.Session != s.id {
		err := fmt.Errorf("%w: envelope for session %s", types.ErrMalformed, env.Session)
		s.reject(err)
		return nil, err
	}

	slot, err := s.epochs.lookup(env.Epoch)
	if err != nil {
		s.terminateLocked(err)
		return nil, err
	}

	if !crypto.Verify(s.peerVerify, env.SignedBytes(), env.Signature) {
		err := fmt.Errorf("%w: envelope signature", types.ErrAuthenticationFailed)
		s.terminateLocked(err)
		return nil, err
	}

	if err := slot.recv.check(env.Sequence); err != nil {
		s.terminateLocked(err)
		return nil, err
	}

	nonce := crypto.Nonce(env.Epoch, env.Sequence)
	payload, err := crypto.Open(slot.keys.RecvKey(s.initiator), nonce, env.Header(), env.Ciphertext)
	if err != nil {
		s.terminateLocked(err)
		return nil, err
	}
	slot.recv.mark(env.Sequence)
	s.lastUsed = s.clk.Now()

	if len(payload) == 0 {
		err := fmt.Errorf("%w: empty protected payload", types.ErrMalformed)
		s.reject(err)
		return nil, err
	}

	kind, inner := payload[0], payload[1:]
	switch kind {
	case payloadApp:
		m, err := canonical.Unmarshal(inner)
		if err != nil {
			s.reject(err)
			return nil, err
		}
		s.publish(types.Event{Type: types.EventMessageAccepted, Epoch: env.Epoch})
		return m, nil

	case payloadRekeyInit, payloadRekeyResp, payloadRekeyConfirm:
		if err := s.handleRekeyLocked(kind, inner); err != nil {
			return nil, err
		}
		return nil, nil

	default:
		err := fmt.Errorf("%w: unknown payload kind 0x%02X", types.ErrMalformed, kind)
		s.reject(err)
		return nil, err
	}
}

// ============================================================================
//                              定时与终止
// ============================================================================

// Tick 推进时钟相关状态：宽限期满退役旧纪元、间隔触发轮换
//
// 由路由器周期性驱动；产生的控制帧经 Drain 取走。
func (s *Session) Tick(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == types.StateRotating && s.epochs.hasPrevious() &&
		!s.graceAt.IsZero() && !now.Before(s.graceAt) {
		s.finishRotationLocked()
	}
	if s.state == types.StateEstablished && s.initiator &&
		!s.rotateAt.IsZero() && !now.Before(s.rotateAt) {
		s.startRotationLocked()
	}
}

// Terminate 显式拆除会话
func (s *Session) Terminate(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == types.StateTerminated {
		return
	}
	s.terminateLocked(reason)
}

// terminateLocked 进入吸收态：清零全部密钥材料并发布事件；要求已持锁
func (s *Session) terminateLocked(reason error) {
	s.epochs.zeroize()
	crypto.Zeroize(s.hsEph.Private)
	crypto.Zeroize(s.rekeyEph.Private)
	s.state = types.StateTerminated
	s.termErr = reason
	s.pending = nil

	logger.Warn("会话终止", "session", s.id, "peer", s.peer, "reason", reason)
	s.publish(types.Event{Type: types.EventSessionTerminated, Reason: reason})
}

// reject 发布消息级拒绝事件（不终止会话）
func (s *Session) reject(reason error) {
	s.publish(types.Event{Type: types.EventMessageRejected, Reason: reason})
}

// publish 发布事件，自动附加会话上下文
func (s *Session) publish(ev types.Event) {
	if s.sink == nil {
		return
	}
	ev.Time = s.clk.Now()
	ev.Session = s.id
	ev.Peer = s.peer
	if ev.Epoch == 0 {
		ev.Epoch = s.sendEpoch
	}
	s.sink.Publish(ev)
}
