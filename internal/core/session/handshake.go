package session

import (
	"bytes"
	"fmt"
	"time"

	"github.com/dep2p/go-secure-gateway/internal/core/codec"
	"github.com/dep2p/go-secure-gateway/internal/core/crypto"
	"github.com/dep2p/go-secure-gateway/pkg/lib/proto/handshake"
	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// ============================================================================
//                              握手协议
// ============================================================================
//
// 三轮握手：init → resp → confirm。
// 双方各出一个临时 X25519 密钥对，DH 共享密钥经 KDF 派生 epoch-0
// 密钥材料；每轮都由长期 ed25519 密钥签名绑定身份，确认 MAC 证明
// 双方派生出了相同的密钥。对端身份未登记时失败关闭。

// initFreshness 握手发起帧时间戳允许的最大偏差
//
// 时间戳由发起帧签名覆盖；超窗的发起帧按重放拒绝，
// 防止被录制的旧发起帧顶掉在用会话。
const initFreshness = 2 * time.Minute

// confirmTranscript 最后一轮确认 MAC 覆盖的转录
func confirmTranscript(sid types.SessionID, initEph, respEph []byte) []byte {
	t := make([]byte, 0, 128)
	t = append(t, []byte("secgw-hs-confirm:")...)
	t = append(t, sid[:]...)
	t = append(t, initEph...)
	t = append(t, respEph...)
	return t
}

// Connect 发起握手（Idle → HandshakeInitiated）
//
// 生成临时密钥对，排入携带临时公钥与对端验证密钥指纹的签名
// 握手发起帧。帧经 Drain 取走投递。
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != types.StateIdle {
		return fmt.Errorf("session: connect in state %v", s.state)
	}
	if !s.initiator {
		return fmt.Errorf("session: responder cannot connect")
	}

	eph, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	s.hsEph = eph
	s.hsInitEph = eph.Public

	init := &handshake.HandshakeInit{
		SessionID:       s.id.Bytes(),
		EphemeralPub:    eph.Public,
		IdentityKey:     s.ids.VerifyKey(),
		PeerFingerprint: crypto.Fingerprint(s.peerVerify),
		Timestamp:       uint64(s.clk.Now().UnixMilli()),
	}
	init.Signature = crypto.Sign(s.ids.SigningKey(), init.SignedTranscript())

	s.pending = append(s.pending, codec.EncodeWire(codec.WireHandshakeInit, init.Marshal()))
	s.state = types.StateHandshakeInitiated

	logger.Info("发起握手", "session", s.id, "peer", s.peer)
	s.publish(types.Event{Type: types.EventHandshakeStarted})
	return nil
}

// HandleHandshake 处理一个握手帧体
//
// 任何验证失败（未知对端、签名错误、确认 MAC 不匹配）终止会话。
func (s *Session) HandleHandshake(kind codec.WireKind, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == types.StateTerminated {
		return fmt.Errorf("%w: %v", types.ErrSessionTerminated, s.termErr)
	}

	switch kind {
	case codec.WireHandshakeInit:
		return s.handleInitLocked(body)
	case codec.WireHandshakeResp:
		return s.handleRespLocked(body)
	case codec.WireHandshakeConfirm:
		return s.handleConfirmLocked(body)
	default:
		return fmt.Errorf("%w: wire kind %v is not a handshake frame", types.ErrMalformed, kind)
	}
}

// handleInitLocked 响应方处理握手发起帧
func (s *Session) handleInitLocked(body []byte) error {
	if s.state != types.StateIdle || s.initiator {
		return s.failHandshakeLocked(fmt.Errorf("%w: unexpected handshake init in state %v",
			types.ErrAuthenticationFailed, s.state))
	}

	var init handshake.HandshakeInit
	if err := init.Unmarshal(body); err != nil {
		return s.failHandshakeLocked(fmt.Errorf("%w: %v", types.ErrMalformed, err))
	}
	sid, err := types.SessionIDFromBytes(init.SessionID)
	if err != nil {
		return s.failHandshakeLocked(fmt.Errorf("%w: %v", types.ErrMalformed, err))
	}
	if len(init.EphemeralPub) != crypto.PublicKeySize {
		return s.failHandshakeLocked(fmt.Errorf("%w: ephemeral key length %d",
			types.ErrMalformed, len(init.EphemeralPub)))
	}

	// 对端身份必须已登记；未知对端失败关闭
	peerID := crypto.PeerIDFromPublicKey(init.IdentityKey)
	stored, err := s.ids.Lookup(peerID)
	if err != nil {
		return s.failHandshakeLocked(err)
	}
	if !bytes.Equal(stored, init.IdentityKey) {
		return s.failHandshakeLocked(fmt.Errorf("%w: identity key mismatch for %s",
			types.ErrAuthenticationFailed, peerID))
	}

	// 指纹必须指向本节点，防止发起帧被转投他人
	if !bytes.Equal(init.PeerFingerprint, crypto.Fingerprint(s.ids.VerifyKey())) {
		return s.failHandshakeLocked(fmt.Errorf("%w: handshake init addressed to another node",
			types.ErrAuthenticationFailed))
	}

	if !crypto.Verify(stored, init.SignedTranscript(), init.Signature) {
		return s.failHandshakeLocked(fmt.Errorf("%w: handshake init signature",
			types.ErrAuthenticationFailed))
	}

	ts := time.UnixMilli(int64(init.Timestamp))
	if d := s.clk.Now().Sub(ts); d > initFreshness || d < -initFreshness {
		return s.failHandshakeLocked(fmt.Errorf("%w: handshake init timestamp outside freshness window",
			types.ErrAuthenticationFailed))
	}

	s.id = sid
	s.peer = peerID
	s.peerVerify = stored
	s.publish(types.Event{Type: types.EventHandshakeStarted})

	eph, err := crypto.GenerateKeyPair()
	if err != nil {
		return s.failHandshakeLocked(err)
	}
	s.hsEph = eph
	s.hsInitEph = append([]byte(nil), init.EphemeralPub...)
	s.hsRespEph = eph.Public

	keys, err := s.deriveEpochLocked(eph.Private, init.EphemeralPub, 0)
	if err != nil {
		return s.failHandshakeLocked(err)
	}
	s.epochs.install(0, keys, s.policy.ReplayWindow)

	resp := &handshake.HandshakeResp{
		SessionID:    sid.Bytes(),
		EphemeralPub: eph.Public,
		IdentityKey:  s.ids.VerifyKey(),
	}
	resp.Signature = crypto.Sign(s.ids.SigningKey(), resp.SignedTranscript(s.hsInitEph))
	resp.ConfirmMAC = crypto.ConfirmMAC(keys, resp.SignedTranscript(s.hsInitEph))

	s.pending = append(s.pending, codec.EncodeWire(codec.WireHandshakeResp, resp.Marshal()))
	s.state = types.StateHandshakeResponded
	return nil
}

// handleRespLocked 发起方处理握手响应帧
func (s *Session) handleRespLocked(body []byte) error {
	if s.state != types.StateHandshakeInitiated {
		return s.failHandshakeLocked(fmt.Errorf("%w: unexpected handshake resp in state %v",
			types.ErrAuthenticationFailed, s.state))
	}

	var resp handshake.HandshakeResp
	if err := resp.Unmarshal(body); err != nil {
		return s.failHandshakeLocked(fmt.Errorf("%w: %v", types.ErrMalformed, err))
	}
	if !bytes.Equal(resp.SessionID, s.id.Bytes()) {
		return s.failHandshakeLocked(fmt.Errorf("%w: handshake resp for another session",
			types.ErrAuthenticationFailed))
	}
	if len(resp.EphemeralPub) != crypto.PublicKeySize {
		return s.failHandshakeLocked(fmt.Errorf("%w: ephemeral key length %d",
			types.ErrMalformed, len(resp.EphemeralPub)))
	}

	// 响应方身份必须与发起时指定的对端一致
	if !bytes.Equal(resp.IdentityKey, s.peerVerify) {
		return s.failHandshakeLocked(fmt.Errorf("%w: handshake resp identity mismatch",
			types.ErrAuthenticationFailed))
	}
	if !crypto.Verify(s.peerVerify, resp.SignedTranscript(s.hsEph.Public), resp.Signature) {
		return s.failHandshakeLocked(fmt.Errorf("%w: handshake resp signature",
			types.ErrAuthenticationFailed))
	}

	keys, err := s.deriveEpochLocked(s.hsEph.Private, resp.EphemeralPub, 0)
	if err != nil {
		return s.failHandshakeLocked(err)
	}
	if !crypto.VerifyConfirmMAC(keys, resp.SignedTranscript(s.hsEph.Public), resp.ConfirmMAC) {
		keys.Zeroize()
		return s.failHandshakeLocked(fmt.Errorf("%w: handshake resp confirm MAC",
			types.ErrAuthenticationFailed))
	}

	s.hsRespEph = append([]byte(nil), resp.EphemeralPub...)
	s.epochs.install(0, keys, s.policy.ReplayWindow)

	confirm := &handshake.HandshakeConfirm{
		SessionID:  s.id.Bytes(),
		ConfirmMAC: crypto.ConfirmMAC(keys, confirmTranscript(s.id, s.hsInitEph, s.hsRespEph)),
	}
	s.pending = append(s.pending, codec.EncodeWire(codec.WireHandshakeConfirm, confirm.Marshal()))

	s.establishLocked()
	return nil
}

// handleConfirmLocked 响应方处理握手确认帧
func (s *Session) handleConfirmLocked(body []byte) error {
	if s.state != types.StateHandshakeResponded {
		return s.failHandshakeLocked(fmt.Errorf("%w: unexpected handshake confirm in state %v",
			types.ErrAuthenticationFailed, s.state))
	}

	var confirm handshake.HandshakeConfirm
	if err := confirm.Unmarshal(body); err != nil {
		return s.failHandshakeLocked(fmt.Errorf("%w: %v", types.ErrMalformed, err))
	}
	if !bytes.Equal(confirm.SessionID, s.id.Bytes()) {
		return s.failHandshakeLocked(fmt.Errorf("%w: handshake confirm for another session",
			types.ErrAuthenticationFailed))
	}

	slot, err := s.epochs.lookup(0)
	if err != nil {
		return s.failHandshakeLocked(err)
	}
	if !crypto.VerifyConfirmMAC(slot.keys,
		confirmTranscript(s.id, s.hsInitEph, s.hsRespEph), confirm.ConfirmMAC) {
		return s.failHandshakeLocked(fmt.Errorf("%w: handshake confirm MAC",
			types.ErrAuthenticationFailed))
	}

	s.establishLocked()
	return nil
}

// deriveEpochLocked DH + KDF 派生指定纪元的密钥材料；共享密钥用后清零
func (s *Session) deriveEpochLocked(ownPriv, peerPub []byte, epoch types.Epoch) (*crypto.EpochKeys, error) {
	shared, err := crypto.SharedSecret(ownPriv, peerPub)
	if err != nil {
		return nil, err
	}
	defer crypto.Zeroize(shared)
	return crypto.DeriveEpochKeys(shared, s.id, epoch)
}

// establishLocked 进入 Established：清理握手瞬态、初始化发送侧与轮换定时
func (s *Session) establishLocked() {
	crypto.Zeroize(s.hsEph.Private)
	s.hsEph = crypto.KeyPair{}
	s.hsInitEph = nil
	s.hsRespEph = nil

	s.state = types.StateEstablished
	s.sendEpoch = 0
	s.sendSeq = 0
	s.sentInEpoch = 0
	s.rotateAt = s.clk.Now().Add(s.policy.Rotation.Interval)
	s.lastUsed = s.clk.Now()

	logger.Info("握手完成", "session", s.id, "peer", s.peer)
	s.publish(types.Event{Type: types.EventHandshakeCompleted})
}

// failHandshakeLocked 握手失败：发布事件并终止会话
func (s *Session) failHandshakeLocked(reason error) error {
	s.publish(types.Event{Type: types.EventHandshakeFailed, Reason: reason})
	s.terminateLocked(reason)
	return reason
}
