package session

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dep2p/go-secure-gateway/internal/core/crypto"
	"github.com/dep2p/go-secure-gateway/pkg/lib/proto/handshake"
	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// ============================================================================
//                              在线密钥轮换
// ============================================================================
//
// 消息计数阈值或时钟间隔先到先触发；由原握手发起方驱动，
// 避免双方同时发起重密钥的冲突。重密钥消息是前向保密的：
// 在已认证信道内完成一次全新的临时密钥交换。
//
// 纪元切换顺序：
//   发起方：RekeyInit（旧纪元下发送）→ 收到 RekeyResp 后派生并安装
//   新纪元，出站切换到新纪元，RekeyConfirm 仍在旧纪元下发出；
//   响应方：收到 RekeyInit 即派生并安装新纪元（入站两纪元并收），
//   收到 RekeyConfirm 后出站切换。
// 双方各自启动宽限计时；期满后旧纪元退役并清零。

// rekeyTranscript 重密钥确认 MAC 覆盖的转录
func rekeyTranscript(sid types.SessionID, epoch types.Epoch, initEph, respEph []byte) []byte {
	t := make([]byte, 0, 128)
	t = append(t, []byte("secgw-rekey:")...)
	t = append(t, sid[:]...)
	t = binary.BigEndian.AppendUint32(t, uint32(epoch))
	t = append(t, initEph...)
	t = append(t, respEph...)
	return t
}

// maybeRotateLocked 消息计数触发检查；要求已持锁
func (s *Session) maybeRotateLocked() {
	if s.state != types.StateEstablished || !s.initiator {
		return
	}
	if s.sentInEpoch >= s.policy.Rotation.MaxMessages {
		s.startRotationLocked()
	}
}

// startRotationLocked 发起轮换（Established → Rotating）；要求已持锁
func (s *Session) startRotationLocked() {
	eph, err := crypto.GenerateKeyPair()
	if err != nil {
		s.terminateLocked(err)
		return
	}
	s.rekeyEph = eph
	s.rekeyEpoch = s.sendEpoch + 1
	s.state = types.StateRotating
	s.graceAt = time.Time{}

	init := &handshake.RekeyInit{
		NewEpoch:     uint32(s.rekeyEpoch),
		EphemeralPub: eph.Public,
	}

	logger.Info("发起密钥轮换", "session", s.id, "epoch", uint32(s.rekeyEpoch))
	s.publish(types.Event{Type: types.EventRotationStarted, Epoch: s.rekeyEpoch})

	if err := s.queueControlLocked(payloadRekeyInit, init.Marshal()); err != nil {
		s.terminateLocked(err)
	}
}

// handleRekeyLocked 处理受保护信道内的重密钥控制消息；要求已持锁
func (s *Session) handleRekeyLocked(kind byte, body []byte) error {
	switch kind {
	case payloadRekeyInit:
		return s.handleRekeyInitLocked(body)
	case payloadRekeyResp:
		return s.handleRekeyRespLocked(body)
	case payloadRekeyConfirm:
		return s.handleRekeyConfirmLocked(body)
	default:
		return fmt.Errorf("%w: rekey payload kind 0x%02X", types.ErrMalformed, kind)
	}
}

// handleRekeyInitLocked 响应方处理重密钥发起
func (s *Session) handleRekeyInitLocked(body []byte) error {
	if s.initiator || s.state != types.StateEstablished {
		err := fmt.Errorf("%w: unexpected rekey init in state %v",
			types.ErrAuthenticationFailed, s.state)
		s.terminateLocked(err)
		return err
	}

	var init handshake.RekeyInit
	if err := init.Unmarshal(body); err != nil {
		err = fmt.Errorf("%w: %v", types.ErrMalformed, err)
		s.terminateLocked(err)
		return err
	}
	if types.Epoch(init.NewEpoch) != s.sendEpoch+1 {
		err := fmt.Errorf("%w: rekey to epoch %d, current is %d",
			types.ErrUnknownEpoch, init.NewEpoch, uint32(s.sendEpoch))
		s.terminateLocked(err)
		return err
	}
	if len(init.EphemeralPub) != crypto.PublicKeySize {
		err := fmt.Errorf("%w: rekey ephemeral key length %d",
			types.ErrMalformed, len(init.EphemeralPub))
		s.terminateLocked(err)
		return err
	}

	eph, err := crypto.GenerateKeyPair()
	if err != nil {
		s.terminateLocked(err)
		return err
	}

	newEpoch := types.Epoch(init.NewEpoch)
	keys, err := s.deriveEpochLocked(eph.Private, init.EphemeralPub, newEpoch)
	crypto.Zeroize(eph.Private)
	if err != nil {
		s.terminateLocked(err)
		return err
	}

	s.state = types.StateRotating
	s.rekeyEpoch = newEpoch
	s.publish(types.Event{Type: types.EventRotationStarted, Epoch: newEpoch})

	// 新纪元入站立即可收；出站切换等到收到确认
	s.epochs.install(newEpoch, keys, s.policy.ReplayWindow)

	transcript := rekeyTranscript(s.id, newEpoch, init.EphemeralPub, eph.Public)
	s.rekeyConfirmTranscript = append(transcript, []byte(":confirm")...)

	resp := &handshake.RekeyResp{
		NewEpoch:     init.NewEpoch,
		EphemeralPub: eph.Public,
		ConfirmMAC:   crypto.ConfirmMAC(keys, transcript),
	}
	if err := s.queueControlLocked(payloadRekeyResp, resp.Marshal()); err != nil {
		s.terminateLocked(err)
		return err
	}
	return nil
}

// handleRekeyRespLocked 发起方处理重密钥响应
func (s *Session) handleRekeyRespLocked(body []byte) error {
	if !s.initiator || s.state != types.StateRotating || len(s.rekeyEph.Public) == 0 {
		err := fmt.Errorf("%w: unexpected rekey resp in state %v",
			types.ErrAuthenticationFailed, s.state)
		s.terminateLocked(err)
		return err
	}

	var resp handshake.RekeyResp
	if err := resp.Unmarshal(body); err != nil {
		err = fmt.Errorf("%w: %v", types.ErrMalformed, err)
		s.terminateLocked(err)
		return err
	}
	if types.Epoch(resp.NewEpoch) != s.rekeyEpoch {
		err := fmt.Errorf("%w: rekey resp for epoch %d, expected %d",
			types.ErrUnknownEpoch, resp.NewEpoch, uint32(s.rekeyEpoch))
		s.terminateLocked(err)
		return err
	}
	if len(resp.EphemeralPub) != crypto.PublicKeySize {
		err := fmt.Errorf("%w: rekey ephemeral key length %d",
			types.ErrMalformed, len(resp.EphemeralPub))
		s.terminateLocked(err)
		return err
	}

	keys, err := s.deriveEpochLocked(s.rekeyEph.Private, resp.EphemeralPub, s.rekeyEpoch)
	if err != nil {
		s.terminateLocked(err)
		return err
	}
	transcript := rekeyTranscript(s.id, s.rekeyEpoch, s.rekeyEph.Public, resp.EphemeralPub)
	if !crypto.VerifyConfirmMAC(keys, transcript, resp.ConfirmMAC) {
		keys.Zeroize()
		err := fmt.Errorf("%w: rekey resp confirm MAC", types.ErrAuthenticationFailed)
		s.terminateLocked(err)
		return err
	}

	s.epochs.install(s.rekeyEpoch, keys, s.policy.ReplayWindow)

	// 确认帧仍在旧纪元下发出，之后出站才切换到新纪元
	confirm := &handshake.RekeyConfirm{
		NewEpoch:   resp.NewEpoch,
		ConfirmMAC: crypto.ConfirmMAC(keys, append(transcript, []byte(":confirm")...)),
	}
	if err := s.queueControlLocked(payloadRekeyConfirm, confirm.Marshal()); err != nil {
		s.terminateLocked(err)
		return err
	}

	s.switchEpochLocked()
	return nil
}

// handleRekeyConfirmLocked 响应方处理重密钥确认
func (s *Session) handleRekeyConfirmLocked(body []byte) error {
	if s.initiator || s.state != types.StateRotating {
		err := fmt.Errorf("%w: unexpected rekey confirm in state %v",
			types.ErrAuthenticationFailed, s.state)
		s.terminateLocked(err)
		return err
	}

	var confirm handshake.RekeyConfirm
	if err := confirm.Unmarshal(body); err != nil {
		err = fmt.Errorf("%w: %v", types.ErrMalformed, err)
		s.terminateLocked(err)
		return err
	}
	if types.Epoch(confirm.NewEpoch) != s.rekeyEpoch {
		err := fmt.Errorf("%w: rekey confirm for epoch %d, expected %d",
			types.ErrUnknownEpoch, confirm.NewEpoch, uint32(s.rekeyEpoch))
		s.terminateLocked(err)
		return err
	}

	slot, err := s.epochs.lookup(s.rekeyEpoch)
	if err != nil {
		s.terminateLocked(err)
		return err
	}
	if !crypto.VerifyConfirmMAC(slot.keys, s.rekeyConfirmTranscript, confirm.ConfirmMAC) {
		err := fmt.Errorf("%w: rekey confirm MAC", types.ErrAuthenticationFailed)
		s.terminateLocked(err)
		return err
	}

	s.switchEpochLocked()
	return nil
}

// switchEpochLocked 出站切换到新纪元并启动宽限计时；要求已持锁
func (s *Session) switchEpochLocked() {
	crypto.Zeroize(s.rekeyEph.Private)
	s.rekeyEph = crypto.KeyPair{}
	s.rekeyConfirmTranscript = nil

	s.sendEpoch = s.rekeyEpoch
	s.sentInEpoch = 0
	s.rotateAt = s.clk.Now().Add(s.policy.Rotation.Interval)
	s.graceAt = s.clk.Now().Add(s.policy.Rotation.Grace)

	logger.Info("出站切换到新纪元", "session", s.id, "epoch", uint32(s.sendEpoch),
		"grace", s.policy.Rotation.Grace)
}

// finishRotationLocked 宽限期满：退役旧纪元（Rotating → Established）
func (s *Session) finishRotationLocked() {
	s.epochs.retirePrevious()
	s.state = types.StateEstablished
	s.graceAt = time.Time{}

	logger.Info("密钥轮换完成", "session", s.id, "epoch", uint32(s.sendEpoch))
	s.publish(types.Event{Type: types.EventRotationCompleted, Epoch: s.sendEpoch})
}
