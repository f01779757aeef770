package session

import (
	"fmt"

	"github.com/dep2p/go-secure-gateway/internal/core/crypto"
	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// ============================================================================
//                              纪元密钥表
// ============================================================================
//
// 轮换期间同时最多保留两个有效解密纪元：current 与 previous。
// 固定两槽而非无界历史，保证内存有界且不变量可机检。

// epochSlot 一个纪元的解密材料
type epochSlot struct {
	epoch types.Epoch
	keys  *crypto.EpochKeys
	recv  *replayWindow
}

// epochTable 两槽纪元表
type epochTable struct {
	current  *epochSlot
	previous *epochSlot
}

// install 安装新纪元为 current，原 current 降为 previous
//
// 原 previous（若有）被销毁：两槽上限是硬性的。
func (t *epochTable) install(epoch types.Epoch, keys *crypto.EpochKeys, windowSize uint) {
	if t.previous != nil {
		t.previous.keys.Zeroize()
	}
	t.previous = t.current
	t.current = &epochSlot{
		epoch: epoch,
		keys:  keys,
		recv:  newReplayWindow(windowSize),
	}
}

// lookup 按纪元号取槽
func (t *epochTable) lookup(epoch types.Epoch) (*epochSlot, error) {
	if t.current != nil && t.current.epoch == epoch {
		return t.current, nil
	}
	if t.previous != nil && t.previous.epoch == epoch {
		return t.previous, nil
	}
	return nil, fmt.Errorf("%w: epoch %d", types.ErrUnknownEpoch, epoch)
}

// retirePrevious 退役并清零 previous 纪元
func (t *epochTable) retirePrevious() {
	if t.previous == nil {
		return
	}
	t.previous.keys.Zeroize()
	t.previous = nil
}

// hasPrevious 是否仍保留 previous 纪元
func (t *epochTable) hasPrevious() bool {
	return t.previous != nil
}

// zeroize 销毁全部密钥材料
func (t *epochTable) zeroize() {
	if t.current != nil {
		t.current.keys.Zeroize()
		t.current = nil
	}
	if t.previous != nil {
		t.previous.keys.Zeroize()
		t.previous = nil
	}
}
