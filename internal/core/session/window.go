package session

import (
	"fmt"

	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// ============================================================================
//                              重放窗口
// ============================================================================
//
// 每个纪元一个滑动位图窗口。接收侧按序列号单调推进，
// 容忍窗口宽度内的有限乱序，但绝不二次接受同一 (epoch, sequence)。
// 早于窗口下沿的序列号无法证明未被接受过，按重放拒绝。

// replayWindow 滑动位图重放窗口
type replayWindow struct {
	// size 窗口宽度（序列号跨度）
	size uint
	// highest 已接受的最高序列号
	highest uint64
	// seen 位图；bit i 对应序列号 highest-i
	seen []uint64
	// any 是否已接受过任何序列号
	any bool
}

// newReplayWindow 构建窗口
func newReplayWindow(size uint) *replayWindow {
	return &replayWindow{
		size: size,
		seen: make([]uint64, (size+63)/64),
	}
}

// check 判断序列号当前是否可接受（不修改窗口）
func (w *replayWindow) check(seq uint64) error {
	if !w.any {
		return nil
	}
	if seq > w.highest {
		return nil
	}
	offset := w.highest - seq
	if offset >= uint64(w.size) {
		return fmt.Errorf("%w: sequence %d below window floor", types.ErrReplayDetected, seq)
	}
	if w.seen[offset/64]&(1<<(offset%64)) != 0 {
		return fmt.Errorf("%w: sequence %d already accepted", types.ErrReplayDetected, seq)
	}
	return nil
}

// mark 把序列号记入窗口；调用前必须已通过 check
func (w *replayWindow) mark(seq uint64) {
	if !w.any {
		w.any = true
		w.highest = seq
		w.seen[0] |= 1
		return
	}
	if seq > w.highest {
		w.shift(seq - w.highest)
		w.highest = seq
		w.seen[0] |= 1
		return
	}
	offset := w.highest - seq
	w.seen[offset/64] |= 1 << (offset % 64)
}

// shift 窗口整体左移 n 位（最高位方向为新序列号）
func (w *replayWindow) shift(n uint64) {
	if n >= uint64(w.size) {
		for i := range w.seen {
			w.seen[i] = 0
		}
		return
	}
	words := int(n / 64)
	bits := uint(n % 64)

	if words > 0 {
		copy(w.seen[words:], w.seen[:len(w.seen)-words])
		for i := 0; i < words; i++ {
			w.seen[i] = 0
		}
	}
	if bits > 0 {
		var carry uint64
		for i := 0; i < len(w.seen); i++ {
			next := w.seen[i] >> (64 - bits)
			w.seen[i] = w.seen[i]<<bits | carry
			carry = next
		}
	}
}
