package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-secure-gateway/pkg/types"
)

// accept 检查并记入，返回 check 的结果
func (w *replayWindow) accept(seq uint64) error {
	if err := w.check(seq); err != nil {
		return err
	}
	w.mark(seq)
	return nil
}

// TestReplayWindowDuplicate 测试重复序列号拒绝
func TestReplayWindowDuplicate(t *testing.T) {
	w := newReplayWindow(64)

	require.NoError(t, w.accept(0))
	require.NoError(t, w.accept(1))
	require.NoError(t, w.accept(2))

	for _, seq := range []uint64{0, 1, 2} {
		err := w.accept(seq)
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrReplayDetected)
	}
}

// TestReplayWindowOutOfOrder 测试窗口内乱序接受
func TestReplayWindowOutOfOrder(t *testing.T) {
	w := newReplayWindow(64)

	require.NoError(t, w.accept(10))
	require.NoError(t, w.accept(5))
	require.NoError(t, w.accept(9))
	require.NoError(t, w.accept(63))

	// 已接受的乱序序列号二次提交仍是重放
	assert.ErrorIs(t, w.accept(5), types.ErrReplayDetected)
	assert.ErrorIs(t, w.accept(10), types.ErrReplayDetected)

	// 窗口内未见过的仍可接受
	assert.NoError(t, w.accept(8))
}

// TestReplayWindowBelowFloor 测试早于窗口下沿拒绝
func TestReplayWindowBelowFloor(t *testing.T) {
	w := newReplayWindow(64)

	require.NoError(t, w.accept(100))

	err := w.accept(36) // 100-36 = 64 >= 窗口宽度
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrReplayDetected)

	assert.NoError(t, w.accept(37)) // 恰在窗口内
}

// TestReplayWindowLargeJump 测试大跨度推进清空历史位图
func TestReplayWindowLargeJump(t *testing.T) {
	w := newReplayWindow(64)

	require.NoError(t, w.accept(1))
	require.NoError(t, w.accept(2))
	require.NoError(t, w.accept(1000))

	// 跳跃后旧序列号全部落在窗口下沿之外
	assert.ErrorIs(t, w.accept(2), types.ErrReplayDetected)
	// 新窗口内未见过的可接受
	assert.NoError(t, w.accept(990))
	// 但 1000 本身是重放
	assert.ErrorIs(t, w.accept(1000), types.ErrReplayDetected)
}

// TestReplayWindowCrossWordShift 测试跨 64 位字边界的位图移动
func TestReplayWindowCrossWordShift(t *testing.T) {
	w := newReplayWindow(128)

	require.NoError(t, w.accept(0))
	require.NoError(t, w.accept(70)) // 移动 70 位，跨一个字

	assert.ErrorIs(t, w.accept(0), types.ErrReplayDetected)
	assert.NoError(t, w.accept(1))
	assert.NoError(t, w.accept(69))
}
