package pagerepl

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sushant-115/mirrordb/core/storage_engine/block"
)

func newLRU(t *testing.T) *LRU {
	t.Helper()
	return New(zap.NewNop())
}

func TestLRU_VictimIsLeastRecentlyUsed(t *testing.T) {
	l := newLRU(t)
	for id := block.ID(1); id <= 3; id++ {
		l.Insert(id)
	}

	// Insert order was 1, 2, 3, so 1 is coldest.
	victim, ok := l.Victim()
	require.True(t, ok)
	require.Equal(t, block.ID(1), victim)

	// Touching 1 makes 2 the coldest.
	l.Touch(block.ID(1))
	victim, ok = l.Victim()
	require.True(t, ok)
	require.Equal(t, block.ID(2), victim)
}

func TestLRU_VictimSkipsPinnedAndDirty(t *testing.T) {
	l := newLRU(t)
	for id := block.ID(1); id <= 3; id++ {
		l.Insert(id)
	}

	l.Pin(block.ID(1))
	l.SetDirty(block.ID(2), true)

	victim, ok := l.Victim()
	require.True(t, ok)
	require.Equal(t, block.ID(3), victim, "victim must skip the pinned and the dirty block")

	l.Pin(block.ID(3))
	_, ok = l.Victim()
	require.False(t, ok, "no victim when everything is pinned or dirty")

	require.NoError(t, l.Unpin(block.ID(1)))
	victim, ok = l.Victim()
	require.True(t, ok)
	require.Equal(t, block.ID(1), victim)
}

func TestLRU_PinUnpinBalance(t *testing.T) {
	l := newLRU(t)
	l.Insert(block.ID(9))

	l.Pin(block.ID(9))
	l.Pin(block.ID(9))
	require.Equal(t, uint32(2), l.PinCount(block.ID(9)))

	require.NoError(t, l.Unpin(block.ID(9)))
	require.NoError(t, l.Unpin(block.ID(9)))
	require.Zero(t, l.PinCount(block.ID(9)))

	require.Error(t, l.Unpin(block.ID(9)), "unpinning at zero is a contract violation")
	require.Error(t, l.Unpin(block.ID(404)), "unpinning an untracked block is a contract violation")
}

func TestLRU_RekeyPreservesState(t *testing.T) {
	l := newLRU(t)
	l.Insert(block.ID(5))
	l.Pin(block.ID(5))
	l.SetDirty(block.ID(5), true)

	require.True(t, l.Rekey(block.ID(5), block.ID(50)))
	require.Equal(t, uint32(1), l.PinCount(block.ID(50)))
	require.True(t, l.Dirty(block.ID(50)))
	require.Zero(t, l.PinCount(block.ID(5)))

	require.False(t, l.Rekey(block.ID(5), block.ID(6)), "rekey of untracked block must fail")
}

func TestLRU_Remove(t *testing.T) {
	l := newLRU(t)
	l.Insert(block.ID(1))
	l.Insert(block.ID(2))
	l.Remove(block.ID(1))

	require.Equal(t, 1, l.Len())
	victim, ok := l.Victim()
	require.True(t, ok)
	require.Equal(t, block.ID(2), victim)
}
