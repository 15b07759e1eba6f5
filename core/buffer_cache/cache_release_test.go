//go:build !debug

package buffercache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sushant-115/mirrordb/core/storage_engine/block"
)

// TestCache_StaleCompletionIsDropped completes the same read twice; the
// second completion must be rejected by the generation check and leave
// pin counts untouched. Debug builds turn the stale completion into a
// panic instead, covered in check_contracts_debug_test.go.
func TestCache_StaleCompletionIsDropped(t *testing.T) {
	e := setupCache(t, 8, false)
	const id = block.ID(3)

	e.onLoop(t, func() {
		tx := e.c.BeginTransaction()
		defer e.c.EndTransaction(tx)
		_, err := e.c.Acquire(tx, id, nil, func(buf []byte, state any, err error) {
			require.NoError(t, err)
		})
		require.NoError(t, err)
	})

	e.ser.completeRead(0, make([]byte, testBlockSize), nil)
	e.barrier(t)
	// A buggy serializer reports the same completion again.
	e.ser.completeRead(0, make([]byte, testBlockSize), nil)
	e.barrier(t)

	e.onLoop(t, func() {
		require.Equal(t, uint32(1), e.c.repl.PinCount(id), "stale completion must not double pin")
		require.Equal(t, 1, e.c.pages.Len())
	})
}
