package buffercache

import (
	"fmt"

	"github.com/sushant-115/mirrordb/core/storage_engine/block"
)

// AIOHandle is a generation-checked reference to an in-flight
// asynchronous I/O. Completing a handle twice, or completing one that
// was never issued, fails with ErrStaleAIOContext instead of corrupting
// cache state.
type AIOHandle uint64

func (h AIOHandle) index() uint32      { return uint32(h) }
func (h AIOHandle) generation() uint32 { return uint32(h >> 32) }

type aioKind uint8

const (
	aioRead aioKind = iota
	aioWrite
)

// aioContext is the transient record linking a completion event back to
// its block and caller state. It owns no buffer.
type aioContext struct {
	generation uint32
	inUse      bool
	kind       aioKind
	blockID    block.ID
	userState  any
}

// aioArena is a slot map of aioContext records. Slots are recycled;
// each completion bumps the slot's generation so stale handles are
// detectable.
type aioArena struct {
	slots    []aioContext
	free     []uint32
	inFlight int
}

// create registers an in-flight I/O and returns its handle.
func (a *aioArena) create(kind aioKind, id block.ID, state any) AIOHandle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, aioContext{})
		idx = uint32(len(a.slots) - 1)
	}
	slot := &a.slots[idx]
	slot.inUse = true
	slot.kind = kind
	slot.blockID = id
	slot.userState = state
	a.inFlight++
	return AIOHandle(uint64(slot.generation)<<32 | uint64(idx))
}

// complete destroys the context for h, exactly once, and returns a copy
// of its record.
func (a *aioArena) complete(h AIOHandle) (aioContext, error) {
	idx := h.index()
	if int(idx) >= len(a.slots) {
		return aioContext{}, fmt.Errorf("%w: handle index %d out of range", ErrStaleAIOContext, idx)
	}
	slot := &a.slots[idx]
	if !slot.inUse || slot.generation != h.generation() {
		return aioContext{}, fmt.Errorf("%w: handle %#x", ErrStaleAIOContext, uint64(h))
	}
	rec := *slot
	slot.inUse = false
	slot.userState = nil
	slot.generation++
	a.free = append(a.free, idx)
	a.inFlight--
	return rec, nil
}
