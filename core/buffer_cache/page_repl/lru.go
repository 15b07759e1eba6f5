// Package pagerepl implements the cache's page replacement policy: an
// LRU over resident block IDs carrying per-block pin counts and a dirty
// flag. A block that is pinned or dirty is never chosen as an eviction
// victim; dirty blocks leave through writeback, not eviction.
package pagerepl

import (
	"container/list"
	"fmt"

	"go.uber.org/zap"

	"github.com/sushant-115/mirrordb/core/storage_engine/block"
)

type entry struct {
	id       block.ID
	pinCount uint32
	dirty    bool
	elem     *list.Element
}

// LRU is unsynchronized; all calls happen on the cache's event loop.
type LRU struct {
	logger  *zap.Logger
	entries map[block.ID]*entry
	order   *list.List // front = most recently used, values are *entry
}

func New(logger *zap.Logger) *LRU {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LRU{
		logger:  logger,
		entries: make(map[block.ID]*entry),
		order:   list.New(),
	}
}

// Insert starts tracking a newly resident block with pin count zero.
func (l *LRU) Insert(id block.ID) {
	if _, exists := l.entries[id]; exists {
		l.logger.Error("replacement policy already tracks block", zap.Uint64("block_id", uint64(id)))
		return
	}
	e := &entry{id: id}
	e.elem = l.order.PushFront(e)
	l.entries[id] = e
}

// Pin increments the pin count, shielding the block from eviction.
func (l *LRU) Pin(id block.ID) {
	e, ok := l.entries[id]
	if !ok {
		l.logger.Error("pin of untracked block", zap.Uint64("block_id", uint64(id)))
		return
	}
	e.pinCount++
}

// Unpin decrements the pin count. Unpinning an unpinned block is a
// contract violation and is reported as an error.
func (l *LRU) Unpin(id block.ID) error {
	e, ok := l.entries[id]
	if !ok {
		return fmt.Errorf("unpin of untracked block %d", id)
	}
	if e.pinCount == 0 {
		return fmt.Errorf("cannot unpin block %d with pin count 0", id)
	}
	e.pinCount--
	return nil
}

// PinCount returns the current pin count for id, or zero if untracked.
func (l *LRU) PinCount(id block.ID) uint32 {
	if e, ok := l.entries[id]; ok {
		return e.pinCount
	}
	return 0
}

// Touch marks id as most recently used.
func (l *LRU) Touch(id block.ID) {
	if e, ok := l.entries[id]; ok {
		l.order.MoveToFront(e.elem)
	}
}

// SetDirty flags or clears the dirty state for id.
func (l *LRU) SetDirty(id block.ID, dirty bool) {
	if e, ok := l.entries[id]; ok {
		e.dirty = dirty
	}
}

// Dirty reports whether id is flagged dirty.
func (l *LRU) Dirty(id block.ID) bool {
	if e, ok := l.entries[id]; ok {
		return e.dirty
	}
	return false
}

// Rekey moves all replacement state from old to newID, preserving pin
// count, dirty flag and recency.
func (l *LRU) Rekey(old, newID block.ID) bool {
	e, ok := l.entries[old]
	if !ok {
		return false
	}
	if _, taken := l.entries[newID]; taken {
		return false
	}
	delete(l.entries, old)
	e.id = newID
	l.entries[newID] = e
	return true
}

// Remove stops tracking id, typically after eviction.
func (l *LRU) Remove(id block.ID) {
	e, ok := l.entries[id]
	if !ok {
		return
	}
	l.order.Remove(e.elem)
	delete(l.entries, id)
}

// Victim selects the least recently used block that is neither pinned
// nor dirty. It reports false when every resident block is protected.
func (l *LRU) Victim() (block.ID, bool) {
	for el := l.order.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*entry)
		if e.pinCount == 0 && !e.dirty {
			return e.id, true
		}
	}
	return block.InvalidID, false
}

// Len returns the number of tracked blocks.
func (l *LRU) Len() int {
	return len(l.entries)
}
