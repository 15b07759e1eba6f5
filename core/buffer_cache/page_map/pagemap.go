// Package pagemap tracks which blocks are resident: it is the BlockID to
// in-memory buffer association of the cache. At most one live buffer
// exists per block ID; absence means the block must be read from the
// serializer.
package pagemap

import "github.com/sushant-115/mirrordb/core/storage_engine/block"

// Map is unsynchronized. Callers run under the cache's single event loop
// discipline.
type Map struct {
	entries map[block.ID][]byte
}

func New() *Map {
	return &Map{entries: make(map[block.ID][]byte)}
}

// Find returns the resident buffer for id, if any.
func (m *Map) Find(id block.ID) ([]byte, bool) {
	buf, ok := m.entries[id]
	return buf, ok
}

// Set registers buf as the resident buffer for id. Registering a second
// buffer for a resident block would violate the uniqueness invariant, so
// Set reports whether the association was new.
func (m *Map) Set(id block.ID, buf []byte) bool {
	if _, exists := m.entries[id]; exists {
		return false
	}
	m.entries[id] = buf
	return true
}

// Delete removes the association for id.
func (m *Map) Delete(id block.ID) {
	delete(m.entries, id)
}

// Rekey moves the buffer registered under old to newID. Used when a
// copy-on-write serializer reassigns the ID of a dirty block. It fails
// if old is not resident or newID already is.
func (m *Map) Rekey(old, newID block.ID) bool {
	buf, ok := m.entries[old]
	if !ok {
		return false
	}
	if _, taken := m.entries[newID]; taken {
		return false
	}
	delete(m.entries, old)
	m.entries[newID] = buf
	return true
}

// Len returns the number of resident blocks.
func (m *Map) Len() int {
	return len(m.entries)
}
