// Package block defines the identifier type shared by the serializer and
// the buffer cache.
package block

import "strconv"

// ID uniquely identifies a live on-disk block. A copy-on-write serializer
// reassigns the ID when a dirty block is written back, so callers must
// always adopt the ID returned by a release.
type ID uint64

// InvalidID marks an unallocated or unknown block. Serializers never
// hand it out.
const InvalidID ID = 0

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}
