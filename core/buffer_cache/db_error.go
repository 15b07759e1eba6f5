package buffercache

import "errors"

// --- Error Definitions ---

var (
	ErrBufferPoolFull  = errors.New("buffer cache is full and no blocks can be evicted")
	ErrNotResident     = errors.New("block not resident in page map")
	ErrNotPinned       = errors.New("block is not pinned")
	ErrStaleAIOContext = errors.New("aio context already completed or never issued")
	ErrCacheClosed     = errors.New("buffer cache is closed")
	ErrNoCompletion    = errors.New("acquire of a non-resident block requires a completion callback")
	ErrReadFailed      = errors.New("serializer read failed")
)
