// Package serializer defines the on-disk block store contract the buffer
// cache is built against, plus two file-backed implementations: an
// in-place store with stable block IDs and an append-only log-structured
// store that reassigns IDs on write.
//
// Both implementations service reads and writes asynchronously on a
// dedicated I/O goroutine and report completion through the callback
// supplied with each request. Completions for one serializer are
// delivered in submission order; the callback runs on the I/O goroutine,
// so callers reschedule it onto their own execution context.
package serializer

import (
	"errors"

	"github.com/sushant-115/mirrordb/core/storage_engine/block"
)

var (
	ErrClosed        = errors.New("serializer is closed")
	ErrBlockNotFound = errors.New("block not found in store")
	ErrBadMagic      = errors.New("invalid store file magic number")
	ErrBadBlockSize  = errors.New("store file block size mismatch")
	ErrShortBlock    = errors.New("short block read, store truncated")
)

// Serializer is the narrow surface the cache consumes: a block size
// fixed at construction, ID allocation, and raw asynchronous I/O.
type Serializer interface {
	// BlockSize returns the fixed size of every block in the store.
	BlockSize() int
	// GenBlockID allocates a fresh, never before returned block ID.
	GenBlockID() block.ID
	// RemapOnWrite reports whether writing a block assigns it a fresh
	// ID (true for log-structured, copy-on-write stores).
	RemapOnWrite() bool
	// AsyncRead fills buf with the contents of id and calls done with
	// the outcome. buf must stay untouched until done fires.
	AsyncRead(id block.ID, buf []byte, done func(error))
	// AsyncWrite persists buf as the contents of id and calls done
	// with the outcome. buf must stay unmutated until done fires.
	AsyncWrite(id block.ID, buf []byte, done func(error))
	// Close drains in-flight I/O and releases the store.
	Close() error
}

type opKind uint8

const (
	opRead opKind = iota
	opWrite
)

// request is one queued asynchronous I/O.
type request struct {
	kind opKind
	id   block.ID
	buf  []byte
	done func(error)
}
