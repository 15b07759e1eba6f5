package serializer

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sushant-115/mirrordb/core/storage_engine/block"
)

// logRecordHeaderSize is the per-record prefix: the 8-byte block ID the
// payload belongs to.
const logRecordHeaderSize = 8

// LogSerializer is an append-only, copy-on-write block store. Every
// write appends a fresh record at the tail, so a dirty block gets a new
// ID on each writeback (RemapOnWrite is true). An in-memory index maps
// live IDs to file offsets and is rebuilt by scanning the log on open.
//
// The index and tail offset are owned by the I/O goroutine; only
// GenBlockID is safe from other goroutines.
type LogSerializer struct {
	path      string
	file      *os.File
	blockSize int
	logger    *zap.Logger

	nextID atomic.Uint64

	index map[block.ID]int64 // block ID -> payload offset
	tail  int64

	reqs chan request
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// OpenLog opens the log-structured store at path, creating it if
// absent. Existing logs are scanned to rebuild the live-block index.
func OpenLog(path string, blockSize int, logger *zap.Logger) (*LogSerializer, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("opening log store %s: %w", path, err)
	}

	s := &LogSerializer{
		path:      path,
		file:      file,
		blockSize: blockSize,
		logger:    logger,
		index:     make(map[block.ID]int64),
		reqs:      make(chan request, ioBacklog),
	}
	s.nextID.Store(1)

	if err := s.recover(); err != nil {
		file.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.ioLoop()
	s.logger.Info("log serializer opened",
		zap.String("path", path),
		zap.Int("block_size", blockSize),
		zap.Int("live_blocks", len(s.index)),
		zap.Uint64("next_block_id", s.nextID.Load()))
	return s, nil
}

// recover scans the log from the start, indexing every complete record.
// A torn record at the tail is discarded.
func (s *LogSerializer) recover() error {
	hdr := make([]byte, logRecordHeaderSize)
	recordSize := int64(logRecordHeaderSize + s.blockSize)
	var off int64
	for {
		if _, err := s.file.ReadAt(hdr, off); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return fmt.Errorf("scanning log store: %w", err)
		}
		id := block.ID(binary.LittleEndian.Uint64(hdr))

		end := off + recordSize
		size, err := s.file.Seek(0, io.SeekEnd)
		if err != nil {
			return fmt.Errorf("sizing log store: %w", err)
		}
		if end > size {
			s.logger.Warn("discarding torn record at log tail",
				zap.Int64("offset", off), zap.Uint64("block_id", uint64(id)))
			if err := s.file.Truncate(off); err != nil {
				return fmt.Errorf("truncating torn log tail: %w", err)
			}
			break
		}

		s.index[id] = off + logRecordHeaderSize
		if uint64(id) >= s.nextID.Load() {
			s.nextID.Store(uint64(id) + 1)
		}
		off = end
	}
	s.tail = off
	return nil
}

func (s *LogSerializer) ioLoop() {
	defer s.wg.Done()
	hdr := make([]byte, logRecordHeaderSize)
	for req := range s.reqs {
		var err error
		switch req.kind {
		case opRead:
			off, ok := s.index[req.id]
			if !ok {
				err = fmt.Errorf("%w: block %d", ErrBlockNotFound, req.id)
				break
			}
			var n int
			if n, err = s.file.ReadAt(req.buf, off); err != nil {
				err = fmt.Errorf("%w: block %d read %d of %d bytes: %v",
					ErrShortBlock, req.id, n, s.blockSize, err)
			}
		case opWrite:
			binary.LittleEndian.PutUint64(hdr, uint64(req.id))
			if _, err = s.file.WriteAt(hdr, s.tail); err != nil {
				err = fmt.Errorf("appending record header for block %d: %w", req.id, err)
				break
			}
			if _, err = s.file.WriteAt(req.buf, s.tail+logRecordHeaderSize); err != nil {
				err = fmt.Errorf("appending block %d: %w", req.id, err)
				break
			}
			s.index[req.id] = s.tail + logRecordHeaderSize
			s.tail += int64(logRecordHeaderSize + s.blockSize)
		}
		req.done(err)
	}
}

func (s *LogSerializer) BlockSize() int {
	return s.blockSize
}

func (s *LogSerializer) GenBlockID() block.ID {
	return block.ID(s.nextID.Add(1) - 1)
}

// RemapOnWrite is true: each writeback appends under a fresh ID.
func (s *LogSerializer) RemapOnWrite() bool {
	return true
}

func (s *LogSerializer) AsyncRead(id block.ID, buf []byte, done func(error)) {
	s.submit(request{kind: opRead, id: id, buf: buf, done: done})
}

func (s *LogSerializer) AsyncWrite(id block.ID, buf []byte, done func(error)) {
	s.submit(request{kind: opWrite, id: id, buf: buf, done: done})
}

func (s *LogSerializer) submit(req request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		req.done(ErrClosed)
		return
	}
	s.reqs <- req
	s.mu.Unlock()
}

// Close drains in-flight I/O and closes the log file.
func (s *LogSerializer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.reqs)
	s.mu.Unlock()

	s.wg.Wait()
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("syncing log store: %w", err)
	}
	return s.file.Close()
}
