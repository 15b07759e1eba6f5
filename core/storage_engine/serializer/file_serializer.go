package serializer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sushant-115/mirrordb/core/storage_engine/block"
)

const (
	fileMagic   uint32 = 0x4D444246 // "MDBF"
	fileVersion uint32 = 1

	// Request backlog before AsyncRead/AsyncWrite block the caller.
	ioBacklog = 256
)

// fileHeader occupies block 0 of the store file.
// All fields are fixed size so binary.Read/Write stay consistent.
type fileHeader struct {
	Magic     uint32
	Version   uint32
	BlockSize uint32
	_         uint32
	NextID    uint64
}

const fileHeaderSize = 24

// FileSerializer is an in-place block store: block N lives at offset
// N * blockSize and keeps its ID across rewrites.
type FileSerializer struct {
	path      string
	file      *os.File
	blockSize int
	logger    *zap.Logger

	nextID atomic.Uint64

	reqs chan request
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// OpenFile opens the store at path, creating it if absent. blockSize
// must match an existing file's header.
func OpenFile(path string, blockSize int, logger *zap.Logger) (*FileSerializer, error) {
	if blockSize < fileHeaderSize {
		return nil, fmt.Errorf("block size %d smaller than header size %d", blockSize, fileHeaderSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &FileSerializer{
		path:      path,
		blockSize: blockSize,
		logger:    logger,
		reqs:      make(chan request, ioBacklog),
	}

	_, statErr := os.Stat(path)
	switch {
	case os.IsNotExist(statErr):
		file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
		if err != nil {
			return nil, fmt.Errorf("creating store file %s: %w", path, err)
		}
		s.file = file
		// Block 0 holds the header, so IDs start at 1.
		s.nextID.Store(1)
		if err := s.writeHeader(); err != nil {
			file.Close()
			_ = os.Remove(path)
			return nil, fmt.Errorf("writing initial store header: %w", err)
		}
	case statErr == nil:
		file, err := os.OpenFile(path, os.O_RDWR, 0666)
		if err != nil {
			return nil, fmt.Errorf("opening store file %s: %w", path, err)
		}
		s.file = file
		if err := s.readHeader(); err != nil {
			file.Close()
			return nil, err
		}
		if err := s.reconcileNextID(); err != nil {
			file.Close()
			return nil, err
		}
	default:
		return nil, fmt.Errorf("stat store file %s: %w", path, statErr)
	}

	s.wg.Add(1)
	go s.ioLoop()
	s.logger.Info("file serializer opened",
		zap.String("path", path),
		zap.Int("block_size", blockSize),
		zap.Uint64("next_block_id", s.nextID.Load()))
	return s, nil
}

func (s *FileSerializer) writeHeader() error {
	hdr := fileHeader{
		Magic:     fileMagic,
		Version:   fileVersion,
		BlockSize: uint32(s.blockSize),
		NextID:    s.nextID.Load(),
	}
	buf := bytes.NewBuffer(make([]byte, 0, s.blockSize))
	if err := binary.Write(buf, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	page := make([]byte, s.blockSize)
	copy(page, buf.Bytes())
	_, err := s.file.WriteAt(page, 0)
	return err
}

func (s *FileSerializer) readHeader() error {
	page := make([]byte, s.blockSize)
	if _, err := s.file.ReadAt(page, 0); err != nil {
		return fmt.Errorf("reading store header: %w", err)
	}
	var hdr fileHeader
	if err := binary.Read(bytes.NewReader(page), binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("decoding store header: %w", err)
	}
	if hdr.Magic != fileMagic {
		return fmt.Errorf("%w: got 0x%x", ErrBadMagic, hdr.Magic)
	}
	if hdr.BlockSize != uint32(s.blockSize) {
		return fmt.Errorf("%w: file has %d, configured %d", ErrBadBlockSize, hdr.BlockSize, s.blockSize)
	}
	s.nextID.Store(hdr.NextID)
	return nil
}

// reconcileNextID raises NextID past the highest block present in the
// file. The header is only persisted on clean close, so after a crash
// it can lag behind the blocks already written; handing those IDs out
// again would silently overwrite live blocks.
func (s *FileSerializer) reconcileNextID() error {
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("stat store file %s: %w", s.path, err)
	}
	highest := (info.Size() + int64(s.blockSize) - 1) / int64(s.blockSize) - 1
	if highest < 0 {
		highest = 0
	}
	if next := uint64(highest) + 1; next > s.nextID.Load() {
		s.logger.Warn("store header lags file contents, advancing next block id",
			zap.String("path", s.path),
			zap.Uint64("header_next_id", s.nextID.Load()),
			zap.Uint64("derived_next_id", next))
		s.nextID.Store(next)
	}
	return nil
}

func (s *FileSerializer) ioLoop() {
	defer s.wg.Done()
	for req := range s.reqs {
		off := int64(req.id) * int64(s.blockSize)
		var err error
		switch req.kind {
		case opRead:
			var n int
			n, err = s.file.ReadAt(req.buf, off)
			if err != nil && n == 0 {
				err = fmt.Errorf("%w: block %d: %v", ErrBlockNotFound, req.id, err)
			} else if err != nil {
				err = fmt.Errorf("%w: block %d: %v", ErrShortBlock, req.id, err)
			}
		case opWrite:
			_, err = s.file.WriteAt(req.buf, off)
			if err != nil {
				err = fmt.Errorf("writing block %d: %w", req.id, err)
			}
		}
		req.done(err)
	}
}

func (s *FileSerializer) BlockSize() int {
	return s.blockSize
}

func (s *FileSerializer) GenBlockID() block.ID {
	return block.ID(s.nextID.Add(1) - 1)
}

// RemapOnWrite is false: this store writes blocks in place.
func (s *FileSerializer) RemapOnWrite() bool {
	return false
}

func (s *FileSerializer) AsyncRead(id block.ID, buf []byte, done func(error)) {
	s.submit(request{kind: opRead, id: id, buf: buf, done: done})
}

func (s *FileSerializer) AsyncWrite(id block.ID, buf []byte, done func(error)) {
	s.submit(request{kind: opWrite, id: id, buf: buf, done: done})
}

func (s *FileSerializer) submit(req request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		req.done(ErrClosed)
		return
	}
	s.reqs <- req
	s.mu.Unlock()
}

// Close drains in-flight I/O, persists the header and closes the file.
func (s *FileSerializer) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.reqs)
	s.mu.Unlock()

	s.wg.Wait()
	if err := s.writeHeader(); err != nil {
		s.file.Close()
		return fmt.Errorf("persisting store header: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		s.file.Close()
		return fmt.Errorf("syncing store file: %w", err)
	}
	return s.file.Close()
}
