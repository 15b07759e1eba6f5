package serializer

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sushant-115/mirrordb/core/storage_engine/block"
)

const testBlockSize = 128

// await turns an async serializer call into a synchronous one for tests.
func await(issue func(done func(error))) error {
	errc := make(chan error, 1)
	issue(func(err error) { errc <- err })
	return <-errc
}

func pattern(b byte) []byte {
	buf := make([]byte, testBlockSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestFileSerializer_WriteReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenFile(path, testBlockSize, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	require.False(t, s.RemapOnWrite())

	id := s.GenBlockID()
	require.Equal(t, block.ID(1), id, "first ID after the header block")

	want := pattern(0x5A)
	require.NoError(t, await(func(done func(error)) { s.AsyncWrite(id, want, done) }))

	got := make([]byte, testBlockSize)
	require.NoError(t, await(func(done func(error)) { s.AsyncRead(id, got, done) }))
	require.Equal(t, want, got)
}

func TestFileSerializer_ReadUnknownBlock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenFile(path, testBlockSize, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	got := make([]byte, testBlockSize)
	err = await(func(done func(error)) { s.AsyncRead(block.ID(99), got, done) })
	require.ErrorIs(t, err, ErrBlockNotFound)
}

func TestFileSerializer_ReopenPersistsNextID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenFile(path, testBlockSize, zap.NewNop())
	require.NoError(t, err)

	first := s.GenBlockID()
	second := s.GenBlockID()
	require.NoError(t, await(func(done func(error)) { s.AsyncWrite(first, pattern(1), done) }))
	require.NoError(t, s.Close())

	s2, err := OpenFile(path, testBlockSize, zap.NewNop())
	require.NoError(t, err)
	defer s2.Close()

	next := s2.GenBlockID()
	require.Greater(t, uint64(next), uint64(second), "IDs must stay unique across reopen")

	got := make([]byte, testBlockSize)
	require.NoError(t, await(func(done func(error)) { s2.AsyncRead(first, got, done) }))
	require.Equal(t, pattern(1), got)
}

func TestFileSerializer_StaleHeaderDoesNotReissueIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenFile(path, testBlockSize, zap.NewNop())
	require.NoError(t, err)

	a := s.GenBlockID()
	b := s.GenBlockID()
	require.NoError(t, await(func(done func(error)) { s.AsyncWrite(a, pattern(0x11), done) }))
	require.NoError(t, await(func(done func(error)) { s.AsyncWrite(b, pattern(0x22), done) }))
	require.NoError(t, s.Close())

	// Wind the persisted NextID back to 1, as if the process crashed
	// before the header caught up with the written blocks.
	f, err := os.OpenFile(path, os.O_RDWR, 0666)
	require.NoError(t, err)
	stale := make([]byte, 8)
	binary.LittleEndian.PutUint64(stale, 1)
	_, err = f.WriteAt(stale, 16)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s2, err := OpenFile(path, testBlockSize, zap.NewNop())
	require.NoError(t, err)
	defer s2.Close()

	next := s2.GenBlockID()
	require.Greater(t, uint64(next), uint64(b), "next ID must be derived past the on-disk blocks")

	got := make([]byte, testBlockSize)
	require.NoError(t, await(func(done func(error)) { s2.AsyncRead(b, got, done) }))
	require.Equal(t, pattern(0x22), got, "existing blocks survive the reopen")
}

func TestFileSerializer_BlockSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenFile(path, testBlockSize, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = OpenFile(path, testBlockSize*2, zap.NewNop())
	require.ErrorIs(t, err, ErrBadBlockSize)
}

func TestFileSerializer_SubmitAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	s, err := OpenFile(path, testBlockSize, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = await(func(done func(error)) { s.AsyncRead(block.ID(1), make([]byte, testBlockSize), done) })
	require.ErrorIs(t, err, ErrClosed)
}

func TestLogSerializer_RemapAndRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.log")
	s, err := OpenLog(path, testBlockSize, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	require.True(t, s.RemapOnWrite())

	id := s.GenBlockID()
	want := pattern(0xC3)
	require.NoError(t, await(func(done func(error)) { s.AsyncWrite(id, want, done) }))

	got := make([]byte, testBlockSize)
	require.NoError(t, await(func(done func(error)) { s.AsyncRead(id, got, done) }))
	require.Equal(t, want, got)

	err = await(func(done func(error)) { s.AsyncRead(block.ID(777), got, done) })
	require.ErrorIs(t, err, ErrBlockNotFound)
}

func TestLogSerializer_RecoveryRebuildsIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.log")
	s, err := OpenLog(path, testBlockSize, zap.NewNop())
	require.NoError(t, err)

	a := s.GenBlockID()
	b := s.GenBlockID()
	require.NoError(t, await(func(done func(error)) { s.AsyncWrite(a, pattern(0x11), done) }))
	require.NoError(t, await(func(done func(error)) { s.AsyncWrite(b, pattern(0x22), done) }))
	require.NoError(t, s.Close())

	s2, err := OpenLog(path, testBlockSize, zap.NewNop())
	require.NoError(t, err)
	defer s2.Close()

	got := make([]byte, testBlockSize)
	require.NoError(t, await(func(done func(error)) { s2.AsyncRead(a, got, done) }))
	require.Equal(t, pattern(0x11), got)
	require.NoError(t, await(func(done func(error)) { s2.AsyncRead(b, got, done) }))
	require.Equal(t, pattern(0x22), got)

	next := s2.GenBlockID()
	require.Greater(t, uint64(next), uint64(b), "recovered next ID must stay unique")
}

func TestLogSerializer_CompletionOrderPerSubmission(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.log")
	s, err := OpenLog(path, testBlockSize, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	var order []int
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		id := s.GenBlockID()
		last := i == 7
		s.AsyncWrite(id, pattern(byte(i)), func(err error) {
			require.NoError(t, err)
			order = append(order, i)
			if last {
				close(done)
			}
		})
	}
	<-done

	require.Len(t, order, 8)
	for i, v := range order {
		require.Equal(t, i, v, "completions must arrive in submission order")
	}
}
