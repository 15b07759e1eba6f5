// Package buffercache mediates all access to fixed-size disk blocks. It
// does no I/O or bookkeeping of its own beyond composing the cache's
// policies (buffer allocation, page lookup, page replacement, writeback)
// and the serializer into one coherent transactional surface, and owning
// the asynchronous completion funnel that keeps their state consistent.
//
// A Cache instance is affine to one event loop: every public operation
// and every I/O completion runs on that loop, which is why none of the
// composed state carries locks. Debug builds (-tags debug) assert the
// affinity on every entry point.
package buffercache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	bufferalloc "github.com/sushant-115/mirrordb/core/buffer_cache/buffer_alloc"
	pagemap "github.com/sushant-115/mirrordb/core/buffer_cache/page_map"
	pagerepl "github.com/sushant-115/mirrordb/core/buffer_cache/page_repl"
	"github.com/sushant-115/mirrordb/core/buffer_cache/writeback"
	eventloop "github.com/sushant-115/mirrordb/core/event_loop"
	"github.com/sushant-115/mirrordb/core/storage_engine/block"
	"github.com/sushant-115/mirrordb/core/storage_engine/serializer"
	internaltelemetry "github.com/sushant-115/mirrordb/internal/telemetry"
)

// AcquireFunc delivers a deferred acquire: the now-resident, pinned
// buffer (or the read error) together with the caller state passed to
// Acquire. It always runs on the cache's event loop.
type AcquireFunc func(buf []byte, state any, err error)

// Config tunes one Cache instance. The block size comes from the
// serializer.
type Config struct {
	// MaxSize is the resident-buffer budget in bytes; exceeding it
	// triggers eviction of cold, clean, unpinned blocks.
	MaxSize int64
	// AllocBudget caps live buffers (resident plus in-flight). Zero
	// derives a default from MaxSize.
	AllocBudget int
	// Writeback configures the dirty-block flush loop.
	Writeback writeback.Config
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits           uint64
	Misses         uint64
	Evictions      uint64
	Flushed        uint64
	WriteRetries   uint64
	ReadErrors     uint64
	ResidentBlocks int
	ResidentBytes  int64
	InflightReads  int
	InflightWrites int
	DirtyQueued    int
}

// pendingRead is the registry entry for a block whose read is in
// flight. Acquires arriving before the read completes subscribe here
// instead of issuing a duplicate read.
type pendingRead struct {
	buf     []byte
	waiters []pendingWaiter
}

type pendingWaiter struct {
	state any
	done  AcquireFunc
}

// Cache composes the buffer cache's policies behind the transactional
// allocate/acquire/release surface.
type Cache struct {
	cfg       Config
	blockSize int
	logger    *zap.Logger
	metrics   *internaltelemetry.CacheMetrics

	queue *eventloop.Queue
	ser   serializer.Serializer

	alloc *bufferalloc.Allocator
	pages *pagemap.Map
	repl  *pagerepl.LRU
	wb    *writeback.Writeback

	aio     aioArena
	pending map[block.ID]*pendingRead

	// dirty counts outstanding write obligations per canonical block
	// ID; forward chains superseded IDs to their current canonical ID
	// so completions issued under an old ID settle against the right
	// block.
	dirty   map[block.ID]int
	forward map[block.ID]block.ID

	residentBytes  int64
	inflightWrites int
	stats          Stats
	closed         bool
}

// New composes a Cache over ser, affine to queue. metrics may be nil.
func New(cfg Config, ser serializer.Serializer, queue *eventloop.Queue, logger *zap.Logger, metrics *internaltelemetry.CacheMetrics) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	blockSize := ser.BlockSize()
	if cfg.AllocBudget <= 0 {
		maxBlocks := int(cfg.MaxSize / int64(blockSize))
		cfg.AllocBudget = 2 * maxBlocks
		if cfg.AllocBudget < maxBlocks+16 {
			cfg.AllocBudget = maxBlocks + 16
		}
	}

	c := &Cache{
		cfg:       cfg,
		blockSize: blockSize,
		logger:    logger,
		metrics:   metrics,
		queue:     queue,
		ser:       ser,
		alloc:     bufferalloc.New(blockSize, cfg.AllocBudget),
		pages:     pagemap.New(),
		repl:      pagerepl.New(logger),
		pending:   make(map[block.ID]*pendingRead),
		dirty:     make(map[block.ID]int),
		forward:   make(map[block.ID]block.ID),
	}
	postDelayed := func(d time.Duration, fn func()) {
		queue.PostDelayed(d, fn)
	}
	c.wb = writeback.New(ser, c, queue.Post, postDelayed, cfg.Writeback, logger)
	return c
}

// Start begins the writeback flush loop. Must be called once before any
// operation that can dirty a block.
func (c *Cache) Start() {
	c.wb.Start()
	c.logger.Info("buffer cache started",
		zap.Int("block_size", c.blockSize),
		zap.Int64("max_size", c.cfg.MaxSize))
}

// BeginTransaction binds a transaction to the cache's event loop.
func (c *Cache) BeginTransaction() *Transaction {
	tx := &Transaction{id: uuid.New(), queue: c.queue}
	c.assertTx(tx, "begin_transaction")
	return tx
}

// EndTransaction checks the transaction against the current execution
// context. A mismatch is a programming error, fatal in debug builds.
func (c *Cache) EndTransaction(tx *Transaction) {
	c.assertTx(tx, "end_transaction")
}

// Allocate obtains a fresh block: a new ID from the serializer and a
// zeroed, resident, pinned buffer. The caller must eventually Release
// it.
func (c *Cache) Allocate(tx *Transaction) (block.ID, []byte, error) {
	c.assertTx(tx, "allocate")
	if c.closed {
		return block.InvalidID, nil, ErrCacheClosed
	}

	buf, err := c.alloc.Malloc()
	if err != nil {
		return block.InvalidID, nil, fmt.Errorf("%w: %v", ErrBufferPoolFull, err)
	}
	id := c.ser.GenBlockID()
	c.pages.Set(id, buf)
	c.repl.Insert(id)
	c.repl.Pin(id)
	c.addResident(int64(c.blockSize))
	c.maybeEvict()

	c.logger.Debug("allocated block",
		zap.Uint64("block_id", uint64(id)),
		zap.String("txn", tx.id.String()))
	return id, buf, nil
}

// Acquire returns the block's buffer if it is resident, pinning it. On
// a miss it returns (nil, nil), issues at most one read per block, and
// delivers the pinned buffer later through done on the cache's event
// loop; done may be nil only when the caller knows the block is
// resident, and a miss without it fails with ErrNoCompletion. A second
// Acquire for a block whose read is still in flight subscribes to that
// read rather than issuing another.
func (c *Cache) Acquire(tx *Transaction, id block.ID, state any, done AcquireFunc) ([]byte, error) {
	c.assertTx(tx, "acquire")
	if c.closed {
		return nil, ErrCacheClosed
	}

	if buf, ok := c.pages.Find(id); ok {
		c.repl.Pin(id)
		c.repl.Touch(id)
		c.stats.Hits++
		c.countHit()
		return buf, nil
	}

	if done == nil {
		return nil, fmt.Errorf("%w: block %d", ErrNoCompletion, id)
	}

	if p, ok := c.pending[id]; ok {
		p.waiters = append(p.waiters, pendingWaiter{state: state, done: done})
		c.stats.Misses++
		c.countMiss()
		return nil, nil
	}

	buf, err := c.alloc.Malloc()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBufferPoolFull, err)
	}
	c.pending[id] = &pendingRead{
		buf:     buf,
		waiters: []pendingWaiter{{state: state, done: done}},
	}
	c.stats.Misses++
	c.countMiss()
	c.gaugeInflightReads(1)

	h := c.aio.create(aioRead, id, state)
	c.ser.AsyncRead(id, buf, func(ioErr error) {
		c.queue.Post(func() { c.aioComplete(h, buf, false, ioErr) })
	})
	return nil, nil
}

// Release gives back a block obtained by Allocate or Acquire. A clean
// release unpins immediately. A dirty release hands the block to
// writeback, which may assign it a new ID (copy-on-write serializers);
// the block stays pinned until the write completes, and the caller must
// refer to the block by the returned ID from now on.
func (c *Cache) Release(tx *Transaction, id block.ID, buf []byte, dirty bool, state any) (block.ID, error) {
	c.assertTx(tx, "release")
	if c.closed {
		return id, ErrCacheClosed
	}
	if _, ok := c.pages.Find(id); !ok {
		return id, fmt.Errorf("%w: release of block %d", ErrNotResident, id)
	}

	if !dirty {
		if err := c.repl.Unpin(id); err != nil {
			return id, fmt.Errorf("%w: %v", ErrNotPinned, err)
		}
		c.maybeEvict()
		return id, nil
	}

	newID := c.wb.MarkDirty(id, buf, state)
	if newID != id {
		if !c.pages.Rekey(id, newID) || !c.repl.Rekey(id, newID) {
			c.logger.Error("rekey of dirty block failed",
				zap.Uint64("old_block_id", uint64(id)),
				zap.Uint64("new_block_id", uint64(newID)))
			return id, fmt.Errorf("%w: rekey %d -> %d", ErrNotResident, id, newID)
		}
		if n := c.dirty[id]; n > 0 {
			c.dirty[newID] += n
			delete(c.dirty, id)
		}
		c.forward[id] = newID
	}
	c.dirty[newID]++
	c.repl.SetDirty(newID, true)

	c.logger.Debug("released dirty block",
		zap.Uint64("block_id", uint64(id)),
		zap.Uint64("write_block_id", uint64(newID)),
		zap.String("txn", tx.id.String()))
	return newID, nil
}

// FlushBlock implements writeback.Flusher: it tags the write with an
// AIO context and issues it, so the completion funnels back through
// aioComplete.
func (c *Cache) FlushBlock(id block.ID, buf []byte, state any) {
	h := c.aio.create(aioWrite, id, state)
	c.inflightWrites++
	c.gaugeInflightWrites(1)
	c.ser.AsyncWrite(id, buf, func(ioErr error) {
		c.queue.Post(func() { c.aioComplete(h, buf, true, ioErr) })
	})
}

// aioComplete is the single funnel through which every asynchronous
// read or write completion re-enters cache state. It always runs on the
// cache's event loop.
func (c *Cache) aioComplete(h AIOHandle, buf []byte, written bool, ioErr error) {
	c.queue.AssertOn("aio_complete")

	rec, err := c.aio.complete(h)
	if err != nil {
		c.logger.Error("dropping completion for stale aio context",
			zap.Bool("written", written), zap.Error(err))
		c.assertCompletionContract(err)
		return
	}

	if written {
		c.completeWrite(rec, buf, ioErr)
	} else {
		c.completeRead(rec, ioErr)
	}
}

func (c *Cache) completeWrite(rec aioContext, buf []byte, ioErr error) {
	c.inflightWrites--
	c.gaugeInflightWrites(-1)
	canon := c.resolve(rec.blockID)

	if ioErr != nil {
		// The block stays pinned and dirty; a later flush pass
		// retries it under its current canonical ID.
		c.stats.WriteRetries++
		c.countWriteRetry()
		c.logger.Warn("writeback failed, requeueing block",
			zap.Uint64("block_id", uint64(canon)), zap.Error(ioErr))
		c.wb.Requeue(canon, buf, rec.userState)
		return
	}

	// Release the pin retained since the dirty release.
	if err := c.repl.Unpin(canon); err != nil {
		c.logger.Error("unpin after writeback failed", zap.Error(err))
	}
	if n := c.dirty[canon]; n > 1 {
		c.dirty[canon] = n - 1
	} else {
		delete(c.dirty, canon)
		c.repl.SetDirty(canon, false)
		c.purgeForward(canon)
	}
	c.stats.Flushed++
	c.countFlushed()
	c.maybeEvict()
}

func (c *Cache) completeRead(rec aioContext, ioErr error) {
	p, ok := c.pending[rec.blockID]
	if !ok {
		c.logger.Error("read completion for block with no pending registration",
			zap.Uint64("block_id", uint64(rec.blockID)))
		return
	}
	delete(c.pending, rec.blockID)
	c.gaugeInflightReads(-1)

	if ioErr != nil {
		c.alloc.Free(p.buf)
		c.stats.ReadErrors++
		c.countReadError()
		c.logger.Error("read of block failed",
			zap.Uint64("block_id", uint64(rec.blockID)), zap.Error(ioErr))
		err := fmt.Errorf("%w: block %d: %v", ErrReadFailed, rec.blockID, ioErr)
		for _, w := range p.waiters {
			w.done(nil, w.state, err)
		}
		return
	}

	if !c.pages.Set(rec.blockID, p.buf) {
		c.logger.Error("read completion for an already resident block",
			zap.Uint64("block_id", uint64(rec.blockID)))
	}
	c.repl.Insert(rec.blockID)
	for range p.waiters {
		c.repl.Pin(rec.blockID)
	}
	c.addResident(int64(c.blockSize))
	c.maybeEvict()

	for _, w := range p.waiters {
		w.done(p.buf, w.state, nil)
	}
}

// resolve follows the rekey chain from id to its current canonical ID.
func (c *Cache) resolve(id block.ID) block.ID {
	for {
		next, ok := c.forward[id]
		if !ok {
			return id
		}
		id = next
	}
}

// purgeForward drops forwarding entries that now settle on canon; once
// the block's last write obligation is gone nothing can complete under
// a superseded ID.
func (c *Cache) purgeForward(canon block.ID) {
	for old := range c.forward {
		if c.resolve(old) == canon {
			delete(c.forward, old)
		}
	}
}

// maybeEvict frees cold, clean, unpinned blocks until the resident set
// fits the configured budget again.
func (c *Cache) maybeEvict() {
	for c.residentBytes > c.cfg.MaxSize {
		victim, ok := c.repl.Victim()
		if !ok {
			c.logger.Warn("cache over budget but every block is pinned or dirty",
				zap.Int64("resident_bytes", c.residentBytes),
				zap.Int64("max_size", c.cfg.MaxSize))
			return
		}
		buf, ok := c.pages.Find(victim)
		if !ok {
			c.logger.Error("eviction victim missing from page map",
				zap.Uint64("block_id", uint64(victim)))
			c.repl.Remove(victim)
			continue
		}
		c.pages.Delete(victim)
		c.repl.Remove(victim)
		c.alloc.Free(buf)
		c.addResident(-int64(c.blockSize))
		c.stats.Evictions++
		c.countEviction()
		c.logger.Debug("evicted block", zap.Uint64("block_id", uint64(victim)))
	}
}

// Flush triggers an immediate writeback pass without waiting for the
// next tick.
func (c *Cache) Flush() {
	c.wb.Kick()
}

// Quiesced reports whether no reads, writes, or dirty blocks are
// outstanding. Must be called on the cache's event loop.
func (c *Cache) Quiesced() bool {
	return len(c.pending) == 0 && c.inflightWrites == 0 && c.wb.QueueLen() == 0 && len(c.dirty) == 0
}

// Stats returns a snapshot of cache counters. Must be called on the
// cache's event loop.
func (c *Cache) Stats() Stats {
	s := c.stats
	s.ResidentBlocks = c.pages.Len()
	s.ResidentBytes = c.residentBytes
	s.InflightReads = len(c.pending)
	s.InflightWrites = c.inflightWrites
	s.DirtyQueued = c.wb.QueueLen()
	return s
}

// Close stops the writeback loop and refuses further operations. It
// does not close the serializer, which the cache holds by reference.
func (c *Cache) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.wb.Stop()
	if !c.Quiesced() {
		c.logger.Warn("buffer cache closed with outstanding work",
			zap.Int("pending_reads", len(c.pending)),
			zap.Int("inflight_writes", c.inflightWrites),
			zap.Int("dirty_queued", c.wb.QueueLen()))
	}
}

func (c *Cache) addResident(delta int64) {
	c.residentBytes += delta
	c.gaugeResident(delta)
}
