// Package writeback batches dirty blocks and drives their asynchronous
// flush to the serializer. It decides when and how many blocks to write;
// the actual write submission and completion bookkeeping stay with the
// cache, reached through the Flusher interface.
package writeback

import (
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sushant-115/mirrordb/core/storage_engine/block"
)

// IDSource allocates the on-disk identity a dirty block will be written
// under. For copy-on-write serializers that is a fresh ID per flush.
type IDSource interface {
	GenBlockID() block.ID
	RemapOnWrite() bool
}

// Flusher issues the asynchronous write for one dirty block. Implemented
// by the cache, which tags the write with an AIO context so its
// completion funnels back through the cache.
type Flusher interface {
	FlushBlock(id block.ID, buf []byte, state any)
}

// Config tunes the flush loop.
type Config struct {
	// FlushInterval is the period between flush passes.
	FlushInterval time.Duration
	// MaxBatch caps the number of blocks flushed per pass.
	MaxBatch int
	// WriteRate caps flushed blocks per second. Zero disables pacing.
	WriteRate rate.Limit
	// Burst is the rate limiter burst size.
	Burst int
}

func (c *Config) applyDefaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 50 * time.Millisecond
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = 64
	}
	if c.Burst <= 0 {
		c.Burst = c.MaxBatch
	}
}

type dirtyBlock struct {
	id    block.ID
	buf   []byte
	state any
}

// Writeback holds the dirty queue. All methods run on the cache's event
// loop; the flush timer reposts itself there, so there is no locking.
type Writeback struct {
	cfg     Config
	logger  *zap.Logger
	ids     IDSource
	flusher Flusher

	post        func(func())
	postDelayed func(time.Duration, func())

	limiter *rate.Limiter

	queue []dirtyBlock

	running bool
}

// New creates a Writeback. post and postDelayed schedule onto the
// cache's event loop.
func New(ids IDSource, flusher Flusher, post func(func()), postDelayed func(time.Duration, func()), cfg Config, logger *zap.Logger) *Writeback {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writeback{
		cfg:         cfg,
		logger:      logger,
		ids:         ids,
		flusher:     flusher,
		post:        post,
		postDelayed: postDelayed,
	}
	if cfg.WriteRate > 0 {
		w.limiter = rate.NewLimiter(cfg.WriteRate, cfg.Burst)
	}
	return w
}

// Start begins the periodic flush loop. Must be called once, before the
// first MarkDirty.
func (w *Writeback) Start() {
	if w.running {
		return
	}
	w.running = true
	w.schedule()
}

// Stop halts the flush loop. Queued dirty blocks stay queued.
func (w *Writeback) Stop() {
	w.running = false
}

func (w *Writeback) schedule() {
	w.postDelayed(w.cfg.FlushInterval, w.tick)
}

func (w *Writeback) tick() {
	if !w.running {
		return
	}
	w.flushPass()
	w.schedule()
}

// Kick runs a flush pass as soon as the loop is free, without waiting
// for the next tick.
func (w *Writeback) Kick() {
	w.post(func() {
		if w.running {
			w.flushPass()
		}
	})
}

func (w *Writeback) flushPass() {
	flushed := 0
	for flushed < w.cfg.MaxBatch && len(w.queue) > 0 {
		if w.limiter != nil && !w.limiter.Allow() {
			break
		}
		d := w.queue[0]
		w.queue = w.queue[1:]
		w.flusher.FlushBlock(d.id, d.buf, d.state)
		flushed++
	}
	if flushed > 0 {
		w.logger.Debug("writeback flush pass",
			zap.Int("flushed", flushed),
			zap.Int("still_dirty", len(w.queue)))
	}
}

// MarkDirty records buf as the pending on-disk contents of id and
// returns the ID the block will be written under, which differs from id
// when the serializer reassigns IDs on write. The block's pin from
// acquire is retained by the pending write and released when the write
// completes.
//
// Dirty entries are not coalesced: every MarkDirty produces one write
// and one completion, keeping pin accounting balanced.
func (w *Writeback) MarkDirty(id block.ID, buf []byte, state any) block.ID {
	newID := id
	if w.ids.RemapOnWrite() {
		newID = w.ids.GenBlockID()
	}
	w.enqueue(newID, buf, state)
	return newID
}

// Requeue puts a block back on the dirty queue after a failed write, so
// a later pass retries it under the same ID.
func (w *Writeback) Requeue(id block.ID, buf []byte, state any) {
	w.enqueue(id, buf, state)
}

func (w *Writeback) enqueue(id block.ID, buf []byte, state any) {
	w.queue = append(w.queue, dirtyBlock{id: id, buf: buf, state: state})
}

// QueueLen returns the number of queued dirty entries.
func (w *Writeback) QueueLen() int {
	return len(w.queue)
}
