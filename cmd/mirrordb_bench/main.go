// mirrordb_bench exercises the buffer cache against a real on-disk
// serializer: it allocates a working set, dirties and flushes it, then
// runs a randomized read workload and reports cache statistics.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"

	buffercache "github.com/sushant-115/mirrordb/core/buffer_cache"
	"github.com/sushant-115/mirrordb/core/buffer_cache/writeback"
	eventloop "github.com/sushant-115/mirrordb/core/event_loop"
	"github.com/sushant-115/mirrordb/core/storage_engine/block"
	"github.com/sushant-115/mirrordb/core/storage_engine/serializer"
	internaltelemetry "github.com/sushant-115/mirrordb/internal/telemetry"
	"github.com/sushant-115/mirrordb/pkg/logger"
	"github.com/sushant-115/mirrordb/pkg/telemetry"
)

var (
	dataFile      = flag.String("data_file", "data/mirrordb.blocks", "Path to the block file")
	serializerFmt = flag.String("serializer", "file", "Serializer format: file (in-place) or log (append-only)")
	blockSize     = flag.Int("block_size", 4096, "Block size in bytes")
	cacheBlocks   = flag.Int("cache_blocks", 256, "Resident cache budget in blocks")
	workingSet    = flag.Int("working_set", 1024, "Number of blocks to allocate")
	readOps       = flag.Int("read_ops", 10000, "Number of random acquires to run")
	flushInterval = flag.Duration("flush_interval", 50*time.Millisecond, "Writeback flush interval")
	logLevel      = flag.String("log_level", "info", "Log level")
	metricsPort   = flag.Int("metrics_port", 0, "Prometheus /metrics port (0 disables telemetry)")
)

func main() {
	flag.Parse()

	zlogger, err := logger.New(logger.Config{Level: *logLevel, Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer zlogger.Sync()

	tel, telShutdown, err := telemetry.New(telemetry.Config{
		Enabled:        *metricsPort > 0,
		ServiceName:    "mirrordb_bench",
		PrometheusPort: *metricsPort,
	})
	if err != nil {
		zlogger.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer telShutdown(context.Background())

	var metrics *internaltelemetry.CacheMetrics
	if *metricsPort > 0 {
		metrics, err = internaltelemetry.NewCacheMetrics(tel.Meter)
		if err != nil {
			zlogger.Fatal("failed to register cache metrics", zap.Error(err))
		}
	}

	if err := os.MkdirAll("data", 0755); err != nil {
		zlogger.Fatal("failed to create data directory", zap.Error(err))
	}

	ser, err := openSerializer(zlogger)
	if err != nil {
		zlogger.Fatal("failed to open serializer", zap.Error(err))
	}
	defer ser.Close()

	queue := eventloop.New("bench", zlogger)
	queue.Run()
	defer queue.Stop()

	cache := buffercache.New(buffercache.Config{
		MaxSize:   int64(*cacheBlocks) * int64(*blockSize),
		Writeback: writeback.Config{FlushInterval: *flushInterval},
	}, ser, queue, zlogger, metrics)

	done := make(chan buffercache.Stats, 1)
	queue.Post(func() {
		cache.Start()
		b := &bench{cache: cache, queue: queue, logger: zlogger, done: done}
		b.populate()
	})

	stats := <-done
	queue.Post(cache.Close)

	zlogger.Info("benchmark complete",
		zap.Uint64("hits", stats.Hits),
		zap.Uint64("misses", stats.Misses),
		zap.Uint64("evictions", stats.Evictions),
		zap.Uint64("flushed", stats.Flushed),
		zap.Uint64("write_retries", stats.WriteRetries),
		zap.Uint64("read_errors", stats.ReadErrors),
		zap.Int("resident_blocks", stats.ResidentBlocks))
	if total := stats.Hits + stats.Misses; total > 0 {
		zlogger.Info("hit ratio", zap.Float64("ratio", float64(stats.Hits)/float64(total)))
	}
}

func openSerializer(zlogger *zap.Logger) (serializer.Serializer, error) {
	switch *serializerFmt {
	case "file":
		return serializer.OpenFile(*dataFile, *blockSize, zlogger)
	case "log":
		return serializer.OpenLog(*dataFile, *blockSize, zlogger)
	default:
		return nil, fmt.Errorf("unknown serializer format %q", *serializerFmt)
	}
}

// bench drives the workload. Every method runs on the cache's event
// loop, so plain fields are safe.
type bench struct {
	cache  *buffercache.Cache
	queue  *eventloop.Queue
	logger *zap.Logger
	done   chan buffercache.Stats

	ids    []block.ID
	expect map[block.ID]uint64
	rng    *rand.Rand
	left   int
}

// populate allocates the working set in batches, stamping each block
// and releasing it dirty so writeback picks it up. Batches quiesce
// between each other so dirty blocks drain before the next burst of
// allocations needs their buffers back.
func (b *bench) populate() {
	b.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	b.ids = make([]block.ID, 0, *workingSet)
	b.expect = make(map[block.ID]uint64, *workingSet)
	b.allocateSome()
}

func (b *bench) allocateSome() {
	tx := b.cache.BeginTransaction()
	defer b.cache.EndTransaction(tx)

	const batch = 64
	for i := 0; i < batch && len(b.ids) < *workingSet; i++ {
		id, buf, err := b.cache.Allocate(tx)
		if err != nil {
			b.logger.Fatal("allocate failed", zap.Error(err))
		}
		stamp(buf, id)
		// A copy-on-write serializer reassigns the ID on flush; the
		// stamped contents stay those of the original allocation.
		newID, err := b.cache.Release(tx, id, buf, true, nil)
		if err != nil {
			b.logger.Fatal("dirty release failed", zap.Error(err))
		}
		b.ids = append(b.ids, newID)
		b.expect[newID] = uint64(id)
	}

	if len(b.ids) < *workingSet {
		b.awaitQuiesce(b.allocateSome)
		return
	}
	b.logger.Info("working set allocated", zap.Int("blocks", len(b.ids)))
	b.awaitQuiesce(func() {
		b.left = *readOps
		b.readSome()
	})
}

// awaitQuiesce polls until all dirty blocks and in-flight I/O settle.
func (b *bench) awaitQuiesce(then func()) {
	if b.cache.Quiesced() {
		then()
		return
	}
	b.cache.Flush()
	b.queue.PostDelayed(10*time.Millisecond, func() { b.awaitQuiesce(then) })
}

// readSome runs a batch of random acquires, reposting itself until the
// op budget is spent. Misses complete asynchronously; the released pin
// keeps the accounting balanced either way.
func (b *bench) readSome() {
	tx := b.cache.BeginTransaction()
	defer b.cache.EndTransaction(tx)

	const batch = 128
	for i := 0; i < batch && b.left > 0; i++ {
		b.left--
		id := b.ids[b.rng.Intn(len(b.ids))]
		buf, err := b.cache.Acquire(tx, id, id, b.onRead)
		if err != nil {
			b.logger.Fatal("acquire failed", zap.Error(err))
		}
		if buf != nil {
			b.verifyAndRelease(tx, id, buf)
		}
	}

	if b.left > 0 {
		b.queue.Post(b.readSome)
		return
	}
	b.awaitQuiesce(func() {
		b.done <- b.cache.Stats()
	})
}

// onRead handles a deferred acquire completion.
func (b *bench) onRead(buf []byte, state any, err error) {
	id := state.(block.ID)
	if err != nil {
		b.logger.Fatal("read failed", zap.Uint64("block_id", uint64(id)), zap.Error(err))
	}
	tx := b.cache.BeginTransaction()
	defer b.cache.EndTransaction(tx)
	b.verifyAndRelease(tx, id, buf)
}

func (b *bench) verifyAndRelease(tx *buffercache.Transaction, id block.ID, buf []byte) {
	if got := unstamp(buf); got != b.expect[id] {
		b.logger.Fatal("block content mismatch",
			zap.Uint64("block_id", uint64(id)),
			zap.Uint64("want", b.expect[id]), zap.Uint64("got", got))
	}
	if _, err := b.cache.Release(tx, id, buf, false, nil); err != nil {
		b.logger.Fatal("release failed", zap.Error(err))
	}
}

func stamp(buf []byte, id block.ID) {
	v := uint64(id)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func unstamp(buf []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return v
}
