package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
)

// CacheMetrics holds the metric instruments for the buffer cache.
type CacheMetrics struct {
	HitsCounter          metric.Int64Counter
	MissesCounter        metric.Int64Counter
	EvictionsCounter     metric.Int64Counter
	FlushedCounter       metric.Int64Counter
	WriteRetriesCounter  metric.Int64Counter
	ReadErrorsCounter    metric.Int64Counter
	ResidentBytesUpDown  metric.Int64UpDownCounter
	InflightReadsUpDown  metric.Int64UpDownCounter
	InflightWritesUpDown metric.Int64UpDownCounter
}

// NewCacheMetrics creates and registers all the metrics for the buffer cache.
func NewCacheMetrics(meter metric.Meter) (*CacheMetrics, error) {
	hits, err := meter.Int64Counter(
		"mirrordb.buffer_cache.hits_total",
		metric.WithDescription("Acquires satisfied from the page map."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	misses, err := meter.Int64Counter(
		"mirrordb.buffer_cache.misses_total",
		metric.WithDescription("Acquires that needed a serializer read."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter(
		"mirrordb.buffer_cache.evictions_total",
		metric.WithDescription("Clean blocks evicted to reclaim memory."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	flushed, err := meter.Int64Counter(
		"mirrordb.buffer_cache.flushed_total",
		metric.WithDescription("Dirty blocks written back successfully."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	writeRetries, err := meter.Int64Counter(
		"mirrordb.buffer_cache.write_retries_total",
		metric.WithDescription("Writebacks requeued after an I/O failure."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	readErrors, err := meter.Int64Counter(
		"mirrordb.buffer_cache.read_errors_total",
		metric.WithDescription("Serializer reads that completed with an error."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	residentBytes, err := meter.Int64UpDownCounter(
		"mirrordb.buffer_cache.resident_bytes",
		metric.WithDescription("Bytes of block buffers currently resident."),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	inflightReads, err := meter.Int64UpDownCounter(
		"mirrordb.buffer_cache.inflight_reads",
		metric.WithDescription("Asynchronous reads issued and not yet completed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	inflightWrites, err := meter.Int64UpDownCounter(
		"mirrordb.buffer_cache.inflight_writes",
		metric.WithDescription("Asynchronous writes issued and not yet completed."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &CacheMetrics{
		HitsCounter:          hits,
		MissesCounter:        misses,
		EvictionsCounter:     evictions,
		FlushedCounter:       flushed,
		WriteRetriesCounter:  writeRetries,
		ReadErrorsCounter:    readErrors,
		ResidentBytesUpDown:  residentBytes,
		InflightReadsUpDown:  inflightReads,
		InflightWritesUpDown: inflightWrites,
	}, nil
}
