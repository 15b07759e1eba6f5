package buffercache

import "context"

// Metric helpers. The otel instruments are optional; a nil metrics
// struct makes every helper a no-op so tests and embedded uses pay
// nothing.

func (c *Cache) countHit() {
	if c.metrics != nil {
		c.metrics.HitsCounter.Add(context.Background(), 1)
	}
}

func (c *Cache) countMiss() {
	if c.metrics != nil {
		c.metrics.MissesCounter.Add(context.Background(), 1)
	}
}

func (c *Cache) countEviction() {
	if c.metrics != nil {
		c.metrics.EvictionsCounter.Add(context.Background(), 1)
	}
}

func (c *Cache) countFlushed() {
	if c.metrics != nil {
		c.metrics.FlushedCounter.Add(context.Background(), 1)
	}
}

func (c *Cache) countWriteRetry() {
	if c.metrics != nil {
		c.metrics.WriteRetriesCounter.Add(context.Background(), 1)
	}
}

func (c *Cache) countReadError() {
	if c.metrics != nil {
		c.metrics.ReadErrorsCounter.Add(context.Background(), 1)
	}
}

func (c *Cache) gaugeResident(delta int64) {
	if c.metrics != nil {
		c.metrics.ResidentBytesUpDown.Add(context.Background(), delta)
	}
}

func (c *Cache) gaugeInflightReads(delta int64) {
	if c.metrics != nil {
		c.metrics.InflightReadsUpDown.Add(context.Background(), delta)
	}
}

func (c *Cache) gaugeInflightWrites(delta int64) {
	if c.metrics != nil {
		c.metrics.InflightWritesUpDown.Add(context.Background(), delta)
	}
}
