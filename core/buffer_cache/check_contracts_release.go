//go:build !debug

package buffercache

// Contract checks compile to no-ops outside debug builds; violations are
// still logged where they are detected.

func (c *Cache) assertTx(tx *Transaction, op string) {}

func (c *Cache) assertCompletionContract(err error) {}
