//go:build debug

package buffercache

import "fmt"

// Debug builds turn contract violations into panics at the call site.
// Build with -tags debug to enable.

func (c *Cache) assertTx(tx *Transaction, op string) {
	c.queue.AssertOn(op)
	if tx == nil {
		panic(fmt.Sprintf("buffercache: %s with nil transaction", op))
	}
	if tx.queue != c.queue {
		panic(fmt.Sprintf("buffercache: %s with transaction %s bound to event loop %q, cache owned by %q",
			op, tx.id, tx.queue.Name(), c.queue.Name()))
	}
}

func (c *Cache) assertCompletionContract(err error) {
	if err != nil {
		panic("buffercache: " + err.Error())
	}
}
