package buffercache

import (
	"github.com/google/uuid"

	eventloop "github.com/sushant-115/mirrordb/core/event_loop"
)

// Transaction identifies the execution context under which a set of
// block operations runs. It carries no engine state: it exists so that
// every operation against the cache can be checked (in debug builds)
// against the event loop that began it.
type Transaction struct {
	id    uuid.UUID
	queue *eventloop.Queue
}

// ID returns the transaction's identity, used for log correlation.
func (t *Transaction) ID() uuid.UUID {
	return t.id
}
