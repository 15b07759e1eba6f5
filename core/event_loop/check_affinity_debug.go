//go:build debug

package eventloop

import (
	"fmt"

	commonutils "github.com/sushant-115/mirrordb/internal/common_utils"
)

// AssertOn panics unless the caller is running on the loop goroutine.
// Compiled out of non-debug builds.
func (q *Queue) AssertOn(op string) {
	if got := commonutils.GoID(); got != q.loopGoID.Load() {
		panic(fmt.Sprintf("eventloop: %s invoked on goroutine %d, queue %q is owned by goroutine %d",
			op, got, q.name, q.loopGoID.Load()))
	}
}
