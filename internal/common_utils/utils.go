package commonutils

import (
	"bytes"
	"runtime"
	"strconv"
)

// GoID returns the numeric ID of the calling goroutine. It is only meant
// for affinity assertions in debug builds; never use it for logic.
func GoID() int64 {
	// A small buffer is enough for the first line of runtime.Stack,
	// which looks like "goroutine 123 [running]:\n".
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return -1
	}
	n, err := strconv.ParseInt(string(b[:i]), 10, 64)
	if err != nil {
		return -1
	}
	return n
}
