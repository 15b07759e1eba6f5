//go:build !debug

package eventloop

// AssertOn is a no-op in non-debug builds. Build with -tags debug to
// enable execution-context affinity checking.
func (q *Queue) AssertOn(op string) {}
