//go:build race

package rpc

import "testing"

// skipRace skips tests that exercise the lfq SPSC ring concurrently.
// The race detector tracks per-variable happens-before and cannot see
// SPSC's cross-variable memory ordering (store-release on data,
// load-acquire on index), producing false positives.
func skipRace(tb testing.TB) {
	tb.Helper()
	tb.Skip("skip: SPSC uses cross-variable memory ordering")
}
