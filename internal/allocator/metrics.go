package allocator

import "sync/atomic"

// Process-wide debug counters, exposed for instrumentation only and
// never consulted by alloc, free, release, or detach. Always-on here
// rather than gated behind a build tag, since the cost of three atomic
// counters is negligible next to an OS allocation per pool.
var (
	dbgRootCount      int64
	dbgPoolCount      int64
	dbgAllocatorCount int64
)

// LiveRoots reports the number of root contexts currently allocated.
func LiveRoots() int64 { return atomic.LoadInt64(&dbgRootCount) }

// LivePools reports the number of pools (tracked, detached, or
// oversize) currently allocated.
func LivePools() int64 { return atomic.LoadInt64(&dbgPoolCount) }

// LiveAllocators reports the number of Allocator contexts currently
// open (created but not yet torn down by Close or finalization).
func LiveAllocators() int64 { return atomic.LoadInt64(&dbgAllocatorCount) }
