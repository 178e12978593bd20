// Package allocator implements a lock-free, context-local pool
// allocator: each Allocator bump-carves blocks out of large pool
// chunks it owns, while accepting frees from any goroutine. Pool
// recycling and destruction are handled optimistically via atomic
// refcounts, with no locks on the allocate or free fast path.
package allocator
