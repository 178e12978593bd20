// Package octane is a lock-free, context-local pool allocator: each
// Allocator bump-carves blocks out of large pool chunks it owns, while
// accepting frees from any goroutine. Pool recycling and destruction
// are handled optimistically via atomic refcounts, with no locks on
// the allocate or free fast path.
//
// The implementation lives in internal/allocator; this package is a
// thin, stable re-export of its public surface, the same separation
// Go libraries commonly use to keep unexported plumbing free to change
// without touching the types and signatures callers depend on.
package octane

import (
	"unsafe"

	"github.com/stevenchristy/octane/internal/allocator"
)

// Allocator is a context-local pool allocator. Bump-carve allocation
// happens only from the goroutine that created it; Free may be called
// from any goroutine holding a pointer it produced. The zero value is
// not usable; construct with NewAllocator.
type Allocator = allocator.Allocator

// Config configures an Allocator. Build one through NewAllocator and
// Option values rather than constructing it directly.
type Config = allocator.Config

// Option configures an Allocator at construction time.
type Option = allocator.Option

// Logger receives rare diagnostic events; the only one reported is an
// Allocator finalized without Close. It is never called from the
// allocate or free fast path. The zero value is a no-op.
type Logger = allocator.Logger

const (
	// DefaultPoolSize is the default carvable size, in bytes, of a
	// tracked pool. The pool header is not counted in it.
	DefaultPoolSize = allocator.DefaultPoolSize

	// DefaultTrackedPoolCount is the default number of pool slots a
	// root tracks.
	DefaultTrackedPoolCount = allocator.DefaultTrackedPoolCount

	// DefaultRecycleThreshold is the default pool_free floor below
	// which a tracked slot may be evicted. Eviction happens only when
	// the slot table is full and no tracked pool can serve the request.
	DefaultRecycleThreshold = allocator.DefaultRecycleThreshold

	// Alignment is the allocator's coarse alignment unit. Fixed, not
	// configurable.
	Alignment = allocator.Alignment
)

// WithPoolSize overrides the carvable size of each tracked pool; the
// pool header is allocated in addition to it.
func WithPoolSize(size int) Option { return allocator.WithPoolSize(size) }

// WithTrackedPoolCount overrides the number of pool slots a root
// tracks.
func WithTrackedPoolCount(n int) Option { return allocator.WithTrackedPoolCount(n) }

// WithRecycleThreshold overrides the pool_free eviction floor.
func WithRecycleThreshold(n int) Option { return allocator.WithRecycleThreshold(n) }

// WithLogger overrides the diagnostic logger.
func WithLogger(l Logger) Option { return allocator.WithLogger(l) }

// NewAllocator constructs an Allocator. The returned value owns OS
// memory and must eventually be released with Close.
func NewAllocator(opts ...Option) (*Allocator, error) { return allocator.NewAllocator(opts...) }

// Free releases a pointer previously returned by an Allocator's Alloc
// or Realloc, and may be called from any goroutine. Freeing a pointer
// twice, or a pointer this package did not return, is undefined
// behavior and is not detected.
func Free(p unsafe.Pointer) { allocator.Free(p) }

// LiveRoots reports the number of root contexts currently allocated.
func LiveRoots() int64 { return allocator.LiveRoots() }

// LivePools reports the number of pools (tracked, detached, or
// oversize) currently allocated.
func LivePools() int64 { return allocator.LivePools() }

// LiveAllocators reports the number of Allocator contexts currently
// open (created but not yet torn down by Close or finalization).
func LiveAllocators() int64 { return allocator.LiveAllocators() }
