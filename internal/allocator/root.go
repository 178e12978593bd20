package allocator

import (
	"sync/atomic"
	"unsafe"
)

// rootContext is the per-Allocator registry of tracked pools. It is
// allocated via sysAlloc as a single raw region: the rootContext
// header occupies the front, and poolCount pointer-sized slots follow
// immediately after it in the same allocation, the way a C flexible
// array member trails its enclosing struct. slot recovers the address
// of a given table entry by pointer arithmetic from rootContextSize.
//
// A rootContext does not outlive its owning Allocator's Close: Close
// detaches every tracked pool, and each detach drops that pool's root
// reference at once, whether or not the pool still has live blocks.
// Pools with live blocks outlive the root and serve Free on their own.
type rootContext struct {
	refcount int64 // atomic: 1 (owning Allocator) + 1 per currently-tracked pool

	poolCount int   // fixed at creation; size of the trailing slot table
	freePools int   // owning-goroutine-only count of nil slots, for the trim-threshold check in allocator.go
	raw       unsafe.Pointer
	rawSize   uintptr

	_ int64 // pads rootContext to a multiple of Alignment, so the trailing slot table starts on an Alignment boundary
}

const rootContextSize = int64(unsafe.Sizeof(rootContext{}))

var ptrSize = unsafe.Sizeof(uintptr(0))

func init() {
	if rootContextSize%Alignment != 0 {
		panic("allocator: rootContext size is not a multiple of Alignment")
	}
}

// newRootContext allocates a root with room for poolCount tracked
// pool slots, all initially empty.
func newRootContext(poolCount int) (*rootContext, bool) {
	tableBytes := uintptr(poolCount) * ptrSize
	raw, rawSize, ok := sysAlloc(uintptr(rootContextSize) + tableBytes)
	if !ok {
		return nil, false
	}

	r := (*rootContext)(raw)
	r.refcount = 1
	r.poolCount = poolCount
	r.freePools = poolCount
	r.raw = raw
	r.rawSize = rawSize
	atomic.AddInt64(&dbgRootCount, 1)

	return r, true
}

// slot returns the address of the i'th trailing table entry.
func (r *rootContext) slot(i int) *unsafe.Pointer {
	base := uintptr(unsafe.Pointer(r)) + uintptr(rootContextSize) + uintptr(i)*ptrSize
	return (*unsafe.Pointer)(unsafe.Pointer(base))
}

// poolAt loads the i'th tracked pool, or nil if that slot is empty.
// Only the owning Allocator goroutine calls this: the slot table
// itself is never touched by another goroutine.
func (r *rootContext) poolAt(i int) *poolHeader {
	return (*poolHeader)(*r.slot(i))
}

// setPoolAt publishes or clears the i'th slot.
func (r *rootContext) setPoolAt(i int, p *poolHeader) {
	*r.slot(i) = unsafe.Pointer(p)
}

// release drops one reference, freeing the root's memory on the
// transition to zero. Called by a pool's detach and by the owning
// Allocator's teardown.
func (r *rootContext) release() {
	if atomic.AddInt64(&r.refcount, -1) != 0 {
		return
	}

	atomic.AddInt64(&dbgRootCount, -1)
	sysFree(r.raw, r.rawSize)
}
