package allocator

import (
	"runtime"
	"sync/atomic"
	"unsafe"
)

// Allocator is a context-local pool allocator: bump-carve allocation
// happens only from the goroutine that created it, while Free may be
// called from any goroutine holding a pointer this Allocator produced.
// Nothing here enforces single-goroutine confinement -- Go has no
// goroutine-local storage to hook into, so Allocator is simply a
// regular value a caller is expected to keep to one goroutine by
// convention, the same way the original per-thread design relied on a
// thread-exit callback it could not get for free in Go either.
//
// The zero value is not usable; construct with NewAllocator.
type Allocator struct {
	root             *rootContext
	poolCap          int64 // carvable capacity of every tracked pool this Allocator creates
	recycleThreshold int64
	logger           Logger
	closed           int32 // atomic
}

// NewAllocator constructs an Allocator. The returned value owns OS
// memory and must eventually be released with Close; a
// runtime.SetFinalizer backstop reclaims it (logging a warning first)
// if the caller forgets, the closest Go equivalent to the original's
// automatic per-thread teardown.
func NewAllocator(opts ...Option) (*Allocator, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	root, ok := newRootContext(cfg.TrackedPoolCount)
	if !ok {
		return nil, &configError{Category: CategorySystem, Field: "root", Message: "system allocator rejected root context mapping"}
	}

	a := &Allocator{
		root:             root,
		poolCap:          int64(roundUp16(cfg.PoolSize)),
		recycleThreshold: int64(cfg.RecycleThreshold),
		logger:           cfg.Logger,
	}

	atomic.AddInt64(&dbgAllocatorCount, 1)
	runtime.SetFinalizer(a, (*Allocator).finalize)

	return a, nil
}

// Close detaches every pool this Allocator still tracks and releases
// its root context. Pools with outstanding blocks on other goroutines
// continue to exist, serving Free calls, until their last block
// returns. Close is idempotent.
func (a *Allocator) Close() error {
	if !atomic.CompareAndSwapInt32(&a.closed, 0, 1) {
		return nil
	}

	runtime.SetFinalizer(a, nil)
	a.teardown()

	return nil
}

func (a *Allocator) finalize() {
	if !atomic.CompareAndSwapInt32(&a.closed, 0, 1) {
		return
	}

	a.logger("allocator: Allocator finalized without Close; detaching %d pool slots", a.root.poolCount)
	a.teardown()
}

func (a *Allocator) teardown() {
	for i := 0; i < a.root.poolCount; i++ {
		if p := a.root.poolAt(i); p != nil {
			a.root.setPoolAt(i, nil)
			p.detach()
		}
	}

	a.root.release()
	atomic.AddInt64(&dbgAllocatorCount, -1)
}

// Alloc returns a pointer to at least size bytes, aligned to align
// bytes (align must be 0 or a power of two; 0 means the package
// default of 16). It returns nil on system allocation failure rather
// than panicking, matching the fast allocate path's no-exceptions
// contract.
func (a *Allocator) Alloc(size, align int) unsafe.Pointer {
	n, effAlign, na := normalize(size, align)

	if na > a.poolCap {
		_, block, ok := newPool(na, n, effAlign, nil)
		if !ok {
			return nil
		}

		return block.payload()
	}

	// The eviction floor for this pass alone: the configured default
	// while empty slots remain, raised to half the pool capacity when
	// the table came into this call already full, so a full table
	// evicts more readily on this and the next pass rather than
	// failing outright. Recomputed fresh every call and never written
	// back into recycleThreshold; once the table is full it stays full
	// (an eviction's slot is refilled by the same call), so every later
	// pass computes the raised floor again.
	threshold := a.recycleThreshold
	if a.root.freePools == 0 {
		threshold = a.poolCap / 2
	}

	emptySlot := -1
	evictSlot := -1
	var evictFree int64 = -1

	for i := 0; i < a.root.poolCount; i++ {
		pool := a.root.poolAt(i)
		if pool == nil {
			if emptySlot == -1 {
				emptySlot = i
			}

			continue
		}

		free := atomic.LoadInt64(&pool.poolFree)
		if free >= na {
			if block := carveAt(pool, free, n, effAlign); block != nil {
				return block.payload()
			}
			// Lost the CAS race to another carve or an epoch reset;
			// move on rather than retry this slot.
			continue
		}

		if free < threshold && (evictSlot == -1 || free < evictFree) {
			evictSlot = i
			evictFree = free
		}
	}

	if emptySlot == -1 {
		if evictSlot == -1 {
			// The table is full and every tracked pool still has too
			// much free space to be worth evicting. Fall back to an
			// untracked oversize pool sized exactly to this request;
			// the raised threshold above already makes the next pass
			// evict more aggressively without needing to persist it.
			_, block, ok := newPool(na, n, effAlign, nil)
			if !ok {
				return nil
			}

			return block.payload()
		}

		victim := a.root.poolAt(evictSlot)
		a.root.setPoolAt(evictSlot, nil)
		a.root.freePools++
		victim.detach()
		emptySlot = evictSlot
	}

	_, block, ok := newPool(a.poolCap, n, effAlign, a.root)
	if !ok {
		return nil
	}

	return block.payload()
}

// Realloc resizes the block at p to newSize bytes, preserving its
// contents up to the smaller of the old and new sizes. A nil p
// behaves as Alloc; Realloc never frees on failure, so a nil return
// leaves p valid and unchanged.
func (a *Allocator) Realloc(p unsafe.Pointer, newSize, align int) unsafe.Pointer {
	if p == nil {
		return a.Alloc(newSize, align)
	}

	old := blockHeaderFor(p)
	oldPayloadLen := old.length - blockHeaderSize

	next := a.Alloc(newSize, align)
	if next == nil {
		return nil
	}

	copyMemory(next, p, minInt64(oldPayloadLen, int64(newSize)))
	Free(p)

	return next
}

// Free releases a pointer previously returned by Alloc or Realloc
// from any Allocator, and may be called from any goroutine. Freeing a
// pointer twice, or a pointer this package did not return, is
// undefined behavior and is not detected.
func Free(p unsafe.Pointer) {
	if p == nil {
		return
	}

	b := blockHeaderFor(p)
	atomic.StoreInt64(&b.freed, 1)

	pool := b.pool()
	atomic.AddInt64(&pool.poolReturned, b.length)
	pool.release()
}

// normalize computes n, the header-inclusive carve size rounded to
// Alignment, and na, the effective capacity a pool must have to carve
// n with the requested alignment: align beyond Alignment may require
// advancing the carve start, so na reserves align extra bytes for
// that worst case.
func normalize(size, align int) (n, effAlign, na int64) {
	if align <= Alignment {
		effAlign = 0
	} else {
		effAlign = int64(roundUp16(align))
	}

	n = roundUp16(int(blockHeaderSize) + size)
	na = n + effAlign

	return n, effAlign, na
}

func roundUp16(v int) int64 {
	r := int64(v)
	if rem := r % Alignment; rem != 0 {
		r += Alignment - rem
	}

	return r
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}

	return b
}

func copyMemory(dst, src unsafe.Pointer, n int64) {
	if n <= 0 {
		return
	}

	copy(unsafe.Slice((*byte)(dst), n), unsafe.Slice((*byte)(src), n))
}
