package allocator

import (
	"sync/atomic"
	"unsafe"
)

// poolHeader sits at the start of a raw OS mapping obtained from
// sysAlloc; the bump-allocated carvable region begins immediately
// after it. A pool is reachable iff refcount > 0.
//
// poolFree, poolReturned and refcount are genuinely multi-writer:
// carving (owning goroutine only) decreases poolFree, while release
// (any goroutine, via Free) increases poolReturned and may CAS
// poolFree back to 0 to start a fresh epoch. All three are accessed
// exclusively through sync/atomic's function form -- plain atomic
// functions on explicit fields, not the generic atomic.Int64 /
// atomic.Pointer[T] wrapper types.
type poolHeader struct {
	refcount     int64 // atomic: 1 per live block, plus a transient +1 held across a detach or an epoch-reset attempt
	poolFree     int64 // atomic: bytes remaining at the bump frontier this epoch
	poolReturned int64 // atomic: bytes returned this epoch (freed blocks + immediately-dead alignment slack)

	lastBlock int64 // offset of the most recently carved block; owning-goroutine-only, unread by the core (see blockHeader.prevBlock)

	root unsafe.Pointer // *rootContext; atomic; nil once detached

	poolSize int64          // total carvable bytes, constant after creation
	raw      unsafe.Pointer // exact pointer sysFree must be given back
	rawSize  uintptr        // exact size sysFree must be given back
	oversize int64          // 1 for untracked single-block pools; set once at creation.

	_ int64 // pads poolHeader to a multiple of Alignment, so the carvable region starts on an Alignment boundary
}

const poolHeaderSize = int64(unsafe.Sizeof(poolHeader{}))

func init() {
	if poolHeaderSize%Alignment != 0 {
		panic("allocator: poolHeader size is not a multiple of Alignment")
	}
}

func (p *poolHeader) base() uintptr { return uintptr(unsafe.Pointer(p)) }

func (p *poolHeader) isOversize() bool { return p.oversize != 0 }

func (p *poolHeader) loadRoot() *rootContext {
	return (*rootContext)(atomic.LoadPointer(&p.root))
}

// newPool obtains cap bytes of carvable capacity from the system
// allocator and carves the first block of n bytes from it (any
// worst-case alignment capacity has already been folded into cap by
// the caller, per the size normalization in allocator.go).
//
// When root is non-nil, the new pool is registered into root's first
// empty slot and tracked (the pool takes a reference on root; the
// root's slot adds nothing to the pool's own refcount, which counts
// live blocks only); when root is nil, the pool is created as an oversize
// pool -- never tracked, destroyed when its one block returns.
func newPool(cap, n, align int64, root *rootContext) (*poolHeader, *blockHeader, bool) {
	raw, rawSize, ok := sysAlloc(uintptr(poolHeaderSize + cap))
	if !ok {
		return nil, nil, false
	}

	pool := (*poolHeader)(raw)
	pool.poolSize = cap
	pool.raw = raw
	pool.rawSize = rawSize
	atomic.AddInt64(&dbgPoolCount, 1)

	if root != nil {
		for i := 0; i < root.poolCount; i++ {
			if root.poolAt(i) == nil {
				atomic.StorePointer(&pool.root, unsafe.Pointer(root))
				atomic.AddInt64(&root.refcount, 1)
				root.freePools--
				root.setPoolAt(i, pool)

				break
			}
		}
	} else {
		pool.oversize = 1
	}

	block := carveFresh(pool, n, align)

	return pool, block, true
}

// computeCarve locates the bump-region start for a carve that begins
// with free bytes still uncommitted, and advances it in 16-byte steps
// to satisfy an over-alignment request. align is 0 (no stepping
// needed) or a multiple of Alignment greater than Alignment, per
// normalize's contract.
func computeCarve(pool *poolHeader, free, align int64) (start uintptr, wasted int64) {
	start = pool.base() + uintptr(poolHeaderSize) + uintptr(pool.poolSize-free)
	if align != 0 {
		for (start+uintptr(blockHeaderSize))%uintptr(align) != 0 {
			start += Alignment
			wasted += Alignment
		}
	}

	return start, wasted
}

// carveFresh carves the first block from a pool whose entire capacity
// is still free. No other goroutine can observe this pool yet (the
// only slot table it may already sit in is read by the owning
// goroutine alone, and no block of it has reached a caller), so no CAS
// is needed.
func carveFresh(pool *poolHeader, n, align int64) *blockHeader {
	start, wasted := computeCarve(pool, pool.poolSize, align)
	atomic.StoreInt64(&pool.poolFree, pool.poolSize-n-wasted)

	if wasted != 0 {
		atomic.StoreInt64(&pool.poolReturned, wasted)
	}

	return stampBlock(pool, start, n, wasted)
}

// carveAt attempts to carve n bytes from an already-published,
// tracked pool whose poolFree was last observed to be free. It
// returns nil if a concurrent carve or reset won the race; per the
// allocation dispatch contract (allocator.go), the caller moves on to
// the next pool slot rather than retrying this one.
func carveAt(pool *poolHeader, free, n, align int64) *blockHeader {
	start, wasted := computeCarve(pool, free, align)
	if !atomic.CompareAndSwapInt64(&pool.poolFree, free, free-n-wasted) {
		return nil
	}

	if wasted != 0 {
		atomic.AddInt64(&pool.poolReturned, wasted)
	}

	return stampBlock(pool, start, n, wasted)
}

// stampBlock writes a freshly carved block's header and accounts for
// it in the pool's refcount. length is n alone: the alignment slack
// consumed ahead of the block (wasted) was already credited to
// poolReturned by the caller, as immediately-dead space that no block
// will ever return -- folding it into length as well would double
// count it and break the pool's conservation invariant (see
// DESIGN.md).
func stampBlock(pool *poolHeader, start uintptr, n, wasted int64) *blockHeader {
	_ = wasted

	b := (*blockHeader)(unsafe.Pointer(start))
	b.offset = int64(pool.base()) - int64(start)
	b.length = n
	b.prevBlock = pool.lastBlock
	b.freed = 0
	pool.lastBlock = int64(start - pool.base())

	atomic.AddInt64(&pool.refcount, 1)

	return b
}

// release drops one reference. On the transition to zero it either
// attempts an epoch reset (tracked pool) or returns the pool's memory
// to the system allocator (detached pool). May run on any goroutine.
func (p *poolHeader) release() {
	if atomic.AddInt64(&p.refcount, -1) != 0 {
		return
	}

	if root := p.loadRoot(); root != nil {
		// Hold the pool alive across the reset attempt: a racing
		// allocator may already have carved a new block by the time
		// we get here, in which case the CAS below (or the refcount
		// check after it) simply fails and the new carve stands.
		atomic.AddInt64(&p.refcount, 1)

		free := atomic.LoadInt64(&p.poolFree)
		returned := atomic.LoadInt64(&p.poolReturned)

		if returned != 0 && free+returned == p.poolSize {
			if atomic.CompareAndSwapInt64(&p.poolFree, free, 0) {
				if atomic.LoadInt64(&p.refcount) == 1 {
					atomic.StoreInt64(&p.poolReturned, 0)
					atomic.StoreInt64(&p.poolFree, p.poolSize)
				}
			}

			// Drop the hold by calling release() again rather than
			// decrementing in place: the owning goroutine's detach()
			// may have swapped root to nil and called its own release()
			// while we held this pool alive, in which case its release()
			// observed our hold and returned without destroying the
			// pool. Recursing re-reads root from scratch, so whichever
			// of us drops the true last reference is the one that
			// notices root == nil and frees the memory. Guarded by the
			// returned != 0 branch above: once a reset has gone
			// through, poolReturned is 0 and a subsequent Free has not
			// yet run, so the next call in takes the plain-decrement
			// path below instead of recursing again.
			p.release()

			return
		}

		atomic.AddInt64(&p.refcount, -1)

		return
	}

	atomic.AddInt64(&dbgPoolCount, -1)
	sysFree(p.raw, p.rawSize)
}

// detach severs the root<->pool link. Called only by a pool's owning
// context: on eviction (the allocation dispatch's trim pass in
// allocator.go) or on context teardown. After detach, the pool
// continues to serve outstanding frees from any goroutine and
// destroys itself once its last block returns; no new allocation may
// target it.
func (p *poolHeader) detach() {
	// Hold a reference across the root swap: without it, a concurrent
	// Free() bringing the live-block count to zero at the same moment
	// could race this goroutine into destroying the pool twice, or
	// into attempting an epoch reset on a pool that is no longer
	// tracked.
	atomic.AddInt64(&p.refcount, 1)

	root := (*rootContext)(atomic.SwapPointer(&p.root, nil))
	if root != nil {
		root.release()
	}

	// Drop the hold. p.root is already nil, so if this is the last
	// reference, release() takes the destroy branch directly rather
	// than attempting a reset on a pool nothing can allocate from
	// anymore.
	p.release()
}
