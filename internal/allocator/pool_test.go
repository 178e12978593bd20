package allocator

import (
	"testing"
)

func TestCarveFreshAccountsForWholePool(t *testing.T) {
	root, ok := newRootContext(minTrackedPoolCount)
	if !ok {
		t.Fatal("newRootContext failed")
	}
	defer root.release()

	const cap = int64(minPoolSize)
	const n = int64(64)

	pool, block, ok := newPool(cap, n, 0, root)
	if !ok {
		t.Fatal("newPool failed")
	}

	if pool.poolFree != cap-n {
		t.Errorf("poolFree = %d, want %d", pool.poolFree, cap-n)
	}

	if block.length != n {
		t.Errorf("block.length = %d, want %d", block.length, n)
	}

	if block.pool() != pool {
		t.Error("block.pool() did not recover the owning pool")
	}
}

func TestCarveAtRejectsStaleFreeSnapshot(t *testing.T) {
	root, ok := newRootContext(minTrackedPoolCount)
	if !ok {
		t.Fatal("newRootContext failed")
	}
	defer root.release()

	const cap = int64(minPoolSize)

	pool, _, ok := newPool(cap, 64, 0, root)
	if !ok {
		t.Fatal("newPool failed")
	}

	staleFree := pool.poolFree // snapshot before a concurrent carve lands

	if block := carveAt(pool, staleFree, 32, 0); block == nil {
		t.Fatal("first carveAt with a fresh snapshot unexpectedly failed")
	}

	// staleFree is now out of date; a second carve against it must fail.
	if block := carveAt(pool, staleFree, 32, 0); block != nil {
		t.Error("carveAt succeeded against a stale poolFree snapshot")
	}
}

func TestOversizeAlignmentConsumesExtraCapacity(t *testing.T) {
	const cap = int64(4096)
	const n = int64(64)
	const align = int64(128)

	pool, block, ok := newPool(cap+align, n, align, nil)
	if !ok {
		t.Fatal("newPool failed")
	}
	defer pool.release()

	if uintptr(block.payload())%uintptr(align) != 0 {
		t.Errorf("payload %v not aligned to %d", block.payload(), align)
	}

	if pool.poolFree+pool.poolReturned != pool.poolSize-n {
		t.Errorf("conservation violated: free=%d returned=%d size=%d n=%d",
			pool.poolFree, pool.poolReturned, pool.poolSize, n)
	}
}

func TestPoolReleaseResetsEpochWhenFullyReturned(t *testing.T) {
	root, ok := newRootContext(minTrackedPoolCount)
	if !ok {
		t.Fatal("newRootContext failed")
	}
	defer root.release()

	const cap = int64(minPoolSize)

	pool, block, ok := newPool(cap, 128, 0, root)
	if !ok {
		t.Fatal("newPool failed")
	}

	// Simulate Free's bookkeeping without going through the package
	// function, to test release() in isolation.
	pool.poolReturned += block.length
	pool.release()

	if pool.poolFree != cap {
		t.Errorf("poolFree after full epoch reset = %d, want %d", pool.poolFree, cap)
	}

	if pool.poolReturned != 0 {
		t.Errorf("poolReturned after full epoch reset = %d, want 0", pool.poolReturned)
	}
}

func TestPoolDetachSeversRootLink(t *testing.T) {
	root, ok := newRootContext(minTrackedPoolCount)
	if !ok {
		t.Fatal("newRootContext failed")
	}

	pool, block, ok := newPool(int64(minPoolSize), 64, 0, root)
	if !ok {
		t.Fatal("newPool failed")
	}

	pool.detach()

	if pool.loadRoot() != nil {
		t.Error("detach did not clear the pool's root back-pointer")
	}

	// The pool must still be usable for the outstanding block's Free.
	pool.poolReturned += block.length
	pool.release()
}
