package allocator

import "unsafe"

// blockHeader is the fixed-size record placed immediately before
// every user-visible payload. The release path, which may run on any
// goroutine, consults only this header: it never touches the pool's
// root or any other goroutine's state directly.
type blockHeader struct {
	offset int64 // < 0; headerAddr + offset == the owning pool's header address
	length int64 // bytes accounted to this block, header included

	// prevBlock and the pool's own lastBlock form an intrusive,
	// singly-linked carve history: prevBlock holds the offset,
	// relative to the pool header, of the block carved just before
	// it. lastBlock is not cleared by an epoch reset, so the chain runs
	// across epochs. Neither field is read anywhere in this package; kept
	// for data-shape parity with the block layout this design is
	// descended from.
	prevBlock int64

	freed int64 // set to 1 by Free; never read. Double-freeing a pointer is undefined behavior and is not detected.
}

const blockHeaderSize = int64(unsafe.Sizeof(blockHeader{}))

func init() {
	if blockHeaderSize%Alignment != 0 {
		panic("allocator: blockHeader size is not a multiple of Alignment")
	}
}

// blockHeaderFor returns the header immediately preceding a payload
// pointer previously returned by Alloc or Realloc.
func blockHeaderFor(payload unsafe.Pointer) *blockHeader {
	return (*blockHeader)(unsafe.Pointer(uintptr(payload) - uintptr(blockHeaderSize)))
}

// payload returns the user-visible pointer for a carved block header.
func (b *blockHeader) payload() unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(b)) + uintptr(blockHeaderSize))
}

// pool recovers the owning pool via the header's back-pointer offset.
// Safe to call from any goroutine: this block holds one of the pool's
// refcount references, which keeps the pool's memory valid for as
// long as the block has not been freed.
func (b *blockHeader) pool() *poolHeader {
	addr := uintptr(unsafe.Pointer(b)) + uintptr(b.offset)
	return (*poolHeader)(unsafe.Pointer(addr))
}
