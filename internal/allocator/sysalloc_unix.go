//go:build unix

package allocator

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// sysAlloc obtains a zero-filled, page-backed region of at least size
// bytes directly from the kernel via mmap, outside the Go
// garbage-collected heap. It takes no alignment argument: mmap always
// returns page-aligned memory, which already satisfies every alignment
// this package ever requests (Alignment is 16; a page is never smaller).
//
// Because pool and root memory never lives on the Go heap, the raw
// pointer arithmetic the core depends on (offset back-pointers, bump
// carving) is safe for the whole lifetime of a pool: the garbage
// collector never scans, moves, or reclaims it out from under a live
// back-pointer.
func sysAlloc(size uintptr) (unsafe.Pointer, uintptr, bool) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, 0, false
	}

	return unsafe.Pointer(&b[0]), uintptr(len(b)), true
}

// sysFree returns memory obtained from sysAlloc to the kernel.
func sysFree(ptr unsafe.Pointer, size uintptr) {
	b := unsafe.Slice((*byte)(ptr), size)
	_ = unix.Munmap(b)
}
