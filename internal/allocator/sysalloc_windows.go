//go:build windows

package allocator

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// sysAlloc obtains a zero-filled, page-backed region of at least size
// bytes directly from the kernel via VirtualAlloc, outside the Go
// garbage-collected heap. See sysalloc_unix.go for why that matters.
func sysAlloc(size uintptr) (unsafe.Pointer, uintptr, bool) {
	addr, err := windows.VirtualAlloc(0, size, windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, 0, false
	}

	return unsafe.Pointer(addr), size, true
}

// sysFree returns memory obtained from sysAlloc to the kernel.
func sysFree(ptr unsafe.Pointer, _ uintptr) {
	_ = windows.VirtualFree(uintptr(ptr), 0, windows.MEM_RELEASE)
}
