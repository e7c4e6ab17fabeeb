package mem

import (
	"reflect"
	"unsafe"
)

// ZeroFrames zeroes n frames worth of memory starting at addr, the shape
// every caller in this kernel actually needs: the zone allocator's
// first-ever allocation zeroing the heap's bootstrap region before handing
// it to kheap.Init, per spec.md §4.1/§9's "every live heap frame has a
// descriptor with refcnt=1" invariant. Based on bytes.Repeat: instead of a
// byte-at-a-time loop, it uses log2(size) copy calls, which pays off since
// frame addresses and sizes are always page-aligned.
func ZeroFrames(addr uintptr, n uint64) {
	size := PageSize * Size(n)
	if size == 0 {
		return
	}

	// overlay a slice on top of this address region
	target := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: addr,
	}))

	target[0] = 0
	for index := Size(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}
