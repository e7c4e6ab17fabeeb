// Package kheap bootstraps the kernel's global dynamic allocator atop a
// physical region carved out by the zone allocator's first successful
// frame allocation. The heap allocator's internals are an opaque black box
// per spec.md §1's scope exclusion; this package only owns the bootstrap
// moment and the go:linkname seams a real implementation would redirect,
// mirroring the teacher's goruntime/bootstrap.go.
package kheap

import (
	"unsafe"

	"github.com/bigjr-mkkong/rs-micros/kernel"
	"github.com/bigjr-mkkong/rs-micros/kernel/kfmt/early"
	"github.com/bigjr-mkkong/rs-micros/kernel/mem"
)

var (
	initialized bool
	base        uintptr
	size        mem.Size

	// mapFn and frameAllocFn are wired once by the top-level boot
	// sequence (kernel/kmain), not imported directly, to avoid a package
	// cycle with kernel/mem/zone (which calls Init) the same way the
	// teacher's allocator package avoids importing goruntime: the
	// dependency runs through function-variable seams set from outside,
	// never a static import back to the caller.
	mapFn        func(vaddr, paddr uintptr) *kernel.Error
	frameAllocFn func() (uintptr, *kernel.Error)
)

// SetMapFn wires the virtual-memory mapping function kheap's growth path
// uses once the heap has outgrown its initial bootstrap region.
func SetMapFn(fn func(vaddr, paddr uintptr) *kernel.Error) {
	mapFn = fn
}

// SetFrameAllocFn wires the physical frame allocator kheap's growth path
// draws additional backing pages from.
func SetFrameAllocFn(fn func() (uintptr, *kernel.Error)) {
	frameAllocFn = fn
}

// Init records the heap's bootstrap region. It must be called exactly once,
// by the zone allocator's first successful Alloc, per spec.md §4.1/§9's
// invariant: "once kinit returns, heap allocation works and every live heap
// frame has a descriptor with refcnt=1."
func Init(regionBase uintptr, regionSize mem.Size) *kernel.Error {
	if initialized {
		return kernel.NewError(kernel.EFAULT, "kheap", "heap already bootstrapped")
	}
	initialized = true
	base = regionBase
	size = regionSize

	early.Printf("[kheap] bootstrap heap base=%x size=%d\n", regionBase, uint64(regionSize))
	return nil
}

// Initialized reports whether the heap bootstrap has already run.
func Initialized() bool {
	return initialized
}

// Base returns the heap's bootstrap base address; only meaningful once
// Initialized returns true.
func Base() uintptr { return base }

//go:linkname mSysStatInc runtime.mSysStatInc
func mSysStatInc(*uint64, uintptr)

// sysReserve replaces runtime.sysReserve: the bootstrap region is already
// reserved by the time Init has run, so this simply hands back its base
// (or nil, leaving *reserved untouched, before Init).
//
//go:redirect-from runtime.sysReserve
//go:nosplit
func sysReserve(_ unsafe.Pointer, reqSize uintptr, reserved *bool) unsafe.Pointer {
	if !initialized {
		return unsafe.Pointer(uintptr(0))
	}
	*reserved = true
	return unsafe.Pointer(base)
}

// sysMap replaces runtime.sysMap and is a no-op here: the bootstrap region
// is identity-mapped R/W by the boot sequence before Init runs.
//
//go:redirect-from runtime.sysMap
//go:nosplit
func sysMap(virtAddr unsafe.Pointer, reqSize uintptr, reserved bool, sysStat *uint64) unsafe.Pointer {
	if !reserved {
		panic("sysMap should only be called with reserved=true")
	}
	mSysStatInc(sysStat, reqSize)
	return virtAddr
}

// sysAlloc replaces runtime.sysAlloc for growth beyond the bootstrap
// region: it draws one frame at a time from frameAllocFn and maps it via
// mapFn, the same shape as the teacher's sysAlloc.
//
//go:redirect-from runtime.sysAlloc
//go:nosplit
func sysAlloc(reqSize uintptr, sysStat *uint64) unsafe.Pointer {
	if frameAllocFn == nil || mapFn == nil {
		return unsafe.Pointer(uintptr(0))
	}

	regionSize := (mem.Size(reqSize) + mem.PageSize - 1) &^ (mem.PageSize - 1)
	pageCount := regionSize.Pages()

	firstFrame, err := frameAllocFn()
	if err != nil {
		return unsafe.Pointer(uintptr(0))
	}
	if mapErr := mapFn(firstFrame, firstFrame); mapErr != nil {
		return unsafe.Pointer(uintptr(0))
	}

	for i := uint64(1); i < pageCount; i++ {
		frame, err := frameAllocFn()
		if err != nil {
			return unsafe.Pointer(uintptr(0))
		}
		if mapErr := mapFn(frame, frame); mapErr != nil {
			return unsafe.Pointer(uintptr(0))
		}
	}

	mSysStatInc(sysStat, uintptr(regionSize))
	return unsafe.Pointer(firstFrame)
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file, matching the teacher's goruntime/bootstrap.go init().
	var (
		reserved bool
		stat     uint64
		zeroPtr  = unsafe.Pointer(uintptr(0))
	)

	sysReserve(zeroPtr, 0, &reserved)
	sysMap(zeroPtr, 0, true, &stat)
	sysAlloc(0, &stat)
}
