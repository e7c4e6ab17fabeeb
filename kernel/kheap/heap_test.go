package kheap

import (
	"testing"
	"unsafe"

	"github.com/bigjr-mkkong/rs-micros/kernel"
	"github.com/bigjr-mkkong/rs-micros/kernel/mem"
)

// resetState clears the package-level bootstrap/seam state around a test,
// since Init is specified to run exactly once per the real boot sequence
// but tests need a clean slate each time.
func resetState(t *testing.T) {
	prevInit, prevBase, prevSize := initialized, base, size
	prevMap, prevAlloc := mapFn, frameAllocFn
	t.Cleanup(func() {
		initialized, base, size = prevInit, prevBase, prevSize
		mapFn, frameAllocFn = prevMap, prevAlloc
	})
	initialized, base, size = false, 0, 0
	mapFn, frameAllocFn = nil, nil
}

func TestInitBootstrapsRegionExactlyOnce(t *testing.T) {
	resetState(t)

	if err := Init(0x9000_0000, mem.PageSize*4); err != nil {
		t.Fatalf("first Init failed: %v", err)
	}
	if !Initialized() {
		t.Fatal("expected Initialized to report true after Init")
	}
	if Base() != 0x9000_0000 {
		t.Fatalf("Base() = %x, want 0x90000000", Base())
	}

	err := Init(0xdead_0000, mem.PageSize)
	if err == nil || err.Kind != kernel.EFAULT {
		t.Fatalf("expected EFAULT on a second Init, got %v", err)
	}
	if Base() != 0x9000_0000 {
		t.Fatal("expected the second Init to leave the original base untouched")
	}
}

func TestSysReserveReturnsBaseOnceInitialized(t *testing.T) {
	resetState(t)

	var reserved bool
	if got := sysReserve(nil, 0x1000, &reserved); got != nil {
		t.Fatalf("expected nil before Init, got %v", got)
	}
	if reserved {
		t.Fatal("expected reserved to stay false before Init")
	}

	if err := Init(0x9000_0000, mem.PageSize*4); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	reserved = false
	got := sysReserve(nil, 0x1000, &reserved)
	if !reserved {
		t.Fatal("expected reserved to be set true once initialized")
	}
	if got != unsafe.Pointer(uintptr(0x9000_0000)) {
		t.Fatalf("expected sysReserve to hand back the bootstrap base, got %v", got)
	}
}

func TestSysAllocDrawsOneFramePerPageAndMapsEach(t *testing.T) {
	resetState(t)

	var allocated []uintptr
	var mapped []uintptr
	next := uintptr(0x1000_0000)

	SetFrameAllocFn(func() (uintptr, *kernel.Error) {
		f := next
		next += uintptr(mem.PageSize)
		allocated = append(allocated, f)
		return f, nil
	})
	SetMapFn(func(vaddr, paddr uintptr) *kernel.Error {
		mapped = append(mapped, vaddr)
		return nil
	})

	var stat uint64
	got := sysAlloc(uintptr(mem.PageSize)*3, &stat)
	if got != unsafe.Pointer(allocated[0]) {
		t.Fatalf("expected sysAlloc to return the first drawn frame, got %v want %v", got, allocated[0])
	}
	if len(allocated) != 3 {
		t.Fatalf("expected 3 frames drawn for a 3-page request, got %d", len(allocated))
	}
	if len(mapped) != 3 {
		t.Fatalf("expected each drawn frame mapped, got %d map calls", len(mapped))
	}
}

func TestSysAllocFailsWithoutSeamsWired(t *testing.T) {
	resetState(t)

	var stat uint64
	if got := sysAlloc(uintptr(mem.PageSize), &stat); got != nil {
		t.Fatal("expected sysAlloc to fail closed when neither seam is wired")
	}
}
