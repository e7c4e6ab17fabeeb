package vmm

import (
	"testing"
	"unsafe"

	"github.com/bigjr-mkkong/rs-micros/kernel"
	"github.com/bigjr-mkkong/rs-micros/kernel/mem"
)

// fakeTablePool backs tableAllocFn with real, GC-pinned PageTable structs so
// ptrFromPhys's identity-mapped cast round-trips safely inside a test
// process that has no actual physical memory.
type fakeTablePool struct {
	tables []*PageTable
}

func (p *fakeTablePool) alloc() (uintptr, *kernel.Error) {
	t := &PageTable{}
	p.tables = append(p.tables, t)
	return uintptr(unsafe.Pointer(t)), nil
}

func withFakePool(t *testing.T) *fakeTablePool {
	t.Helper()
	pool := &fakeTablePool{}
	prevAlloc := tableAllocFn
	prevFlush := flushFn
	tableAllocFn = pool.alloc
	flushFn = func(uintptr) {}
	t.Cleanup(func() {
		tableAllocFn = prevAlloc
		flushFn = prevFlush
	})
	return pool
}

func TestMapRejectsNoAccessBits(t *testing.T) {
	withFakePool(t)
	root := NewRootTable()

	err := Map(root, 0x1000, 0x1000, None)
	if err == nil || err.Kind != kernel.EFAULT {
		t.Fatalf("expected EFAULT mapping with no R/W/X bits; got %v", err)
	}
}

func TestMapThenVirtToPhysRoundTrip(t *testing.T) {
	withFakePool(t)
	root := NewRootTable()

	vaddr := uintptr(0x4000_1000)
	paddr := uintptr(0x8020_3000)

	if err := Map(root, vaddr, paddr, ReadWrite); err != nil {
		t.Fatalf("Map failed: %v", err)
	}

	got, ok := VirtToPhys(root, vaddr)
	if !ok {
		t.Fatal("expected VirtToPhys to find the mapped leaf")
	}
	if got != paddr {
		t.Fatalf("VirtToPhys = %x, want %x", got, paddr)
	}
}

func TestMapWithOffsetWithinFrame(t *testing.T) {
	withFakePool(t)
	root := NewRootTable()

	vaddr := uintptr(0x4000_1000)
	paddr := uintptr(0x8020_3000)

	if err := Map(root, vaddr, paddr, ReadWrite); err != nil {
		t.Fatalf("Map failed: %v", err)
	}

	got, ok := VirtToPhys(root, vaddr+0x42)
	if !ok {
		t.Fatal("expected VirtToPhys to find the mapped leaf")
	}
	if want := paddr + 0x42; got != want {
		t.Fatalf("VirtToPhys = %x, want %x", got, want)
	}
}

func TestUnmapClearsTranslation(t *testing.T) {
	withFakePool(t)
	root := NewRootTable()

	vaddr := uintptr(0x4000_1000)
	paddr := uintptr(0x8020_3000)

	if err := Map(root, vaddr, paddr, ReadWrite); err != nil {
		t.Fatalf("Map failed: %v", err)
	}

	Unmap(root, vaddr)

	if _, ok := VirtToPhys(root, vaddr); ok {
		t.Fatal("expected VirtToPhys to fail after Unmap")
	}
}

func TestUnmapOfUnmappedAddressIsNoop(t *testing.T) {
	withFakePool(t)
	root := NewRootTable()

	Unmap(root, 0x9000_0000)
}

func TestIdentityRangeMapCoversEveryFrame(t *testing.T) {
	withFakePool(t)
	root := NewRootTable()

	begin := uintptr(0x8000_0000)
	end := begin + uintptr(mem.PageSize)*4

	if err := IdentityRangeMap(root, begin, end, ReadWriteExecute); err != nil {
		t.Fatalf("IdentityRangeMap failed: %v", err)
	}

	for addr := begin; addr < end; addr += uintptr(mem.PageSize) {
		got, ok := VirtToPhys(root, addr)
		if !ok {
			t.Fatalf("expected %x to be mapped", addr)
		}
		if got != addr {
			t.Fatalf("identity map broken at %x: got %x", addr, got)
		}
	}
}

func TestRangeUnmapClearsEveryFrame(t *testing.T) {
	withFakePool(t)
	root := NewRootTable()

	begin := uintptr(0x8000_0000)
	end := begin + uintptr(mem.PageSize)*4

	if err := IdentityRangeMap(root, begin, end, ReadWrite); err != nil {
		t.Fatalf("IdentityRangeMap failed: %v", err)
	}
	RangeUnmap(root, begin, end)

	for addr := begin; addr < end; addr += uintptr(mem.PageSize) {
		if _, ok := VirtToPhys(root, addr); ok {
			t.Fatalf("expected %x to be unmapped", addr)
		}
	}
}

func TestMapAllocatesIntermediateTablesOnce(t *testing.T) {
	pool := withFakePool(t)
	root := NewRootTable()

	// Two leaves sharing the same VPN[2]/VPN[1] pair must share a single
	// pair of intermediate tables rather than allocating fresh ones.
	base := uintptr(0x4000_0000)
	if err := Map(root, base, 0x8000_0000, ReadWrite); err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	if err := Map(root, base+uintptr(mem.PageSize), 0x8000_1000, ReadWrite); err != nil {
		t.Fatalf("Map failed: %v", err)
	}

	if got, want := len(pool.tables), 2; got != want {
		t.Fatalf("expected %d intermediate tables allocated, got %d", want, got)
	}
}
