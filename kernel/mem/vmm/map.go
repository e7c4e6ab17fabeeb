package vmm

import (
	"github.com/bigjr-mkkong/rs-micros/kernel"
	"github.com/bigjr-mkkong/rs-micros/kernel/mem"
)

// tableAllocFn allocates a single zeroed physical frame to back a new
// intermediate page table. It defaults to a function that always fails so
// a misconfigured boot sequence gets a clear error instead of a nil-pointer
// fault; the real boot path wires it to the zone allocator (kernel/mem/zone)
// via SetTableAllocFn, the same seam-over-import-cycle technique the
// teacher uses for vmm.SetFrameAllocator.
var tableAllocFn = func() (uintptr, *kernel.Error) {
	return 0, kernel.NewError(kernel.ENOSYS, "vmm", "no table allocator configured")
}

// SetTableAllocFn wires the physical frame allocator used to back newly
// created intermediate page tables.
func SetTableAllocFn(fn func() (uintptr, *kernel.Error)) {
	tableAllocFn = fn
}

// flushFn performs a TLB shootdown for a single virtual address; wired to
// the asm-backed cpu.FlushTLBEntry-equivalent at boot, mockable in tests.
var flushFn = func(vaddr uintptr) {}

// SetFlushFn wires the TLB invalidation primitive.
func SetFlushFn(fn func(vaddr uintptr)) {
	flushFn = fn
}

// Map descends VPN[2] -> VPN[1], allocating any missing intermediate table
// with a fresh frame, then installs a leaf at level 0 (this kernel never
// requests a huge-page leaf) with PPN|bits|Valid. Fails with EFAULT if bits
// carries none of R/W/X.
func Map(root *PageTable, vaddr, paddr uintptr, bits EntryBits) *kernel.Error {
	if bits&ReadWriteExecute == 0 {
		return kernel.NewError(kernel.EFAULT, "vmm", "map requires at least one of R/W/X")
	}

	v := vpn(vaddr)
	table := root

	for level := 2; level >= 1; level-- {
		idx := v[level]
		entry := table.Entries[idx]

		if !entry.IsValid() {
			childAddr, err := tableAllocFn()
			if err != nil {
				return err
			}
			table.Entries[idx] = branchPTE(childAddr)
			entry = table.Entries[idx]
		} else if entry.IsLeaf() {
			return kernel.NewError(kernel.EFAULT, "vmm", "map collides with an existing huge-page leaf")
		}

		table = (*PageTable)(ptrFromPhys(entry.ChildTable()))
	}

	table.Entries[v[0]] = leafPTE(paddr, bits)
	return nil
}

// Unmap walks down to the first leaf covering vaddr, clears its Valid bit,
// and issues a TLB shootdown. Walks that hit an invalid entry terminate
// silently (no error), matching spec.md §4.2.
func Unmap(root *PageTable, vaddr uintptr) {
	v := vpn(vaddr)
	table := root

	for level := 2; level >= 0; level-- {
		idx := v[level]
		entry := table.Entries[idx]
		if !entry.IsValid() {
			return
		}
		if entry.IsLeaf() {
			table.Entries[idx] = 0
			flushFn(vaddr)
			return
		}
		table = (*PageTable)(ptrFromPhys(entry.ChildTable()))
	}
}

// VirtToPhys returns the physical address a leaf covering vaddr maps to,
// folding in the offset implied by the leaf's level, or ok=false if the
// walk hits an invalid entry before finding a leaf.
func VirtToPhys(root *PageTable, vaddr uintptr) (uintptr, bool) {
	v := vpn(vaddr)
	table := root

	for level := 2; level >= 0; level-- {
		idx := v[level]
		entry := table.Entries[idx]
		if !entry.IsValid() {
			return 0, false
		}
		if entry.IsLeaf() {
			base := entry.ChildTable()
			offsetMask := levelOffsetMask(level)
			return (base &^ offsetMask) | (vaddr & offsetMask), true
		}
		table = (*PageTable)(ptrFromPhys(entry.ChildTable()))
	}
	return 0, false
}

// levelOffsetMask returns the bit mask covering the offset-within-leaf bits
// for a leaf installed at the given Sv39 level (0 -> 4 KiB, 1 -> 2 MiB,
// 2 -> 1 GiB).
func levelOffsetMask(level int) uintptr {
	switch level {
	case 0:
		return uintptr(mem.PageSize) - 1
	case 1:
		return uintptr(mem.PageSize)<<9 - 1
	default:
		return uintptr(mem.PageSize)<<18 - 1
	}
}

// IdentityRangeMap rounds begin down and end up to frame boundaries and
// calls Map on each frame in the (now frame-aligned) range, mapping vaddr
// == paddr, per spec.md §4.2.
func IdentityRangeMap(root *PageTable, begin, end uintptr, bits EntryBits) *kernel.Error {
	begin = mem.AlignDown(begin)
	end = mem.AlignUp(end)

	for addr := begin; addr < end; addr += uintptr(mem.PageSize) {
		if err := Map(root, addr, addr, bits); err != nil {
			return err
		}
	}
	return nil
}

// RangeUnmap calls Unmap frame-by-frame over [begin, end).
func RangeUnmap(root *PageTable, begin, end uintptr) {
	begin = mem.AlignDown(begin)
	end = mem.AlignUp(end)

	for addr := begin; addr < end; addr += uintptr(mem.PageSize) {
		Unmap(root, addr)
	}
}
