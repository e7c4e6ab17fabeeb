// Package vmm implements the Sv39 three-level virtual-memory engine: walk,
// map, unmap, translate, and the identity-mapping helpers used throughout
// boot and task setup, per spec.md §4.2.
package vmm

import "github.com/bigjr-mkkong/rs-micros/kernel/mem"

// EntryBits are the Sv39 page-table-entry access/status bits.
type EntryBits uint64

const (
	None    EntryBits = 0
	Valid   EntryBits = 1 << 0
	Read    EntryBits = 1 << 1
	Write   EntryBits = 1 << 2
	Execute EntryBits = 1 << 3
	User    EntryBits = 1 << 4
	Global  EntryBits = 1 << 5
	Access  EntryBits = 1 << 6
	Dirty   EntryBits = 1 << 7

	// Convenience combinations, matching original_source's vm.rs.
	ReadWrite        = Read | Write
	ReadExecute      = Read | Execute
	ReadWriteExecute = Read | Write | Execute
)

// pteEntryShift is where the PPN field begins within a PTE.
const pteEntryShift = 10

// PTE is a single Sv39 page-table entry.
type PTE uint64

// IsValid reports whether the V bit is set.
func (p PTE) IsValid() bool {
	return p&PTE(Valid) != 0
}

// IsLeaf reports whether any of R/W/X is set.
func (p PTE) IsLeaf() bool {
	return p&PTE(ReadWriteExecute) != 0
}

// ChildTable returns the physical address of the table this (non-leaf)
// entry points to: (entry & ~0x3ff) << 2.
func (p PTE) ChildTable() uintptr {
	return uintptr((p &^ 0x3ff) << 2)
}

// leafPTE builds a valid leaf entry for physical frame addr with the given
// access bits.
func leafPTE(addr uintptr, bits EntryBits) PTE {
	ppn := uint64(addr) >> mem.PageShift
	return PTE(ppn<<pteEntryShift) | PTE(bits) | PTE(Valid)
}

// branchPTE builds a valid, non-leaf entry pointing at the child table
// physical address addr.
func branchPTE(addr uintptr) PTE {
	ppn := uint64(addr) >> mem.PageShift
	return PTE(ppn<<pteEntryShift) | PTE(Valid)
}

// PageTable is a single Sv39 page-table level: 512 eight-byte entries.
type PageTable struct {
	Entries [512]PTE
}

// vpn splits a virtual address into its three 9-bit VPN slices, VPN[2] last.
func vpn(vaddr uintptr) [3]uint64 {
	return [3]uint64{
		(uint64(vaddr) >> 12) & 0x1ff,
		(uint64(vaddr) >> 21) & 0x1ff,
		(uint64(vaddr) >> 30) & 0x1ff,
	}
}
