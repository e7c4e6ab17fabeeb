package vmm

import "unsafe"

// ptrFromPhys reinterprets a physical table address as a *PageTable. This
// kernel runs without a higher-half split (identity-mapped kernel image
// plus identity-mapped page tables), so physical and virtual addresses of
// table pages coincide; a kernel that separated them would translate here
// instead.
func ptrFromPhys(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(addr)
}

// NewRootTable returns a fresh, all-zero root page table. Callers typically
// back this with a frame drawn through SetTableAllocFn's allocator rather
// than a Go-heap allocation, once the boot sequence is standing.
func NewRootTable() *PageTable {
	return &PageTable{}
}
