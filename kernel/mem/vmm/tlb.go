package vmm

// FlushTLBEntry invalidates the TLB entry for a single virtual address via
// sfence.vma rs1=vaddr, rs2=x0. Bodyless by design: its body lives in an
// architecture-specific assembly file this source pack does not carry, the
// same convention the teacher uses for cpu_amd64.go's CSR primitives.
func FlushTLBEntry(vaddr uintptr)

// FlushTLBAll invalidates every TLB entry via sfence.vma rs1=x0 rs2=x0.
func FlushTLBAll()

// SwitchPageTable installs root as the active page table by writing satp
// and issuing a full TLB flush.
func SwitchPageTable(root *PageTable, asid uint64)

func init() {
	// Wire the real flush primitive as the default; boot-time or test code
	// may override it via SetFlushFn (see map.go).
	flushFn = FlushTLBEntry
}
