package cpu

// The functions below have no Go body; their implementation lives in
// assembly (csr_riscv64.s, supplied by the board/runtime integration and
// not part of this retrieval pack) the same way the teacher's amd64 port
// declares EnableInterrupts/DisableInterrupts/Halt/FlushTLBEntry without a
// body here.

// EnableInterrupts sets the current privilege level's interrupt-enable bit
// (mie when called from M-mode, sie when called from S-mode; the assembly
// stub reads the active mode to decide which CSR to touch).
func EnableInterrupts()

// DisableInterrupts clears the current privilege level's interrupt-enable bit.
func DisableInterrupts()

// Halt stops instruction execution on the calling hart (wfi loop).
func Halt()

// MCli disables M-mode external/timer/software interrupts by clearing mie
// and returns the previous mie value, for use by the MLock policy.
func MCli() uint64

// MSti restores mie from saved, but only if the current mie reads as zero;
// this mirrors original_source's cpu::M_sti, which refuses to overwrite a
// nested Cli/Sti pair's in-flight save.
func MSti(saved uint64)

// SCli disables S-mode interrupts by clearing sie and returns the previous
// sie value, for use by the SLock policy.
func SCli() uint64

// SSti restores sie from saved.
func SSti(saved uint64)

// ReadMie returns the current value of mie.
func ReadMie() uint64

// ReadSie returns the current value of sie.
func ReadSie() uint64

// WhichCPU returns the index of the calling hart, read out of the active
// trap frame reachable via mscratch/sscratch per original_source's
// which_cpu().
func WhichCPU() uint64

// MakeSatp builds a satp CSR value for Sv39 mode from a page-table root
// physical address: satp = (8 << 60) | (pageRootPhys >> 12).
func MakeSatp(pageRootPhys uintptr) uint64

// ReadMtime returns the CLINT-visible mtime counter value.
func ReadMtime() uint64

// ActiveHartTrapFrame returns a pointer to the calling hart's currently
// scratch-registered TrapFrame (mscratch in M-mode, sscratch in S-mode).
func ActiveHartTrapFrame() *TrapFrame

// CurrentMode returns the Mode tag stashed in the active trap frame.
func CurrentMode() Mode

// ReadMPP returns the privilege mode mstatus.MPP recorded at the most
// recent M-mode trap entry, i.e. the mode execution will resume to once
// the trap handler's mret runs.
func ReadMPP() Mode

// ReadSPP returns the privilege mode sstatus.SPP recorded at the most
// recent S-mode trap entry.
func ReadSPP() Mode

// WriteSatp installs value (built by MakeSatp) into the satp CSR, turning on
// Sv39 paging for the calling hart.
func WriteSatp(value uint64)

// SfenceVMA issues an sfence.vma for vaddr, or for the entire TLB if vaddr
// is 0, matching original_source's cpu::sfence_vma.
func SfenceVMA(vaddr uintptr)
