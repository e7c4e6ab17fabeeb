// Package cpu provides RV64/Sv39 privilege-level primitives: the Mode enum,
// the per-hart TrapFrame, and the CSR-level operations (interrupt
// enable/disable, satp construction, the hart identity helper) that every
// other subsystem in this kernel is built on top of.
package cpu

// MaxHarts bounds the number of harts this kernel schedules across.
const MaxHarts = 4

// Mode identifies the RISC-V privilege level (or pseudo-level) a hart is
// currently operating under.
type Mode uint8

const (
	// User is U-mode. Unused by this kernel (no user-mode tasks) but kept
	// for completeness of the trap-frame cur_mode tag.
	User Mode = iota
	// Supervisor is S-mode, where scheduled kernel tasks normally run.
	Supervisor
	// Machine is M-mode.
	Machine
	// Machine_IRH denotes "inside the M-mode trap handler" -- distinct
	// from plain Machine so scheduler mode-checks can tell a nested trap
	// apart from ordinary machine-mode execution.
	Machine_IRH
)

// String renders the mode name, mainly for early.Printf diagnostics.
func (m Mode) String() string {
	switch m {
	case User:
		return "User"
	case Supervisor:
		return "Supervisor"
	case Machine:
		return "Machine"
	case Machine_IRH:
		return "Machine_IRH"
	default:
		return "Unknown"
	}
}

// TrapFrame holds the saved CPU state at trap entry, sufficient to resume
// the interrupted context. One instance exists per hart (KernelTrapFrame)
// and one is embedded in every scheduled task.
//
// Invariant: the active trap frame's address is held in the current
// privilege level's scratch CSR (mscratch in M-mode, sscratch in S-mode).
// Invariant: TrapFrame.Cpuid equals the owning hart's index for all time
// after boot.
type TrapFrame struct {
	// Regs holds the 32 general purpose registers, x0..x31.
	Regs [32]uint64

	// FRegs is reserved for the 32 floating point registers; this kernel
	// does not context-switch floating point state but reserves the slot
	// per the data model so a future extension does not change layout.
	FRegs [32]uint64

	// Satp is the address-translation root active for this context.
	Satp uint64

	// TrapStack points at the top of this hart/task's exception stack,
	// used by the assembly trap stub when entering a nested trap.
	TrapStack uintptr

	// Hartid is the owning hart's index.
	Hartid uint64

	// CurMode records the privilege level this frame was captured under.
	CurMode Mode

	// Cpuid mirrors Hartid; kept distinct because original_source tracks
	// it as a separate field read by which_cpu() before Hartid is known
	// to be trustworthy (e.g. before CSR mhartid has been mirrored here).
	Cpuid uint64

	// SavedMie stores mie across a Cli/Sti ecall pair or a Critical task
	// entry, per the mode-tagged lock contract.
	SavedMie uint64
}

// Refresh copies register and satp state from src into the receiver while
// preserving the receiver's own TrapStack pointer, matching
// original_source's task_struct::save/refresh_from semantics: a task's
// exception stack never changes once allocated.
func (tf *TrapFrame) Refresh(src *TrapFrame) {
	savedStack := tf.TrapStack
	*tf = *src
	tf.TrapStack = savedStack
}

// NewTrapFrame returns a zero-value TrapFrame, matching original_source's
// TrapFrame::new() const constructor.
func NewTrapFrame() TrapFrame {
	return TrapFrame{}
}
