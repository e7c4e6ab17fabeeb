// Package ecall implements the S2M ecall transport: a per-hart slot
// carrying an opcode, five word arguments, and a return word, used by
// S-mode (and M-mode) code to request scheduler and interrupt-mask
// operations that only the M-mode trap dispatcher is allowed to perform.
package ecall

import (
	"github.com/bigjr-mkkong/rs-micros/kernel/cpu"
)

// Opcode identifies the requested M-mode operation.
type Opcode uint8

const (
	Undef Opcode = iota
	Yield
	Exit
	Block
	Unblock
	Cli
	Sti
)

func (o Opcode) String() string {
	switch o {
	case Yield:
		return "Yield"
	case Exit:
		return "Exit"
	case Block:
		return "Block"
	case Unblock:
		return "Unblock"
	case Cli:
		return "Cli"
	case Sti:
		return "Sti"
	default:
		return "Undef"
	}
}

// Slot is a single hart's ecall transport frame.
type Slot struct {
	Op   Opcode
	Args [5]uint64
	Ret  uint64
}

func (s *Slot) GetOpcode() Opcode       { return s.Op }
func (s *Slot) SetOpcode(op Opcode)     { s.Op = op }
func (s *Slot) GetArgs() [5]uint64      { return s.Args }
func (s *Slot) SetArgs(args [5]uint64)  { s.Args = args }
func (s *Slot) GetRet() uint64          { return s.Ret }
func (s *Slot) SetRet(ret uint64)       { s.Ret = ret }

// slots is the process-wide, one-per-hart ecall transport array, the Go
// analogue of original_source's static SECALL_FRAME.
var slots [cpu.MaxHarts]Slot

// doEcall executes the `ecall` instruction, trapping into M-mode with this
// hart's slot already populated. Bodyless by design: its body lives in an
// architecture-specific assembly file this source pack does not carry,
// matching the teacher's cpu_amd64.go convention.
func doEcall()

// doEcallFn is the seam Trap actually calls through, defaulting to the real
// asm-backed doEcall and overridable in tests.
var doEcallFn = doEcall

// SetDoEcallFn overrides the ecall transport primitive; used by tests of
// packages layered on top of ecall (e.g. kernel/ksem) that cannot execute a
// real `ecall` instruction.
func SetDoEcallFn(fn func()) { doEcallFn = fn }

// DoEcallFn returns the currently installed ecall transport primitive, so
// a test can save and later restore it.
func DoEcallFn() func() { return doEcallFn }

// hartIDFn resolves the calling hart for slot indexing; wired to
// cpu.WhichCPU by default and overridable in tests.
var hartIDFn = cpu.WhichCPU

// Trap stores opcode and args into the current hart's slot, executes
// ecall, and returns the value the M-mode dispatcher wrote back.
func Trap(opcode Opcode, args [5]uint64) uint64 {
	hart := hartIDFn()
	slot := &slots[hart]

	slot.SetOpcode(opcode)
	slot.SetArgs(args)
	slot.SetRet(0)

	doEcallFn()

	return slot.GetRet()
}

// SlotFor returns the ecall slot for the given hart, used by the M-mode
// trap dispatcher to read back the opcode and args a trapped hart left
// behind.
func SlotFor(hart uint64) *Slot {
	return &slots[hart]
}
