package sched

// resumeFromM and resumeFromS load t's trap frame into the hart's registers
// and satp, then execute mret/sret respectively, per spec.md §4.7. Both are
// bodyless: their bodies live in an architecture-specific assembly file
// this source pack does not carry, matching the teacher's cpu_amd64.go
// convention for CSR-level primitives.
func resumeFromM(t *Task)
func resumeFromS(t *Task)

// resumeFromMFn/resumeFromSFn are the seams Sched/Fallback actually call
// through, defaulting to the real asm-backed functions and overridable in
// tests that need to observe which task was chosen without executing a
// privileged instruction.
var (
	resumeFromMFn = resumeFromM
	resumeFromSFn = resumeFromS
)
