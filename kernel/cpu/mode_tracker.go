package cpu

import "sync/atomic"

// perHartMode tracks each hart's current privilege mode, set explicitly by
// the trap dispatcher on entry/exit (mirroring original_source's
// set_cpu_mode/get_cpu_mode), independent of CurrentMode's CSR-derived
// trap-frame tag -- callers like the scheduler and semaphore need to ask
// "what mode is hart H in right now" for a hart other than the caller's
// own, which ActiveHartTrapFrame cannot answer.
//
// This uses a raw spinlock rather than ksync.Lock: cpu is the bottom of the
// dependency stack (locks depend on CSR primitives, not the reverse), so it
// cannot import ksync without creating a cycle.
var (
	modeLock    atomic.Bool
	perHartMode [MaxHarts]Mode
)

func lockModeTable() {
	for !modeLock.CompareAndSwap(false, true) {
	}
}

func unlockModeTable() {
	modeLock.Store(false)
}

// SetCurrentModeFor records hart's current privilege mode.
func SetCurrentModeFor(hart uint64, mode Mode) {
	lockModeTable()
	perHartMode[hart] = mode
	unlockModeTable()
}

// CurrentModeFor returns hart's last-recorded privilege mode.
func CurrentModeFor(hart uint64) Mode {
	lockModeTable()
	defer unlockModeTable()
	return perHartMode[hart]
}
