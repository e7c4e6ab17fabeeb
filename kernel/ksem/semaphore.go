// Package ksem implements the kernel semaphore with cross-privilege
// signaling: a wait that must block always traps to M-mode via ecall Block, while signal
// takes an in-handler fast path when the caller is already in M-mode,
// per spec.md §4.8.
package ksem

import (
	"github.com/bigjr-mkkong/rs-micros/kernel"
	"github.com/bigjr-mkkong/rs-micros/kernel/cpu"
	"github.com/bigjr-mkkong/rs-micros/kernel/ecall"
	"github.com/bigjr-mkkong/rs-micros/kernel/ksync"
)

// waiter identifies a blocked task by its ABA-safe (pid, life_id) pair.
type waiter struct {
	pid    uint64
	lifeID uint64
}

// Semaphore is a counting semaphore whose counter may go negative; a
// negative value's magnitude equals the number of queued waiters.
type Semaphore struct {
	cntLock ksync.Lock[ksync.SPolicy]
	cnt     int64

	// qLock uses the Critical policy (masks both M and S interrupts) per
	// spec.md §5's lock-ordering table naming the wait queue as a
	// cross-privilege-touched structure.
	qLock ksync.Lock[ksync.CriticalPolicy]
	queue []waiter
}

// New returns a Semaphore with the given non-negative initial counter.
func New(initial int64) (*Semaphore, *kernel.Error) {
	if initial < 0 {
		return nil, kernel.NewError(kernel.EINVAL, "ksem", "semaphore counter must be non-negative")
	}
	return &Semaphore{cnt: initial}, nil
}

// currentIdentityFn resolves the calling hart's (pid, life_id); wired to
// the scheduler's task pool rather than imported statically so ksem's
// dependency on a *specific* pool instance stays a seam, the same
// indirection used between kheap and zone.
var currentIdentityFn = func(hart uint64) (pid, lifeID uint64, kerr *kernel.Error) {
	return 0, 0, kernel.NewError(kernel.ENOSYS, "ksem", "no current-identity resolver configured")
}

// SetCurrentIdentityFn wires the (pid, life_id) resolver used by Wait.
func SetCurrentIdentityFn(fn func(hart uint64) (uint64, uint64, *kernel.Error)) {
	currentIdentityFn = fn
}

// setStateByPidFn is wired to the scheduler's SetStateByPid so Signal's
// M-mode fast path can mark a waiter Ready without an ecall.
var setStateByPidFn = func(pid, lifeID uint64) *kernel.Error {
	return kernel.NewError(kernel.ENOSYS, "ksem", "no set-state-by-pid resolver configured")
}

// SetSetStateByPidFn wires the scheduler hook Signal's M-mode fast path
// uses to mark a waiter directly Ready.
func SetSetStateByPidFn(fn func(pid, lifeID uint64) *kernel.Error) {
	setStateByPidFn = fn
}

// hartIDFn resolves the calling hart; wired to cpu.WhichCPU by default.
var hartIDFn = cpu.WhichCPU

// Wait decrements the counter; if it goes negative the caller's (pid,
// life_id) is queued and the caller traps to M-mode via ecall Block until
// woken.
func (s *Semaphore) Wait() *kernel.Error {
	hart := hartIDFn()
	pid, lifeID, err := currentIdentityFn(hart)
	if err != nil {
		return err
	}

	cg := s.cntLock.Lock()
	s.cnt--
	mustBlock := s.cnt < 0
	cg.Unlock()

	if !mustBlock {
		return nil
	}

	qg := s.qLock.Lock()
	s.queue = append(s.queue, waiter{pid: pid, lifeID: lifeID})
	qg.Unlock()

	ecall.Trap(ecall.Block, [5]uint64{pid, lifeID, 0, 0, 0})
	return nil
}

// Signal increments the counter; if it was at or below zero it pops the
// most recently queued waiter and wakes it. hart identifies the caller's
// own hart explicitly because a caller inside an M-mode IRQ handler cannot
// trust WhichCPU(). When the caller is in Machine or Machine_IRH mode the
// target is marked Ready directly, avoiding a recursive trap from within
// the IRQ dispatcher; otherwise it wakes the target via ecall Unblock.
func (s *Semaphore) Signal(hart uint64) *kernel.Error {
	cg := s.cntLock.Lock()
	s.cnt++
	mustWake := s.cnt <= 0
	cg.Unlock()

	if !mustWake {
		return nil
	}

	qg := s.qLock.Lock()
	if len(s.queue) == 0 {
		qg.Unlock()
		return nil
	}
	last := len(s.queue) - 1
	w := s.queue[last]
	s.queue = s.queue[:last]
	qg.Unlock()

	mode := cpu.CurrentModeFor(hart)
	if mode == cpu.Machine || mode == cpu.Machine_IRH {
		return setStateByPidFn(w.pid, w.lifeID)
	}
	ecall.Trap(ecall.Unblock, [5]uint64{w.pid, w.lifeID, 0, 0, 0})
	return nil
}

// Count returns the current counter value, mainly for tests and
// diagnostics.
func (s *Semaphore) Count() int64 {
	g := s.cntLock.Lock()
	defer g.Unlock()
	return s.cnt
}

// QueueLen returns the number of queued waiters, mainly for tests.
func (s *Semaphore) QueueLen() int {
	g := s.qLock.Lock()
	defer g.Unlock()
	return len(s.queue)
}
