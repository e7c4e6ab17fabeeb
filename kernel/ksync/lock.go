// Package ksync provides the privilege-aware spin mutexes this kernel uses
// to guard every static table (zones, page tree, pidmap, task pool,
// semaphores, IRQ rings, the UART wrappers). A Lock is parameterized over a
// Policy that decides which interrupt-enable CSR gets saved/cleared on
// acquisition and restored on release, generalizing original_source's single
// non-tagged irq_mutex per spec.md's "mode-tagged generics" design note.
package ksync

import (
	"sync/atomic"

	"github.com/bigjr-mkkong/rs-micros/kernel/cpu"
)

// Policy abstracts the interrupt save/restore pair a Lock performs around
// its critical section.
type Policy interface {
	cli() uint64
	sti(saved uint64)
}

// MPolicy saves and clears mie on acquisition; release restores mie only if
// the current mie reads as zero, mirroring cpu.MSti's nested-disable safety.
type MPolicy struct{}

func (MPolicy) cli() uint64        { return cpu.MCli() }
func (MPolicy) sti(saved uint64)   { cpu.MSti(saved) }

// SPolicy saves and clears sie on acquisition and unconditionally restores
// it on release.
type SPolicy struct{}

func (SPolicy) cli() uint64      { return cpu.SCli() }
func (SPolicy) sti(saved uint64) { cpu.SSti(saved) }

// CriticalPolicy disables both mie and sie. It backs the semaphore wait
// queue, which can be touched from either an M-mode trap handler or
// ordinary S-mode kernel-task code, per spec.md §5's lock-ordering table.
type CriticalPolicy struct{}

func (CriticalPolicy) cli() uint64 {
	mSaved := cpu.MCli()
	sSaved := cpu.SCli()
	return mSaved<<32 | sSaved
}

func (CriticalPolicy) sti(saved uint64) {
	cpu.SSti(saved & 0xffffffff)
	cpu.MSti(saved >> 32)
}

// Lock is a spin mutex tagged with a Policy. Unlike sync.Mutex it is not
// reentrant: acquiring a Lock already held by the calling hart deadlocks,
// matching the spec's "no reentrance" contract; callers are responsible for
// lock ordering across the structures named in spec.md §5.
type Lock[P Policy] struct {
	locked atomic.Bool
	saved  uint64
	policy P
}

// NewLock returns an unlocked Lock.
func NewLock[P Policy]() Lock[P] {
	return Lock[P]{}
}

// Guard is returned by Lock.Lock and restores the interrupt mask exactly
// once when Unlock is called, including on panic unwind paths (callers
// should defer guard.Unlock()).
type Guard[P Policy] struct {
	l *Lock[P]
}

// Lock spins until the lock is free, disables the policy's interrupt
// source, and returns a Guard whose Unlock releases both.
func (l *Lock[P]) Lock() Guard[P] {
	saved := l.policy.cli()
	for !l.locked.CompareAndSwap(false, true) {
		// unbounded spin; the caller owns lock ordering.
	}
	l.saved = saved
	return Guard[P]{l: l}
}

// Unlock releases the lock and restores the previously saved interrupt mask.
func (g Guard[P]) Unlock() {
	saved := g.l.saved
	g.l.locked.Store(false)
	g.l.policy.sti(saved)
}
