// Package trap implements the M-mode and S-mode trap dispatchers: cause
// decoding, the ecall opcode handler, the external-interrupt pipeline that
// feeds the per-hart IRQ ring, and the core-dump-then-panic path for
// unrecoverable traps, per spec.md §4.4/§4.5/§4.9.
package trap

import (
	"github.com/bigjr-mkkong/rs-micros/kernel"
	"github.com/bigjr-mkkong/rs-micros/kernel/cpu"
	"github.com/bigjr-mkkong/rs-micros/kernel/clint"
	"github.com/bigjr-mkkong/rs-micros/kernel/ecall"
	"github.com/bigjr-mkkong/rs-micros/kernel/irq"
	"github.com/bigjr-mkkong/rs-micros/kernel/kfmt/early"
	"github.com/bigjr-mkkong/rs-micros/kernel/ksem"
	"github.com/bigjr-mkkong/rs-micros/kernel/plic"
	"github.com/bigjr-mkkong/rs-micros/kernel/sched"
	"github.com/bigjr-mkkong/rs-micros/kernel/uart"
)

// plicFn, clintFn, and muartFn are wired once at boot by kernel/kmain, the
// same indirection used by kheap.SetMapFn and vmm.SetTableAllocFn.
var (
	plicFn  = func() *plic.Controller { return nil }
	clintFn = func() *clint.Controller { return nil }
	muartFn = func() *uart.MHandle { return nil }

	uartSems [cpu.MaxHarts]*ksem.Semaphore
)

// SetPLIC wires the PLIC controller the external-interrupt handler claims
// and completes against.
func SetPLIC(p *plic.Controller) { plicFn = func() *plic.Controller { return p } }

// SetCLINT wires the CLINT controller the M-timer handler rearms.
func SetCLINT(c *clint.Controller) { clintFn = func() *clint.Controller { return c } }

// SetMUART wires the M-mode UART handle the external-interrupt handler
// reads a byte from when the claimed source is the UART (id 10).
func SetMUART(h *uart.MHandle) { muartFn = func() *uart.MHandle { return h } }

// SetUARTSemaphore installs hart's UART-worker-wakeup semaphore, signaled
// whenever the external-interrupt handler queues a request for that hart.
func SetUARTSemaphore(hart uint64, s *ksem.Semaphore) { uartSems[hart] = s }

// readMPPFn, readSPPFn, mCliFn, and mStiFn are seams over the bodyless CSR
// primitives so trap dispatch can be exercised without real privileged
// state, the same pattern sched.Pool uses over cpu.MCli.
var (
	readMPPFn = cpu.ReadMPP
	readSPPFn = cpu.ReadSPP
	mCliFn    = cpu.MCli
	mStiFn    = cpu.MSti
)

// UARTSourceID is the PLIC source id the M-external handler special-cases
// for inline byte readout, per spec.md §4.4. kernel/kmain wires the same id
// into the PLIC's per-hart enable bits, and kernel/ktask's irq_worker
// matches against it when dispatching a dequeued request.
const UARTSourceID = 10

const uartExtintID = UARTSourceID

func causeNum(xcause uint64) uint64 {
	return xcause & 0xfff
}

func isAsyncCause(xcause uint64) bool {
	return xcause>>63&1 == 1
}

func coreDumpAndPanic(hart, xepc, xtval, xstatus uint64, frame *cpu.TrapFrame, msg string) {
	var satp uint64
	if frame != nil {
		satp = frame.Satp
	}
	kernel.PanicWithDump(
		kernel.NewError(kernel.EFAULT, "trap", msg),
		&kernel.CoreDump{Hart: hart, Xepc: xepc, Xtval: xtval, Xstatus: xstatus, Satp: satp},
	)
}

// syncCauseName names the synchronous exception causes that always
// core-dump, matching the diagnostics original_source/src/trap.rs prints
// before panicking.
func syncCauseName(cause uint64) string {
	switch cause {
	case 0:
		return "instruction address misaligned"
	case 1:
		return "instruction access fault"
	case 2:
		return "illegal instruction"
	case 4:
		return "load address misaligned"
	case 5:
		return "load access fault"
	case 6:
		return "store/amo address misaligned"
	case 7:
		return "store/amo access fault"
	case 12:
		return "instruction page fault"
	case 13:
		return "load page fault"
	case 15:
		// REDESIGN FLAG: original_source advances pc and returns here
		// without panicking, which looks like an oversight since every
		// other page-fault cause core-dumps; spec.md §4.4 lists 15
		// alongside the other unrecoverable sync causes.
		return "store page fault"
	default:
		return "unhandled sync trap"
	}
}

// STrap is the S-mode trap entry point. Only software (cause 3) and
// S-external (cause 9) interrupts are expected here, both merely logged;
// anything else -- including any synchronous exception, since this kernel
// delegates all exceptions to M-mode -- is unrecoverable.
func STrap(xepc, xtval, xcause, hart, xstatus uint64, frame *cpu.TrapFrame) uint64 {
	cpu.SetCurrentModeFor(hart, cpu.Supervisor)
	spp := readSPPFn()

	pcRet := xepc

	if isAsyncCause(xcause) {
		switch causeNum(xcause) {
		case 3:
			early.Sprintf("Supervisor: SW Interrupt at CPU#%d\n", hart)
		case 9:
			early.Sprintf("Supervisor: Ext Interrupt at CPU#%d\n", hart)
		default:
			coreDumpAndPanic(hart, xepc, xtval, xstatus, frame, "S-mode: unhandled async trap")
		}
	} else {
		coreDumpAndPanic(hart, xepc, xtval, xstatus, frame, "exception trapped at S-mode")
	}

	cpu.SetCurrentModeFor(hart, spp)
	return pcRet
}

// MTrap is the M-mode trap entry point: the only place in this kernel that
// may switch task contexts, per spec.md §4.4.
func MTrap(xepc, xtval, xcause, hart, xstatus uint64, frame *cpu.TrapFrame) uint64 {
	cpu.SetCurrentModeFor(hart, cpu.Machine_IRH)
	mpp := readMPPFn()

	pcRet := xepc

	if isAsyncCause(xcause) {
		switch causeNum(xcause) {
		case 3:
			early.Mprintf("Machine SW Interrupt at CPU#%d\n", hart)
		case 7:
			early.Mprintf("Machine Timer Interrupt at CPU#%d\n", hart)
			if c := clintFn(); c != nil {
				c.Rearm(hart)
			}
		case 11:
			dispatchExternalInterrupt(hart)
		default:
			early.Mprintf("Unhandled async trap on CPU#%d\n", hart)
			coreDumpAndPanic(hart, xepc, xtval, xstatus, frame, "unhandled async trap")
		}
	} else {
		switch causeNum(xcause) {
		case 3:
			// ebreak
			pcRet += 4
		case 8, 9, 11:
			dispatchEcall(hart, frame, pcRet)
			pcRet += 4
		case 0, 1, 2, 4, 5, 6, 7, 12, 13, 15:
			msg := syncCauseName(causeNum(xcause))
			early.Mprintf("%s at CPU#%d\n", msg, hart)
			coreDumpAndPanic(hart, xepc, xtval, xstatus, frame, msg)
		default:
			early.Mprintf("Unhandled sync trap at CPU#%d\n", hart)
			coreDumpAndPanic(hart, xepc, xtval, xstatus, frame, "unhandled sync trap")
		}
	}

	cpu.SetCurrentModeFor(hart, mpp)
	return pcRet
}

// dispatchExternalInterrupt handles cause 11 (M-external): claim an
// interrupt id from this hart's PLIC M context, special-case the UART
// source by reading one byte inline, complete the claim, and -- unless the
// ring is full, in which case the interrupt is silently dropped -- queue a
// request and wake the UART worker's semaphore.
func dispatchExternalInterrupt(hart uint64) {
	p := plicFn()
	if p == nil {
		return
	}

	ctx := plic.ContextFor(hart, cpu.Machine)
	id := p.Claim(ctx)

	var data byte
	var hasData bool
	if id == uartExtintID {
		if m := muartFn(); m != nil {
			b, ok := m.Get()
			data, hasData = b, ok
			if ok {
				early.Mprintf("Uart extint at CPU#%d: %c\n", hart, b)
			} else {
				early.Mprintf("Uart extint at CPU#%d: Failed\n", hart)
			}
		}
	}

	p.Complete(ctx, id)

	if id == 0 {
		return
	}
	if id != uartExtintID {
		early.Mprintf("Unsupported extint: #%d on CPU#%d\n", id, hart)
	}

	ring := irq.RingFor(hart)
	if ring.IsFull() {
		return
	}
	ring.Push(irq.Request{Typ: irq.External, ExtintID: id, HartID: hart, Data: data, HasData: hasData})

	if sem := uartSems[hart]; sem != nil {
		sem.Signal(hart)
	}
}

// dispatchEcall handles causes 8 (U-ecall), 9 (S-ecall), and 11 (M-ecall)
// uniformly per spec.md §4.4's expansion over original_source (which only
// special-cased S-ecall); pcRet is the trapping pc, already un-advanced.
func dispatchEcall(hart uint64, frame *cpu.TrapFrame, pcRet uint64) {
	slot := ecall.SlotFor(hart)
	pool := sched.Global()

	switch slot.GetOpcode() {
	case ecall.Undef:
		kernel.Panic(kernel.NewError(kernel.EFAULT, "trap", "undefined ecall opcode"))

	case ecall.Yield:
		pool.SaveFromKTrapFrame(hart, frame)
		pool.SetCurrentPC(hart, uintptr(pcRet+4))
		restoreCriticalMie(hart, pool)
		pool.Sched(hart, cpu.Machine_IRH)
		if pool.QueueLen(hart) == 0 {
			pool.Fallback(hart, cpu.Machine_IRH)
		}

	case ecall.Exit:
		pool.RemoveCurTask(hart)
		pool.Sched(hart, cpu.Machine_IRH)
		if pool.QueueLen(hart) == 0 {
			pool.Fallback(hart, cpu.Machine_IRH)
		}

	case ecall.Block:
		args := slot.GetArgs()
		targetPid, targetLifeID := args[0], args[1]
		if err := pool.SetStateByPid(targetPid, targetLifeID, sched.Block); err != nil {
			kernel.Panic(err)
		}
		pool.SaveFromKTrapFrame(hart, frame)
		pool.SetCurrentPC(hart, uintptr(pcRet+4))
		restoreCriticalMie(hart, pool)
		pool.Sched(hart, cpu.Machine_IRH)
		if pool.QueueLen(hart) == 0 {
			pool.Fallback(hart, cpu.Machine_IRH)
		}

	case ecall.Unblock:
		args := slot.GetArgs()
		if err := pool.SetStateByPid(args[0], args[1], sched.Ready); err != nil {
			kernel.Panic(err)
		}

	case ecall.Cli:
		frame.SavedMie = mCliFn()
		slot.SetRet(0)

	case ecall.Sti:
		mStiFn(frame.SavedMie)

	default:
		kernel.Panic(kernel.NewError(kernel.EFAULT, "trap", "undefined ecall opcode"))
	}
}

// restoreCriticalMie restores a just-exited Critical task's saved
// interrupt mask before the pool schedules the next task, per spec.md
// §4.5's Yield invariant.
func restoreCriticalMie(hart uint64, pool *sched.Pool) {
	t, err := pool.Current(hart)
	if err != nil || t.Flag != sched.Critical {
		return
	}
	mStiFn(pool.CritTaskMie(hart))
}
