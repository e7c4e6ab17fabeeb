// Package ktask holds the kernel's built-in task entry points: the per-hart
// IRQ worker that drains the external-interrupt ring (spec.md §4.9) and a
// liveness-check idle task kept in the shape of original_source's
// ktask.rs (KHello_cpu0/KHello_cpu1), used as every hart's fallback task.
package ktask

import (
	"github.com/bigjr-mkkong/rs-micros/kernel/cpu"
	"github.com/bigjr-mkkong/rs-micros/kernel/irq"
	"github.com/bigjr-mkkong/rs-micros/kernel/kfmt/early"
	"github.com/bigjr-mkkong/rs-micros/kernel/ksem"
	"github.com/bigjr-mkkong/rs-micros/kernel/trap"
	"github.com/bigjr-mkkong/rs-micros/kernel/uart"
)

// uartSems and suartHandles are wired once per hart by kernel/kmain before
// IRQWorker is ever scheduled on that hart; the same per-hart-array seam
// kernel/trap uses for its own UART semaphore wiring.
var (
	uartSems     [cpu.MaxHarts]*ksem.Semaphore
	suartHandles [cpu.MaxHarts]*uart.SHandle
)

// SetUARTSemaphore installs hart's UART-worker-wakeup semaphore.
func SetUARTSemaphore(hart uint64, s *ksem.Semaphore) { uartSems[hart] = s }

// SetSUART installs the S-mode UART handle hart's worker prints through.
func SetSUART(hart uint64, h *uart.SHandle) { suartHandles[hart] = h }

// drainOne dequeues a single request from ring and, for the UART source,
// prints its byte via suart. Reports whether a request was actually
// dequeued, so callers/tests can tell an empty ring from a dispatched one.
func drainOne(ring *irq.Ring, suart *uart.SHandle) bool {
	req, ok := ring.Dequeue()
	if !ok {
		return false
	}
	if req.Typ == irq.External && req.ExtintID == trap.UARTSourceID && req.HasData && suart != nil {
		suart.Put(req.Data)
	}
	return true
}

// IRQWorker blocks on its hart's UART semaphore; on wake it drains one
// request from the hart's ring, then loops. A semaphore that was never
// wired, or a Wait failure (no current task identity for the hart), ends
// the loop.
func IRQWorker() {
	hart := cpu.WhichCPU()
	sem := uartSems[hart]
	suart := suartHandles[hart]
	ring := irq.RingFor(hart)

	for {
		if sem == nil {
			return
		}
		if err := sem.Wait(); err != nil {
			return
		}
		drainOne(ring, suart)
	}
}

// Hello is the per-hart idle/fallback task: it never blocks and never
// exits, making it a safe target whenever sched.Fallback is resumed because
// no other task on the hart is schedulable.
func Hello() {
	hart := cpu.WhichCPU()
	for {
		early.Sprintf("Hello from CPU#%d\n", hart)
		cpu.BusyDelay(1e7)
	}
}
