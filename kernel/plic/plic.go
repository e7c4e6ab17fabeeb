// Package plic wraps the SiFive-style platform-level interrupt controller:
// per-source priority, per-context enable bits, claim/complete, and the
// hart/mode -> context index mapping, per spec.md §6.
package plic

import (
	"unsafe"

	"github.com/bigjr-mkkong/rs-micros/kernel"
	"github.com/bigjr-mkkong/rs-micros/kernel/cpu"
	"github.com/bigjr-mkkong/rs-micros/kernel/ksync"
)

// Base is the PLIC's MMIO base address, per spec.md §6.
const Base = 0x0c00_0000

const (
	priorityOff  = 0
	pendingOff   = 0x1000
	enableOff    = 0x2000
	thresholdOff = 0x200000

	enableStride    = 0x80
	thresholdStride = 0x1000
)

// MaxSources is the number of external interrupt source slots this
// controller tracks priorities for.
const MaxSources = 54

// Context identifies a (hart, mode) pair's PLIC context index. Even indices
// are M contexts, odd are S, per the SiFive convention spec.md §6 names.
type Context uint32

// ContextFor returns the PLIC context index for hartID in the given mode.
// Machine and Machine_IRH both map to the hart's M context.
func ContextFor(hartID uint64, mode cpu.Mode) Context {
	base := Context(hartID * 2)
	if mode == cpu.Supervisor || mode == cpu.User {
		return base + 1
	}
	return base
}

// Controller is a PLIC MMIO wrapper plus a priority shadow-cache guarded by
// an M-mode lock, mirroring the teacher's pattern of pairing raw MMIO
// access with a software-side mutex over the same state.
type Controller struct {
	base uintptr

	lock      ksync.Lock[ksync.MPolicy]
	prioCache [MaxSources]uint32
}

// New returns a Controller wrapping the PLIC at base.
func New(base uintptr) *Controller {
	return &Controller{base: base}
}

func regPtr32(addr uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(addr))
}

// SetPriority sets source src's interrupt priority (0-7, 0 disables it).
func (c *Controller) SetPriority(src uint32, prio uint32) *kernel.Error {
	if prio > 7 {
		return kernel.NewError(kernel.EINVAL, "plic", "priority must be 0-7")
	}
	g := c.lock.Lock()
	c.prioCache[src] = prio
	g.Unlock()

	*regPtr32(c.base + priorityOff + uintptr(src)*4) = prio
	return nil
}

// Enable sets the enable bit for src in the given context.
func (c *Controller) Enable(ctx Context, src uint32) {
	addr := c.base + enableOff + uintptr(ctx)*enableStride + uintptr(src/32)*4
	reg := regPtr32(addr)
	*reg = *reg | (1 << (src % 32))
}

// Disable clears the enable bit for src in the given context.
func (c *Controller) Disable(ctx Context, src uint32) {
	addr := c.base + enableOff + uintptr(ctx)*enableStride + uintptr(src/32)*4
	reg := regPtr32(addr)
	*reg = *reg &^ (1 << (src % 32))
}

// SetThreshold sets the priority threshold below which a context's claims
// are masked.
func (c *Controller) SetThreshold(ctx Context, thres uint32) *kernel.Error {
	if thres > 7 {
		return kernel.NewError(kernel.EINVAL, "plic", "threshold must be 0-7")
	}
	*regPtr32(c.base + thresholdOff + uintptr(ctx)*thresholdStride) = thres
	return nil
}

// Claim claims the next pending interrupt id for ctx, or 0 if none pending.
func (c *Controller) Claim(ctx Context) uint32 {
	return *regPtr32(c.base + thresholdOff + uintptr(ctx)*thresholdStride + 4)
}

// Complete signals completion of handling for id in ctx.
func (c *Controller) Complete(ctx Context, id uint32) {
	*regPtr32(c.base + thresholdOff + uintptr(ctx)*thresholdStride + 4) = id
}
