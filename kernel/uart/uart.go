// Package uart drives a 16550-ish UART at the memory map spec.md §6 names,
// exposing a lock-guarded M-mode and S-mode handle pair over the same
// physical device, each serialized with the mode-tagged spin mutex its
// privilege level owns (spec.md §4.3's "the UART for M vs S" rule).
package uart

import (
	"unsafe"

	"github.com/bigjr-mkkong/rs-micros/kernel/ksync"
)

// Base is the UART's MMIO base address.
const Base = 0x1000_0000

const divisor = 592

const (
	offData = 0
	offIER  = 1
	offLCR  = 3
	offLSR  = 5
)

// Device is a raw UART register wrapper with no internal locking; callers
// reach it only through an M or S Handle.
type Device struct {
	base uintptr
}

// NewDevice returns a Device wrapping the UART at base.
func NewDevice(base uintptr) *Device {
	return &Device{base: base}
}

func (d *Device) reg(off uintptr) *byte {
	return (*byte)(unsafe.Pointer(d.base + off))
}

// Init programs the line-control register, divisor latch, and FIFO enable,
// mirroring original_source's Uart::init.
func (d *Device) Init() {
	lcr := byte((1 << 0) | (1 << 1))
	*d.reg(offLCR) = lcr
	*d.reg(2) = 1 << 0
	*d.reg(offIER) = 1 << 0

	// Set DLAB to expose the divisor latch at offsets 0/1, write the
	// divisor, then clear DLAB again.
	*d.reg(offLCR) = lcr | 1<<7
	*d.reg(offData) = byte(divisor & 0xff)
	*d.reg(offIER) = byte(divisor >> 8)
	*d.reg(offLCR) = lcr
}

// Put writes a single byte to the transmit register.
func (d *Device) Put(ch byte) {
	*d.reg(offData) = ch
}

// Get reads one byte if the line-status register reports data ready,
// otherwise reports ok=false.
func (d *Device) Get() (byte, bool) {
	if *d.reg(offLSR)&1 == 0 {
		return 0, false
	}
	return *d.reg(offData), true
}

// MHandle and SHandle pair a Device with the mode-tagged lock the owning
// privilege level must hold while touching it, per spec.md §4.3.
type MHandle struct {
	dev  *Device
	lock ksync.Lock[ksync.MPolicy]
}

type SHandle struct {
	dev  *Device
	lock ksync.Lock[ksync.SPolicy]
}

// NewMHandle wraps dev for exclusive M-mode access.
func NewMHandle(dev *Device) *MHandle { return &MHandle{dev: dev} }

// NewSHandle wraps dev for exclusive S-mode access.
func NewSHandle(dev *Device) *SHandle { return &SHandle{dev: dev} }

func (h *MHandle) Put(ch byte) {
	g := h.lock.Lock()
	defer g.Unlock()
	h.dev.Put(ch)
}

func (h *MHandle) Get() (byte, bool) {
	g := h.lock.Lock()
	defer g.Unlock()
	return h.dev.Get()
}

func (h *SHandle) Put(ch byte) {
	g := h.lock.Lock()
	defer g.Unlock()
	h.dev.Put(ch)
}

func (h *SHandle) Get() (byte, bool) {
	g := h.lock.Lock()
	defer g.Unlock()
	return h.dev.Get()
}

// WriteByte and Write implement kfmt/early.Sink, letting Mprintf/Sprintf
// bind directly to the M/S UART handles as their output sink.
func (h *MHandle) WriteByte(b byte) { h.Put(b) }
func (h *MHandle) Write(p []byte) {
	for _, b := range p {
		h.Put(b)
	}
}

func (h *SHandle) WriteByte(b byte) { h.Put(b) }
func (h *SHandle) Write(p []byte) {
	for _, b := range p {
		h.Put(b)
	}
}
