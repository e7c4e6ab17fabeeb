// Package irq implements the per-hart external-interrupt request queue:
// a bounded ring buffer the M-mode trap dispatcher pushes into and an
// S-mode worker task drains, per spec.md §4.9.
package irq

import "github.com/bigjr-mkkong/rs-micros/kernel/cpu"

// Capacity is the fixed size of each hart's ring buffer.
const Capacity = 128

// Type classifies a queued interrupt request.
type Type uint8

const (
	None Type = iota
	External
	Internal
)

// Request is a single queued interrupt: the PLIC source id (when External),
// the hart it was claimed on, and an optional payload byte (e.g. the UART
// character that triggered it).
type Request struct {
	Typ      Type
	ExtintID uint32
	HartID   uint64
	Data     byte
	HasData  bool
}

// Ring is a fixed-capacity, drop-on-full FIFO queue of Requests.
type Ring struct {
	buf   [Capacity]Request
	head  int
	count int
}

// rings is the process-wide, one-per-hart set of queues.
var rings [cpu.MaxHarts]Ring

// RingFor returns the ring buffer belonging to the given hart.
func RingFor(hart uint64) *Ring {
	return &rings[hart]
}

// IsEmpty reports whether the ring holds no requests.
func (r *Ring) IsEmpty() bool { return r.count == 0 }

// IsFull reports whether the ring is at capacity.
func (r *Ring) IsFull() bool { return r.count == Capacity }

// Len returns the number of queued requests.
func (r *Ring) Len() int { return r.count }

// Push appends req to the tail of the ring. A push against a full ring is
// silently dropped, per spec.md §4.9's drop policy.
func (r *Ring) Push(req Request) {
	if r.IsFull() {
		return
	}
	tail := (r.head + r.count) % Capacity
	r.buf[tail] = req
	r.count++
}

// Peek returns the request at the head of the ring without removing it.
func (r *Ring) Peek() (Request, bool) {
	if r.IsEmpty() {
		return Request{}, false
	}
	return r.buf[r.head], true
}

// Dequeue removes and returns the request at the head of the ring.
func (r *Ring) Dequeue() (Request, bool) {
	req, ok := r.Peek()
	if !ok {
		return Request{}, false
	}
	r.head = (r.head + 1) % Capacity
	r.count--
	return req, true
}
