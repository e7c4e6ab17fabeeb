package sched

import (
	"github.com/bigjr-mkkong/rs-micros/kernel"
	"github.com/bigjr-mkkong/rs-micros/kernel/cpu"
	"github.com/bigjr-mkkong/rs-micros/kernel/ksync"
)

// Pool is the process-wide, per-hart task pool singleton, grounded on
// original_source's task_pool.
type Pool struct {
	lock ksync.Lock[ksync.SPolicy]

	tasks   [cpu.MaxHarts][]*Task
	current [cpu.MaxHarts]int
	next    [cpu.MaxHarts]int

	fallback [cpu.MaxHarts]*Task

	// critTaskMie stashes the interrupt-enable mask a Critical task's
	// hart held the instant that task was scheduled in Machine_IRH, so a
	// later Yield can restore it exactly, per spec.md §4.6.
	critTaskMie [cpu.MaxHarts]uint64

	pidLock ksync.Lock[ksync.SPolicy]
	pids    pidmap

	lifeLock   ksync.Lock[ksync.SPolicy]
	nextLifeID uint64
}

// cpuMCliFn is a seam over cpu.MCli so Sched's Critical-task mie stash can
// be tested without executing a privileged CSR instruction.
var cpuMCliFn = cpu.MCli

// global is the single process-wide pool instance.
var global = Pool{nextLifeID: 1}

// Global returns the process-wide task pool.
func Global() *Pool { return &global }

// SetFallback installs hart's idle/fallback task, run when its queue has no
// schedulable task.
func (p *Pool) SetFallback(hart uint64, t *Task) {
	p.fallback[hart] = t
}

// Spawn allocates a fresh task running entry on hart with the given
// priority flag, assigns it a pid and a strictly increasing life_id, and
// appends it to that hart's queue.
func (p *Pool) Spawn(entry uintptr, flag Flag, hart uint64) (*Task, *kernel.Error) {
	t, err := newTask(entry, flag, hart)
	if err != nil {
		return nil, err
	}

	pg := p.pidLock.Lock()
	pid, perr := p.pids.allocate()
	pg.Unlock()
	if perr != nil {
		return nil, perr
	}
	t.Pid = pid

	lg := p.lifeLock.Lock()
	t.LifeID = p.nextLifeID
	p.nextLifeID++
	lg.Unlock()

	g := p.lock.Lock()
	p.tasks[hart] = append(p.tasks[hart], t)
	g.Unlock()

	return t, nil
}

// SpawnFallback allocates hart's idle/fallback task the same way Spawn
// does, but installs it directly as p.fallback[hart] instead of appending it
// to the schedulable queue, satisfying spec.md §5's ordering rule that a
// hart's fallback task must exist before that hart starts scheduling.
func (p *Pool) SpawnFallback(entry uintptr, hart uint64) (*Task, *kernel.Error) {
	t, err := newTask(entry, Normal, hart)
	if err != nil {
		return nil, err
	}

	pg := p.pidLock.Lock()
	pid, perr := p.pids.allocate()
	pg.Unlock()
	if perr != nil {
		return nil, perr
	}
	t.Pid = pid

	lg := p.lifeLock.Lock()
	t.LifeID = p.nextLifeID
	p.nextLifeID++
	lg.Unlock()

	p.fallback[hart] = t
	return t, nil
}

// schedulableCount counts the tasks on hart currently Ready or Running.
func (p *Pool) schedulableCount(hart uint64) int {
	n := 0
	for _, t := range p.tasks[hart] {
		if t.State == Ready || t.State == Running {
			n++
		}
	}
	return n
}

// generateNext advances next[hart] to the following Ready/Running task,
// wrapping around; if the queue is empty it resets to 0.
func (p *Pool) generateNext(hart uint64) {
	q := p.tasks[hart]
	if len(q) == 0 {
		p.next[hart] = 0
		return
	}
	for {
		p.next[hart] = (p.next[hart] + 1) % len(q)
		st := q[p.next[hart]].State
		if st == Ready || st == Running {
			return
		}
	}
}

// Sched picks the next schedulable task on hart and resumes it. If no task
// is schedulable, it clears the hart's queue and returns so the caller can
// resume the fallback task. A Critical task scheduled while the hart is in
// Machine_IRH has its interrupts masked and the prior mie stashed for a
// later Yield to restore.
func (p *Pool) Sched(hart uint64, curMode cpu.Mode) *kernel.Error {
	live := p.schedulableCount(hart)
	if live == 0 {
		p.tasks[hart] = nil
		p.current[hart] = 0
		p.next[hart] = 0
		return nil
	}

	p.generateNext(hart)
	p.current[hart] = p.next[hart]

	q := p.tasks[hart]
	if p.current[hart] >= len(q) {
		return kernel.NewError(kernel.EFAULT, "sched", "current index out of range")
	}
	t := q[p.current[hart]]

	if t.Flag == Critical && (curMode == cpu.Machine || curMode == cpu.Machine_IRH) {
		prev := cpuMCliFn()
		p.critTaskMie[hart] = prev
	}

	if curMode == cpu.Machine || curMode == cpu.Machine_IRH {
		resumeFromMFn(t)
	} else {
		resumeFromSFn(t)
	}
	return nil
}

// SaveFromKTrapFrame copies hart's kernel trap frame into its current
// task's trap frame.
func (p *Pool) SaveFromKTrapFrame(hart uint64, kernelFrame *cpu.TrapFrame) *kernel.Error {
	t, err := p.Current(hart)
	if err != nil {
		return err
	}
	t.Save(kernelFrame)
	return nil
}

// Current returns hart's currently scheduled task.
func (p *Pool) Current(hart uint64) (*Task, *kernel.Error) {
	q := p.tasks[hart]
	idx := p.current[hart]
	if idx < 0 || idx >= len(q) {
		return nil, kernel.NewError(kernel.EINVAL, "sched", "no current task for hart")
	}
	return q[idx], nil
}

// SetCurrentPC sets hart's current task's resume pc.
func (p *Pool) SetCurrentPC(hart uint64, pc uintptr) *kernel.Error {
	t, err := p.Current(hart)
	if err != nil {
		return err
	}
	t.PC = pc
	return nil
}

// SetCurrentState sets hart's current task's lifecycle state.
func (p *Pool) SetCurrentState(hart uint64, state State) *kernel.Error {
	t, err := p.Current(hart)
	if err != nil {
		return err
	}
	t.State = state
	return nil
}

// CritTaskMie returns the interrupt mask stashed the last time a Critical
// task was scheduled onto hart in Machine_IRH.
func (p *Pool) CritTaskMie(hart uint64) uint64 {
	return p.critTaskMie[hart]
}

// QueueLen returns the number of tasks currently queued on hart, letting a
// caller tell a cleared-because-nothing-schedulable Sched apart from one
// that actually resumed a task, since Sched itself never returns an error
// for the former case.
func (p *Pool) QueueLen(hart uint64) int {
	return len(p.tasks[hart])
}

// RemoveCurTask reclaims hart's current task's pid and removes it from the
// queue by swap-removal; the task's stacks are unmapped and freed.
func (p *Pool) RemoveCurTask(hart uint64) *kernel.Error {
	g := p.lock.Lock()
	q := p.tasks[hart]
	idx := p.current[hart]
	if idx < 0 || idx >= len(q) {
		g.Unlock()
		return kernel.NewError(kernel.EFAULT, "sched", "no current task to remove")
	}

	dead := q[idx]
	last := len(q) - 1
	q[idx] = q[last]
	p.tasks[hart] = q[:last]
	g.Unlock()

	pg := p.pidLock.Lock()
	p.pids.clear(dead.Pid)
	pg.Unlock()

	dead.drop()
	return nil
}

// Fallback resumes hart's idle task.
func (p *Pool) Fallback(hart uint64, curMode cpu.Mode) *kernel.Error {
	t := p.fallback[hart]
	if t == nil {
		return kernel.NewError(kernel.EINVAL, "sched", "no fallback task configured for hart")
	}
	if curMode == cpu.Machine || curMode == cpu.Machine_IRH {
		resumeFromMFn(t)
	} else {
		resumeFromSFn(t)
	}
	return nil
}

// SetStateByPid linear-searches every hart's queue for target_pid and
// updates its state, provided life_id matches exactly. Per the REDESIGN
// FLAG over original_source's assert!-based mismatch handling, a mismatch
// returns EFAULT to the caller instead of panicking — letting a stale
// (pid, life_id) pair from a reused pid fail gracefully instead of
// crashing the kernel.
func (p *Pool) SetStateByPid(pid, lifeID uint64, state State) *kernel.Error {
	g := p.lock.Lock()
	defer g.Unlock()

	for hart := range p.tasks {
		for _, t := range p.tasks[hart] {
			if t.Pid != pid {
				continue
			}
			if t.LifeID != lifeID {
				return kernel.NewError(kernel.EFAULT, "sched", "life_id mismatch on set_state_by_pid")
			}
			t.State = state
			return nil
		}
	}
	return kernel.NewError(kernel.EFAULT, "sched", "no task with matching pid")
}
