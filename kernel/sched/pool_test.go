package sched

import (
	"testing"

	"github.com/bigjr-mkkong/rs-micros/kernel"
	"github.com/bigjr-mkkong/rs-micros/kernel/cpu"
)

func freshPool() *Pool {
	return &Pool{nextLifeID: 1}
}

func TestGenerateNextRoundRobinsFIFO(t *testing.T) {
	p := freshPool()
	a := &Task{State: Ready, Pid: 1}
	b := &Task{State: Ready, Pid: 2}
	p.tasks[0] = []*Task{a, b}

	var order []uint64
	for i := 0; i < 4; i++ {
		p.generateNext(0)
		p.current[0] = p.next[0]
		order = append(order, p.tasks[0][p.current[0]].Pid)
	}

	want := []uint64{2, 1, 2, 1}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("round-robin order = %v, want alternating %v", order, want)
		}
	}
}

func TestGenerateNextSkipsNonSchedulableTasks(t *testing.T) {
	p := freshPool()
	a := &Task{State: Ready, Pid: 1}
	b := &Task{State: Block, Pid: 2}
	c := &Task{State: Ready, Pid: 3}
	p.tasks[0] = []*Task{a, b, c}

	p.generateNext(0)
	got := p.tasks[0][p.next[0]].Pid
	if got != 3 {
		t.Fatalf("expected generateNext to skip the blocked task and land on pid 3, got pid %d", got)
	}
}

func TestGenerateNextOnEmptyQueueResetsToZero(t *testing.T) {
	p := freshPool()
	p.tasks[0] = nil

	p.generateNext(0)
	if p.next[0] != 0 {
		t.Fatalf("expected next to reset to 0 on an empty queue, got %d", p.next[0])
	}
}

func TestSetStateByPidFailsOnLifeIDMismatch(t *testing.T) {
	p := freshPool()
	p.tasks[0] = []*Task{{State: Ready, Pid: 5, LifeID: 10}}

	err := p.SetStateByPid(5, 11, Block)
	if err == nil || err.Kind != kernel.EFAULT {
		t.Fatalf("expected EFAULT on life_id mismatch, got %v", err)
	}

	// The task's state must be untouched by the rejected call.
	if p.tasks[0][0].State != Ready {
		t.Fatalf("expected state to remain Ready after a rejected set_state_by_pid, got %v", p.tasks[0][0].State)
	}
}

func TestSetStateByPidSucceedsOnExactMatch(t *testing.T) {
	p := freshPool()
	p.tasks[0] = []*Task{{State: Ready, Pid: 5, LifeID: 10}}

	if err := p.SetStateByPid(5, 10, Block); err != nil {
		t.Fatalf("expected matching (pid, life_id) to succeed, got %v", err)
	}
	if p.tasks[0][0].State != Block {
		t.Fatalf("expected state Block, got %v", p.tasks[0][0].State)
	}
}

func TestRemoveCurTaskReclaimsPid(t *testing.T) {
	p := freshPool()
	a := &Task{State: Ready, Pid: 7}
	p.tasks[0] = []*Task{a}
	p.current[0] = 0
	// pids 0-6 stay in use by other tasks, so 7 is the lowest pid that can
	// come free.
	for pid := uint64(0); pid <= 7; pid++ {
		p.pids.set(pid)
	}

	if err := p.RemoveCurTask(0); err != nil {
		t.Fatalf("RemoveCurTask failed: %v", err)
	}
	if len(p.tasks[0]) != 0 {
		t.Fatalf("expected task removed from queue, got %d remaining", len(p.tasks[0]))
	}

	pid, ok := p.pids.findFirstZero()
	if !ok || pid != 7 {
		t.Fatalf("expected pid 7 to be reclaimed and reusable, findFirstZero = %d, %v", pid, ok)
	}
}

func TestLifeIDStrictlyMonotonic(t *testing.T) {
	p := freshPool()
	var ids []uint64
	for i := 0; i < 5; i++ {
		lg := p.lifeLock.Lock()
		ids = append(ids, p.nextLifeID)
		p.nextLifeID++
		lg.Unlock()
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("life_id not strictly increasing: %v", ids)
		}
	}
}

func TestSchedWithNoSchedulableTaskClearsQueue(t *testing.T) {
	p := freshPool()
	p.tasks[0] = []*Task{{State: Zombie, Pid: 1}}

	prevM, prevS := resumeFromMFn, resumeFromSFn
	resumeFromMFn = func(*Task) {}
	resumeFromSFn = func(*Task) {}
	t.Cleanup(func() { resumeFromMFn, resumeFromSFn = prevM, prevS })

	if err := p.Sched(0, cpu.Supervisor); err != nil {
		t.Fatalf("Sched failed: %v", err)
	}
	if len(p.tasks[0]) != 0 {
		t.Fatalf("expected queue cleared when nothing is schedulable, got %d tasks", len(p.tasks[0]))
	}
}

func TestSchedResumesChosenTaskAndMasksCriticalInMachineIRH(t *testing.T) {
	p := freshPool()
	crit := &Task{State: Ready, Pid: 1, Flag: Critical}
	p.tasks[0] = []*Task{crit}

	var resumed *Task
	prevM, prevS := resumeFromMFn, resumeFromSFn
	resumeFromMFn = func(t *Task) { resumed = t }
	resumeFromSFn = func(t *Task) { resumed = t }
	t.Cleanup(func() { resumeFromMFn, resumeFromSFn = prevM, prevS })

	prevCli := cpuMCliFn
	cpuMCliFn = func() uint64 { return 0xdead }
	t.Cleanup(func() { cpuMCliFn = prevCli })

	if err := p.Sched(0, cpu.Machine_IRH); err != nil {
		t.Fatalf("Sched failed: %v", err)
	}
	if resumed != crit {
		t.Fatalf("expected the sole Ready task to be resumed")
	}
	if p.CritTaskMie(0) != 0xdead {
		t.Fatalf("expected Critical task's prior mie to be stashed, got %x", p.CritTaskMie(0))
	}
}

func TestSpawnFallbackInstallsTaskWithoutQueueingIt(t *testing.T) {
	setupSpawnEnvironment(t)
	p := freshPool()

	ft, err := p.SpawnFallback(0x8000_9000, 0)
	if err != nil {
		t.Fatalf("SpawnFallback failed: %v", err)
	}
	if len(p.tasks[0]) != 0 {
		t.Fatalf("expected fallback task to stay out of the schedulable queue, got %d queued", len(p.tasks[0]))
	}

	var resumed *Task
	prevM, prevS := resumeFromMFn, resumeFromSFn
	resumeFromMFn = func(t *Task) { resumed = t }
	resumeFromSFn = func(t *Task) { resumed = t }
	t.Cleanup(func() { resumeFromMFn, resumeFromSFn = prevM, prevS })

	if err := p.Fallback(0, cpu.Supervisor); err != nil {
		t.Fatalf("Fallback failed: %v", err)
	}
	if resumed != ft {
		t.Fatal("expected Fallback to resume the installed fallback task")
	}
}
