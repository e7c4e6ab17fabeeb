// Package sched implements the per-hart cooperative task pool: task
// lifecycle, round-robin scheduling, and the resume-to-M/resume-to-S
// context restore entry points, per spec.md §4.6/§4.7.
package sched

import (
	"github.com/bigjr-mkkong/rs-micros/kernel"
	"github.com/bigjr-mkkong/rs-micros/kernel/cpu"
	"github.com/bigjr-mkkong/rs-micros/kernel/mem"
	"github.com/bigjr-mkkong/rs-micros/kernel/mem/vmm"
	"github.com/bigjr-mkkong/rs-micros/kernel/mem/zone"
)

// State is a task's lifecycle stage.
type State uint8

const (
	Ready State = iota
	Running
	Block
	Zombie
	Dead
)

func (s State) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Block:
		return "Block"
	case Zombie:
		return "Zombie"
	default:
		return "Dead"
	}
}

// Kind distinguishes task categories; this kernel only ever spawns kernel
// tasks, per spec.md §1's non-goal of user-mode processes.
type Kind uint8

const KernTask Kind = 0

// Flag marks a task's scheduling priority class.
type Flag uint8

const (
	Normal Flag = iota
	Critical
)

// stackPages is the frame count backing each task's kernel and exception
// stacks: one 4 KiB page each, per spec.md §4.6.
const stackPages = 1

// Task is one cooperatively scheduled kernel thread.
type Task struct {
	Frame cpu.TrapFrame

	State State
	PC    uintptr

	StackBase    uintptr
	ExpStackBase uintptr

	Hartid uint64
	Pid    uint64
	Kind   Kind
	Flag   Flag
	LifeID uint64
}

// Save copies kernelFrame into the task's own trap frame, preserving the
// task's TrapStack pointer, mirroring original_source's task_struct::save.
func (t *Task) Save(kernelFrame *cpu.TrapFrame) {
	t.Frame.Refresh(kernelFrame)
}

// newTask builds a fresh kernel task running entry, with a freshly
// allocated and identity-mapped kernel stack and exception stack.
func newTask(entry uintptr, flag Flag, hart uint64) (*Task, *kernel.Error) {
	zoneNormal := zone.Lookup(zone.Normal)
	if zoneNormal == nil {
		return nil, kernel.NewError(kernel.EFAULT, "sched", "ZONE_NORMAL not registered")
	}

	stackBottom, err := zoneNormal.Alloc(stackPages)
	if err != nil {
		return nil, err
	}
	stackTop := stackBottom + uintptr(stackPages)*uintptr(mem.PageSize)

	expStackBottom, err := zoneNormal.Alloc(stackPages)
	if err != nil {
		zoneNormal.Free(stackBottom)
		return nil, err
	}
	expStackTop := expStackBottom + uintptr(stackPages)*uintptr(mem.PageSize)

	root := kernelRootTable()
	if root == nil {
		return nil, kernel.NewError(kernel.EFAULT, "sched", "kernel root page table not wired")
	}

	if err := vmm.IdentityRangeMap(root, stackBottom, stackTop, vmm.ReadWrite); err != nil {
		return nil, err
	}
	if err := vmm.IdentityRangeMap(root, expStackBottom, expStackTop, vmm.ReadWrite); err != nil {
		return nil, err
	}

	t := &Task{
		State:        Ready,
		PC:           entry,
		StackBase:    stackTop,
		ExpStackBase: expStackTop,
		Hartid:       hart,
		Kind:         KernTask,
		Flag:         flag,
	}
	t.Frame.Satp = kernelSatp()
	t.Frame.Cpuid = hart
	t.Frame.Hartid = hart
	t.Frame.TrapStack = expStackTop - 1
	t.Frame.Regs[2] = stackTop - 1 // x2 == sp

	return t, nil
}

// drop unmaps both of the task's stacks and returns their frames to
// ZONE_NORMAL, mirroring original_source's task_struct::Drop.
func (t *Task) drop() {
	root := kernelRootTable()
	zoneNormal := zone.Lookup(zone.Normal)
	if root == nil || zoneNormal == nil {
		return
	}

	stackBegin := t.StackBase - uintptr(stackPages)*uintptr(mem.PageSize)
	vmm.RangeUnmap(root, stackBegin, t.StackBase)
	zoneNormal.Free(stackBegin)

	expStackBegin := t.ExpStackBase - uintptr(stackPages)*uintptr(mem.PageSize)
	vmm.RangeUnmap(root, expStackBegin, t.ExpStackBase)
	zoneNormal.Free(expStackBegin)
}

// rootTableFn and satpFn are wired once by the boot sequence (kernel/kmain)
// rather than imported statically, avoiding a cycle with whatever package
// owns the kernel's root page table construction.
var (
	rootTableFn = func() *vmm.PageTable { return nil }
	satpFn      = func() uint64 { return 0 }
)

// SetKernelRootTable wires the page table new task stacks are mapped into.
func SetKernelRootTable(fn func() *vmm.PageTable) { rootTableFn = fn }

// SetKernelSatp wires the satp value assigned to every new kernel task.
func SetKernelSatp(fn func() uint64) { satpFn = fn }

func kernelRootTable() *vmm.PageTable { return rootTableFn() }
func kernelSatp() uint64              { return satpFn() }
