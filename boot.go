package main

import (
	"github.com/bigjr-mkkong/rs-micros/kernel"
	"github.com/bigjr-mkkong/rs-micros/kernel/cpu"
	"github.com/bigjr-mkkong/rs-micros/kernel/kmain"
)

// main is the only Go symbol visible (exported) from the rt0 initialization
// code, invoked by boot assembly on every hart after it drops into S mode
// with a minimal g0 struct and a 4 KiB stack. hartid distinguishes the bsp
// hart, which builds every piece of shared kernel state, from the other
// harts, which wait for the bsp to release them before bringing up their
// own tasks.
//
// main is not expected to return. If it does, the rt0 code halts the CPU.
func main() {
	hart := cpu.WhichCPU()

	if hart == 0 {
		if err := kmain.Kinit(hart); err != nil {
			kernel.Panic(err)
		}
		kmain.Kmain(hart)
		return
	}

	if err := kmain.KinitNobsp(hart); err != nil {
		kernel.Panic(err)
	}
	kmain.KmainNobsp(hart)
}
