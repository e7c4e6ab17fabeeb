package kernel

import (
	"testing"

	"github.com/bigjr-mkkong/rs-micros/kernel/cpu"
	"github.com/bigjr-mkkong/rs-micros/kernel/kfmt/early"
)

type bufSink struct {
	buf []byte
}

func (s *bufSink) WriteByte(b byte) { s.buf = append(s.buf, b) }
func (s *bufSink) Write(p []byte)   { s.buf = append(s.buf, p...) }

func TestPanic(t *testing.T) {
	defer func() {
		cpuHaltFn = cpu.Halt
	}()

	var cpuHaltCalled bool
	cpuHaltFn = func() {
		cpuHaltCalled = true
	}

	t.Run("with error", func(t *testing.T) {
		cpuHaltCalled = false
		sink := &bufSink{}
		early.ActiveSink = sink

		err := &Error{Module: "test", Kind: EFAULT, File: "foo.go", Line: 7, Message: "panic test"}
		Panic(err)

		exp := "System Aborting... 7, foo.go, panic test\n"
		if got := string(sink.buf); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}

		if !cpuHaltCalled {
			t.Fatal("expected cpu.Halt() to be called by Panic")
		}
	})

	t.Run("without error", func(t *testing.T) {
		cpuHaltCalled = false
		sink := &bufSink{}
		early.ActiveSink = sink

		Panic(nil)

		exp := "System Aborting... 0, , unknown cause\n"
		if got := string(sink.buf); got != exp {
			t.Fatalf("expected to get:\n%q\ngot:\n%q", exp, got)
		}

		if !cpuHaltCalled {
			t.Fatal("expected cpu.Halt() to be called by Panic")
		}
	})

	t.Run("with core dump", func(t *testing.T) {
		cpuHaltCalled = false
		sink := &bufSink{}
		early.ActiveSink = sink

		PanicWithDump(&Error{Message: "bad trap"}, &CoreDump{Hart: 1, Xepc: 0x1000, Xtval: 0, Xstatus: 0x22, Satp: 0x8000000000000abc})

		if !cpuHaltCalled {
			t.Fatal("expected cpu.Halt() to be called by PanicWithDump")
		}
		if len(sink.buf) == 0 {
			t.Fatal("expected core dump output")
		}
	})
}
