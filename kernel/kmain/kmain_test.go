package kmain

import (
	"testing"
	"unsafe"

	"github.com/bigjr-mkkong/rs-micros/kernel/ktask"
	"github.com/bigjr-mkkong/rs-micros/kernel/plic"
	kerneltrap "github.com/bigjr-mkkong/rs-micros/kernel/trap"
)

func unsafePointerOf(buf []byte) unsafe.Pointer {
	return unsafe.Pointer(&buf[0])
}

func TestFuncAddrReturnsDistinctNonZeroPointersForDistinctTasks(t *testing.T) {
	hello := funcAddr(ktask.Hello)
	worker := funcAddr(ktask.IRQWorker)

	if hello == 0 || worker == 0 {
		t.Fatal("expected both task entries to resolve to a non-zero code pointer")
	}
	if hello == worker {
		t.Fatal("expected Hello and IRQWorker to resolve to distinct code pointers")
	}
}

func TestConfigureHartInterruptsEnablesUARTSourceAndClearsThreshold(t *testing.T) {
	buf := make([]byte, 0x201000)
	prevPlic := plicCtrl
	plicCtrl = plic.New(uintptr(unsafePointerOf(buf)))
	t.Cleanup(func() { plicCtrl = prevPlic })

	if err := configureHartInterrupts(0); err != nil {
		t.Fatalf("configureHartInterrupts failed: %v", err)
	}

	enableWord := *(*uint32)(unsafe.Pointer(&buf[0x2000]))
	wantBit := uint32(1) << (kerneltrap.UARTSourceID % 32)
	if enableWord&wantBit == 0 {
		t.Fatalf("expected UART source bit set in context 0's enable word, got %#x", enableWord)
	}

	threshold := *(*uint32)(unsafe.Pointer(&buf[0x200000]))
	if threshold != 0 {
		t.Fatalf("expected context 0's threshold cleared to 0, got %d", threshold)
	}
}
