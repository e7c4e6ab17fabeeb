package ecall

import "testing"

func TestOpcodeString(t *testing.T) {
	cases := map[Opcode]string{
		Yield:   "Yield",
		Exit:    "Exit",
		Block:   "Block",
		Unblock: "Unblock",
		Cli:     "Cli",
		Sti:     "Sti",
		Undef:   "Undef",
	}
	for op, want := range cases {
		if got := op.String(); got != want {
			t.Errorf("Opcode(%d).String() = %q, want %q", op, got, want)
		}
	}
}

func TestTrapRoutesThroughHartSlot(t *testing.T) {
	prevHartID := hartIDFn
	prevDoEcall := doEcallFn
	t.Cleanup(func() {
		hartIDFn = prevHartID
		doEcallFn = prevDoEcall
	})

	hartIDFn = func() uint64 { return 2 }
	doEcallFn = func() {
		slots[2].SetRet(0x42)
	}

	got := Trap(Yield, [5]uint64{1, 2, 3, 4, 5})
	if got != 0x42 {
		t.Fatalf("Trap returned %x, want 0x42", got)
	}
	if slots[2].GetOpcode() != Yield {
		t.Fatalf("expected slot 2 opcode Yield, got %v", slots[2].GetOpcode())
	}
	if slots[2].GetArgs() != [5]uint64{1, 2, 3, 4, 5} {
		t.Fatalf("unexpected args stored: %v", slots[2].GetArgs())
	}
}

func TestSlotForReturnsSameSlotTrapWrote(t *testing.T) {
	prevHartID := hartIDFn
	prevDoEcall := doEcallFn
	t.Cleanup(func() {
		hartIDFn = prevHartID
		doEcallFn = prevDoEcall
	})

	hartIDFn = func() uint64 { return 1 }
	doEcallFn = func() {}

	Trap(Block, [5]uint64{7, 0, 0, 0, 0})

	s := SlotFor(1)
	if s.GetOpcode() != Block || s.GetArgs()[0] != 7 {
		t.Fatalf("SlotFor(1) = %+v, want opcode Block arg0=7", s)
	}
}
