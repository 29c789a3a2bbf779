package bp

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"cosim/internal/common"
	"cosim/internal/cosim"
)

const beq = 0x00000463 // beq x0,x0,+8

func TestBTBPredict(t *testing.T) {
	b := NewBTB(DefaultEntries)

	if got := b.PredictFetch(0x2000); got != 0 {
		t.Errorf("empty btb predicted 0x%x", got)
	}
	b.UpdateExecute(0x2000, 0x2008, true, beq)
	if got := b.PredictFetch(0x2000); got != 0x2008 {
		t.Errorf("predict = 0x%x, want 0x2008", got)
	}

	// same index, different tag
	alias := uint32(0x2000 + DefaultEntries*4)
	if got := b.PredictFetch(alias); got != 0 {
		t.Errorf("aliased pc predicted 0x%x", got)
	}
	b.UpdateExecute(alias, 0x100, true, beq)
	if got := b.PredictFetch(0x2000); got != 0 {
		t.Errorf("evicted entry predicted 0x%x", got)
	}

	// bubbles and non branches never train
	b.UpdateExecute(0x3000, 0x3004, false, 0x13)
	b.UpdateExecute(0x3004, 0x4000, true, Bubble)
	if b.PredictFetch(0x3000) != 0 || b.PredictFetch(0x3004) != 0 {
		t.Errorf("btb trained by non branch")
	}
}

func TestFullyAssocLRU(t *testing.T) {
	f := NewFullyAssoc(2)
	f.UpdateExecute(0x100, 0x200, true, beq)
	f.UpdateExecute(0x104, 0x204, true, beq)

	// touch 0x100 so 0x104 is least recently used
	if got := f.PredictFetch(0x100); got != 0x200 {
		t.Fatalf("predict 0x100 = 0x%x", got)
	}
	f.UpdateExecute(0x108, 0x208, true, beq)

	got := []uint32{f.PredictFetch(0x100), f.PredictFetch(0x104), f.PredictFetch(0x108)}
	if diff := cmp.Diff([]uint32{0x200, 0, 0x208}, got); diff != "" {
		t.Errorf("predictions (-want +got):\n%s", diff)
	}

	// an existing entry is updated in place
	f.UpdateExecute(0x108, 0x10C, true, beq)
	if got := f.PredictFetch(0x108); got != 0x10C {
		t.Errorf("updated entry = 0x%x", got)
	}
	if got := f.PredictFetch(0x100); got != 0x200 {
		t.Errorf("0x100 evicted by in-place update")
	}
}

func TestUnitCountsMispredicts(t *testing.T) {
	u, err := New(KindBTB, 16)
	if err != nil {
		t.Fatal(err)
	}

	// a two instruction loop: 0x10 addi, 0x14 branch back to 0x10
	loop := []Execute{
		{PC: 0x10, PCNext: 0x14, Inst: 0x13},
		{PC: 0x14, PCNext: 0x10, BrJmp: true, Inst: beq},
	}
	fetch := uint32(0x10)
	for i := 0; i < 6; i++ {
		u.ClockHigh(false, fetch)
		exe := loop[i%2]
		u.ClockLow(false, exe, true)
		fetch = exe.PCNext
	}
	// only the first pass over the branch misses
	want := Stats{Predictions: 6, Taken: 2, Mispredicts: 1}
	if diff := cmp.Diff(want, u.Stats()); diff != "" {
		t.Errorf("stats (-want +got):\n%s", diff)
	}

	if target, taken := u.ClockHigh(true, 0x14); taken || target != 0 {
		t.Errorf("prediction made in reset")
	}
}

func TestNone(t *testing.T) {
	u, err := New(KindNone, 0)
	if err != nil {
		t.Fatal(err)
	}
	u.Predictor().UpdateExecute(0x10, 0x40, true, beq)
	if _, taken := u.ClockHigh(false, 0x10); taken {
		t.Errorf("none predicted taken")
	}
}

func TestNewAndParse(t *testing.T) {
	if _, err := New(KindBTB, 12); common.CodeOf(err) != cosim.ErrInvalidParamVal {
		t.Errorf("non power of two: %v", err)
	}
	if _, err := New(Kind(9), 0); common.CodeOf(err) != cosim.ErrInvalidParamVal {
		t.Errorf("bad kind: %v", err)
	}
	for _, k := range []Kind{KindNone, KindBTB, KindFullyAssoc} {
		got, err := ParseKind(k.String())
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %v, %v", k.String(), got, err)
		}
	}
	if _, err := ParseKind("gshare"); err == nil {
		t.Errorf("ParseKind accepted gshare")
	}
}
