package decoder

import (
	"testing"

	"bin2ir/internal/addr"
)

func TestWorklistPriorityOrder(t *testing.T) {
	w := NewWorklist()
	w.Push(addr.New(0x5000), JTReturnTarget, 32, nil)
	w.Push(addr.New(0x4000), JTCallTarget, 32, nil)
	w.Push(addr.New(0x3000), JTBrTrue, 32, nil)
	w.Push(addr.New(0x2000), JTBrFalse, 32, nil)
	w.Push(addr.New(0x2500), JTCallAfter, 32, nil)
	w.Push(addr.New(0x1000), JTEntryPoint, 32, nil)

	var got []JTKind
	for !w.Empty() {
		got = append(got, w.Pop().Kind)
	}
	want := []JTKind{JTEntryPoint, JTBrFalse, JTCallAfter, JTBrTrue, JTCallTarget, JTReturnTarget}
	for i, k := range want {
		if got[i] != k {
			t.Fatalf("pop %d = %v, want %v (order %v)", i, got[i], k, got)
		}
	}
}

func TestWorklistAddressTieBreak(t *testing.T) {
	w := NewWorklist()
	w.Push(addr.New(0x3000), JTCallTarget, 32, nil)
	w.Push(addr.New(0x1000), JTCallTarget, 32, nil)
	w.Push(addr.New(0x2000), JTCallTarget, 32, nil)

	prev := w.Pop()
	for !w.Empty() {
		next := w.Pop()
		if next.Address.Less(prev.Address) {
			t.Fatalf("addresses out of order: %v after %v", next.Address, prev.Address)
		}
		prev = next
	}
}

func TestWorklistPopDominatesRemaining(t *testing.T) {
	w := NewWorklist()
	kinds := []JTKind{JTBrTrue, JTReturnTarget, JTEntryPoint, JTCallAfter, JTBrFalse, JTCallTarget}
	for i, k := range kinds {
		w.Push(addr.New(uint64(0x1000+i*16)), k, 32, nil)
	}
	for !w.Empty() {
		top := w.Pop()
		for _, rest := range w.h {
			if rest.Kind.priority() > top.Kind.priority() {
				t.Fatalf("popped %v but %v still queued", top, rest)
			}
		}
	}
}

func TestWorklistAllowsDuplicates(t *testing.T) {
	w := NewWorklist()
	w.Push(addr.New(0x1000), JTBrTrue, 32, nil)
	w.Push(addr.New(0x1000), JTBrTrue, 32, nil)
	if w.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", w.Len())
	}
}
