package lifter

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"

	"bin2ir/internal/abi"
	"bin2ir/internal/addr"
)

func newTestLifter() (*X86, *ir.Block) {
	m := ir.NewModule()
	a := abi.New(m, 32)
	l := New(m, a)
	b := ir.NewBlock("entry")
	return l, b
}

func TestTranslateOneEmitsMarker(t *testing.T) {
	l, b := newTestLifter()
	res := l.TranslateOne([]byte{0x90}, addr.New(0x1000), NewCursor(b, 0))
	if res.Failed {
		t.Fatal("nop translation failed")
	}
	if res.Size != 1 {
		t.Errorf("size = %d, want 1", res.Size)
	}
	if res.Marker == nil || !l.IsMarkerStore(res.Marker) {
		t.Fatal("missing address marker store")
	}
	ci, ok := res.Marker.Src.(*constant.Int)
	if !ok || ci.X.Uint64() != 0x1000 {
		t.Errorf("marker address = %v, want 0x1000", res.Marker.Src)
	}
	if res.BranchCall != nil {
		t.Error("nop should not classify as a terminator")
	}
}

func TestTranslateOneFailsOnGarbage(t *testing.T) {
	l, b := newTestLifter()
	res := l.TranslateOne([]byte{0x0F}, addr.New(0x1000), NewCursor(b, 0))
	if !res.Failed {
		t.Error("expected decode failure")
	}
	if len(b.Insts) != 0 {
		t.Errorf("failed translation emitted %d instructions", len(b.Insts))
	}
}

func TestTranslateCallClassification(t *testing.T) {
	l, b := newTestLifter()
	// call 0x2000 from 0x1000: E8 FB 0F 00 00
	res := l.TranslateOne([]byte{0xE8, 0xFB, 0x0F, 0x00, 0x00}, addr.New(0x1000), NewCursor(b, 0))
	if res.Failed || res.BranchCall == nil {
		t.Fatal("call did not produce a pseudo call")
	}
	if !l.IsCall(res.BranchCall) || l.IsBranch(res.BranchCall) {
		t.Error("pseudo call misclassified")
	}
	ci, ok := res.BranchCall.Args[0].(*constant.Int)
	if !ok || ci.X.Uint64() != 0x2000 {
		t.Errorf("call target = %v, want 0x2000", res.BranchCall.Args[0])
	}
}

func TestTranslateCondBranchTargetIsSecondArg(t *testing.T) {
	l, b := newTestLifter()
	// jz +0x0a from 0x1000: target 0x1010.
	res := l.TranslateOne([]byte{0x0F, 0x84, 0x0A, 0x00, 0x00, 0x00}, addr.New(0x1000), NewCursor(b, 0))
	if res.Failed || res.BranchCall == nil {
		t.Fatal("jz did not produce a pseudo call")
	}
	if !l.IsCondBranch(res.BranchCall) {
		t.Error("jz misclassified")
	}
	if len(res.BranchCall.Args) != 2 {
		t.Fatalf("cond branch args = %d, want 2", len(res.BranchCall.Args))
	}
	ci, ok := res.BranchCall.Args[1].(*constant.Int)
	if !ok || ci.X.Uint64() != 0x1010 {
		t.Errorf("branch target = %v, want 0x1010", res.BranchCall.Args[1])
	}
}

func TestTranslateReturnClassification(t *testing.T) {
	l, b := newTestLifter()
	res := l.TranslateOne([]byte{0xC3}, addr.New(0x1000), NewCursor(b, 0))
	if res.Failed || res.BranchCall == nil {
		t.Fatal("ret did not produce a pseudo call")
	}
	if !l.IsReturn(res.BranchCall) {
		t.Error("ret misclassified")
	}
}

func TestTranslateIndirectJumpHasNonConstTarget(t *testing.T) {
	l, b := newTestLifter()
	// jmp eax: FF E0
	res := l.TranslateOne([]byte{0xFF, 0xE0}, addr.New(0x1000), NewCursor(b, 0))
	if res.Failed || res.BranchCall == nil {
		t.Fatal("jmp eax did not produce a pseudo call")
	}
	if !l.IsBranch(res.BranchCall) {
		t.Error("jmp eax misclassified")
	}
	if _, ok := res.BranchCall.Args[0].(*constant.Int); ok {
		t.Error("indirect jump target folded to a constant")
	}
}

func TestCursorInsertsInOrder(t *testing.T) {
	l, b := newTestLifter()
	cur := NewCursor(b, 0)
	l.TranslateOne([]byte{0x90}, addr.New(0x1000), cur)
	l.TranslateOne([]byte{0x90}, addr.New(0x1001), cur)

	if len(b.Insts) != 2 {
		t.Fatalf("insts = %d, want 2", len(b.Insts))
	}
	first, _ := b.Insts[0].(*ir.InstStore)
	second, _ := b.Insts[1].(*ir.InstStore)
	if first == nil || second == nil {
		t.Fatal("expected marker stores")
	}
	a1 := first.Src.(*constant.Int).X.Uint64()
	a2 := second.Src.(*constant.Int).X.Uint64()
	if a1 != 0x1000 || a2 != 0x1001 {
		t.Errorf("marker order = %#x, %#x", a1, a2)
	}
}
