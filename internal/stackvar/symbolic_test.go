package stackvar

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"

	"bin2ir/internal/abi"
	"bin2ir/internal/rda"
)

// setupFrame builds a module with esp plus a function computing
// add(load esp, 12) and returns the pieces.
func setupFrame() (*abi.ABI, *rda.Analysis, *ir.InstAdd) {
	m := ir.NewModule()
	a := abi.New(m, 32)
	esp := a.StackPointer()

	f := m.NewFunc("f", types.Void)
	b := f.NewBlock("entry")
	load := ir.NewLoad(types.I32, esp)
	add := ir.NewAdd(load, constant.NewInt(types.I32, 12))
	b.Insts = append(b.Insts, load, add)
	b.Term = ir.NewRet(nil)

	return a, rda.Run(m), add
}

func TestTreeFoldsStackPointerOffset(t *testing.T) {
	a, analysis, add := setupFrame()
	tree := Build(analysis, add, map[*ir.InstStore]*constant.Int{})

	if !tree.ReferencesStackPointer(a) {
		t.Fatal("tree should reference the stack pointer")
	}
	tree.Simplify(a)
	ci, ok := tree.Root.Value.(*constant.Int)
	if !ok {
		t.Fatalf("root = %T, want folded constant", tree.Root.Value)
	}
	if ci.X.Int64() != 12 {
		t.Errorf("folded offset = %d, want 12", ci.X.Int64())
	}
}

func TestTreeTraversalOrders(t *testing.T) {
	_, analysis, add := setupFrame()
	tree := Build(analysis, add, map[*ir.InstStore]*constant.Int{})

	post := tree.PostOrder()
	if post[len(post)-1] != tree.Root {
		t.Error("post-order must end at the root")
	}
	level := tree.LevelOrder()
	if level[0] != tree.Root {
		t.Error("level-order must start at the root")
	}
	if len(post) != len(level) {
		t.Errorf("traversals disagree on size: %d vs %d", len(post), len(level))
	}
}

func TestTreeValueLoadDoesNotFoldThroughPointer(t *testing.T) {
	// A load of [esp+12] expanded through its pointer must not fold to the
	// address constant; the memory content is unknown.
	m := ir.NewModule()
	a := abi.New(m, 32)
	esp := a.StackPointer()

	f := m.NewFunc("f", types.Void)
	b := f.NewBlock("entry")
	loadSP := ir.NewLoad(types.I32, esp)
	add := ir.NewAdd(loadSP, constant.NewInt(types.I32, 12))
	ptr := ir.NewIntToPtr(add, types.NewPointer(types.I32))
	loadMem := ir.NewLoad(types.I32, ptr)
	b.Insts = append(b.Insts, loadSP, add, ptr, loadMem)
	b.Term = ir.NewRet(nil)

	analysis := rda.Run(m)
	tree := Build(analysis, loadMem, map[*ir.InstStore]*constant.Int{})
	tree.Simplify(a)

	if _, ok := tree.Root.Value.(*constant.Int); ok {
		t.Error("memory load folded to its address")
	}
}

func TestTreeUsesVal2ValMap(t *testing.T) {
	// A load whose reaching definition was already folded picks the
	// constant out of the map and flags the use.
	m := ir.NewModule()
	a := abi.New(m, 32)
	ebp := m.NewGlobalDef("ebp", constant.NewInt(types.I32, 0))

	f := m.NewFunc("f", types.Void)
	b := f.NewBlock("entry")
	st := ir.NewStore(constant.NewInt(types.I32, 0), ebp)
	load := ir.NewLoad(types.I32, ebp)
	add := ir.NewAdd(load, constant.NewInt(types.I32, -4))
	b.Insts = append(b.Insts, st, load, add)
	b.Term = ir.NewRet(nil)

	analysis := rda.Run(m)
	val2val := map[*ir.InstStore]*constant.Int{
		st: constant.NewInt(types.I32, -4),
	}
	tree := Build(analysis, add, val2val)
	if !tree.UsedVal2Val {
		t.Fatal("tree did not consult val2val")
	}
	tree.Simplify(a)
	ci, ok := tree.Root.Value.(*constant.Int)
	if !ok || ci.X.Int64() != -8 {
		t.Errorf("folded value = %v, want -8", tree.Root.Value)
	}
}

func TestTreeExpansionTerminates(t *testing.T) {
	// A register redefined from itself in a loop produces a cyclic def
	// chain; expansion must cut off instead of recursing forever.
	m := ir.NewModule()
	eax := m.NewGlobalDef("eax", constant.NewInt(types.I32, 0))
	f := m.NewFunc("f", types.Void)

	entry := f.NewBlock("entry")
	loop := f.NewBlock("loop")

	entry.Insts = append(entry.Insts, ir.NewStore(constant.NewInt(types.I32, 0), eax))
	entry.Term = ir.NewBr(loop)

	load := ir.NewLoad(types.I32, eax)
	add := ir.NewAdd(load, constant.NewInt(types.I32, 1))
	st := ir.NewStore(add, eax)
	loop.Insts = append(loop.Insts, load, add, st)
	loop.Term = ir.NewCondBr(constant.NewInt(types.I1, 1), loop, entry)

	analysis := rda.Run(m)
	tree := Build(analysis, add, map[*ir.InstStore]*constant.Int{})
	if tree.Root == nil {
		t.Fatal("no tree built")
	}
	if n := len(tree.PostOrder()); n == 0 {
		t.Fatal("empty traversal")
	}
}
