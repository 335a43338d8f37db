package rda

import (
	"testing"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
)

// entry: store 1, @eax; br next
// next:  store 2, @eax; load @eax; ret
// The load must see only the in-block store.
func TestDefsWithinBlock(t *testing.T) {
	m := ir.NewModule()
	eax := m.NewGlobalDef("eax", constant.NewInt(types.I32, 0))
	f := m.NewFunc("f", types.Void)

	entry := f.NewBlock("entry")
	st1 := ir.NewStore(constant.NewInt(types.I32, 1), eax)
	entry.Insts = append(entry.Insts, st1)

	next := f.NewBlock("next")
	entry.Term = ir.NewBr(next)
	st2 := ir.NewStore(constant.NewInt(types.I32, 2), eax)
	load := ir.NewLoad(types.I32, eax)
	next.Insts = append(next.Insts, st2, load)
	next.Term = ir.NewRet(nil)

	a := Run(m)
	defs := a.DefsFromUse(load)
	if len(defs) != 1 || defs[0] != st2 {
		t.Fatalf("defs = %v, want just the in-block store", defs)
	}
}

func TestDefsMergeAcrossBranches(t *testing.T) {
	m := ir.NewModule()
	eax := m.NewGlobalDef("eax", constant.NewInt(types.I32, 0))
	f := m.NewFunc("f", types.Void)

	entry := f.NewBlock("entry")
	left := f.NewBlock("left")
	right := f.NewBlock("right")
	join := f.NewBlock("join")

	cond := constant.NewInt(types.I1, 1)
	entry.Term = ir.NewCondBr(cond, left, right)

	stL := ir.NewStore(constant.NewInt(types.I32, 1), eax)
	left.Insts = append(left.Insts, stL)
	left.Term = ir.NewBr(join)

	stR := ir.NewStore(constant.NewInt(types.I32, 2), eax)
	right.Insts = append(right.Insts, stR)
	right.Term = ir.NewBr(join)

	load := ir.NewLoad(types.I32, eax)
	join.Insts = append(join.Insts, load)
	join.Term = ir.NewRet(nil)

	a := Run(m)
	defs := a.DefsFromUse(load)
	if len(defs) != 2 {
		t.Fatalf("defs = %d, want both branch stores", len(defs))
	}
	seen := map[*ir.InstStore]bool{}
	for _, d := range defs {
		seen[d] = true
	}
	if !seen[stL] || !seen[stR] {
		t.Errorf("defs missing a branch store: %v", defs)
	}
}

func TestLoadThroughComputedPointerHasNoDefs(t *testing.T) {
	m := ir.NewModule()
	f := m.NewFunc("f", types.Void)
	b := f.NewBlock("entry")

	p := ir.NewIntToPtr(constant.NewInt(types.I32, 0x1000), types.NewPointer(types.I32))
	load := ir.NewLoad(types.I32, p)
	b.Insts = append(b.Insts, p, load)
	b.Term = ir.NewRet(nil)

	a := Run(m)
	if defs := a.DefsFromUse(load); len(defs) != 0 {
		t.Errorf("computed pointer load has defs: %v", defs)
	}
}

func TestDefsThroughLoop(t *testing.T) {
	// entry: store 1, @eax; br loop
	// loop:  load @eax; store 2, @eax; condbr loop, exit
	// exit:  load @eax; ret
	m := ir.NewModule()
	eax := m.NewGlobalDef("eax", constant.NewInt(types.I32, 0))
	f := m.NewFunc("f", types.Void)

	entry := f.NewBlock("entry")
	loop := f.NewBlock("loop")
	exit := f.NewBlock("exit")

	st1 := ir.NewStore(constant.NewInt(types.I32, 1), eax)
	entry.Insts = append(entry.Insts, st1)
	entry.Term = ir.NewBr(loop)

	loadLoop := ir.NewLoad(types.I32, eax)
	st2 := ir.NewStore(constant.NewInt(types.I32, 2), eax)
	loop.Insts = append(loop.Insts, loadLoop, st2)
	loop.Term = ir.NewCondBr(constant.NewInt(types.I1, 1), loop, exit)

	loadExit := ir.NewLoad(types.I32, eax)
	exit.Insts = append(exit.Insts, loadExit)
	exit.Term = ir.NewRet(nil)

	a := Run(m)

	// The loop-head load sees the entry store and its own back edge.
	defs := a.DefsFromUse(loadLoop)
	if len(defs) != 2 {
		t.Fatalf("loop load defs = %d, want 2", len(defs))
	}
	// The exit load sees only the last loop store.
	defs = a.DefsFromUse(loadExit)
	if len(defs) != 1 || defs[0] != st2 {
		t.Fatalf("exit load defs = %v, want just the loop store", defs)
	}
}
