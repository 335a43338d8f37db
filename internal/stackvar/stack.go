package stackvar

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"bin2ir/internal/abi"
	"bin2ir/internal/addr"
	"bin2ir/internal/dbginfo"
	"bin2ir/internal/lifter"
	"bin2ir/internal/rda"
)

// Options configures a stack reconstruction run.
type Options struct {
	ABI    *abi.ABI
	Lifter *lifter.X86
	// Debug optionally names and types slots from debug information.
	Debug *dbginfo.Provider
	// FuncAddr maps functions to their start addresses for debug lookup.
	FuncAddr func(*ir.Func) addr.Address
}

// replaceItem is one pending rewrite: replace the use of from in inst with
// the stack slot.
type replaceItem struct {
	inst ir.Instruction
	from value.Value
	to   *ir.InstAlloca
}

// Run reconstructs stack variables for every function of m. The pass never
// fails: accesses that do not fold to a constant offset are left alone.
func Run(m *ir.Module, opts Options) {
	analysis := rda.Run(m)
	mod := newModifier()
	for _, f := range m.Funcs {
		if len(f.Blocks) == 0 {
			continue
		}
		runOnFunction(f, analysis, mod, opts)
	}
}

func runOnFunction(f *ir.Func, analysis *rda.Analysis, mod *modifier, opts Options) {
	val2val := make(map[*ir.InstStore]*constant.Int)
	var items []replaceItem

	// First pass: stored values. Folding these tracks register copies of
	// the stack pointer through memory.
	for _, b := range f.Blocks {
		for _, in := range b.Insts {
			st, ok := in.(*ir.InstStore)
			if !ok || opts.Lifter.IsMarkerStore(st) {
				continue
			}
			handleValue(f, st, st.Src, st.Src.Type(), analysis, mod, opts, val2val, &items)
		}
	}

	// Second pass: pointer operands of loads and stores.
	for _, b := range f.Blocks {
		for _, in := range b.Insts {
			switch i := in.(type) {
			case *ir.InstLoad:
				if isBool(i.ElemType) || isGlobal(i.Src) {
					continue
				}
				handleValue(f, i, i.Src, i.ElemType, analysis, mod, opts, val2val, &items)
			case *ir.InstStore:
				if opts.Lifter.IsMarkerStore(i) {
					continue
				}
				if isBool(i.Src.Type()) || isGlobal(i.Dst) {
					continue
				}
				handleValue(f, i, i.Dst, i.Src.Type(), analysis, mod, opts, val2val, &items)
			}
		}
	}

	apply(f, mod, items)
}

// handleValue folds the symbolic expression of val and records a rewrite
// when it reduces to a constant frame offset.
func handleValue(
	f *ir.Func,
	inst ir.Instruction,
	val value.Value,
	typ types.Type,
	analysis *rda.Analysis,
	mod *modifier,
	opts Options,
	val2val map[*ir.InstStore]*constant.Int,
	items *[]replaceItem,
) {
	tree := Build(analysis, val, val2val)

	if !tree.UsedVal2Val && !tree.ReferencesStackPointer(opts.ABI) {
		return
	}

	debugSv := debugStackVariable(f, tree, opts)
	tree.Simplify(opts.ABI)
	if debugSv == nil {
		debugSv = debugStackVariable(f, tree, opts)
	}

	ci, ok := tree.Root.Value.(*constant.Int)
	if !ok {
		return
	}

	if st, isStore := inst.(*ir.InstStore); isStore && st.Src == val {
		val2val[st] = ci
	}

	name := ""
	t := typ
	if debugSv != nil {
		name = debugSv.Name
		t = dbginfo.TypeByName(debugSv.Type, typ)
	}

	slot := mod.StackVariable(f, ci.X.Int64(), t, name)
	*items = append(*items, replaceItem{inst: inst, from: val, to: slot})
}

// debugStackVariable matches the tree's base offset against debug locals.
// A local matches only on an exact stack offset.
func debugStackVariable(f *ir.Func, tree *Tree, opts Options) *dbginfo.Local {
	if opts.Debug == nil || opts.FuncAddr == nil {
		return nil
	}
	df := opts.Debug.Function(opts.FuncAddr(f))
	if df == nil {
		return nil
	}

	var offset int64
	found := false
	if ci, ok := tree.Root.Value.(*constant.Int); ok {
		offset = ci.X.Int64()
		found = true
	} else {
		for _, n := range tree.LevelOrder() {
			if _, ok := n.Value.(*ir.InstAdd); !ok || len(n.Ops) != 2 {
				continue
			}
			load, okL := n.Ops[0].Value.(*ir.InstLoad)
			ci, okC := n.Ops[1].Value.(*constant.Int)
			if okL && okC {
				if opts.ABI.IsRegister(load.Src) {
					offset = ci.X.Int64()
					found = true
				}
				break
			}
		}
	}
	if !found {
		return nil
	}
	return df.LocalAtOffset(offset)
}

// apply performs the collected rewrites and erases superseded accesses.
func apply(f *ir.Func, mod *modifier, items []replaceItem) {
	toErase := make(map[ir.Instruction]*ir.Block)

	for _, ri := range items {
		b, i := locate(f, ri.inst)
		if b == nil {
			continue
		}
		cur := lifter.NewCursor(b, i)

		switch inst := ri.inst.(type) {
		case *ir.InstStore:
			if inst.Dst == ri.from {
				if isAggregate(ri.to.ElemType) {
					inst.Dst = mod.convert(cur, ri.to, inst.Dst.Type())
				} else {
					conv := mod.convert(cur, inst.Src, ri.to.ElemType)
					cur.Insert(ir.NewStore(conv, ri.to))
					toErase[inst] = b
				}
				continue
			}
		case *ir.InstLoad:
			if inst.Src == ri.from {
				if isAggregate(ri.to.ElemType) {
					inst.Src = mod.convert(cur, ri.to, inst.Src.Type())
				} else {
					nl := ir.NewLoad(ri.to.ElemType, ri.to)
					cur.Insert(nl)
					conv := mod.convert(cur, nl, inst.ElemType)
					replaceUses(f, inst, conv)
					toErase[inst] = b
				}
				continue
			}
		}

		// Neither pointer operand matched: replace the folded value
		// operand itself with the (converted) slot.
		conv := mod.convert(cur, ri.to, ri.from.Type())
		replaceOperand(ri.inst, ri.from, conv)
	}

	for inst, b := range toErase {
		erase(b, inst)
	}
}

// replaceOperand swaps from for to within a single instruction.
func replaceOperand(inst ir.Instruction, from, to value.Value) {
	switch i := inst.(type) {
	case *ir.InstStore:
		if i.Src == from {
			i.Src = to
		}
		if i.Dst == from {
			i.Dst = to
		}
	case *ir.InstLoad:
		if i.Src == from {
			i.Src = to
		}
	}
}

func isBool(t types.Type) bool {
	it, ok := t.(*types.IntType)
	return ok && it.BitSize == 1
}

func isGlobal(v value.Value) bool {
	_, ok := v.(*ir.Global)
	return ok
}
