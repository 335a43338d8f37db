// Package cfggraph converts decoded IR into lattice graphs for DOT export.
package cfggraph

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/zboralski/lattice"

	"bin2ir/internal/decoder"
)

// BuildCallGraph constructs a lattice.Graph from the decoded module.
// Each address-tagged function becomes a node; each resolved call to
// another decoded function becomes an edge.
func BuildCallGraph(d *decoder.Decoder) *lattice.Graph {
	known := make(map[*ir.Func]bool)
	for _, f := range d.Functions() {
		known[f] = true
	}

	g := &lattice.Graph{}
	for _, f := range d.Functions() {
		g.Nodes = append(g.Nodes, f.Name())
		for _, b := range f.Blocks {
			for _, in := range b.Insts {
				call, ok := in.(*ir.InstCall)
				if !ok {
					continue
				}
				callee, ok := call.Callee.(*ir.Func)
				if !ok || !known[callee] {
					continue
				}
				g.Edges = append(g.Edges, lattice.Edge{
					Caller: f.Name(),
					Callee: callee.Name(),
				})
			}
		}
	}
	g.Dedup()
	return g
}

// BuildCFG constructs a lattice.CFGGraph covering every decoded function.
func BuildCFG(d *decoder.Decoder) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, f := range d.Functions() {
		cg.Funcs = append(cg.Funcs, BuildFuncCFG(d, f))
	}
	return cg
}

// BuildFuncCFG maps one decoded function to a lattice.FuncCFG. Block IDs
// follow layout order; successor edges come from the rewritten
// terminators, labeled T/F for conditional legs.
func BuildFuncCFG(d *decoder.Decoder, f *ir.Func) *lattice.FuncCFG {
	id := make(map[*ir.Block]int, len(f.Blocks))
	for i, b := range f.Blocks {
		id[b] = i
	}

	lcfg := &lattice.FuncCFG{Name: f.Name()}
	for i, b := range f.Blocks {
		lb := &lattice.BasicBlock{
			ID:    i,
			Start: i,
			End:   i + 1,
		}

		switch t := b.Term.(type) {
		case *ir.TermBr:
			if tb, ok := t.Target.(*ir.Block); ok {
				lb.Succs = append(lb.Succs, lattice.Successor{BlockID: id[tb]})
			}
		case *ir.TermCondBr:
			if tb, ok := t.TargetTrue.(*ir.Block); ok {
				lb.Succs = append(lb.Succs, lattice.Successor{BlockID: id[tb], Cond: "T"})
			}
			if fb, ok := t.TargetFalse.(*ir.Block); ok {
				lb.Succs = append(lb.Succs, lattice.Successor{BlockID: id[fb], Cond: "F"})
			}
		default:
			lb.Term = true
		}

		for oi, in := range b.Insts {
			call, ok := in.(*ir.InstCall)
			if !ok {
				continue
			}
			callee := calleeLabel(d, call)
			if callee == "" {
				continue
			}
			lb.Calls = append(lb.Calls, lattice.CallSite{Offset: oi, Callee: callee})
		}

		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}

// calleeLabel names a call's target: the decoded function's name for
// resolved calls, a hex fallback for pseudo targets.
func calleeLabel(d *decoder.Decoder, call *ir.InstCall) string {
	callee, ok := call.Callee.(*ir.Func)
	if !ok {
		return ""
	}
	if d.FunctionAddress(callee).Defined() {
		return callee.Name()
	}
	if len(call.Args) > 0 {
		if ci, ok := call.Args[len(call.Args)-1].(*constant.Int); ok {
			return fmt.Sprintf("%s(0x%x)", callee.Name(), ci.X.Uint64())
		}
	}
	return callee.Name()
}
