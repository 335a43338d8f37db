package decoder

import (
	"github.com/llir/llvm/ir"
)

type pseudoKind int

const (
	pseudoCall pseudoKind = iota
	pseudoReturn
	pseudoBr
	pseudoCondBr
)

// pseudoEntry is the resolution state of one pseudo control-flow call.
type pseudoEntry struct {
	kind  pseudoKind
	call  *ir.InstCall
	block *ir.Block // containing block, kept current across splits

	targetFn    *ir.Func
	targetTrue  *ir.Block
	targetFalse *ir.Block
	resolved    bool
}

// PseudoWorklist tracks pseudo control-flow calls awaiting target
// resolution and rewrites them into real calls and terminators as targets
// materialize. Calls never resolved stay in the IR as opaque calls,
// representing indirect control flow.
type PseudoWorklist struct {
	entries map[*ir.InstCall]*pseudoEntry
}

// NewPseudoWorklist returns an empty worklist.
func NewPseudoWorklist() *PseudoWorklist {
	return &PseudoWorklist{entries: make(map[*ir.InstCall]*pseudoEntry)}
}

func (w *PseudoWorklist) add(kind pseudoKind, c *ir.InstCall, b *ir.Block) {
	w.entries[c] = &pseudoEntry{kind: kind, call: c, block: b}
}

// AddPseudoCall registers a function-call pseudo in block b.
func (w *PseudoWorklist) AddPseudoCall(c *ir.InstCall, b *ir.Block) {
	w.add(pseudoCall, c, b)
}

// AddPseudoReturn registers a return pseudo in block b. Returns need no
// target: the block terminates immediately and the call stays in the IR
// carrying the return-address value.
func (w *PseudoWorklist) AddPseudoReturn(c *ir.InstCall, b *ir.Block) {
	w.add(pseudoReturn, c, b)
	e := w.entries[c]
	e.block.Term = ir.NewRet(nil)
	e.resolved = true
}

// AddPseudoBr registers an unconditional-branch pseudo in block b.
func (w *PseudoWorklist) AddPseudoBr(c *ir.InstCall, b *ir.Block) {
	w.add(pseudoBr, c, b)
}

// AddPseudoCondBr registers a conditional-branch pseudo in block b.
func (w *PseudoWorklist) AddPseudoCondBr(c *ir.InstCall, b *ir.Block) {
	w.add(pseudoCondBr, c, b)
}

// BlockOf returns the block currently holding pseudo c, nil if untracked.
func (w *PseudoWorklist) BlockOf(c *ir.InstCall) *ir.Block {
	if e, ok := w.entries[c]; ok {
		return e.block
	}
	return nil
}

// SetTargetFunction resolves a call (or tail-branch) pseudo to fn. Call
// pseudos become real calls in place; branch pseudos become a call followed
// by the block's return.
func (w *PseudoWorklist) SetTargetFunction(c *ir.InstCall, fn *ir.Func) {
	e, ok := w.entries[c]
	if !ok {
		return
	}
	e.targetFn = fn
	real := ir.NewCall(fn)
	w.replace(e, real)
	if e.kind == pseudoBr || e.kind == pseudoCondBr {
		e.block.Term = ir.NewRet(nil)
	}
	e.resolved = true
}

// SetTargetBbTrue resolves the taken edge of a branch pseudo to bb.
func (w *PseudoWorklist) SetTargetBbTrue(c *ir.InstCall, bb *ir.Block) {
	e, ok := w.entries[c]
	if !ok {
		return
	}
	e.targetTrue = bb
	w.finalizeBranch(e)
}

// SetTargetBbFalse resolves the fall-through edge of a conditional pseudo.
func (w *PseudoWorklist) SetTargetBbFalse(c *ir.InstCall, bb *ir.Block) {
	e, ok := w.entries[c]
	if !ok {
		return
	}
	e.targetFalse = bb
	w.finalizeBranch(e)
}

// finalizeBranch rewrites the containing block's terminator once every leg
// of the branch is known, and drops the pseudo call.
func (w *PseudoWorklist) finalizeBranch(e *pseudoEntry) {
	switch e.kind {
	case pseudoBr:
		if e.targetTrue == nil {
			return
		}
		e.block.Term = ir.NewBr(e.targetTrue)
	case pseudoCondBr:
		if e.targetTrue == nil || e.targetFalse == nil {
			return
		}
		cond := e.call.Args[0]
		e.block.Term = ir.NewCondBr(cond, e.targetTrue, e.targetFalse)
	default:
		return
	}
	w.erase(e)
	e.resolved = true
}

// replace swaps the pseudo call for inst inside its block.
func (w *PseudoWorklist) replace(e *pseudoEntry, inst ir.Instruction) {
	for i, in := range e.block.Insts {
		if in == ir.Instruction(e.call) {
			e.block.Insts[i] = inst
			return
		}
	}
}

// erase removes the pseudo call from its block.
func (w *PseudoWorklist) erase(e *pseudoEntry) {
	insts := e.block.Insts
	for i, in := range insts {
		if in == ir.Instruction(e.call) {
			e.block.Insts = append(insts[:i], insts[i+1:]...)
			return
		}
	}
}

// rehome updates the containing block of pseudos moved by a block split.
func (w *PseudoWorklist) rehome(moved []ir.Instruction, to *ir.Block) {
	for _, in := range moved {
		c, ok := in.(*ir.InstCall)
		if !ok {
			continue
		}
		if e, ok := w.entries[c]; ok {
			e.block = to
		}
	}
}

// Unresolved returns the pseudo calls never fixed up; these remain in the
// IR as opaque calls.
func (w *PseudoWorklist) Unresolved() []*ir.InstCall {
	var out []*ir.InstCall
	for c, e := range w.entries {
		if !e.resolved {
			out = append(out, c)
		}
	}
	return out
}
