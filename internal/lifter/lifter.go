// Package lifter translates machine instructions into IR, one at a time.
// Control flow is not resolved here: branches, calls, and returns are
// emitted as calls to sentinel pseudo functions carrying the target value,
// and the decoder later replaces them with real terminators once target
// blocks and functions exist. Every lifted instruction starts with an
// address-marker store so IR positions can be mapped back to addresses.
package lifter

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"golang.org/x/arch/x86/x86asm"

	"bin2ir/internal/abi"
	"bin2ir/internal/addr"
)

// Result is the outcome of translating one machine instruction.
type Result struct {
	Inst   x86asm.Inst
	Marker *ir.InstStore // address-marker store opening the instruction
	Size   int
	// BranchCall is the pseudo control-flow call, nil for ordinary
	// instructions.
	BranchCall *ir.InstCall
	Failed     bool
}

// X86 lifts x86 and x86-64 instructions decoded by x86asm.
type X86 struct {
	abi  *abi.ABI
	mode int

	marker *ir.Global

	pseudoCall   *ir.Func
	pseudoReturn *ir.Func
	pseudoBr     *ir.Func
	pseudoCondBr *ir.Func
}

// New builds a lifter over m using the register file of a.
func New(m *ir.Module, a *abi.ABI) *X86 {
	word := a.WordType()
	l := &X86{
		abi:    a,
		mode:   a.Mode(),
		marker: m.NewGlobalDef("_asm_program_counter", constant.NewInt(types.I64, 0)),
	}
	l.pseudoCall = m.NewFunc("__pseudo_call", types.Void, ir.NewParam("", word))
	l.pseudoReturn = m.NewFunc("__pseudo_return", types.Void, ir.NewParam("", word))
	l.pseudoBr = m.NewFunc("__pseudo_br", types.Void, ir.NewParam("", word))
	l.pseudoCondBr = m.NewFunc("__pseudo_cond_br", types.Void,
		ir.NewParam("", types.I1), ir.NewParam("", word))
	return l
}

// MarkerGlobal returns the address-marker global.
func (l *X86) MarkerGlobal() *ir.Global { return l.marker }

// IsMarkerStore reports whether inst is an address-marker store.
func (l *X86) IsMarkerStore(inst ir.Instruction) bool {
	s, ok := inst.(*ir.InstStore)
	return ok && s.Dst == l.marker
}

// Pseudo-call predicates used by the decoder to classify terminators.

func (l *X86) IsCall(c *ir.InstCall) bool       { return c != nil && c.Callee == l.pseudoCall }
func (l *X86) IsReturn(c *ir.InstCall) bool     { return c != nil && c.Callee == l.pseudoReturn }
func (l *X86) IsBranch(c *ir.InstCall) bool     { return c != nil && c.Callee == l.pseudoBr }
func (l *X86) IsCondBranch(c *ir.InstCall) bool { return c != nil && c.Callee == l.pseudoCondBr }

// IsAnyPseudo reports whether c is one of the four pseudo control-flow calls.
func (l *X86) IsAnyPseudo(c *ir.InstCall) bool {
	return l.IsCall(c) || l.IsReturn(c) || l.IsBranch(c) || l.IsCondBranch(c)
}

// TranslateOne decodes and lifts a single instruction at a, emitting IR
// through cur. A decode failure is reported in the result, not as an error.
func (l *X86) TranslateOne(bytes []byte, a addr.Address, cur *Cursor) Result {
	inst, err := x86asm.Decode(bytes, l.mode)
	if err != nil || inst.Op == 0 {
		// x86asm reports truncated or unintelligible input as a bare
		// prefix byte with no opcode rather than as an error.
		return Result{Failed: true}
	}

	marker := ir.NewStore(constant.NewInt(types.I64, int64(a.Uint64())), l.marker)
	cur.Insert(marker)

	res := Result{Inst: inst, Marker: marker, Size: inst.Len}
	res.BranchCall = l.liftInst(cur, inst, a)
	return res
}

// liftInst emits IR semantics for inst. Returns the pseudo control-flow
// call for terminators, nil otherwise.
func (l *X86) liftInst(cur *Cursor, inst x86asm.Inst, pc addr.Address) *ir.InstCall {
	word := l.abi.WordType()

	switch inst.Op {
	case x86asm.NOP, x86asm.FNOP:
		return nil

	case x86asm.MOV:
		v := l.loadArg(cur, inst, inst.Args[1], pc)
		l.storeArg(cur, inst, inst.Args[0], v, pc)
		return nil

	case x86asm.MOVZX, x86asm.MOVSX, x86asm.MOVSXD:
		v := l.loadArg(cur, inst, inst.Args[1], pc)
		dt := l.argType(inst, inst.Args[0])
		signed := inst.Op != x86asm.MOVZX
		l.storeArg(cur, inst, inst.Args[0], l.convert(cur, v, dt, signed), pc)
		return nil

	case x86asm.LEA:
		m := inst.Args[1].(x86asm.Mem)
		v := l.memAddress(cur, m, pc, inst.Len)
		l.storeArg(cur, inst, inst.Args[0], v, pc)
		return nil

	case x86asm.PUSH:
		v := l.convert(cur, l.loadArg(cur, inst, inst.Args[0], pc), word, false)
		sp := l.loadReg(cur, l.abi.StackPointer())
		nsp := ir.NewSub(sp, constant.NewInt(word, int64(word.BitSize/8)))
		cur.Insert(nsp)
		cur.Insert(ir.NewStore(nsp, l.abi.StackPointer()))
		l.storeMemAt(cur, nsp, v)
		return nil

	case x86asm.POP:
		sp := l.loadReg(cur, l.abi.StackPointer())
		v := l.loadMemAt(cur, sp, word)
		l.storeArg(cur, inst, inst.Args[0], v, pc)
		nsp := ir.NewAdd(sp, constant.NewInt(word, int64(word.BitSize/8)))
		cur.Insert(nsp)
		cur.Insert(ir.NewStore(nsp, l.abi.StackPointer()))
		return nil

	case x86asm.ADD, x86asm.SUB, x86asm.AND, x86asm.OR, x86asm.XOR,
		x86asm.SHL, x86asm.SHR, x86asm.SAR, x86asm.IMUL:
		if inst.Args[1] != nil {
			l.liftBinop(cur, inst, pc)
		}
		return nil

	case x86asm.INC, x86asm.DEC:
		x := l.loadArg(cur, inst, inst.Args[0], pc)
		one := constant.NewInt(x.Type().(*types.IntType), 1)
		var r ir.Instruction
		if inst.Op == x86asm.INC {
			r = ir.NewAdd(x, one)
		} else {
			r = ir.NewSub(x, one)
		}
		cur.Insert(r)
		rv := r.(value.Value)
		l.storeArg(cur, inst, inst.Args[0], rv, pc)
		l.setResultFlags(cur, rv)
		return nil

	case x86asm.CMP:
		x := l.loadArg(cur, inst, inst.Args[0], pc)
		y := l.matchWidth(cur, l.loadArg(cur, inst, inst.Args[1], pc), x)
		d := ir.NewSub(x, y)
		cur.Insert(d)
		l.setResultFlags(cur, d)
		l.setCarry(cur, x, y)
		return nil

	case x86asm.TEST:
		x := l.loadArg(cur, inst, inst.Args[0], pc)
		y := l.matchWidth(cur, l.loadArg(cur, inst, inst.Args[1], pc), x)
		r := ir.NewAnd(x, y)
		cur.Insert(r)
		l.setResultFlags(cur, r)
		return nil

	case x86asm.CALL:
		tv := l.branchTarget(cur, inst, inst.Args[0], pc)
		bc := ir.NewCall(l.pseudoCall, tv)
		cur.Insert(bc)
		return bc

	case x86asm.RET, x86asm.LRET:
		sp := l.loadReg(cur, l.abi.StackPointer())
		ra := l.loadMemAt(cur, sp, word)
		pop := int64(word.BitSize / 8)
		if imm, ok := inst.Args[0].(x86asm.Imm); ok {
			pop += int64(imm)
		}
		nsp := ir.NewAdd(sp, constant.NewInt(word, pop))
		cur.Insert(nsp)
		cur.Insert(ir.NewStore(nsp, l.abi.StackPointer()))
		bc := ir.NewCall(l.pseudoReturn, ra)
		cur.Insert(bc)
		return bc

	case x86asm.JMP, x86asm.LJMP:
		tv := l.branchTarget(cur, inst, inst.Args[0], pc)
		bc := ir.NewCall(l.pseudoBr, tv)
		cur.Insert(bc)
		return bc
	}

	if cond := l.liftCondJump(cur, inst); cond != nil {
		tv := l.branchTarget(cur, inst, inst.Args[0], pc)
		bc := ir.NewCall(l.pseudoCondBr, cond, tv)
		cur.Insert(bc)
		return bc
	}

	// Unmodeled instruction: only the address marker is kept.
	return nil
}

// liftBinop emits dst = dst <op> src with result flags.
func (l *X86) liftBinop(cur *Cursor, inst x86asm.Inst, pc addr.Address) {
	x := l.loadArg(cur, inst, inst.Args[0], pc)
	y := l.matchWidth(cur, l.loadArg(cur, inst, inst.Args[1], pc), x)

	var r ir.Instruction
	switch inst.Op {
	case x86asm.ADD:
		r = ir.NewAdd(x, y)
	case x86asm.SUB:
		r = ir.NewSub(x, y)
	case x86asm.AND:
		r = ir.NewAnd(x, y)
	case x86asm.OR:
		r = ir.NewOr(x, y)
	case x86asm.XOR:
		r = ir.NewXor(x, y)
	case x86asm.SHL:
		r = ir.NewShl(x, y)
	case x86asm.SHR:
		r = ir.NewLShr(x, y)
	case x86asm.SAR:
		r = ir.NewAShr(x, y)
	case x86asm.IMUL:
		r = ir.NewMul(x, y)
	}
	cur.Insert(r)
	rv := r.(value.Value)
	l.storeArg(cur, inst, inst.Args[0], rv, pc)
	l.setResultFlags(cur, rv)
}
