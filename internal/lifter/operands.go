package lifter

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"golang.org/x/arch/x86/x86asm"

	"bin2ir/internal/addr"
)

// regBits returns the architectural width of r in bits.
func regBits(r x86asm.Reg) uint64 {
	switch {
	case r >= x86asm.AL && r <= x86asm.R15B:
		return 8
	case r >= x86asm.AX && r <= x86asm.R15W:
		return 16
	case r >= x86asm.EAX && r <= x86asm.R15L:
		return 32
	default:
		return 64
	}
}

// argType returns the integer type an operand is read or written at.
func (l *X86) argType(inst x86asm.Inst, arg x86asm.Arg) *types.IntType {
	if r, ok := arg.(x86asm.Reg); ok {
		return types.NewInt(regBits(r))
	}
	if inst.DataSize > 0 {
		return types.NewInt(uint64(inst.DataSize))
	}
	return l.abi.WordType()
}

// loadReg loads the full-width value of a register global.
func (l *X86) loadReg(cur *Cursor, g *ir.Global) value.Value {
	ld := ir.NewLoad(l.abi.WordType(), g)
	cur.Insert(ld)
	return ld
}

// convert adapts v to integer type to, truncating or extending as needed.
func (l *X86) convert(cur *Cursor, v value.Value, to *types.IntType, signed bool) value.Value {
	from, ok := v.Type().(*types.IntType)
	if !ok || from.BitSize == to.BitSize {
		return v
	}
	var c ir.Instruction
	switch {
	case from.BitSize > to.BitSize:
		c = ir.NewTrunc(v, to)
	case signed:
		c = ir.NewSExt(v, to)
	default:
		c = ir.NewZExt(v, to)
	}
	cur.Insert(c)
	return c.(value.Value)
}

// matchWidth adapts y to the width of x.
func (l *X86) matchWidth(cur *Cursor, y, x value.Value) value.Value {
	xt, ok := x.Type().(*types.IntType)
	if !ok {
		return y
	}
	return l.convert(cur, y, xt, true)
}

// loadArg reads an operand value at its natural width.
func (l *X86) loadArg(cur *Cursor, inst x86asm.Inst, arg x86asm.Arg, pc addr.Address) value.Value {
	switch a := arg.(type) {
	case x86asm.Reg:
		v := l.loadReg(cur, l.abi.Register(a))
		return l.convert(cur, v, types.NewInt(regBits(a)), false)
	case x86asm.Imm:
		return constant.NewInt(l.argType(inst, arg), int64(a))
	case x86asm.Mem:
		p := l.memAddress(cur, a, pc, inst.Len)
		return l.loadMemAt(cur, p, l.argType(inst, arg))
	case x86asm.Rel:
		return constant.NewInt(l.abi.WordType(),
			int64(pc.Uint64())+int64(inst.Len)+int64(a))
	}
	return constant.NewInt(l.abi.WordType(), 0)
}

// storeArg writes v to an operand location.
func (l *X86) storeArg(cur *Cursor, inst x86asm.Inst, arg x86asm.Arg, v value.Value, pc addr.Address) {
	switch a := arg.(type) {
	case x86asm.Reg:
		full := l.convert(cur, v, l.abi.WordType(), false)
		cur.Insert(ir.NewStore(full, l.abi.Register(a)))
	case x86asm.Mem:
		p := l.memAddress(cur, a, pc, inst.Len)
		l.storeMemAt(cur, p, v)
	}
}

// memAddress computes the effective address of a memory operand as a
// word-sized integer.
func (l *X86) memAddress(cur *Cursor, m x86asm.Mem, pc addr.Address, length int) value.Value {
	word := l.abi.WordType()

	// RIP-relative operands resolve to a constant.
	if m.Base == x86asm.RIP || m.Base == x86asm.EIP || m.Base == x86asm.IP {
		if pc.Defined() {
			return constant.NewInt(word, int64(pc.Uint64())+int64(length)+m.Disp)
		}
	}

	var v value.Value
	if m.Base != 0 && m.Base != x86asm.RIP && m.Base != x86asm.EIP && m.Base != x86asm.IP {
		v = l.loadReg(cur, l.abi.Register(m.Base))
	}
	if m.Index != 0 {
		idx := l.loadReg(cur, l.abi.Register(m.Index))
		if m.Scale > 1 {
			mul := ir.NewMul(idx, constant.NewInt(word, int64(m.Scale)))
			cur.Insert(mul)
			idx = mul
		}
		if v == nil {
			v = idx
		} else {
			add := ir.NewAdd(v, idx)
			cur.Insert(add)
			v = add
		}
	}
	if v == nil {
		return constant.NewInt(word, m.Disp)
	}
	if m.Disp != 0 {
		add := ir.NewAdd(v, constant.NewInt(word, m.Disp))
		cur.Insert(add)
		v = add
	}
	return v
}

// loadMemAt loads a value of type ty from the integer address p.
func (l *X86) loadMemAt(cur *Cursor, p value.Value, ty *types.IntType) value.Value {
	ptr := ir.NewIntToPtr(p, types.NewPointer(ty))
	cur.Insert(ptr)
	ld := ir.NewLoad(ty, ptr)
	cur.Insert(ld)
	return ld
}

// storeMemAt stores v at the integer address p.
func (l *X86) storeMemAt(cur *Cursor, p value.Value, v value.Value) {
	ptr := ir.NewIntToPtr(p, types.NewPointer(v.Type()))
	cur.Insert(ptr)
	cur.Insert(ir.NewStore(v, ptr))
}

// branchTarget computes the target value of a branch or call operand.
// Direct targets become word-sized constants so the decoder can queue them.
func (l *X86) branchTarget(cur *Cursor, inst x86asm.Inst, arg x86asm.Arg, pc addr.Address) value.Value {
	word := l.abi.WordType()
	switch a := arg.(type) {
	case x86asm.Rel:
		return constant.NewInt(word, int64(pc.Uint64())+int64(inst.Len)+int64(a))
	case x86asm.Imm:
		return constant.NewInt(word, int64(a))
	case x86asm.Reg:
		return l.loadReg(cur, l.abi.Register(a))
	case x86asm.Mem:
		p := l.memAddress(cur, a, pc, inst.Len)
		return l.loadMemAt(cur, p, word)
	}
	return constant.NewInt(word, 0)
}

// setResultFlags updates zf and sf from an integer result.
func (l *X86) setResultFlags(cur *Cursor, res value.Value) {
	it, ok := res.Type().(*types.IntType)
	if !ok {
		return
	}
	zero := constant.NewInt(it, 0)
	zf := ir.NewICmp(enum.IPredEQ, res, zero)
	cur.Insert(zf)
	cur.Insert(ir.NewStore(zf, l.abi.Flag("zf")))
	sf := ir.NewICmp(enum.IPredSLT, res, zero)
	cur.Insert(sf)
	cur.Insert(ir.NewStore(sf, l.abi.Flag("sf")))
}

// setCarry updates cf from an unsigned compare of the operands.
func (l *X86) setCarry(cur *Cursor, x, y value.Value) {
	cf := ir.NewICmp(enum.IPredULT, x, y)
	cur.Insert(cf)
	cur.Insert(ir.NewStore(cf, l.abi.Flag("cf")))
}

// liftCondJump returns the i1 condition for a conditional jump, nil if
// inst is not one.
func (l *X86) liftCondJump(cur *Cursor, inst x86asm.Inst) value.Value {
	loadFlag := func(name string) value.Value {
		ld := ir.NewLoad(types.I1, l.abi.Flag(name))
		cur.Insert(ld)
		return ld
	}
	not := func(v value.Value) value.Value {
		x := ir.NewXor(v, constant.NewInt(types.I1, 1))
		cur.Insert(x)
		return x
	}
	and := func(a, b value.Value) value.Value {
		x := ir.NewAnd(a, b)
		cur.Insert(x)
		return x
	}
	or := func(a, b value.Value) value.Value {
		x := ir.NewOr(a, b)
		cur.Insert(x)
		return x
	}

	switch inst.Op {
	case x86asm.JE:
		return loadFlag("zf")
	case x86asm.JNE:
		return not(loadFlag("zf"))
	case x86asm.JS:
		return loadFlag("sf")
	case x86asm.JNS:
		return not(loadFlag("sf"))
	case x86asm.JB:
		return loadFlag("cf")
	case x86asm.JAE:
		return not(loadFlag("cf"))
	case x86asm.JBE:
		return or(loadFlag("cf"), loadFlag("zf"))
	case x86asm.JA:
		return and(not(loadFlag("cf")), not(loadFlag("zf")))
	case x86asm.JL:
		return loadFlag("sf")
	case x86asm.JGE:
		return not(loadFlag("sf"))
	case x86asm.JLE:
		return or(loadFlag("sf"), loadFlag("zf"))
	case x86asm.JG:
		return and(not(loadFlag("sf")), not(loadFlag("zf")))
	case x86asm.JO:
		return loadFlag("of")
	case x86asm.JNO:
		return not(loadFlag("of"))
	case x86asm.JP:
		return loadFlag("pf")
	case x86asm.JNP:
		return not(loadFlag("pf"))
	case x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ:
		cx := l.loadReg(cur, l.abi.Register(x86asm.ECX))
		z := ir.NewICmp(enum.IPredEQ, cx, constant.NewInt(l.abi.WordType(), 0))
		cur.Insert(z)
		return z
	}
	return nil
}
