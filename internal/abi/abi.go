// Package abi exposes the register file of the decoded architecture as IR
// global variables and answers register-identity questions for the decoder
// and the stack reconstructor.
package abi

import (
	"strings"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"golang.org/x/arch/x86/x86asm"
)

// ABI models the x86/x86-64 register file on an IR module. Each full-width
// architectural register is one global variable; narrower registers alias
// their parent. Flag bits get their own i1 globals.
type ABI struct {
	Module *ir.Module

	mode    int // 32 or 64
	regs    map[x86asm.Reg]*ir.Global
	reg2id  map[*ir.Global]x86asm.Reg
	flags   map[string]*ir.Global
	spName  string
	wordTyp *types.IntType
}

// New builds the register file for the given mode (32 or 64) on m.
func New(m *ir.Module, mode int) *ABI {
	a := &ABI{
		Module: m,
		mode:   mode,
		regs:   make(map[x86asm.Reg]*ir.Global),
		reg2id: make(map[*ir.Global]x86asm.Reg),
		flags:  make(map[string]*ir.Global),
	}
	if mode == 64 {
		a.spName = "rsp"
		a.wordTyp = types.I64
	} else {
		a.spName = "esp"
		a.wordTyp = types.I32
	}
	return a
}

// Mode returns 32 or 64.
func (a *ABI) Mode() int { return a.mode }

// WordType returns the native integer type of the architecture.
func (a *ABI) WordType() *types.IntType { return a.wordTyp }

// parents maps narrow registers onto their full-width storage for the
// current mode. Unlisted registers are their own storage.
var parents32 = map[x86asm.Reg]x86asm.Reg{
	x86asm.AL: x86asm.EAX, x86asm.AH: x86asm.EAX, x86asm.AX: x86asm.EAX,
	x86asm.BL: x86asm.EBX, x86asm.BH: x86asm.EBX, x86asm.BX: x86asm.EBX,
	x86asm.CL: x86asm.ECX, x86asm.CH: x86asm.ECX, x86asm.CX: x86asm.ECX,
	x86asm.DL: x86asm.EDX, x86asm.DH: x86asm.EDX, x86asm.DX: x86asm.EDX,
	x86asm.SI: x86asm.ESI, x86asm.DI: x86asm.EDI,
	x86asm.BP: x86asm.EBP, x86asm.SP: x86asm.ESP,
}

var parents64 = map[x86asm.Reg]x86asm.Reg{
	x86asm.AL: x86asm.RAX, x86asm.AH: x86asm.RAX, x86asm.AX: x86asm.RAX, x86asm.EAX: x86asm.RAX,
	x86asm.BL: x86asm.RBX, x86asm.BH: x86asm.RBX, x86asm.BX: x86asm.RBX, x86asm.EBX: x86asm.RBX,
	x86asm.CL: x86asm.RCX, x86asm.CH: x86asm.RCX, x86asm.CX: x86asm.RCX, x86asm.ECX: x86asm.RCX,
	x86asm.DL: x86asm.RDX, x86asm.DH: x86asm.RDX, x86asm.DX: x86asm.RDX, x86asm.EDX: x86asm.RDX,
	x86asm.SI: x86asm.RSI, x86asm.ESI: x86asm.RSI,
	x86asm.DI: x86asm.RDI, x86asm.EDI: x86asm.RDI,
	x86asm.BP: x86asm.RBP, x86asm.EBP: x86asm.RBP,
	x86asm.SP: x86asm.RSP, x86asm.ESP: x86asm.RSP,
}

// Parent returns the full-width storage register for r.
func (a *ABI) Parent(r x86asm.Reg) x86asm.Reg {
	var p map[x86asm.Reg]x86asm.Reg
	if a.mode == 64 {
		p = parents64
	} else {
		p = parents32
	}
	if full, ok := p[r]; ok {
		return full
	}
	return r
}

// Register returns the global variable backing r, creating it on demand.
// Narrow registers resolve to their full-width parent.
func (a *ABI) Register(r x86asm.Reg) *ir.Global {
	full := a.Parent(r)
	if g, ok := a.regs[full]; ok {
		return g
	}
	name := strings.ToLower(full.String())
	g := a.Module.NewGlobalDef(name, constant.NewInt(a.wordTyp, 0))
	a.regs[full] = g
	a.reg2id[g] = full
	return g
}

// Flag returns the i1 global for a named flag bit (zf, sf, cf, of, pf).
func (a *ABI) Flag(name string) *ir.Global {
	if g, ok := a.flags[name]; ok {
		return g
	}
	g := a.Module.NewGlobalDef(name, constant.NewInt(types.I1, 0))
	a.flags[name] = g
	return g
}

// IsRegister reports whether v is one of the register globals.
func (a *ABI) IsRegister(v value.Value) bool {
	g, ok := v.(*ir.Global)
	if !ok {
		return false
	}
	_, ok = a.reg2id[g]
	return ok
}

// IsFlagRegister reports whether v is one of the flag globals.
func (a *ABI) IsFlagRegister(v value.Value) bool {
	g, ok := v.(*ir.Global)
	if !ok {
		return false
	}
	for _, f := range a.flags {
		if f == g {
			return true
		}
	}
	return false
}

// IsStackPointerRegister reports whether v is the stack pointer global.
func (a *ABI) IsStackPointerRegister(v value.Value) bool {
	g, ok := v.(*ir.Global)
	if !ok {
		return false
	}
	id, ok := a.reg2id[g]
	if !ok {
		return false
	}
	return id == x86asm.ESP || id == x86asm.RSP
}

// StackPointer returns the stack pointer global.
func (a *ABI) StackPointer() *ir.Global {
	if a.mode == 64 {
		return a.Register(x86asm.RSP)
	}
	return a.Register(x86asm.ESP)
}

// IsNop reports whether the decoded instruction has no architectural effect.
func (a *ABI) IsNop(inst x86asm.Inst) bool {
	switch inst.Op {
	case x86asm.NOP, x86asm.FNOP:
		return true
	case x86asm.XCHG:
		// xchg r, r with identical operands.
		r0, ok0 := inst.Args[0].(x86asm.Reg)
		r1, ok1 := inst.Args[1].(x86asm.Reg)
		return ok0 && ok1 && r0 == r1
	}
	return false
}
