package stackvar

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"bin2ir/internal/lifter"
)

// modifier materializes stack slots and performs the IR surgery of the
// pass: conversions, operand replacement, instruction removal.
type modifier struct {
	slots map[slotKey]*ir.InstAlloca
}

type slotKey struct {
	fn     *ir.Func
	offset int64
	typ    string
}

func newModifier() *modifier {
	return &modifier{slots: make(map[slotKey]*ir.InstAlloca)}
}

// StackVariable returns the slot for (f, offset, t), creating and naming
// it on first use. Repeated calls return the same alloca.
func (mod *modifier) StackVariable(f *ir.Func, offset int64, t types.Type, name string) *ir.InstAlloca {
	key := slotKey{fn: f, offset: offset, typ: t.String()}
	if a, ok := mod.slots[key]; ok {
		return a
	}
	a := ir.NewAlloca(t)
	if name == "" {
		name = fmt.Sprintf("local_%#x", offset)
	}
	a.SetName(name)

	entry := f.Blocks[0]
	entry.Insts = append(entry.Insts, nil)
	copy(entry.Insts[1:], entry.Insts)
	entry.Insts[0] = a

	mod.slots[key] = a
	return a
}

// convert adapts v to type t, inserting cast instructions at cur.
func (mod *modifier) convert(cur *lifter.Cursor, v value.Value, t types.Type) value.Value {
	from := v.Type()
	if from.Equal(t) {
		return v
	}

	fi, fromInt := from.(*types.IntType)
	ti, toInt := t.(*types.IntType)
	_, fromPtr := from.(*types.PointerType)
	_, toPtr := t.(*types.PointerType)

	var c ir.Instruction
	switch {
	case fromInt && toInt:
		if fi.BitSize > ti.BitSize {
			c = ir.NewTrunc(v, t)
		} else {
			c = ir.NewZExt(v, t)
		}
	case fromInt && toPtr:
		c = ir.NewIntToPtr(v, t)
	case fromPtr && toInt:
		c = ir.NewPtrToInt(v, t)
	default:
		c = ir.NewBitCast(v, t)
	}
	cur.Insert(c)
	return c.(value.Value)
}

// locate finds inst's block and index within f.
func locate(f *ir.Func, inst ir.Instruction) (*ir.Block, int) {
	for _, b := range f.Blocks {
		for i, in := range b.Insts {
			if in == inst {
				return b, i
			}
		}
	}
	return nil, -1
}

// erase removes inst from b.
func erase(b *ir.Block, inst ir.Instruction) {
	for i, in := range b.Insts {
		if in == inst {
			b.Insts = append(b.Insts[:i], b.Insts[i+1:]...)
			return
		}
	}
}

// replaceUses swaps every use of old for new across f's instructions and
// terminators.
func replaceUses(f *ir.Func, old, new value.Value) {
	swap := func(v *value.Value) {
		if *v == old {
			*v = new
		}
	}
	for _, b := range f.Blocks {
		for _, in := range b.Insts {
			switch i := in.(type) {
			case *ir.InstLoad:
				swap(&i.Src)
			case *ir.InstStore:
				swap(&i.Src)
				swap(&i.Dst)
			case *ir.InstAdd:
				swap(&i.X)
				swap(&i.Y)
			case *ir.InstSub:
				swap(&i.X)
				swap(&i.Y)
			case *ir.InstMul:
				swap(&i.X)
				swap(&i.Y)
			case *ir.InstAnd:
				swap(&i.X)
				swap(&i.Y)
			case *ir.InstOr:
				swap(&i.X)
				swap(&i.Y)
			case *ir.InstXor:
				swap(&i.X)
				swap(&i.Y)
			case *ir.InstShl:
				swap(&i.X)
				swap(&i.Y)
			case *ir.InstLShr:
				swap(&i.X)
				swap(&i.Y)
			case *ir.InstAShr:
				swap(&i.X)
				swap(&i.Y)
			case *ir.InstICmp:
				swap(&i.X)
				swap(&i.Y)
			case *ir.InstTrunc:
				swap(&i.From)
			case *ir.InstZExt:
				swap(&i.From)
			case *ir.InstSExt:
				swap(&i.From)
			case *ir.InstIntToPtr:
				swap(&i.From)
			case *ir.InstPtrToInt:
				swap(&i.From)
			case *ir.InstBitCast:
				swap(&i.From)
			case *ir.InstCall:
				for ai := range i.Args {
					swap(&i.Args[ai])
				}
			}
		}
		switch t := b.Term.(type) {
		case *ir.TermRet:
			if t.X != nil {
				swap(&t.X)
			}
		case *ir.TermCondBr:
			swap(&t.Cond)
		}
	}
}

// isAggregate reports whether t is an array or struct type.
func isAggregate(t types.Type) bool {
	switch t.(type) {
	case *types.ArrayType, *types.StructType:
		return true
	}
	return false
}
