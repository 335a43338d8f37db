package decoder

import (
	"github.com/google/btree"
	"github.com/llir/llvm/ir"

	"bin2ir/internal/addr"
)

// index keeps the bidirectional address maps for decoded functions and
// basic blocks. The address-keyed directions are ordered trees so the
// decoder can do nearest-below lookups when placing new blocks and
// splitting functions.
type index struct {
	addr2fnc *btree.BTreeG[fncEntry]
	fnc2addr map[*ir.Func]addr.Address

	addr2bb *btree.BTreeG[bbEntry]
	bb2addr map[*ir.Block]addr.Address
}

type fncEntry struct {
	addr addr.Address
	fnc  *ir.Func
}

type bbEntry struct {
	addr addr.Address
	bb   *ir.Block
}

func newIndex() *index {
	return &index{
		addr2fnc: btree.NewG[fncEntry](8, func(a, b fncEntry) bool {
			return a.addr.Less(b.addr)
		}),
		fnc2addr: make(map[*ir.Func]addr.Address),
		addr2bb: btree.NewG[bbEntry](8, func(a, b bbEntry) bool {
			return a.addr.Less(b.addr)
		}),
		bb2addr: make(map[*ir.Block]addr.Address),
	}
}

func (x *index) addFunction(a addr.Address, f *ir.Func) {
	x.addr2fnc.ReplaceOrInsert(fncEntry{addr: a, fnc: f})
	x.fnc2addr[f] = a
}

func (x *index) addBlock(a addr.Address, b *ir.Block) {
	x.addr2bb.ReplaceOrInsert(bbEntry{addr: a, bb: b})
	x.bb2addr[b] = a
}

// FunctionAddress returns the start address of f, undefined if unknown.
func (x *index) FunctionAddress(f *ir.Func) addr.Address {
	return x.fnc2addr[f]
}

// BlockAddress returns the start address of b, undefined if unknown.
func (x *index) BlockAddress(b *ir.Block) addr.Address {
	return x.bb2addr[b]
}

// GetFunction returns the function starting exactly at a.
func (x *index) GetFunction(a addr.Address) *ir.Func {
	if e, ok := x.addr2fnc.Get(fncEntry{addr: a}); ok {
		return e.fnc
	}
	return nil
}

// GetFunctionBefore returns the nearest function starting at or before a.
func (x *index) GetFunctionBefore(a addr.Address) *ir.Func {
	var f *ir.Func
	x.addr2fnc.DescendLessOrEqual(fncEntry{addr: a}, func(e fncEntry) bool {
		f = e.fnc
		return false
	})
	return f
}

// GetBlock returns the block starting exactly at a.
func (x *index) GetBlock(a addr.Address) *ir.Block {
	if e, ok := x.addr2bb.Get(bbEntry{addr: a}); ok {
		return e.bb
	}
	return nil
}

// GetBlockBefore returns the nearest block starting at or before a.
func (x *index) GetBlockBefore(a addr.Address) *ir.Block {
	var b *ir.Block
	x.addr2bb.DescendLessOrEqual(bbEntry{addr: a}, func(e bbEntry) bool {
		b = e.bb
		return false
	})
	return b
}

// Functions returns decoded functions in address order.
func (x *index) Functions() []*ir.Func {
	out := make([]*ir.Func, 0, x.addr2fnc.Len())
	x.addr2fnc.Ascend(func(e fncEntry) bool {
		out = append(out, e.fnc)
		return true
	})
	return out
}
