package decoder

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"

	"bin2ir/internal/addr"
)

// asmInst is one lifted machine instruction located by its address-marker
// store. The block pointer is kept current as blocks split and move
// between functions.
type asmInst struct {
	addr   addr.Address
	size   int
	marker *ir.InstStore
	block  *ir.Block
}

// markerAddress reads the instruction address out of a marker store.
func markerAddress(s *ir.InstStore) addr.Address {
	ci, ok := s.Src.(*constant.Int)
	if !ok {
		return addr.Undef()
	}
	return addr.New(ci.X.Uint64())
}

// markerIndex finds the position of the marker store inside its block.
func markerIndex(b *ir.Block, marker *ir.InstStore) int {
	for i, in := range b.Insts {
		if in == ir.Instruction(marker) {
			return i
		}
	}
	return -1
}

// instAt returns the lifted instruction beginning exactly at a.
func (d *Decoder) instAt(a addr.Address) *asmInst {
	if !a.Defined() {
		return nil
	}
	return d.insts[a.Uint64()]
}

// splitBlockAt splits ai's block at ai's boundary. The new block inherits
// the instructions from ai onward along with the old terminator; the old
// block falls through with an unconditional branch. Splitting at the first
// instruction is a no-op returning the existing block.
func (d *Decoder) splitBlockAt(ai *asmInst) *ir.Block {
	b := ai.block
	i := markerIndex(b, ai.marker)
	if i <= 0 {
		if i == 0 {
			return b
		}
		return nil
	}

	f := b.Parent
	nb := ir.NewBlock(fmt.Sprintf("bb_%x", ai.addr.Uint64()))
	nb.Parent = f

	moved := make([]ir.Instruction, len(b.Insts)-i)
	copy(moved, b.Insts[i:])
	nb.Insts = moved
	b.Insts = b.Insts[:i:i]

	nb.Term = b.Term
	b.Term = ir.NewBr(nb)

	// Insert the new block right after the old one.
	for bi, blk := range f.Blocks {
		if blk == b {
			f.Blocks = append(f.Blocks, nil)
			copy(f.Blocks[bi+2:], f.Blocks[bi+1:])
			f.Blocks[bi+1] = nb
			break
		}
	}

	d.rehomeInsts(moved, nb)
	d.pseudos.rehome(moved, nb)
	d.idx.addBlock(ai.addr, nb)
	return nb
}

// splitFunctionAt splits ai's function at ai's boundary into a new
// function. The boundary block and everything after it move to the new
// function; a severed fall-through becomes a plain return.
func (d *Decoder) splitFunctionAt(ai *asmInst, name string) *ir.Func {
	bb := d.splitBlockAt(ai)
	if bb == nil {
		return nil
	}
	f := bb.Parent

	bi := -1
	for i, blk := range f.Blocks {
		if blk == bb {
			bi = i
			break
		}
	}
	if bi <= 0 {
		// Splitting a function at its entry block would leave it empty.
		return nil
	}

	nf := d.newFunction(ai.addr, name)
	moved := make([]*ir.Block, len(f.Blocks)-bi)
	copy(moved, f.Blocks[bi:])
	f.Blocks = f.Blocks[:bi:bi]
	nf.Blocks = moved
	for _, blk := range moved {
		blk.Parent = nf
	}

	// The fall-through branch created by the block split now crosses the
	// function boundary; sever it.
	last := f.Blocks[len(f.Blocks)-1]
	if br, ok := last.Term.(*ir.TermBr); ok && br.Target == bb {
		last.Term = ir.NewRet(nil)
	}

	d.idx.addFunction(ai.addr, nf)
	d.idx.addBlock(ai.addr, bb)
	return nf
}

// rehomeInsts updates the block pointers of lifted instructions moved by a
// split.
func (d *Decoder) rehomeInsts(moved []ir.Instruction, to *ir.Block) {
	for _, in := range moved {
		s, ok := in.(*ir.InstStore)
		if !ok || s.Dst != d.Lifter.MarkerGlobal() {
			continue
		}
		a := markerAddress(s)
		if ai := d.instAt(a); ai != nil && ai.marker == s {
			ai.block = to
		}
	}
}

// blockEndAddress returns the address of the last lifted instruction in b.
func (d *Decoder) blockEndAddress(b *ir.Block) addr.Address {
	if b == nil {
		return addr.Undef()
	}
	for i := len(b.Insts) - 1; i >= 0; i-- {
		if s, ok := b.Insts[i].(*ir.InstStore); ok && s.Dst == d.Lifter.MarkerGlobal() {
			return markerAddress(s)
		}
	}
	return d.idx.BlockAddress(b)
}

// functionEndAddress returns the address of the last lifted instruction of
// f, or its start address if nothing was lifted.
func (d *Decoder) functionEndAddress(f *ir.Func) addr.Address {
	if f == nil {
		return addr.Undef()
	}
	for i := len(f.Blocks) - 1; i >= 0; i-- {
		if a := d.blockEndAddress(f.Blocks[i]); a.Defined() {
			return a
		}
	}
	return d.idx.FunctionAddress(f)
}

// functionContaining returns the function whose decoded span covers a.
func (d *Decoder) functionContaining(a addr.Address) *ir.Func {
	f := d.idx.GetFunctionBefore(a)
	if f == nil {
		return nil
	}
	end := d.functionEndAddress(f)
	if a.Defined() && end.Defined() && a.Less(end) {
		return f
	}
	return nil
}
