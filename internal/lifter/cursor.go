package lifter

import "github.com/llir/llvm/ir"

// Cursor is an insertion point into a basic block's instruction list.
// Block terminators are managed separately by the decoder; the cursor only
// ever touches the ordinary instruction sequence.
type Cursor struct {
	Block *ir.Block
	At    int
}

// NewCursor positions a cursor inside b at index at.
func NewCursor(b *ir.Block, at int) *Cursor {
	if at > len(b.Insts) {
		at = len(b.Insts)
	}
	return &Cursor{Block: b, At: at}
}

// AtEnd positions a cursor after the last instruction of b.
func AtEnd(b *ir.Block) *Cursor {
	return &Cursor{Block: b, At: len(b.Insts)}
}

// Insert places inst at the cursor and advances past it.
func (c *Cursor) Insert(inst ir.Instruction) {
	b := c.Block
	b.Insts = append(b.Insts, nil)
	copy(b.Insts[c.At+1:], b.Insts[c.At:])
	b.Insts[c.At] = inst
	c.At++
}
