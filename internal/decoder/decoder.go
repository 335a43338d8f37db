// Package decoder reconstructs functions and basic blocks from a binary
// image. A worklist of prioritized jump targets drives recursive decoding:
// each target is lifted instruction by instruction into IR, terminators
// spawn new targets, and blocks and functions are created or split as
// branch targets land inside already-decoded regions.
package decoder

import (
	"errors"
	"fmt"
	"io"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"bin2ir/internal/abi"
	"bin2ir/internal/addr"
	"bin2ir/internal/config"
	"bin2ir/internal/image"
	"bin2ir/internal/lifter"
)

var (
	// ErrConfig marks setup failures before decoding starts.
	ErrConfig = errors.New("decoder: configuration error")
	// ErrInvariant marks internal inconsistencies; these indicate a
	// programmer bug or corrupted input, not a recoverable condition.
	ErrInvariant = errors.New("decoder: invariant violation")
)

// Decoder owns the mutable state of one decode run. It is single-threaded;
// separate runs over separate modules may proceed in parallel.
type Decoder struct {
	Module *ir.Module
	ABI    *abi.ABI
	Lifter *lifter.X86

	// Diag receives recoverable-decode diagnostics.
	Diag io.Writer

	img image.Image
	cfg *config.Config

	allowed     *addr.RangeSet
	alternative *addr.RangeSet

	worklist *Worklist
	pseudos  *PseudoWorklist
	idx      *index
	insts    map[uint64]*asmInst
	mode     int
}

// New prepares a decode context for img under cfg.
func New(img image.Image, cfg *config.Config) (*Decoder, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: no image", ErrConfig)
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: no config", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	m := ir.NewModule()
	a := abi.New(m, cfg.Mode)
	return &Decoder{
		Module:      m,
		ABI:         a,
		Lifter:      lifter.New(m, a),
		Diag:        io.Discard,
		img:         img,
		cfg:         cfg,
		allowed:     addr.NewRangeSet(),
		alternative: addr.NewRangeSet(),
		worklist:    NewWorklist(),
		pseudos:     NewPseudoWorklist(),
		idx:         newIndex(),
		insts:       make(map[uint64]*asmInst),
		mode:        cfg.Mode,
	}, nil
}

// Pseudos exposes the pseudo-call worklist, mainly for inspection.
func (d *Decoder) Pseudos() *PseudoWorklist { return d.pseudos }

// Functions returns decoded functions in address order.
func (d *Decoder) Functions() []*ir.Func { return d.idx.Functions() }

// FunctionAddress returns the start address recorded for f.
func (d *Decoder) FunctionAddress(f *ir.Func) addr.Address {
	return d.idx.FunctionAddress(f)
}

// BlockAddress returns the start address recorded for b.
func (d *Decoder) BlockAddress(b *ir.Block) addr.Address {
	return d.idx.BlockAddress(b)
}

// GetFunction returns the decoded function starting exactly at a.
func (d *Decoder) GetFunction(a addr.Address) *ir.Func { return d.idx.GetFunction(a) }

// GetBlock returns the decoded block starting exactly at a.
func (d *Decoder) GetBlock(a addr.Address) *ir.Block { return d.idx.GetBlock(a) }

// Allowed exposes the not-yet-decoded executable ranges.
func (d *Decoder) Allowed() *addr.RangeSet { return d.allowed }

// Alternative exposes the readable non-executable ranges.
func (d *Decoder) Alternative() *addr.RangeSet { return d.alternative }

// Decode runs the full decode loop to completion.
func (d *Decoder) Decode() error {
	if err := d.initRanges(); err != nil {
		return err
	}
	if err := d.initJumpTargets(); err != nil {
		return err
	}
	for !d.worklist.Empty() {
		jt := d.worklist.Pop()
		if err := d.decodeJumpTarget(jt); err != nil {
			return err
		}
	}
	return nil
}

// initRanges builds the decodable byte universe from section permissions.
func (d *Decoder) initRanges() error {
	for _, s := range d.img.Sections() {
		switch {
		case s.Executable:
			d.allowed.Insert(s.Range)
		case s.Readable:
			d.alternative.Insert(s.Range)
		}
	}
	if d.allowed.Empty() {
		return fmt.Errorf("%w: image has no executable sections", ErrConfig)
	}
	return nil
}

// initJumpTargets seeds the worklist with the entry point, exported
// symbols, and user-declared function starts.
func (d *Decoder) initJumpTargets() error {
	seeded := false

	ep := d.cfg.EntryAddress()
	if !ep.Defined() {
		ep = d.img.EntryPoint()
	}
	if ep.Defined() {
		d.worklist.Push(ep, JTEntryPoint, d.mode, nil)
		seeded = true
	}
	for _, s := range d.img.ExportedSymbols() {
		d.worklist.Push(s.Address, JTEntryPoint, d.mode, nil)
		seeded = true
	}
	for _, a := range d.cfg.FunctionStarts {
		d.worklist.Push(addr.New(a), JTEntryPoint, d.mode, nil)
		seeded = true
	}
	if !seeded {
		return fmt.Errorf("%w: no entry point and no function starts", ErrConfig)
	}
	return nil
}

// decodeJumpTarget processes one worklist entry: either a fixup against
// already-decoded code, or a fresh decode of an allowed range.
func (d *Decoder) decodeJumpTarget(jt JumpTarget) error {
	if !jt.Address.Defined() {
		fmt.Fprintf(d.Diag, "skipping %v: undefined address\n", jt)
		return nil
	}

	rng, ok := d.allowed.Get(jt.Address)
	if !ok {
		return d.fixupOutsideAllowed(jt)
	}

	cur, err := d.cursorFor(jt)
	if err != nil {
		return err
	}
	if cur == nil {
		return nil
	}
	return d.decodeRange(jt, rng, cur)
}

// fixupOutsideAllowed resolves a target landing in already-consumed (or
// never-allowed) bytes against existing blocks and functions.
func (d *Decoder) fixupOutsideAllowed(jt JumpTarget) error {
	switch jt.Kind {
	case JTCallAfter:
		// Fall-through after a call must land in decodable bytes.
		return fmt.Errorf("%w: call fall-through at %v outside allowed ranges",
			ErrInvariant, jt.Address)

	case JTBrFalse:
		fromBlock := d.pseudos.BlockOf(jt.From)
		if fromBlock == nil {
			return fmt.Errorf("%w: br-false with unknown origin at %v", ErrInvariant, jt.Address)
		}
		target := d.idx.GetBlock(jt.Address)
		if target == nil || target.Parent != fromBlock.Parent {
			// Fall-through lands outside decodable bytes: the false edge
			// stays unresolved and the pseudo survives as an opaque call.
			fmt.Fprintf(d.Diag, "br-false target %v has no block; edge left unresolved\n", jt.Address)
			return nil
		}
		d.pseudos.SetTargetBbFalse(jt.From, target)
		return nil

	case JTBrTrue:
		fromBlock := d.pseudos.BlockOf(jt.From)
		if fromBlock == nil {
			return fmt.Errorf("%w: br-true with unknown origin at %v", ErrInvariant, jt.Address)
		}
		fromFnc := fromBlock.Parent
		if target := d.idx.GetBlock(jt.Address); target != nil {
			if target.Parent == fromFnc {
				d.pseudos.SetTargetBbTrue(jt.From, target)
				return nil
			}
			// Branch into another function's block: surface it and keep
			// the pseudo as indirect control flow.
			fmt.Fprintf(d.Diag, "cross-function branch to %v left unresolved\n", jt.Address)
			return nil
		}
		ai := d.instAt(jt.Address)
		if ai == nil || ai.block.Parent != fromFnc {
			return fmt.Errorf("%w: br-true target %v is not an instruction boundary in origin function",
				ErrInvariant, jt.Address)
		}
		nb := d.splitBlockAt(ai)
		if nb == nil {
			return fmt.Errorf("%w: cannot split block at %v", ErrInvariant, jt.Address)
		}
		d.pseudos.SetTargetBbTrue(jt.From, nb)
		return nil

	case JTCallTarget:
		if f := d.idx.GetFunction(jt.Address); f != nil {
			d.pseudos.SetTargetFunction(jt.From, f)
			return nil
		}
		if ai := d.instAt(jt.Address); ai != nil {
			name := fmt.Sprintf("function_%x", jt.Address.Uint64())
			nf := d.splitFunctionAt(ai, name)
			if nf == nil {
				return fmt.Errorf("%w: cannot split function at %v", ErrInvariant, jt.Address)
			}
			d.pseudos.SetTargetFunction(jt.From, nf)
			return nil
		}
		return fmt.Errorf("%w: call target %v has neither function nor instruction",
			ErrInvariant, jt.Address)

	default:
		fmt.Fprintf(d.Diag, "dropping %v: no allowed range\n", jt)
		return nil
	}
}

// cursorFor places the IR insertion point for a fresh decode, creating
// functions and blocks as the target kind requires. A nil cursor with nil
// error means the target needs no decoding.
func (d *Decoder) cursorFor(jt JumpTarget) (*lifter.Cursor, error) {
	switch jt.Kind {
	case JTEntryPoint:
		if f := d.idx.GetFunction(jt.Address); f != nil {
			return nil, nil
		}
		f := d.createFunction(jt.Address, "")
		return lifter.NewCursor(f.Blocks[0], 0), nil

	case JTCallAfter:
		b := d.pseudos.BlockOf(jt.From)
		if b == nil {
			return nil, fmt.Errorf("%w: call-after with unknown origin at %v", ErrInvariant, jt.Address)
		}
		i := instIndex(b, jt.From)
		if i < 0 {
			return nil, fmt.Errorf("%w: originating call not found for %v", ErrInvariant, jt.Address)
		}
		return lifter.NewCursor(b, i+1), nil

	case JTBrFalse:
		fromBlock := d.pseudos.BlockOf(jt.From)
		if fromBlock == nil {
			return nil, fmt.Errorf("%w: br-false with unknown origin at %v", ErrInvariant, jt.Address)
		}
		b := d.createBasicBlock(jt.Address, fromBlock.Parent, fromBlock)
		d.pseudos.SetTargetBbFalse(jt.From, b)
		return lifter.NewCursor(b, 0), nil

	case JTBrTrue:
		return d.cursorForBrTrue(jt)

	case JTCallTarget:
		if d.idx.GetFunction(jt.Address) != nil {
			// An existing function here means its bytes were decoded, yet
			// the address still lies in an allowed range.
			return nil, fmt.Errorf("%w: call target %v already decoded inside allowed range",
				ErrInvariant, jt.Address)
		}
		if d.functionContaining(jt.Address) != nil {
			return nil, fmt.Errorf("%w: call target %v inside another function's span",
				ErrInvariant, jt.Address)
		}
		f := d.createFunction(jt.Address, "")
		d.pseudos.SetTargetFunction(jt.From, f)
		return lifter.NewCursor(f.Blocks[0], 0), nil

	default:
		fmt.Fprintf(d.Diag, "dropping %v: no decode rule\n", jt)
		return nil, nil
	}
}

// cursorForBrTrue places a branch target: a new block in the origin
// function when the target extends it, otherwise a new function.
func (d *Decoder) cursorForBrTrue(jt JumpTarget) (*lifter.Cursor, error) {
	fromBlock := d.pseudos.BlockOf(jt.From)
	if fromBlock == nil {
		return nil, fmt.Errorf("%w: br-true with unknown origin at %v", ErrInvariant, jt.Address)
	}
	fromFnc := fromBlock.Parent

	targetFnc := d.idx.GetFunctionBefore(jt.Address)
	if targetFnc == nil {
		f := d.createFunction(jt.Address, "")
		d.pseudos.SetTargetFunction(jt.From, f)
		return lifter.NewCursor(f.Blocks[0], 0), nil
	}

	if targetFnc == fromFnc {
		after := d.idx.GetBlockBefore(jt.Address)
		if after == nil {
			return nil, fmt.Errorf("%w: br-true %v inside function but before its first block",
				ErrInvariant, jt.Address)
		}
		b := d.createBasicBlock(jt.Address, fromFnc, after)
		d.pseudos.SetTargetBbTrue(jt.From, b)
		return lifter.NewCursor(b, 0), nil
	}

	if d.idx.FunctionAddress(targetFnc).Equal(jt.Address) {
		return nil, fmt.Errorf("%w: br-true target %v is a decoded function entry inside allowed range",
			ErrInvariant, jt.Address)
	}
	if d.functionContaining(jt.Address) != nil {
		return nil, fmt.Errorf("%w: br-true target %v inside another function's span",
			ErrInvariant, jt.Address)
	}
	f := d.createFunction(jt.Address, "")
	d.pseudos.SetTargetFunction(jt.From, f)
	return lifter.NewCursor(f.Blocks[0], 0), nil
}

// decodeRange lifts instructions from jt.Address until a terminator, a
// lift failure, or the end of the allowed range, then consumes the bytes.
func (d *Decoder) decodeRange(jt JumpTarget, rng addr.Range, cur *lifter.Cursor) error {
	start := jt.Address
	a := start

	bytes, err := d.img.RawBytesAt(a)
	if err != nil {
		fmt.Fprintf(d.Diag, "no data at %v: %v\n", a, err)
		return nil
	}
	if remain := rng.End.Uint64() - a.Uint64() + 1; uint64(len(bytes)) > remain {
		bytes = bytes[:remain]
	}

	for len(bytes) > 0 {
		res := d.Lifter.TranslateOne(bytes, a, cur)
		if res.Failed || res.Marker == nil {
			fmt.Fprintf(d.Diag, "translation failed at %v\n", a)
			break
		}
		instAddr := a
		d.insts[a.Uint64()] = &asmInst{
			addr:   a,
			size:   res.Size,
			marker: res.Marker,
			block:  cur.Block,
		}
		a = a.Add(uint64(res.Size))
		bytes = bytes[res.Size:]

		if d.spawnJumpTargets(instAddr, a, res, cur) {
			break
		}
	}

	end := start
	if start.Less(a) {
		end = a.Sub(1)
	}
	d.allowed.Remove(addr.Range{Start: start, End: end})
	return nil
}

// spawnJumpTargets classifies a lifted instruction's pseudo call, queues
// the jump targets it implies, and reports whether the block ends.
func (d *Decoder) spawnJumpTargets(instAddr, nextAddr addr.Address, res lifter.Result, cur *lifter.Cursor) bool {
	bc := res.BranchCall
	if bc == nil {
		return false
	}

	switch {
	case d.Lifter.IsCall(bc):
		if t := constTarget(bc.Args[0]); t.Defined() {
			d.worklist.Push(t, JTCallTarget, d.mode, bc)
		}
		d.worklist.Push(nextAddr, JTCallAfter, d.mode, bc)
		d.pseudos.AddPseudoCall(bc, cur.Block)
		return true

	case d.Lifter.IsReturn(bc):
		if t := constTarget(bc.Args[0]); t.Defined() {
			d.worklist.Push(t, JTReturnTarget, d.mode, bc)
		}
		d.pseudos.AddPseudoReturn(bc, cur.Block)
		return true

	case d.Lifter.IsBranch(bc):
		if t := constTarget(bc.Args[0]); t.Defined() {
			d.worklist.Push(t, JTBrTrue, d.mode, bc)
		}
		d.pseudos.AddPseudoBr(bc, cur.Block)
		return true

	case d.Lifter.IsCondBranch(bc):
		if t := constTarget(bc.Args[1]); t.Defined() {
			d.worklist.Push(t, JTBrTrue, d.mode, bc)
		}
		d.worklist.Push(nextAddr, JTBrFalse, d.mode, bc)
		d.pseudos.AddPseudoCondBr(bc, cur.Block)
		return true
	}
	return false
}

// constTarget extracts a constant branch-target address, undefined if the
// value is computed at run time.
func constTarget(v value.Value) addr.Address {
	if ci, ok := v.(*constant.Int); ok {
		return addr.New(ci.X.Uint64())
	}
	return addr.Undef()
}

// instIndex finds the position of call inside b.
func instIndex(b *ir.Block, call *ir.InstCall) int {
	for i, in := range b.Insts {
		if in == ir.Instruction(call) {
			return i
		}
	}
	return -1
}

// newFunction builds a bare function named for its address and inserts it
// into the module after its nearest predecessor. Indices are the caller's
// responsibility.
func (d *Decoder) newFunction(a addr.Address, name string) *ir.Func {
	if name == "" {
		name = fmt.Sprintf("function_%x", a.Uint64())
	}
	f := ir.NewFunc(name, types.Void)
	f.Parent = d.Module

	before := d.idx.GetFunctionBefore(a)
	inserted := false
	if before != nil {
		for i, mf := range d.Module.Funcs {
			if mf == before {
				d.Module.Funcs = append(d.Module.Funcs, nil)
				copy(d.Module.Funcs[i+2:], d.Module.Funcs[i+1:])
				d.Module.Funcs[i+1] = f
				inserted = true
				break
			}
		}
	}
	if !inserted {
		d.Module.Funcs = append(d.Module.Funcs, f)
	}
	return f
}

// createFunction builds a function at a with an entry block and registers
// it in the indices.
func (d *Decoder) createFunction(a addr.Address, name string) *ir.Func {
	f := d.newFunction(a, name)
	d.idx.addFunction(a, f)
	d.createBasicBlock(a, f, nil)
	return f
}

// createBasicBlock builds an address-tagged block in f, inserted after the
// given block (appended when nil), terminated by a placeholder return.
func (d *Decoder) createBasicBlock(a addr.Address, f *ir.Func, after *ir.Block) *ir.Block {
	b := ir.NewBlock(fmt.Sprintf("bb_%x", a.Uint64()))
	b.Parent = f
	b.Term = ir.NewRet(nil)

	inserted := false
	if after != nil {
		for i, blk := range f.Blocks {
			if blk == after {
				f.Blocks = append(f.Blocks, nil)
				copy(f.Blocks[i+2:], f.Blocks[i+1:])
				f.Blocks[i+1] = b
				inserted = true
				break
			}
		}
	}
	if !inserted {
		f.Blocks = append(f.Blocks, b)
	}

	d.idx.addBlock(a, b)
	return b
}
