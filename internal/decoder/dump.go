package decoder

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/llir/llvm/ir"

	"bin2ir/internal/addr"
)

// BBRecord is one basic block in the control-flow dump.
type BBRecord struct {
	Address    string   `json:"address"`
	AddressEnd string   `json:"address_end"`
	Succs      []string `json:"succs"`
}

// FuncRecord is one function in the control-flow dump.
type FuncRecord struct {
	Address    string     `json:"address"`
	AddressEnd string     `json:"address_end"`
	BBs        []BBRecord `json:"bbs"`
	CodeRefs   []string   `json:"code_refs"`
}

// ControlFlow collects the decoded control flow in a form diffable against
// external disassemblers. Addresses are hex-prefixed lowercase.
func (d *Decoder) ControlFlow() []FuncRecord {
	var out []FuncRecord
	for _, f := range d.idx.Functions() {
		start := d.idx.FunctionAddress(f)
		end := d.functionEndAddress(f)
		if !start.Defined() || !end.Defined() {
			continue
		}
		rec := FuncRecord{
			Address:    start.String(),
			AddressEnd: end.String(),
			CodeRefs:   []string{},
		}
		for _, bb := range f.Blocks {
			bStart := d.idx.BlockAddress(bb)
			bEnd := d.blockEndAddress(bb)
			if !bStart.Defined() || !bEnd.Defined() {
				continue
			}
			br := BBRecord{
				Address:    bStart.String(),
				AddressEnd: bEnd.String(),
				Succs:      []string{},
			}
			for _, succ := range termSuccs(bb.Term) {
				a := d.succAddress(f, succ)
				if a.Defined() {
					br.Succs = append(br.Succs, a.String())
				}
			}
			rec.BBs = append(rec.BBs, br)
		}
		out = append(out, rec)
	}
	return out
}

// succAddress resolves a successor block to an address, walking back to
// the nearest prior block that carries one.
func (d *Decoder) succAddress(f *ir.Func, bb *ir.Block) (a addr.Address) {
	for {
		if a = d.idx.BlockAddress(bb); a.Defined() {
			return a
		}
		prev := prevBlock(f, bb)
		if prev == nil {
			return a
		}
		bb = prev
	}
}

func prevBlock(f *ir.Func, bb *ir.Block) *ir.Block {
	for i, blk := range f.Blocks {
		if blk == bb && i > 0 {
			return f.Blocks[i-1]
		}
	}
	return nil
}

// termSuccs lists the successor blocks of a terminator.
func termSuccs(t ir.Terminator) []*ir.Block {
	if t == nil {
		return nil
	}
	return t.Succs()
}

// WriteControlFlowJSON writes the control-flow dump as indented JSON.
func (d *Decoder) WriteControlFlowJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	if err := enc.Encode(d.ControlFlow()); err != nil {
		return fmt.Errorf("decoder: write control flow: %w", err)
	}
	return nil
}
