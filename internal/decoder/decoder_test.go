package decoder

import (
	"reflect"
	"testing"

	"github.com/llir/llvm/ir"

	"bin2ir/internal/addr"
	"bin2ir/internal/config"
	"bin2ir/internal/image"
)

type section struct {
	base uint64
	data []byte
}

// decode runs a 32-bit decode over synthetic executable sections.
func decode(t *testing.T, sections []section, entry uint64, starts ...uint64) *Decoder {
	t.Helper()
	img := image.NewBuffer()
	for i, s := range sections {
		img.AddSection(".text"+string(rune('a'+i)), s.base, s.data, true)
	}
	img.SetEntryPoint(entry)

	cfg := &config.Config{Mode: 32, FunctionStarts: starts}
	d, err := New(img, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Decode(); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return d
}

// liftedCount counts machine instructions in a block by its marker stores.
func liftedCount(d *Decoder, b *ir.Block) int {
	n := 0
	for _, in := range b.Insts {
		if d.Lifter.IsMarkerStore(in) {
			n++
		}
	}
	return n
}

func TestDecodeLinearFunction(t *testing.T) {
	// push ebp; mov ebp, esp; pop ebp; ret
	d := decode(t, []section{{0x1000, []byte{0x55, 0x89, 0xE5, 0x5D, 0xC3}}}, 0x1000)

	funcs := d.Functions()
	if len(funcs) != 1 {
		t.Fatalf("functions = %d, want 1", len(funcs))
	}
	f := funcs[0]
	if !d.FunctionAddress(f).Equal(addr.New(0x1000)) {
		t.Errorf("function address = %v, want 0x1000", d.FunctionAddress(f))
	}
	if len(f.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(f.Blocks))
	}
	if n := liftedCount(d, f.Blocks[0]); n != 4 {
		t.Errorf("lifted instructions = %d, want 4", n)
	}
	if _, ok := f.Blocks[0].Term.(*ir.TermRet); !ok {
		t.Errorf("terminator = %T, want *ir.TermRet", f.Blocks[0].Term)
	}
	for a := uint64(0x1000); a <= 0x1004; a++ {
		if _, ok := d.Allowed().Get(addr.New(a)); ok {
			t.Fatalf("allowed still contains %#x", a)
		}
	}
	if got := d.Pseudos().Unresolved(); len(got) != 0 {
		t.Errorf("unresolved pseudos = %d, want 0", len(got))
	}
}

func TestDecodeForwardConditional(t *testing.T) {
	// 0x1000: jz 0x1010; 0x1006..0x100f: nop; 0x1010: ret
	data := []byte{0x0F, 0x84, 0x0A, 0x00, 0x00, 0x00}
	for i := 0; i < 10; i++ {
		data = append(data, 0x90)
	}
	data = append(data, 0xC3)
	d := decode(t, []section{{0x1000, data}}, 0x1000)

	funcs := d.Functions()
	if len(funcs) != 1 {
		t.Fatalf("functions = %d, want 1", len(funcs))
	}
	f := funcs[0]
	if len(f.Blocks) != 3 {
		t.Fatalf("blocks = %d, want 3 (entry, fallthrough, target)", len(f.Blocks))
	}

	entry := d.GetBlock(addr.New(0x1000))
	ft := d.GetBlock(addr.New(0x1006))
	tgt := d.GetBlock(addr.New(0x1010))
	if entry == nil || ft == nil || tgt == nil {
		t.Fatalf("missing blocks: entry=%v ft=%v tgt=%v", entry, ft, tgt)
	}

	cb, ok := entry.Term.(*ir.TermCondBr)
	if !ok {
		t.Fatalf("entry terminator = %T, want *ir.TermCondBr", entry.Term)
	}
	if cb.TargetTrue != tgt || cb.TargetFalse != ft {
		t.Errorf("condbr edges wrong: true=%v false=%v", cb.TargetTrue, cb.TargetFalse)
	}
	if br, ok := ft.Term.(*ir.TermBr); !ok || br.Target != tgt {
		t.Errorf("fallthrough terminator = %#v, want br to target block", ft.Term)
	}
	if got := d.Pseudos().Unresolved(); len(got) != 0 {
		t.Errorf("unresolved pseudos = %d, want 0", len(got))
	}
}

func TestDecodeInterFunctionCall(t *testing.T) {
	// 0x1000: call 0x2000; 0x1005: ret. 0x2000: ret.
	d := decode(t, []section{
		{0x1000, []byte{0xE8, 0xFB, 0x0F, 0x00, 0x00, 0xC3}},
		{0x2000, []byte{0xC3}},
	}, 0x1000)

	if len(d.Functions()) != 2 {
		t.Fatalf("functions = %d, want 2", len(d.Functions()))
	}
	callee := d.GetFunction(addr.New(0x2000))
	if callee == nil {
		t.Fatal("no function at 0x2000")
	}

	caller := d.GetFunction(addr.New(0x1000))
	found := false
	for _, b := range caller.Blocks {
		for _, in := range b.Insts {
			if c, ok := in.(*ir.InstCall); ok && c.Callee == callee {
				found = true
			}
		}
	}
	if !found {
		t.Error("pseudo call was not replaced with a real call to function_2000")
	}

	// The call-after block holds the caller's return.
	if n := liftedCount(d, caller.Blocks[0]); n != 2 {
		t.Errorf("caller lifted instructions = %d, want 2 (call + ret)", n)
	}
	if got := d.Pseudos().Unresolved(); len(got) != 0 {
		t.Errorf("unresolved pseudos = %d, want 0", len(got))
	}
}

func TestDecodeBranchIntoMidBlock(t *testing.T) {
	// 0x1000: mov eax, 1; 0x1005: nop; 0x1006: jmp 0x1005
	d := decode(t, []section{
		{0x1000, []byte{0xB8, 0x01, 0x00, 0x00, 0x00, 0x90, 0xEB, 0xFD}},
	}, 0x1000)

	f := d.GetFunction(addr.New(0x1000))
	if f == nil {
		t.Fatal("no function at 0x1000")
	}
	if len(f.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2 after mid-block split", len(f.Blocks))
	}
	head := d.GetBlock(addr.New(0x1000))
	loop := d.GetBlock(addr.New(0x1005))
	if head == nil || loop == nil {
		t.Fatal("missing split blocks")
	}
	if br, ok := head.Term.(*ir.TermBr); !ok || br.Target != loop {
		t.Errorf("head terminator = %#v, want br to split block", head.Term)
	}
	if br, ok := loop.Term.(*ir.TermBr); !ok || br.Target != loop {
		t.Errorf("loop terminator = %#v, want self branch", loop.Term)
	}
}

func TestDecodeCallTargetSplitsFunction(t *testing.T) {
	// 0x1000: 16 nops then ret at 0x1010, decoded as one function.
	// 0x3000: call 0x1010; 0x3005: ret — forces a function split.
	body := make([]byte, 0, 17)
	for i := 0; i < 16; i++ {
		body = append(body, 0x90)
	}
	body = append(body, 0xC3)
	d := decode(t, []section{
		{0x1000, body},
		{0x3000, []byte{0xE8, 0x0B, 0xE0, 0xFF, 0xFF, 0xC3}},
	}, 0x1000, 0x3000)

	if len(d.Functions()) != 3 {
		t.Fatalf("functions = %d, want 3", len(d.Functions()))
	}
	split := d.GetFunction(addr.New(0x1010))
	if split == nil {
		t.Fatal("no function at split address 0x1010")
	}
	if split.Name() != "function_1010" {
		t.Errorf("split function name = %q, want function_1010", split.Name())
	}
	orig := d.GetFunction(addr.New(0x1000))
	if len(orig.Blocks) != 1 {
		t.Errorf("original function blocks = %d, want 1", len(orig.Blocks))
	}
	if b := d.GetBlock(addr.New(0x1010)); b == nil || b.Parent != split {
		t.Error("block at 0x1010 not owned by split function")
	}

	caller := d.GetFunction(addr.New(0x3000))
	found := false
	for _, b := range caller.Blocks {
		for _, in := range b.Insts {
			if c, ok := in.(*ir.InstCall); ok && c.Callee == split {
				found = true
			}
		}
	}
	if !found {
		t.Error("pseudo call was not fixed up to the split function")
	}
}

func TestDecodeBranchToBlockStartDoesNotSplit(t *testing.T) {
	// 0x1000: jz 0x1000; 0x1006: ret. The back edge lands exactly on the
	// entry block boundary, so no split happens.
	d := decode(t, []section{
		{0x1000, []byte{0x0F, 0x84, 0xFA, 0xFF, 0xFF, 0xFF, 0xC3}},
	}, 0x1000)

	f := d.GetFunction(addr.New(0x1000))
	if f == nil {
		t.Fatal("no function at 0x1000")
	}
	if len(f.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2 (entry + fallthrough)", len(f.Blocks))
	}
	entry := d.GetBlock(addr.New(0x1000))
	cb, ok := entry.Term.(*ir.TermCondBr)
	if !ok {
		t.Fatalf("entry terminator = %T, want *ir.TermCondBr", entry.Term)
	}
	if cb.TargetTrue != entry {
		t.Error("true edge should loop back to the entry block")
	}
}

func TestDecodeEntryAtRangeEnd(t *testing.T) {
	d := decode(t, []section{{0x1000, []byte{0xC3}}}, 0x1000)
	f := d.GetFunction(addr.New(0x1000))
	if f == nil {
		t.Fatal("no function decoded")
	}
	if n := liftedCount(d, f.Blocks[0]); n != 1 {
		t.Errorf("lifted instructions = %d, want 1", n)
	}
	if !d.Allowed().Empty() {
		t.Errorf("allowed not fully consumed: %v", d.Allowed())
	}
}

func TestDecodeCondBranchFalseOutsideAllowed(t *testing.T) {
	// jz 0x1010 fills the whole first section; the fall-through 0x1006
	// has no bytes, so the false edge stays unresolved.
	d := decode(t, []section{
		{0x1000, []byte{0x0F, 0x84, 0x0A, 0x00, 0x00, 0x00}},
		{0x1010, []byte{0xC3}},
	}, 0x1000)

	if b := d.GetBlock(addr.New(0x1010)); b == nil {
		t.Error("true edge was not decoded")
	}
	if got := d.Pseudos().Unresolved(); len(got) != 1 {
		t.Errorf("unresolved pseudos = %d, want 1 (the cond branch)", len(got))
	}
}

func TestDecodeIndicesAreInverse(t *testing.T) {
	body := make([]byte, 0, 17)
	for i := 0; i < 16; i++ {
		body = append(body, 0x90)
	}
	body = append(body, 0xC3)
	d := decode(t, []section{
		{0x1000, body},
		{0x3000, []byte{0xE8, 0x0B, 0xE0, 0xFF, 0xFF, 0xC3}},
	}, 0x1000, 0x3000)

	for _, f := range d.Functions() {
		a := d.FunctionAddress(f)
		if !a.Defined() {
			t.Fatalf("function %s has no address", f.Name())
		}
		if d.GetFunction(a) != f {
			t.Errorf("addr2fnc and fnc2addr disagree at %v", a)
		}
		for _, b := range f.Blocks {
			ba := d.BlockAddress(b)
			if !ba.Defined() {
				continue
			}
			if d.GetBlock(ba) != b {
				t.Errorf("addr2bb and bb2addr disagree at %v", ba)
			}
		}
	}
}

func TestDecodeTwiceIsIsomorphic(t *testing.T) {
	data := []byte{0x0F, 0x84, 0x0A, 0x00, 0x00, 0x00}
	for i := 0; i < 10; i++ {
		data = append(data, 0x90)
	}
	data = append(data, 0xC3)

	d1 := decode(t, []section{{0x1000, data}}, 0x1000)
	d2 := decode(t, []section{{0x1000, data}}, 0x1000)

	if !reflect.DeepEqual(d1.ControlFlow(), d2.ControlFlow()) {
		t.Errorf("control flow differs across identical runs:\n%+v\nvs\n%+v",
			d1.ControlFlow(), d2.ControlFlow())
	}
}

func TestControlFlowDump(t *testing.T) {
	d := decode(t, []section{
		{0x1000, []byte{0xE8, 0xFB, 0x0F, 0x00, 0x00, 0xC3}},
		{0x2000, []byte{0xC3}},
	}, 0x1000)

	cf := d.ControlFlow()
	if len(cf) != 2 {
		t.Fatalf("dump functions = %d, want 2", len(cf))
	}
	if cf[0].Address != "0x1000" || cf[1].Address != "0x2000" {
		t.Errorf("dump addresses = %s, %s", cf[0].Address, cf[1].Address)
	}
	if cf[0].AddressEnd != "0x1005" {
		t.Errorf("caller address_end = %s, want 0x1005", cf[0].AddressEnd)
	}
	if cf[0].CodeRefs == nil || len(cf[0].BBs) == 0 {
		t.Errorf("dump record incomplete: %+v", cf[0])
	}
}
