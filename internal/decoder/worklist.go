package decoder

import (
	"container/heap"
	"fmt"

	"github.com/llir/llvm/ir"

	"bin2ir/internal/addr"
)

// JTKind classifies why an address was queued for decoding.
type JTKind int

const (
	JTEntryPoint JTKind = iota
	JTCallTarget
	JTCallAfter
	JTBrTrue
	JTBrFalse
	JTReturnTarget
)

func (k JTKind) String() string {
	switch k {
	case JTEntryPoint:
		return "entry-point"
	case JTCallTarget:
		return "call-target"
	case JTCallAfter:
		return "call-after"
	case JTBrTrue:
		return "br-true"
	case JTBrFalse:
		return "br-false"
	case JTReturnTarget:
		return "return-target"
	}
	return "unknown"
}

// priority orders jump-target kinds; higher decodes first.
func (k JTKind) priority() int {
	switch k {
	case JTEntryPoint:
		return 4
	case JTCallAfter, JTBrFalse:
		return 3
	case JTBrTrue, JTCallTarget:
		return 2
	case JTReturnTarget:
		return 1
	}
	return 0
}

// JumpTarget is an address queued for decoding, with the pseudo call that
// produced it (nil for seeds) and the architecture mode to decode it in.
type JumpTarget struct {
	Address addr.Address
	Kind    JTKind
	Mode    int
	From    *ir.InstCall

	seq int // insertion order, breaks remaining ties deterministically
}

func (jt JumpTarget) String() string {
	return fmt.Sprintf("%v (%v)", jt.Address, jt.Kind)
}

// before orders a ahead of b: higher kind priority first, then lower
// address, then insertion order.
func (a JumpTarget) before(b JumpTarget) bool {
	if pa, pb := a.Kind.priority(), b.Kind.priority(); pa != pb {
		return pa > pb
	}
	if !a.Address.Equal(b.Address) {
		return a.Address.Less(b.Address)
	}
	return a.seq < b.seq
}

// Worklist is a priority queue of jump targets. Duplicate entries at the
// same address are allowed; decoding is idempotent per address.
type Worklist struct {
	h   jtHeap
	seq int
}

// NewWorklist returns an empty worklist.
func NewWorklist() *Worklist {
	return &Worklist{}
}

// Push queues a jump target.
func (w *Worklist) Push(a addr.Address, kind JTKind, mode int, from *ir.InstCall) {
	w.seq++
	heap.Push(&w.h, JumpTarget{
		Address: a,
		Kind:    kind,
		Mode:    mode,
		From:    from,
		seq:     w.seq,
	})
}

// Pop removes and returns the highest-priority target.
func (w *Worklist) Pop() JumpTarget {
	return heap.Pop(&w.h).(JumpTarget)
}

// Peek returns the highest-priority target without removing it.
func (w *Worklist) Peek() JumpTarget { return w.h[0] }

// Empty reports whether the worklist has no targets.
func (w *Worklist) Empty() bool { return len(w.h) == 0 }

// Len returns the number of queued targets.
func (w *Worklist) Len() int { return len(w.h) }

type jtHeap []JumpTarget

func (h jtHeap) Len() int            { return len(h) }
func (h jtHeap) Less(i, j int) bool  { return h[i].before(h[j]) }
func (h jtHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *jtHeap) Push(x any) { *h = append(*h, x.(JumpTarget)) }
func (h *jtHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
