// Package stackvar rewrites frame-pointer-relative memory accesses into
// named stack slots. It follows each access's pointer operand backwards
// through reaching definitions, folds the resulting expression tree to a
// constant frame offset where possible, and replaces the access with a
// memoized per-function alloca.
package stackvar

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"

	"bin2ir/internal/abi"
	"bin2ir/internal/rda"
)

// maxDepth bounds tree expansion; reaching definitions can be cyclic
// through loops.
const maxDepth = 32

// Node is one vertex of a symbolic expression tree.
type Node struct {
	Value value.Value
	Ops   []*Node
	// viaPointer marks a load expanded through its pointer operand rather
	// than through reaching definitions. Such a child is an address, not
	// the loaded content, and must not fold into the load.
	viaPointer bool
}

// Tree is a symbolic expression over IR values rooted at one operand.
type Tree struct {
	Root *Node
	// UsedVal2Val records whether expansion consulted the folded-store
	// map; such trees matter even without a stack pointer reference.
	UsedVal2Val bool
}

type treeBuilder struct {
	rda     *rda.Analysis
	val2val map[*ir.InstStore]*constant.Int
	visited map[value.Value]bool
	used    bool
}

// Build expands the definition chain of v into a tree. val2val supplies
// constants for stores already folded by the current pass.
func Build(a *rda.Analysis, v value.Value, val2val map[*ir.InstStore]*constant.Int) *Tree {
	b := &treeBuilder{
		rda:     a,
		val2val: val2val,
		visited: make(map[value.Value]bool),
	}
	root := b.expand(v, 0)
	return &Tree{Root: root, UsedVal2Val: b.used}
}

func (b *treeBuilder) expand(v value.Value, depth int) *Node {
	n := &Node{Value: v}
	if depth >= maxDepth || b.visited[v] {
		return n
	}
	b.visited[v] = true
	defer delete(b.visited, v)

	switch iv := v.(type) {
	case *ir.InstLoad:
		defs := b.rda.DefsFromUse(iv)
		if len(defs) == 0 {
			n.viaPointer = true
			n.Ops = append(n.Ops, b.expand(iv.Src, depth+1))
			break
		}
		for _, st := range defs {
			if ci, ok := b.val2val[st]; ok {
				b.used = true
				n.Ops = append(n.Ops, &Node{Value: ci})
				continue
			}
			n.Ops = append(n.Ops, b.expand(st.Src, depth+1))
		}
	case *ir.InstAdd:
		n.Ops = append(n.Ops, b.expand(iv.X, depth+1), b.expand(iv.Y, depth+1))
	case *ir.InstSub:
		n.Ops = append(n.Ops, b.expand(iv.X, depth+1), b.expand(iv.Y, depth+1))
	case *ir.InstMul:
		n.Ops = append(n.Ops, b.expand(iv.X, depth+1), b.expand(iv.Y, depth+1))
	case *ir.InstAnd:
		n.Ops = append(n.Ops, b.expand(iv.X, depth+1), b.expand(iv.Y, depth+1))
	case *ir.InstOr:
		n.Ops = append(n.Ops, b.expand(iv.X, depth+1), b.expand(iv.Y, depth+1))
	case *ir.InstXor:
		n.Ops = append(n.Ops, b.expand(iv.X, depth+1), b.expand(iv.Y, depth+1))
	case *ir.InstShl:
		n.Ops = append(n.Ops, b.expand(iv.X, depth+1), b.expand(iv.Y, depth+1))
	case *ir.InstLShr:
		n.Ops = append(n.Ops, b.expand(iv.X, depth+1), b.expand(iv.Y, depth+1))
	case *ir.InstTrunc:
		n.Ops = append(n.Ops, b.expand(iv.From, depth+1))
	case *ir.InstZExt:
		n.Ops = append(n.Ops, b.expand(iv.From, depth+1))
	case *ir.InstSExt:
		n.Ops = append(n.Ops, b.expand(iv.From, depth+1))
	case *ir.InstIntToPtr:
		n.Ops = append(n.Ops, b.expand(iv.From, depth+1))
	case *ir.InstPtrToInt:
		n.Ops = append(n.Ops, b.expand(iv.From, depth+1))
	case *ir.InstBitCast:
		n.Ops = append(n.Ops, b.expand(iv.From, depth+1))
	}
	// Constants, globals, allocas, calls, and parameters stay leaves.
	return n
}

// PostOrder returns the nodes with children before parents.
func (t *Tree) PostOrder() []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(n *Node) {
		for _, op := range n.Ops {
			walk(op)
		}
		out = append(out, n)
	}
	walk(t.Root)
	return out
}

// LevelOrder returns the nodes breadth first.
func (t *Tree) LevelOrder() []*Node {
	queue := []*Node{t.Root}
	var out []*Node
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		out = append(out, n)
		queue = append(queue, n.Ops...)
	}
	return out
}

// ReferencesStackPointer reports whether any node is the stack pointer
// register.
func (t *Tree) ReferencesStackPointer(a *abi.ABI) bool {
	for _, n := range t.PostOrder() {
		if a.IsStackPointerRegister(n.Value) {
			return true
		}
	}
	return false
}

// Simplify folds the tree bottom-up: loads of the undefined stack pointer
// become offset zero, register copies propagate constants, and binary
// operators fold over constant operands.
func (t *Tree) Simplify(a *abi.ABI) {
	word := a.WordType()
	var walk func(*Node)
	walk = func(n *Node) {
		for _, op := range n.Ops {
			walk(op)
		}

		switch n.Value.(type) {
		case *ir.InstLoad:
			if len(n.Ops) != 1 {
				return
			}
			// A load of the stack pointer with no reaching definition is
			// the frame base: offset 0.
			if n.viaPointer {
				if a.IsStackPointerRegister(n.Ops[0].Value) {
					n.Value = constant.NewInt(word, 0)
					n.Ops = nil
				}
				return
			}
			if ci, ok := n.Ops[0].Value.(*constant.Int); ok {
				n.Value = ci
				n.Ops = nil
			}
		case *ir.InstTrunc, *ir.InstZExt, *ir.InstSExt,
			*ir.InstIntToPtr, *ir.InstPtrToInt, *ir.InstBitCast:
			if len(n.Ops) == 1 {
				if ci, ok := n.Ops[0].Value.(*constant.Int); ok {
					n.Value = ci
					n.Ops = nil
				}
			}
		default:
			t.foldBinop(n, word)
		}
	}
	walk(t.Root)
}

// foldBinop folds a binary operator node over two constant children.
func (t *Tree) foldBinop(n *Node, word *types.IntType) {
	if len(n.Ops) != 2 {
		return
	}
	x, okX := n.Ops[0].Value.(*constant.Int)
	y, okY := n.Ops[1].Value.(*constant.Int)
	if !okX || !okY {
		return
	}
	a, b := x.X.Int64(), y.X.Int64()

	var r int64
	switch n.Value.(type) {
	case *ir.InstAdd:
		r = a + b
	case *ir.InstSub:
		r = a - b
	case *ir.InstAnd:
		r = a & b
	case *ir.InstOr:
		r = a | b
	case *ir.InstShl:
		r = a << uint64(b)
	case *ir.InstLShr:
		r = int64(uint64(a) >> uint64(b))
	default:
		return
	}
	n.Value = constant.NewInt(word, r)
	n.Ops = nil
}
