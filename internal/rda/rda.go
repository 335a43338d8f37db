// Package rda computes reaching definitions over lifted IR functions.
// Definitions are stores to register globals and allocas; uses are loads.
// Loads through computed pointers have no tracked location and report no
// definitions. Definition sets keep insertion order so downstream passes
// see a stable iteration order.
package rda

import (
	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/value"
)

// Analysis holds use→definition results for a module.
type Analysis struct {
	defs map[*ir.InstLoad][]*ir.InstStore
}

// Run analyzes every function of m.
func Run(m *ir.Module) *Analysis {
	a := &Analysis{defs: make(map[*ir.InstLoad][]*ir.InstStore)}
	for _, f := range m.Funcs {
		if len(f.Blocks) > 0 {
			a.runOnFunction(f)
		}
	}
	return a
}

// DefsFromUse returns the stores that may reach load.
func (a *Analysis) DefsFromUse(load *ir.InstLoad) []*ir.InstStore {
	return a.defs[load]
}

// location returns the tracked location of a pointer, nil when the pointer
// is computed.
func location(ptr value.Value) value.Value {
	switch ptr.(type) {
	case *ir.Global, *ir.InstAlloca:
		return ptr
	}
	return nil
}

// defSet maps locations to ordered definition lists.
type defSet struct {
	locs []value.Value
	defs map[value.Value][]*ir.InstStore
}

func newDefSet() *defSet {
	return &defSet{defs: make(map[value.Value][]*ir.InstStore)}
}

func (s *defSet) clone() *defSet {
	c := newDefSet()
	c.locs = append(c.locs, s.locs...)
	for loc, stores := range s.defs {
		c.defs[loc] = append([]*ir.InstStore(nil), stores...)
	}
	return c
}

func (s *defSet) addLoc(loc value.Value) {
	if _, ok := s.defs[loc]; !ok {
		s.locs = append(s.locs, loc)
		s.defs[loc] = nil
	}
}

// add appends st to loc's definitions, reporting whether the set grew.
func (s *defSet) add(loc value.Value, st *ir.InstStore) bool {
	s.addLoc(loc)
	for _, have := range s.defs[loc] {
		if have == st {
			return false
		}
	}
	s.defs[loc] = append(s.defs[loc], st)
	return true
}

// merge unions o into s, reporting whether s grew.
func (s *defSet) merge(o *defSet) bool {
	changed := false
	for _, loc := range o.locs {
		for _, st := range o.defs[loc] {
			if s.add(loc, st) {
				changed = true
			}
		}
	}
	return changed
}

// apply folds one instruction into the running set with a strong update.
func (s *defSet) apply(in ir.Instruction) {
	st, ok := in.(*ir.InstStore)
	if !ok {
		return
	}
	loc := location(st.Dst)
	if loc == nil {
		return
	}
	s.addLoc(loc)
	s.defs[loc] = []*ir.InstStore{st}
}

func (a *Analysis) runOnFunction(f *ir.Func) {
	preds := make(map[*ir.Block][]*ir.Block)
	for _, b := range f.Blocks {
		if b.Term == nil {
			continue
		}
		for _, succ := range b.Term.Succs() {
			preds[succ] = append(preds[succ], b)
		}
	}

	in := make(map[*ir.Block]*defSet)
	out := make(map[*ir.Block]*defSet)
	for _, b := range f.Blocks {
		in[b] = newDefSet()
		out[b] = newDefSet()
	}

	// Iterate out = gen ∪ (in − kill) to fixpoint. Sets only grow across
	// iterations, so this terminates.
	for changed := true; changed; {
		changed = false
		for _, b := range f.Blocks {
			for _, p := range preds[b] {
				if in[b].merge(out[p]) {
					changed = true
				}
			}
			next := in[b].clone()
			for _, inst := range b.Insts {
				next.apply(inst)
			}
			if out[b].merge(next) {
				changed = true
			}
		}
	}

	// Resolve each load against the state flowing into it.
	for _, b := range f.Blocks {
		state := in[b].clone()
		for _, inst := range b.Insts {
			if load, ok := inst.(*ir.InstLoad); ok {
				if loc := location(load.Src); loc != nil {
					a.defs[load] = append([]*ir.InstStore(nil), state.defs[loc]...)
				}
			}
			state.apply(inst)
		}
	}
}
