// Package dbginfo supplies named stack variables from debug information.
// Providers are optional; the stack reconstructor synthesizes names when
// no debug data matches.
package dbginfo

import (
	"fmt"
	"os"

	"github.com/llir/llvm/ir/types"
	"gopkg.in/yaml.v3"

	"bin2ir/internal/addr"
)

// Local is one function-local variable.
type Local struct {
	Name    string `yaml:"name"`
	Offset  int64  `yaml:"offset"`
	Type    string `yaml:"type"`
	Storage string `yaml:"storage"`
}

// OnStack reports whether the variable is declared in the stack frame.
func (l *Local) OnStack() bool {
	return l.Storage == "" || l.Storage == "stack"
}

// Function groups the locals of one function by its start address.
type Function struct {
	Address uint64  `yaml:"address"`
	Name    string  `yaml:"name"`
	Locals  []Local `yaml:"locals"`
}

// LocalAtOffset returns the stack local declared at exactly off.
func (f *Function) LocalAtOffset(off int64) *Local {
	for i := range f.Locals {
		l := &f.Locals[i]
		if l.OnStack() && l.Offset == off {
			return l
		}
	}
	return nil
}

// Provider answers debug queries by function address.
type Provider struct {
	funcs map[uint64]*Function
}

// New builds a provider from parsed function records.
func New(funcs []Function) *Provider {
	p := &Provider{funcs: make(map[uint64]*Function, len(funcs))}
	for i := range funcs {
		p.funcs[funcs[i].Address] = &funcs[i]
	}
	return p
}

// Load reads a YAML debug-info file.
func Load(path string) (*Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dbginfo: read: %w", err)
	}
	var doc struct {
		Functions []Function `yaml:"functions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("dbginfo: parse %s: %w", path, err)
	}
	return New(doc.Functions), nil
}

// Function returns the record for the function starting at a, nil if none.
func (p *Provider) Function(a addr.Address) *Function {
	if p == nil || !a.Defined() {
		return nil
	}
	return p.funcs[a.Uint64()]
}

// TypeByName resolves a declared type name to an IR type. Unknown names
// fall back to the given default.
func TypeByName(name string, fallback types.Type) types.Type {
	switch name {
	case "i1":
		return types.I1
	case "i8", "char":
		return types.I8
	case "i16", "short":
		return types.I16
	case "i32", "int":
		return types.I32
	case "i64", "long":
		return types.I64
	case "float":
		return types.Float
	case "double":
		return types.Double
	}
	return fallback
}
