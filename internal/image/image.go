// Package image provides loaded-binary views for control-flow decoding:
// section classification, raw byte access by virtual address, and entry
// point discovery.
package image

import (
	"bin2ir/internal/addr"
)

// Section is a mapped region of the binary with its permissions.
type Section struct {
	Name       string
	Range      addr.Range
	Executable bool
	Readable   bool
}

// Symbol is an exported code symbol usable as a decode seed.
type Symbol struct {
	Name    string
	Address addr.Address
}

// Image is a loaded binary ready for decoding.
type Image interface {
	// RawBytesAt returns the bytes from a to the end of the section
	// containing a.
	RawBytesAt(a addr.Address) ([]byte, error)
	// Sections lists all mapped sections.
	Sections() []Section
	// EntryPoint returns the program entry point, undefined if unknown.
	EntryPoint() addr.Address
	// ExportedSymbols lists exported function symbols, if any.
	ExportedSymbols() []Symbol
}
