package image

import (
	"fmt"

	"bin2ir/internal/addr"
)

// Buffer is an in-memory Image for tests and raw code blobs.
type Buffer struct {
	sections []Section
	data     map[string][]byte
	entry    addr.Address
	symbols  []Symbol
}

// NewBuffer returns an empty in-memory image.
func NewBuffer() *Buffer {
	return &Buffer{data: make(map[string][]byte)}
}

// AddSection maps data at base with the given permissions.
func (b *Buffer) AddSection(name string, base uint64, data []byte, executable bool) {
	r := addr.MustRange(base, base+uint64(len(data))-1)
	b.sections = append(b.sections, Section{
		Name:       name,
		Range:      r,
		Executable: executable,
		Readable:   true,
	})
	b.data[name] = data
}

// SetEntryPoint sets the reported entry point.
func (b *Buffer) SetEntryPoint(a uint64) { b.entry = addr.New(a) }

// AddSymbol records an exported function symbol.
func (b *Buffer) AddSymbol(name string, a uint64) {
	b.symbols = append(b.symbols, Symbol{Name: name, Address: addr.New(a)})
}

// Sections lists the mapped sections.
func (b *Buffer) Sections() []Section { return b.sections }

// EntryPoint returns the configured entry point.
func (b *Buffer) EntryPoint() addr.Address { return b.entry }

// ExportedSymbols returns the recorded symbols.
func (b *Buffer) ExportedSymbols() []Symbol { return b.symbols }

// RawBytesAt returns bytes from a to the end of the enclosing section.
func (b *Buffer) RawBytesAt(a addr.Address) ([]byte, error) {
	for _, s := range b.sections {
		if s.Range.Contains(a) {
			off := a.Uint64() - s.Range.Start.Uint64()
			return b.data[s.Name][off:], nil
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrNoSection, a)
}
