package image

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"

	"bin2ir/internal/addr"
)

var (
	ErrNotELF    = errors.New("image: not an ELF file")
	ErrNotX86    = errors.New("image: not x86 or x86-64")
	ErrNoSection = errors.New("image: no section covers address")
)

// ELFFile is an Image backed by an x86 or x86-64 ELF binary.
type ELFFile struct {
	ELF  *elf.File
	raw  io.ReaderAt
	size int64

	sections []Section
}

// OpenELF opens an ELF file and validates it is an x86-family binary.
func OpenELF(path string) (*ELFFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("image: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("image: stat: %w", err)
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}

	if ef.Machine != elf.EM_386 && ef.Machine != elf.EM_X86_64 {
		ef.Close()
		return nil, ErrNotX86
	}

	e := &ELFFile{ELF: ef, raw: f, size: info.Size()}
	e.collectSections()
	return e, nil
}

// Close releases resources.
func (e *ELFFile) Close() error {
	return e.ELF.Close()
}

// Is64Bit reports whether the binary is x86-64.
func (e *ELFFile) Is64Bit() bool {
	return e.ELF.Machine == elf.EM_X86_64
}

func (e *ELFFile) collectSections() {
	for _, s := range e.ELF.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Size == 0 || s.Type == elf.SHT_NOBITS {
			continue
		}
		r, err := addr.NewRange(addr.New(s.Addr), addr.New(s.Addr+s.Size-1))
		if err != nil {
			continue
		}
		e.sections = append(e.sections, Section{
			Name:       s.Name,
			Range:      r,
			Executable: s.Flags&elf.SHF_EXECINSTR != 0,
			Readable:   true,
		})
	}
}

// Sections lists the mapped sections of the binary.
func (e *ELFFile) Sections() []Section { return e.sections }

// EntryPoint returns the ELF entry point.
func (e *ELFFile) EntryPoint() addr.Address {
	if e.ELF.Entry == 0 {
		return addr.Undef()
	}
	return addr.New(e.ELF.Entry)
}

// RawBytesAt returns the bytes from a to the end of its section.
func (e *ELFFile) RawBytesAt(a addr.Address) ([]byte, error) {
	if !a.Defined() {
		return nil, fmt.Errorf("%w: %v", ErrNoSection, a)
	}
	for _, s := range e.ELF.Sections {
		if s.Flags&elf.SHF_ALLOC == 0 || s.Type == elf.SHT_NOBITS {
			continue
		}
		if a.Uint64() < s.Addr || a.Uint64() >= s.Addr+s.Size {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("image: section %s: %w", s.Name, err)
		}
		return data[a.Uint64()-s.Addr:], nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNoSection, a)
}

// ExportedSymbols returns global function symbols with defined addresses.
func (e *ELFFile) ExportedSymbols() []Symbol {
	var out []Symbol
	for _, tab := range [][]elf.Symbol{e.symbols(), e.dynamicSymbols()} {
		for _, s := range tab {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
				continue
			}
			if s.Section == elf.SHN_UNDEF || elf.ST_BIND(s.Info) == elf.STB_LOCAL {
				continue
			}
			out = append(out, Symbol{Name: s.Name, Address: addr.New(s.Value)})
		}
	}
	return out
}

func (e *ELFFile) symbols() []elf.Symbol {
	syms, err := e.ELF.Symbols()
	if err != nil {
		return nil
	}
	return syms
}

func (e *ELFFile) dynamicSymbols() []elf.Symbol {
	syms, err := e.ELF.DynamicSymbols()
	if err != nil {
		return nil
	}
	return syms
}
