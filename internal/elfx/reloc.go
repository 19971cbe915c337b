package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
)

const rela64Size = 24

// Rela is one entry of a dynamic RELA table.
type Rela struct {
	Offset uint64 // virtual address patched at load time
	Type   uint32
	Sym    uint32 // index into .dynsym
	Addend int64
}

// DynamicRelocations returns the entries of every SHT_RELA section linked to
// the dynamic symbol table (.rela.dyn, .rela.plt). Packed SHT_RELR tables are
// not returned: their targets already hold the link-time address in the file.
// Only ELFCLASS64 tables are read; a 32-bit file yields no relocations.
func (f *File) DynamicRelocations() ([]Rela, error) {
	if f.ELF.Class != elf.ELFCLASS64 {
		return nil, nil
	}
	var out []Rela
	for _, s := range f.ELF.Sections {
		if s.Type != elf.SHT_RELA || !f.linksDynsym(s) {
			continue
		}
		data, err := s.Data()
		if err != nil {
			return nil, fmt.Errorf("elfx: read %s: %w", s.Name, err)
		}
		if len(data)%rela64Size != 0 {
			return nil, fmt.Errorf("elfx: %s size %d is not a multiple of %d", s.Name, len(data), rela64Size)
		}
		r := bytes.NewReader(data)
		for r.Len() > 0 {
			var rela elf.Rela64
			if err := binary.Read(r, f.ELF.ByteOrder, &rela); err != nil {
				return nil, fmt.Errorf("elfx: decode %s: %w", s.Name, err)
			}
			out = append(out, Rela{
				Offset: rela.Off,
				Type:   elf.R_TYPE64(rela.Info),
				Sym:    elf.R_SYM64(rela.Info),
				Addend: rela.Addend,
			})
		}
	}
	return out, nil
}

func (f *File) linksDynsym(s *elf.Section) bool {
	if s.Link == 0 || int(s.Link) >= len(f.ELF.Sections) {
		return s.Name == ".rela.dyn"
	}
	return f.ELF.Sections[s.Link].Type == elf.SHT_DYNSYM
}

// DynamicSymbol returns .dynsym entry idx. Index 0 is the null symbol.
func (f *File) DynamicSymbol(idx uint32) (elf.Symbol, error) {
	if idx == 0 {
		return elf.Symbol{}, nil
	}
	if f.dynsyms == nil {
		syms, err := f.ELF.DynamicSymbols()
		if err != nil {
			return elf.Symbol{}, fmt.Errorf("elfx: dynsym: %w", err)
		}
		f.dynsyms = syms
	}
	syms := f.dynsyms
	// DynamicSymbols omits the null entry.
	if int(idx) > len(syms) {
		return elf.Symbol{}, fmt.Errorf("%w: dynsym index %d of %d", ErrNoSymbol, idx, len(syms)+1)
	}
	return syms[idx-1], nil
}
