// Package elfx provides ELF loading helpers for locating stackmap sections
// and the dynamic relocations that patch them.
package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	ErrNotELF     = errors.New("elfx: not an ELF file")
	ErrNoSection  = errors.New("elfx: section not found")
	ErrNoSymbol   = errors.New("elfx: symbol not found")
	ErrNoSegment  = errors.New("elfx: no PT_LOAD segment covers address")
	ErrNoFileData = errors.New("elfx: section has no file data")
)

// File wraps a debug/elf.File with convenience methods for stackmap loading.
type File struct {
	ELF    *elf.File
	raw    io.ReaderAt
	size   int64
	closer io.Closer

	dynsyms []elf.Symbol
}

// Open opens an ELF file from disk.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfx: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("elfx: stat: %w", err)
	}

	ef, err := NewFile(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}
	ef.closer = f
	return ef, nil
}

// NewBytes parses an in-memory ELF image.
func NewBytes(data []byte) (*File, error) {
	return NewFile(bytes.NewReader(data), int64(len(data)))
}

// NewFile parses an ELF image of the given size from r.
//
// Any panic during parsing is turned into an error; debug/elf still has
// unfixed crashes on hostile input.
func NewFile(r io.ReaderAt, size int64) (f *File, err error) {
	defer func() {
		if p := recover(); p != nil {
			f = nil
			err = fmt.Errorf("%w: parsing panicked: %v", ErrNotELF, p)
		}
	}()

	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}
	return &File{ELF: ef, raw: r, size: size}, nil
}

// Close releases resources.
func (f *File) Close() error {
	err := f.ELF.Close()
	if f.closer != nil {
		if cerr := f.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ByteOrder returns the ELF byte order.
func (f *File) ByteOrder() binary.ByteOrder {
	return f.ELF.ByteOrder
}

// Machine returns the target architecture.
func (f *File) Machine() elf.Machine {
	return f.ELF.Machine
}

// SectionInfo locates a section both in the file and in memory.
type SectionInfo struct {
	Name   string
	Index  int
	Addr   uint64 // sh_addr; 0 for sections not loaded at run time
	Offset uint64 // file offset
	Size   uint64
}

// FileRange returns the half-open file byte range [start, end).
func (s SectionInfo) FileRange() (start, end uint64) {
	return s.Offset, s.Offset + s.Size
}

// Section returns the first section whose name matches exactly.
// Section names are resolved through the section header string table.
func (f *File) Section(name string) (SectionInfo, error) {
	for i, s := range f.ELF.Sections {
		if s.Name != name {
			continue
		}
		if s.Type == elf.SHT_NOBITS {
			return SectionInfo{}, fmt.Errorf("%w: %s", ErrNoFileData, name)
		}
		if s.Offset > uint64(f.size) || s.Size > uint64(f.size)-s.Offset {
			return SectionInfo{}, fmt.Errorf("elfx: section %s [0x%x, +0x%x) exceeds file size 0x%x",
				name, s.Offset, s.Size, f.size)
		}
		return SectionInfo{
			Name:   s.Name,
			Index:  i,
			Addr:   s.Addr,
			Offset: s.Offset,
			Size:   s.Size,
		}, nil
	}
	return SectionInfo{}, fmt.Errorf("%w: %s", ErrNoSection, name)
}

// ReadSection returns a private copy of the section's file bytes.
func (f *File) ReadSection(s SectionInfo) ([]byte, error) {
	buf := make([]byte, s.Size)
	n, err := f.raw.ReadAt(buf, int64(s.Offset))
	if n < len(buf) {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("elfx: read section %s: %w", s.Name, err)
	}
	return buf, nil
}

// VAToFileOffset converts a virtual address to a file offset using PT_LOAD segments.
func (f *File) VAToFileOffset(va uint64) (uint64, error) {
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if va >= p.Vaddr && va < p.Vaddr+p.Filesz {
			offset := va - p.Vaddr + p.Off
			if offset >= uint64(f.size) {
				return 0, fmt.Errorf("elfx: VA 0x%x maps to offset 0x%x beyond file size 0x%x", va, offset, f.size)
			}
			return offset, nil
		}
	}
	return 0, fmt.Errorf("%w: VA 0x%x", ErrNoSegment, va)
}

// ReadBytesAtVA reads up to n bytes starting at the given virtual address.
func (f *File) ReadBytesAtVA(va uint64, n int) ([]byte, error) {
	off, err := f.VAToFileOffset(va)
	if err != nil {
		return nil, err
	}
	// Clamp to file size.
	avail := f.size - int64(off)
	if int64(n) > avail {
		n = int(avail)
	}
	buf := make([]byte, n)
	m, err := f.raw.ReadAt(buf, int64(off))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("elfx: read at 0x%x: %w", off, err)
	}
	return buf[:m], nil
}

// FuncNames maps function addresses to names from .symtab and .dynsym.
// Missing symbol tables are not an error.
func (f *File) FuncNames() map[uint64]string {
	names := make(map[uint64]string)
	add := func(syms []elf.Symbol, err error) {
		if err != nil {
			return
		}
		for _, s := range syms {
			if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 || s.Name == "" {
				continue
			}
			if _, ok := names[s.Value]; !ok {
				names[s.Value] = s.Name
			}
		}
	}
	add(f.ELF.Symbols())
	add(f.ELF.DynamicSymbols())
	return names
}
