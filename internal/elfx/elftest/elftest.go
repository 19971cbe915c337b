// Package elftest builds small little-endian ELF64 images for tests.
package elftest

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"os"
)

var le = binary.LittleEndian

// Section is one section of a synthetic image. Link names another section.
type Section struct {
	Name    string
	Type    elf.SectionType
	Flags   elf.SectionFlag
	Addr    uint64
	Link    string
	Entsize uint64
	Data    []byte
}

// Image describes a synthetic ELF file. Each name in Loads gets its own
// PT_LOAD segment mapping that section at its Addr.
type Image struct {
	Type     elf.Type
	Machine  elf.Machine
	Sections []Section
	Loads    []string
}

// Symbol is a .dynsym entry. Index 0 (the null symbol) is added implicitly.
type Symbol struct {
	Name  string
	Value uint64
	Size  uint64
	Info  byte
}

// FuncInfo is the st_info value of a global function symbol.
var FuncInfo = elf.ST_INFO(elf.STB_GLOBAL, elf.STT_FUNC)

// DynSym encodes symbols as .dynsym and .dynstr contents.
func DynSym(syms ...Symbol) (dynsym, dynstr []byte) {
	strtab := []byte{0}
	var b bytes.Buffer
	binary.Write(&b, le, elf.Sym64{})
	for _, s := range syms {
		name := uint32(len(strtab))
		strtab = append(append(strtab, s.Name...), 0)
		binary.Write(&b, le, elf.Sym64{
			Name:  name,
			Info:  s.Info,
			Shndx: uint16(elf.SHN_ABS),
			Value: s.Value,
			Size:  s.Size,
		})
	}
	return b.Bytes(), strtab
}

// Rela encodes one Elf64_Rela entry.
func Rela(off uint64, sym uint32, typ uint32, addend int64) []byte {
	var b bytes.Buffer
	binary.Write(&b, le, elf.Rela64{Off: off, Info: elf.R_INFO(sym, typ), Addend: addend})
	return b.Bytes()
}

// Bytes lays out the image: ELF header, program headers, section data,
// .shstrtab, then section headers.
func (im *Image) Bytes() []byte {
	secs := append(append([]Section{}, im.Sections...), Section{Name: ".shstrtab", Type: elf.SHT_STRTAB})

	shstrtab := []byte{0}
	nameOff := make([]uint32, len(secs))
	index := make(map[string]int, len(secs))
	for i, s := range secs {
		nameOff[i] = uint32(len(shstrtab))
		shstrtab = append(append(shstrtab, s.Name...), 0)
		index[s.Name] = i + 1
	}
	secs[len(secs)-1].Data = shstrtab

	off := uint64(64 + 56*len(im.Loads))
	dataOff := make([]uint64, len(secs))
	for i, s := range secs {
		off = align(off, 16)
		dataOff[i] = off
		if s.Type != elf.SHT_NOBITS {
			off += uint64(len(s.Data))
		}
	}
	shoff := align(off, 8)

	var b bytes.Buffer
	hdr := elf.Header64{
		Type:      uint16(im.Type),
		Machine:   uint16(im.Machine),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     shoff,
		Ehsize:    64,
		Shentsize: 64,
		Shnum:     uint16(len(secs) + 1),
		Shstrndx:  uint16(len(secs)),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)
	if len(im.Loads) > 0 {
		hdr.Phoff = 64
		hdr.Phentsize = 56
		hdr.Phnum = uint16(len(im.Loads))
	}
	binary.Write(&b, le, &hdr)

	for _, name := range im.Loads {
		i := index[name] - 1
		size := uint64(len(secs[i].Data))
		binary.Write(&b, le, &elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(elf.PF_R | elf.PF_X),
			Off:    dataOff[i],
			Vaddr:  secs[i].Addr,
			Paddr:  secs[i].Addr,
			Filesz: size,
			Memsz:  size,
			Align:  16,
		})
	}

	for i, s := range secs {
		pad(&b, dataOff[i])
		if s.Type != elf.SHT_NOBITS {
			b.Write(s.Data)
		}
	}
	pad(&b, shoff)

	binary.Write(&b, le, &elf.Section64{})
	for i, s := range secs {
		sh := elf.Section64{
			Name:      nameOff[i],
			Type:      uint32(s.Type),
			Flags:     uint64(s.Flags),
			Addr:      s.Addr,
			Off:       dataOff[i],
			Size:      uint64(len(s.Data)),
			Addralign: 8,
			Entsize:   s.Entsize,
		}
		if s.Link != "" {
			sh.Link = uint32(index[s.Link])
		}
		binary.Write(&b, le, &sh)
	}
	return b.Bytes()
}

// WriteFile writes the image to path.
func (im *Image) WriteFile(path string) error {
	return os.WriteFile(path, im.Bytes(), 0644)
}

func align(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}

func pad(b *bytes.Buffer, to uint64) {
	for uint64(b.Len()) < to {
		b.WriteByte(0)
	}
}
