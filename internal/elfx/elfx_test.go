package elfx

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"stackmaps/internal/elfx/elftest"
)

func sampleImage() *elftest.Image {
	dynsym, dynstr := elftest.DynSym(
		elftest.Symbol{Name: "callee", Value: 0x5000, Size: 16, Info: elftest.FuncInfo},
		elftest.Symbol{Name: "data", Value: 0x6000, Info: elf.ST_INFO(elf.STB_GLOBAL, elf.STT_OBJECT)},
	)
	var relas []byte
	relas = append(relas, elftest.Rela(0x3000, 0, uint32(elf.R_X86_64_RELATIVE), 0x1234)...)
	relas = append(relas, elftest.Rela(0x3018, 1, uint32(elf.R_X86_64_64), 0)...)
	return &elftest.Image{
		Type:    elf.ET_DYN,
		Machine: elf.EM_X86_64,
		Sections: []elftest.Section{
			{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addr: 0x1000,
				Data: []byte{0x90, 0x90, 0xc3}},
			{Name: ".llvm_stackmaps", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC, Addr: 0x3000,
				Data: make([]byte, 40)},
			{Name: ".dynstr", Type: elf.SHT_STRTAB, Flags: elf.SHF_ALLOC, Data: dynstr},
			{Name: ".dynsym", Type: elf.SHT_DYNSYM, Flags: elf.SHF_ALLOC, Link: ".dynstr", Entsize: 24, Data: dynsym},
			{Name: ".rela.dyn", Type: elf.SHT_RELA, Flags: elf.SHF_ALLOC, Link: ".dynsym", Entsize: 24, Data: relas},
			{Name: ".bss", Type: elf.SHT_NOBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Addr: 0x7000, Data: make([]byte, 8)},
		},
		Loads: []string{".text"},
	}
}

func openImage(t *testing.T, im *elftest.Image) *File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "image.so")
	if err := im.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	ef, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ef.Close() })
	return ef
}

func TestOpenValid(t *testing.T) {
	ef := openImage(t, sampleImage())
	if ef.Machine() != elf.EM_X86_64 {
		t.Errorf("machine = %v", ef.Machine())
	}
}

func TestOpenRejectsNonELF(t *testing.T) {
	tmp := filepath.Join(t.TempDir(), "notelf")
	if err := os.WriteFile(tmp, []byte("not an ELF file at all"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(tmp)
	if !errors.Is(err, ErrNotELF) {
		t.Fatalf("err = %v, want ErrNotELF", err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
}

func TestSection(t *testing.T) {
	ef := openImage(t, sampleImage())
	s, err := ef.Section(".llvm_stackmaps")
	if err != nil {
		t.Fatal(err)
	}
	if s.Addr != 0x3000 || s.Size != 40 {
		t.Errorf("section = %+v", s)
	}
	start, end := s.FileRange()
	if end-start != 40 || start == 0 {
		t.Errorf("FileRange = [0x%x, 0x%x)", start, end)
	}
	data, err := ef.ReadSection(s)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 40 {
		t.Errorf("ReadSection returned %d bytes", len(data))
	}
}

func TestSectionNotFound(t *testing.T) {
	ef := openImage(t, sampleImage())
	if _, err := ef.Section(".llvm_stackmap"); !errors.Is(err, ErrNoSection) {
		t.Errorf("err = %v, want ErrNoSection", err)
	}
	if _, err := ef.Section(".bss"); !errors.Is(err, ErrNoFileData) {
		t.Errorf("err = %v, want ErrNoFileData", err)
	}
}

func TestDynamicRelocations(t *testing.T) {
	ef := openImage(t, sampleImage())
	relas, err := ef.DynamicRelocations()
	if err != nil {
		t.Fatal(err)
	}
	want := []Rela{
		{Offset: 0x3000, Type: uint32(elf.R_X86_64_RELATIVE), Addend: 0x1234},
		{Offset: 0x3018, Type: uint32(elf.R_X86_64_64), Sym: 1},
	}
	if len(relas) != len(want) {
		t.Fatalf("got %d relocations, want %d", len(relas), len(want))
	}
	for i := range want {
		if relas[i] != want[i] {
			t.Errorf("rela %d = %+v, want %+v", i, relas[i], want[i])
		}
	}
}

// elf32Image builds a little-endian ELFCLASS32 shared object holding a
// stackmap section at 0x3000 and a .rela.dyn entry that targets it.
func elf32Image() []byte {
	le := binary.LittleEndian
	shstrtab := []byte("\x00.shstrtab\x00.llvm_stackmaps\x00.rela.dyn\x00")
	stackmaps := make([]byte, 16)
	rela := make([]byte, 12)
	le.PutUint32(rela[0:], 0x3000)
	le.PutUint32(rela[4:], 8)
	le.PutUint32(rela[8:], 0x1234)

	type shdr struct {
		name, typ, flags, addr uint32
		data                   []byte
		entsize                uint32
	}
	shdrs := []shdr{
		{},
		{name: 1, typ: uint32(elf.SHT_STRTAB), data: shstrtab},
		{name: 11, typ: uint32(elf.SHT_PROGBITS), flags: uint32(elf.SHF_ALLOC), addr: 0x3000, data: stackmaps},
		{name: 27, typ: uint32(elf.SHT_RELA), flags: uint32(elf.SHF_ALLOC), data: rela, entsize: 12},
	}

	const ehsize, shentsize = 52, 40
	body := make([]byte, 0, 128)
	offsets := make([]uint32, len(shdrs))
	for i, sh := range shdrs {
		if sh.data == nil {
			continue
		}
		offsets[i] = uint32(ehsize + len(body))
		body = append(body, sh.data...)
		for len(body)%4 != 0 {
			body = append(body, 0)
		}
	}
	shoff := uint32(ehsize + len(body))

	out := make([]byte, ehsize, int(shoff)+shentsize*len(shdrs))
	copy(out, []byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS32), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)})
	le.PutUint16(out[16:], uint16(elf.ET_DYN))
	le.PutUint16(out[18:], uint16(elf.EM_386))
	le.PutUint32(out[20:], uint32(elf.EV_CURRENT))
	le.PutUint32(out[32:], shoff)
	le.PutUint16(out[40:], ehsize)
	le.PutUint16(out[46:], shentsize)
	le.PutUint16(out[48:], uint16(len(shdrs)))
	le.PutUint16(out[50:], 1)
	out = append(out, body...)
	for i, sh := range shdrs {
		h := make([]byte, shentsize)
		le.PutUint32(h[0:], sh.name)
		le.PutUint32(h[4:], sh.typ)
		le.PutUint32(h[8:], sh.flags)
		le.PutUint32(h[12:], sh.addr)
		le.PutUint32(h[16:], offsets[i])
		le.PutUint32(h[20:], uint32(len(sh.data)))
		le.PutUint32(h[32:], 1)
		le.PutUint32(h[36:], sh.entsize)
		out = append(out, h...)
	}
	return out
}

func TestDynamicRelocations32BitSkipped(t *testing.T) {
	ef, err := NewBytes(elf32Image())
	if err != nil {
		t.Fatal(err)
	}
	defer ef.Close()
	if ef.ELF.Class != elf.ELFCLASS32 {
		t.Fatalf("class = %v", ef.ELF.Class)
	}
	if _, err := ef.Section(".rela.dyn"); err != nil {
		t.Fatal(err)
	}

	relas, err := ef.DynamicRelocations()
	if err != nil {
		t.Fatalf("32-bit .rela.dyn should not fail the load: %v", err)
	}
	if len(relas) != 0 {
		t.Errorf("got %d relocations, want none", len(relas))
	}
	if _, err := ef.Section(".llvm_stackmaps"); err != nil {
		t.Error(err)
	}
}

func TestDynamicSymbol(t *testing.T) {
	ef := openImage(t, sampleImage())
	null, err := ef.DynamicSymbol(0)
	if err != nil || null.Value != 0 {
		t.Errorf("DynamicSymbol(0) = %+v, %v", null, err)
	}
	sym, err := ef.DynamicSymbol(1)
	if err != nil {
		t.Fatal(err)
	}
	if sym.Name != "callee" || sym.Value != 0x5000 {
		t.Errorf("DynamicSymbol(1) = %+v", sym)
	}
	if _, err := ef.DynamicSymbol(3); !errors.Is(err, ErrNoSymbol) {
		t.Errorf("DynamicSymbol(3) err = %v, want ErrNoSymbol", err)
	}
}

func TestFuncNames(t *testing.T) {
	ef := openImage(t, sampleImage())
	names := ef.FuncNames()
	if names[0x5000] != "callee" {
		t.Errorf("names[0x5000] = %q", names[0x5000])
	}
	if _, ok := names[0x6000]; ok {
		t.Error("object symbol reported as function")
	}
}

func TestVAToFileOffset(t *testing.T) {
	ef := openImage(t, sampleImage())
	text, err := ef.Section(".text")
	if err != nil {
		t.Fatal(err)
	}
	off, err := ef.VAToFileOffset(0x1002)
	if err != nil {
		t.Fatal(err)
	}
	if off != text.Offset+2 {
		t.Errorf("offset = 0x%x, want 0x%x", off, text.Offset+2)
	}
	b, err := ef.ReadBytesAtVA(0x1000, 16)
	if err != nil {
		t.Fatal(err)
	}
	if len(b) < 3 || b[2] != 0xc3 {
		t.Errorf("ReadBytesAtVA = % x", b)
	}
}

func TestVAToFileOffsetInvalid(t *testing.T) {
	ef := openImage(t, sampleImage())
	_, err := ef.VAToFileOffset(0xDEADBEEFDEADBEEF)
	if !errors.Is(err, ErrNoSegment) {
		t.Fatalf("err = %v, want ErrNoSegment", err)
	}
}

func TestNewBytes(t *testing.T) {
	ef, err := NewBytes(sampleImage().Bytes())
	if err != nil {
		t.Fatal(err)
	}
	defer ef.Close()
	if _, err := ef.Section(".rela.dyn"); err != nil {
		t.Error(err)
	}
}

func FuzzELFOpen(f *testing.F) {
	f.Add(sampleImage().Bytes())
	f.Add([]byte("\x7fELF\x02\x01\x01\x00\x00\x00\x00\x00\x00\x00\x00\x00"))
	f.Add([]byte("not an elf at all"))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		ef, err := NewBytes(data)
		if err != nil {
			return // expected
		}
		// If it opens, exercise the API.
		ef.FuncNames()
		ef.DynamicRelocations()
		ef.DynamicSymbol(1)
		ef.VAToFileOffset(0)
		if s, err := ef.Section(".llvm_stackmaps"); err == nil {
			ef.ReadSection(s)
		}
		ef.Close()
	})
}
