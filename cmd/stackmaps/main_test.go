package main

import (
	"bufio"
	"debug/elf"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"stackmaps/internal/disasm"
	"stackmaps/internal/elfx/elftest"
	"stackmaps/internal/logger"
	"stackmaps/internal/smfmt"
	"stackmaps/internal/stackmap"
)

// writeSample writes an x86-64 shared object whose caller function holds a
// single patch point right after a call to callee.
func writeSample(t *testing.T) string {
	t.Helper()
	t.Cleanup(func() { logger.DefaultLogger = logger.InitializeDefaultLogger() })

	sm := stackmap.StackMap{
		Header:    stackmap.Header{Version: stackmap.Version},
		Functions: []stackmap.FunctionRecord{{Address: 0x1000, StackSize: 16, RecordCount: 1}},
		Constants: []uint64{42},
		Records: []stackmap.Record{{
			PatchPointID:      11,
			InstructionOffset: 6,
			Locations: []stackmap.Location{
				{Type: stackmap.LocIndirect, Size: 8, DwarfReg: 6, Offset: -8},
				{Type: stackmap.LocConstIndex, Size: 8, Offset: 0},
			},
		}},
	}
	dynsym, dynstr := elftest.DynSym(
		elftest.Symbol{Name: "caller", Value: 0x1000, Size: 8, Info: elftest.FuncInfo},
		elftest.Symbol{Name: "callee", Value: 0x1100, Size: 1, Info: elftest.FuncInfo},
	)
	im := &elftest.Image{
		Type:    elf.ET_DYN,
		Machine: elf.EM_X86_64,
		Sections: []elftest.Section{
			{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Addr: 0x1000,
				Data: []byte{0x55, 0xe8, 0xfa, 0x00, 0x00, 0x00, 0x90, 0xc3}},
			{Name: ".llvm_stackmaps", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC, Addr: 0x3000,
				Data: stackmap.Encode(binary.LittleEndian, smfmt.PadUncounted, sm)},
			{Name: ".dynstr", Type: elf.SHT_STRTAB, Flags: elf.SHF_ALLOC, Data: dynstr},
			{Name: ".dynsym", Type: elf.SHT_DYNSYM, Flags: elf.SHF_ALLOC, Link: ".dynstr", Entsize: 24, Data: dynsym},
		},
		Loads: []string{".text"},
	}
	path := filepath.Join(t.TempDir(), "libsample.so")
	if err := im.WriteFile(path); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCmdDump(t *testing.T) {
	bin := writeSample(t)
	out := t.TempDir()
	if err := cmdDump([]string{"--bin", bin, "--out", out, "--log-level", "error"}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(out, "stackmaps.txt"))
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{
		"LLVM StackMap Version: 3",
		"Record ID: 11, instruction offset: 6",
		"ConstantIndex #0 (42)",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("dump missing %q:\n%s", want, text)
		}
	}
}

func TestCmdDumpRaw(t *testing.T) {
	t.Cleanup(func() { logger.DefaultLogger = logger.InitializeDefaultLogger() })
	sm := stackmap.StackMap{Header: stackmap.Header{Version: stackmap.Version}}
	raw := filepath.Join(t.TempDir(), "section.bin")
	if err := os.WriteFile(raw, stackmap.Encode(binary.BigEndian, smfmt.PadUncounted, sm, sm), 0644); err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()
	if err := cmdDump([]string{"--raw", raw, "--endian", "big", "--out", out, "--log-level", "error"}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(out, "stackmaps.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(string(data), "LLVM StackMap Version: 3"); n != 2 {
		t.Errorf("got %d stackmaps, want 2", n)
	}
}

func TestCmdDumpRequiresInput(t *testing.T) {
	if err := cmdDump(nil); err == nil {
		t.Error("expected error without --bin or --raw")
	}
	if err := cmdDump([]string{"--bin", "a", "--raw", "b"}); err == nil {
		t.Error("expected error with both --bin and --raw")
	}
}

func TestCmdJSON(t *testing.T) {
	bin := writeSample(t)
	out := t.TempDir()
	if err := cmdJSON([]string{"--bin", bin, "--out", out, "--log-level", "error"}); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(out, "stackmaps.json"))
	if err != nil {
		t.Fatal(err)
	}
	var doc struct {
		Section   string `json:"section"`
		StackMaps []struct {
			Functions []struct {
				Address uint64 `json:"address"`
			} `json:"functions"`
		} `json:"stackmaps"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if doc.Section != ".llvm_stackmaps" || len(doc.StackMaps) != 1 || doc.StackMaps[0].Functions[0].Address != 0x1000 {
		t.Errorf("document = %+v", doc)
	}
}

func TestCmdProbe(t *testing.T) {
	bin := writeSample(t)
	if err := cmdProbe([]string{"-q", bin}); err != nil {
		t.Errorf("probe of sample: %v", err)
	}
	if err := cmdProbe([]string{"-q", bin, filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("expected error when an input lacks a stackmap section")
	}
}

func TestCmdSites(t *testing.T) {
	bin := writeSample(t)
	out := t.TempDir()
	if err := cmdSites([]string{"--bin", bin, "--out", out, "--listing", "--log-level", "error"}); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(filepath.Join(out, "sites.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		t.Fatal("sites.jsonl is empty")
	}
	var rec disasm.SiteRecord
	if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	want := disasm.SiteRecord{
		Func:         "caller",
		FuncPC:       "0x1000",
		PatchPointID: 11,
		PC:           "0x1006",
		Inst:         "nop",
		Call:         "direct",
		Target:       "callee",
		Locations:    2,
	}
	if rec != want {
		t.Errorf("record = %+v\nwant     %+v", rec, want)
	}

	asm, err := os.ReadFile(filepath.Join(out, "asm", "caller.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(asm), "patchpoint 11") || !strings.Contains(string(asm), "-> callee") {
		t.Errorf("listing not annotated:\n%s", asm)
	}
}

func TestCmdGraph(t *testing.T) {
	bin := writeSample(t)
	out := t.TempDir()
	if err := cmdGraph([]string{"--bin", bin, "--out", out, "--log-level", "error"}); err != nil {
		t.Fatal(err)
	}
	dot, err := os.ReadFile(filepath.Join(out, "sitegraph.dot"))
	if err != nil {
		t.Fatal(err)
	}
	if len(dot) == 0 {
		t.Error("empty sitegraph.dot")
	}
}

func TestFormatSites(t *testing.T) {
	sites := []disasm.Site{
		{FuncName: "f", Addr: 0x1006, InstructionOffset: 6, PatchPointID: 1,
			Inst: &disasm.Inst{Text: "nop"},
			Call: &disasm.Inst{Text: "call 0x1100", Call: &disasm.CallInfo{Target: 0x1100}}},
		{FuncName: "f", Addr: 0x1010, InstructionOffset: 16, PatchPointID: 2},
	}
	got := formatSites(sites, map[uint64]string{0x1100: "g"})
	want := "0x00001006  f+0x6  pp 1  nop  ; after call to g\n" +
		"0x00001010  f+0x10  pp 2  <unmapped>\n"
	if got != want {
		t.Errorf("formatSites =\n%s\nwant\n%s", got, want)
	}
}

func TestParseEndian(t *testing.T) {
	for _, s := range []string{"", "native"} {
		if o, err := parseEndian(s); err != nil || o != nil {
			t.Errorf("parseEndian(%q) = %v, %v", s, o, err)
		}
	}
	if o, _ := parseEndian("big"); o != binary.BigEndian {
		t.Errorf("big = %v", o)
	}
	if o, _ := parseEndian("le"); o != binary.LittleEndian {
		t.Errorf("le = %v", o)
	}
	if _, err := parseEndian("middle"); err == nil {
		t.Error("expected error for unknown byte order")
	}
}
