// Package disasm decodes the machine instructions at stackmap patch points
// for x86-64 and AArch64 binaries.
package disasm

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

var (
	ErrUnsupportedArch = errors.New("disasm: unsupported architecture")
	ErrUndecodable     = errors.New("disasm: undecodable instruction")
)

// MaxInstLen is the longest encoding any supported architecture uses.
const MaxInstLen = 15

// Inst is a decoded instruction with address and raw bytes.
type Inst struct {
	Addr     uint64
	Raw      []byte
	Mnemonic string
	Operands string
	Text     string // full disassembly line
	Call     *CallInfo
}

// Size returns the encoded length in bytes.
func (i Inst) Size() int { return len(i.Raw) }

// End returns the address just past the instruction.
func (i Inst) End() uint64 { return i.Addr + uint64(len(i.Raw)) }

// SymbolLookup resolves an address to a symbolic name. Returns ("", false) if unknown.
type SymbolLookup func(addr uint64) (name string, ok bool)

// Options controls disassembly behavior.
type Options struct {
	BaseAddr uint64 // VA of the first byte in Data
	MaxSteps int    // maximum instructions to decode; 0 = 10M
}

const defaultMaxSteps = 10_000_000

func (o Options) effectiveMax() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

// decoder decodes one instruction at the start of code. On failure it
// returns the number of bytes to skip.
type decoder func(code []byte, pc uint64) (Inst, int, error)

var decoders = map[elf.Machine]decoder{
	elf.EM_X86_64:  decodeX86,
	elf.EM_AARCH64: decodeARM64,
}

// Supported reports whether instructions for machine can be decoded.
func Supported(machine elf.Machine) bool {
	_, ok := decoders[machine]
	return ok
}

// Decode decodes the single instruction at the start of code, located at pc.
func Decode(machine elf.Machine, code []byte, pc uint64) (Inst, error) {
	dec, ok := decoders[machine]
	if !ok {
		return Inst{}, fmt.Errorf("%w: %v", ErrUnsupportedArch, machine)
	}
	inst, _, err := dec(code, pc)
	return inst, err
}

func decodeX86(code []byte, pc uint64) (Inst, int, error) {
	inst, err := x86asm.Decode(code, 64)
	if err != nil || inst.Len == 0 || inst.Op == 0 {
		return Inst{}, 1, fmt.Errorf("%w at 0x%x", ErrUndecodable, pc)
	}
	out := newInst(pc, code[:inst.Len], x86asm.GNUSyntax(inst, pc, nil))
	out.Call = x86Call(inst, pc)
	return out, inst.Len, nil
}

func decodeARM64(code []byte, pc uint64) (Inst, int, error) {
	if len(code) < 4 {
		return Inst{}, 0, fmt.Errorf("%w at 0x%x: short read", ErrUndecodable, pc)
	}
	inst, err := arm64asm.Decode(code[:4])
	if err != nil {
		return Inst{}, 4, fmt.Errorf("%w at 0x%x: %v", ErrUndecodable, pc, err)
	}
	out := newInst(pc, code[:4], inst.String())
	out.Call = arm64Call(binary.LittleEndian.Uint32(code), pc)
	return out, 4, nil
}

func newInst(pc uint64, raw []byte, text string) Inst {
	parts := strings.SplitN(text, " ", 2)
	inst := Inst{
		Addr:     pc,
		Raw:      append([]byte(nil), raw...),
		Mnemonic: parts[0],
		Text:     text,
	}
	if len(parts) > 1 {
		inst.Operands = parts[1]
	}
	return inst
}

// Disassemble decodes instructions from a byte region by linear sweep.
// Undecodable bytes are emitted as data directives and skipped.
func Disassemble(machine elf.Machine, data []byte, opts Options) ([]Inst, error) {
	dec, ok := decoders[machine]
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedArch, machine)
	}
	maxSteps := opts.effectiveMax()

	var result []Inst
	for off := 0; off < len(data) && len(result) < maxSteps; {
		addr := opts.BaseAddr + uint64(off)
		inst, n, err := dec(data[off:], addr)
		if err != nil {
			if n <= 0 || off+n > len(data) {
				break
			}
			inst = dataDirective(addr, data[off:off+n])
		}
		result = append(result, inst)
		off += inst.Size()
	}
	return result, nil
}

func dataDirective(addr uint64, raw []byte) Inst {
	var text string
	if len(raw) == 4 {
		text = fmt.Sprintf(".word 0x%08x", binary.LittleEndian.Uint32(raw))
	} else {
		text = fmt.Sprintf(".byte 0x%02x", raw[0])
		raw = raw[:1]
	}
	return newInst(addr, raw, text)
}

// Format renders a slice of instructions as stable text output.
// Each line: <addr>  <hex bytes>  <disasm>  ; <comments>
// Annotators are checked in order; first non-empty result is used.
func Format(insts []Inst, lookup SymbolLookup, annotators ...Annotator) string {
	var b strings.Builder
	for _, inst := range insts {
		// Address.
		fmt.Fprintf(&b, "0x%08x  ", inst.Addr)
		// Raw bytes, padded to the longest encoding.
		var hex strings.Builder
		for i, c := range inst.Raw {
			if i > 0 {
				hex.WriteByte(' ')
			}
			fmt.Fprintf(&hex, "%02x", c)
		}
		fmt.Fprintf(&b, "%-*s  ", 3*MaxInstLen-1, hex.String())
		// Disassembly.
		b.WriteString(inst.Text)
		// Symbol comment.
		commented := false
		if lookup != nil {
			if name, ok := lookup(inst.Addr); ok {
				fmt.Fprintf(&b, "  ; <%s>", name)
				commented = true
			}
		}
		if !commented {
			for _, ann := range annotators {
				if s := ann(inst); s != "" {
					fmt.Fprintf(&b, "  ; %s", s)
					break
				}
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// PlaceholderLookup returns a SymbolLookup over a set of known function
// entry points.
func PlaceholderLookup(entryPoints map[uint64]string) SymbolLookup {
	return func(addr uint64) (string, bool) {
		if name, ok := entryPoints[addr]; ok {
			return name, true
		}
		return "", false
	}
}

// PlaceholderName returns the sub_<hexaddr> name used for functions
// without a symbol.
func PlaceholderName(addr uint64) string {
	return fmt.Sprintf("sub_%x", addr)
}
