package disasm

import (
	"debug/elf"
	"errors"
	"fmt"

	"stackmaps/internal/elfx"
	"stackmaps/internal/smfmt"
	"stackmaps/internal/stackmap"
)

var ErrStepLimit = errors.New("disasm: step limit reached")

// Site is one stackmap record resolved to a code address.
type Site struct {
	Map               int    // index of the stackmap within the section
	Function          uint64 // function entry address
	FuncName          string
	PatchPointID      uint64
	InstructionOffset uint32
	Addr              uint64 // Function + InstructionOffset
	NumLocations      int
	NumLiveOuts       int

	Inst *Inst // instruction at Addr; nil when unmapped or undecodable
	Call *Inst // call instruction ending at Addr, if any
}

// CallTarget returns the name or address of the callee of the call that
// ends at the site, or "" when there is none or it is indirect.
func (s Site) CallTarget(names map[uint64]string) string {
	if s.Call == nil || s.Call.Call == nil || s.Call.Call.Indirect {
		return ""
	}
	if name, ok := names[s.Call.Call.Target]; ok {
		return name
	}
	return PlaceholderName(s.Call.Call.Target)
}

// SiteOptions controls patch site resolution.
type SiteOptions struct {
	smfmt.Options
	// Names maps function addresses to symbol names.
	Names map[uint64]string
}

func (o SiteOptions) funcName(addr uint64) string {
	if name, ok := o.Names[addr]; ok {
		return name
	}
	return PlaceholderName(addr)
}

// CodeReader reads code by virtual address. *elfx.File implements it.
type CodeReader interface {
	Machine() elf.Machine
	ReadBytesAtVA(va uint64, n int) ([]byte, error)
}

// PatchSites resolves every record of maps to its code address and decodes
// the instruction there together with the call that precedes it.
//
// In strict mode the first problem is returned as an error. In best-effort
// mode problems are recorded in the returned Diags and the affected site is
// kept with whatever could be decoded.
func PatchSites(ef CodeReader, maps []stackmap.StackMap, opts SiteOptions) ([]Site, *smfmt.Diags, error) {
	machine := ef.Machine()
	if !Supported(machine) {
		return nil, nil, fmt.Errorf("%w: %v", ErrUnsupportedArch, machine)
	}
	r := &resolver{
		ef:      ef,
		machine: machine,
		opts:    opts,
		diags:   &smfmt.Diags{},
		budget:  opts.EffectiveMaxSteps(),
	}
	var sites []Site
	for mi := range maps {
		groups, err := maps[mi].RecordsByFunction()
		if err != nil {
			if err := r.fail(0, smfmt.DiagInvalid, fmt.Errorf("stackmap %d: %w", mi, err)); err != nil {
				return nil, nil, err
			}
			continue
		}
		for _, g := range groups {
			for _, rec := range g.Records {
				if r.budget <= 0 {
					limit := opts.EffectiveMaxSteps()
					if opts.Mode == smfmt.ModeStrict {
						return nil, nil, fmt.Errorf("%w after %d instructions", ErrStepLimit, limit)
					}
					r.diags.Addf(g.Function.Address, smfmt.DiagTruncated, "%v after %d instructions", ErrStepLimit, limit)
					return sites, r.diags, nil
				}
				site, err := r.resolve(mi, g.Function, rec)
				if err != nil {
					return nil, nil, err
				}
				sites = append(sites, site)
			}
		}
	}
	return sites, r.diags, nil
}

type resolver struct {
	ef      CodeReader
	machine elf.Machine
	opts    SiteOptions
	diags   *smfmt.Diags
	budget  int
}

// fail records err as a diagnostic in best-effort mode, or returns it.
func (r *resolver) fail(addr uint64, kind smfmt.DiagKind, err error) error {
	if r.opts.Mode == smfmt.ModeStrict {
		return err
	}
	r.diags.Add(addr, kind, err.Error())
	return nil
}

func (r *resolver) resolve(mi int, fn stackmap.FunctionRecord, rec stackmap.Record) (Site, error) {
	site := Site{
		Map:               mi,
		Function:          fn.Address,
		FuncName:          r.opts.funcName(fn.Address),
		PatchPointID:      rec.PatchPointID,
		InstructionOffset: rec.InstructionOffset,
		Addr:              fn.Address + uint64(rec.InstructionOffset),
		NumLocations:      len(rec.Locations),
		NumLiveOuts:       len(rec.LiveOuts),
	}

	code, err := r.ef.ReadBytesAtVA(site.Addr, MaxInstLen)
	if err != nil || len(code) == 0 {
		if err == nil {
			err = fmt.Errorf("%w: no bytes at 0x%x", elfx.ErrNoSegment, site.Addr)
		}
		return site, r.fail(site.Addr, smfmt.DiagUnmapped, fmt.Errorf("patch point %d: %w", rec.PatchPointID, err))
	}
	r.budget--
	inst, err := Decode(r.machine, code, site.Addr)
	if err != nil {
		return site, r.fail(site.Addr, smfmt.DiagInvalid, fmt.Errorf("patch point %d: %w", rec.PatchPointID, err))
	}
	site.Inst = &inst

	prev, err := r.preceding(fn.Address, site.Addr)
	if err != nil {
		return site, r.fail(site.Addr, smfmt.DiagInvalid, fmt.Errorf("patch point %d: %w", rec.PatchPointID, err))
	}
	if prev != nil && prev.Call != nil {
		site.Call = prev
	}
	return site, nil
}

// preceding returns the instruction that ends exactly at addr, sweeping
// from the function entry on variable-length architectures. It returns nil
// when the sweep does not land on addr.
func (r *resolver) preceding(entry, addr uint64) (*Inst, error) {
	if addr <= entry || r.budget <= 0 {
		return nil, nil
	}
	if r.machine == elf.EM_AARCH64 {
		code, err := r.ef.ReadBytesAtVA(addr-4, 4)
		if err != nil || len(code) < 4 {
			return nil, nil
		}
		r.budget--
		inst, err := Decode(r.machine, code, addr-4)
		if err != nil {
			return nil, nil
		}
		return &inst, nil
	}

	code, err := r.ef.ReadBytesAtVA(entry, int(addr-entry))
	if err != nil || uint64(len(code)) < addr-entry {
		return nil, nil
	}
	insts, err := Disassemble(r.machine, code, Options{BaseAddr: entry, MaxSteps: r.budget})
	if err != nil {
		return nil, err
	}
	r.budget -= len(insts)
	if len(insts) == 0 {
		return nil, nil
	}
	last := insts[len(insts)-1]
	if last.End() != addr {
		return nil, nil
	}
	return &last, nil
}

// Listing disassembles fn from its entry through the instruction at its
// last record.
func Listing(ef CodeReader, fs stackmap.FunctionSites, opts Options) ([]Inst, error) {
	var span uint64
	for _, rec := range fs.Records {
		if end := uint64(rec.InstructionOffset) + MaxInstLen; end > span {
			span = end
		}
	}
	if span == 0 {
		return nil, nil
	}
	code, err := ef.ReadBytesAtVA(fs.Function.Address, int(span))
	if err != nil {
		return nil, err
	}
	opts.BaseAddr = fs.Function.Address
	insts, err := Disassemble(ef.Machine(), code, opts)
	if err != nil {
		return nil, err
	}
	last := fs.Function.Address + span - MaxInstLen
	for i, inst := range insts {
		if inst.Addr >= last {
			return insts[:i+1], nil
		}
	}
	return insts, nil
}
