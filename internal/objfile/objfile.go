// Package objfile locates the stackmap section in ELF binaries, undoes the
// dynamic relocations that target it, and decodes the result.
package objfile

import (
	"debug/elf"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"stackmaps/internal/elfx"
	"stackmaps/internal/logger"
	"stackmaps/internal/logger/logfields"
	"stackmaps/internal/smfmt"
	"stackmaps/internal/stackmap"
)

// SectionName is the section LLVM emits stackmaps into.
const SectionName = ".llvm_stackmaps"

var (
	ErrSectionNotFound       = errors.New("objfile: stackmap section not found")
	ErrIO                    = errors.New("objfile: i/o failure")
	ErrUnsupportedRelocation = errors.New("objfile: unsupported relocation")
)

// RelocationError reports a relocation kind that targets the stackmap
// section but cannot be applied statically.
type RelocationError struct {
	Machine elf.Machine
	Type    uint32
	Offset  uint64
}

func (e *RelocationError) Error() string {
	return fmt.Sprintf("objfile: unsupported %v relocation type %d at 0x%x", e.Machine, e.Type, e.Offset)
}

func (e *RelocationError) Is(target error) bool {
	return target == ErrUnsupportedRelocation || target == stackmap.ErrMalformed
}

// relocKinds lists, per machine, the load-bias-relative and absolute 64-bit
// symbol relocations that may target the section.
var relocKinds = map[elf.Machine]struct {
	relative uint32
	abs64    uint32
}{
	elf.EM_X86_64:  {uint32(elf.R_X86_64_RELATIVE), uint32(elf.R_X86_64_64)},
	elf.EM_AARCH64: {uint32(elf.R_AARCH64_RELATIVE), uint32(elf.R_AARCH64_ABS64)},
}

// Options controls loading.
type Options struct {
	smfmt.Options
	// Section overrides SectionName.
	Section string
	// Log receives debug output; nil uses logger.DefaultLogger.
	Log logrus.FieldLogger
}

func (o Options) section() string {
	if o.Section != "" {
		return o.Section
	}
	return SectionName
}

func (o Options) log() logrus.FieldLogger {
	if o.Log != nil {
		return o.Log
	}
	return logger.GetLogger()
}

// LocateSection returns the first section named name.
func LocateSection(ef *elfx.File, name string) (elfx.SectionInfo, error) {
	s, err := ef.Section(name)
	if errors.Is(err, elfx.ErrNoSection) || errors.Is(err, elfx.ErrNoFileData) {
		return elfx.SectionInfo{}, fmt.Errorf("%w: %s", ErrSectionNotFound, name)
	}
	if err != nil {
		return elfx.SectionInfo{}, fmt.Errorf("%w: %w", stackmap.ErrMalformed, err)
	}
	return s, nil
}

// Relocate patches data, a private copy of section sec, with every dynamic
// relocation whose target lies inside the section. Relocation offsets are
// virtual addresses; sections without an address are matched by file offset.
//
// Load-bias-relative entries write the addend. Absolute 64-bit symbol
// entries write S + A, the symbol value plus the addend, as the ELF ABI
// defines them, rather than the bare symbol value. A relocation whose eight
// bytes straddle either end of the section is rejected as malformed.
func Relocate(ef *elfx.File, sec elfx.SectionInfo, data []byte, log logrus.FieldLogger) error {
	if log == nil {
		log = logger.GetLogger()
	}
	relas, err := ef.DynamicRelocations()
	if err != nil {
		return fmt.Errorf("%w: %w", stackmap.ErrMalformed, err)
	}
	base := sec.Addr
	if base == 0 {
		base = sec.Offset
	}
	kinds, known := relocKinds[ef.Machine()]
	order := ef.ByteOrder()

	for _, r := range relas {
		if r.Offset < base && r.Offset+8 > base {
			return fmt.Errorf("%w: relocation at 0x%x straddles section start", stackmap.ErrMalformed, r.Offset)
		}
		if r.Offset < base || r.Offset-base >= uint64(len(data)) {
			continue
		}
		local := r.Offset - base
		if local+8 > uint64(len(data)) {
			return fmt.Errorf("%w: relocation at 0x%x overruns section end", stackmap.ErrMalformed, r.Offset)
		}

		var v uint64
		switch {
		case known && r.Type == kinds.relative:
			v = uint64(r.Addend)
		case known && r.Type == kinds.abs64:
			sym, err := ef.DynamicSymbol(r.Sym)
			if err != nil {
				return fmt.Errorf("%w: relocation at 0x%x: %w", stackmap.ErrMalformed, r.Offset, err)
			}
			v = sym.Value + uint64(r.Addend)
			log.WithField(logfields.Symbol, sym.Name).Debug("resolved relocation symbol")
		default:
			return &RelocationError{Machine: ef.Machine(), Type: r.Type, Offset: r.Offset}
		}
		order.PutUint64(data[local:], v)
		log.WithFields(logrus.Fields{
			logfields.Offset:    fmt.Sprintf("0x%x", local),
			logfields.RelocType: r.Type,
			logfields.Value:     fmt.Sprintf("0x%x", v),
		}).Debug("applied relocation")
	}
	return nil
}

// HasStackMap reports whether path is a readable ELF file with a stackmap
// section. Every failure is reported as false.
func HasStackMap(path string) bool {
	ef, err := elfx.Open(path)
	if err != nil {
		return false
	}
	defer ef.Close()
	_, err = LocateSection(ef, SectionName)
	return err == nil
}

// Load reads the ELF file at path and decodes every stackmap in its
// stackmap section.
func Load(path string, opts Options) ([]stackmap.StackMap, error) {
	ef, err := open(path)
	if err != nil {
		return nil, err
	}
	defer ef.Close()
	return LoadFile(ef, opts)
}

// LoadFile decodes the stackmap section of an already opened file.
func LoadFile(ef *elfx.File, opts Options) ([]stackmap.StackMap, error) {
	log := opts.log().WithField(logfields.Section, opts.section())

	sec, err := LocateSection(ef, opts.section())
	if err != nil {
		return nil, err
	}
	start, end := sec.FileRange()
	log.WithFields(logrus.Fields{
		logfields.Offset: fmt.Sprintf("0x%x-0x%x", start, end),
		"addr":           fmt.Sprintf("0x%x", sec.Addr),
	}).Debug("located section")

	data, err := ef.ReadSection(sec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if err := Relocate(ef, sec, data, log); err != nil {
		return nil, err
	}

	dopts := opts.Options
	if dopts.ByteOrder == nil {
		dopts.ByteOrder = ef.ByteOrder()
	}
	maps, err := stackmap.DecodeAll(data, dopts)
	if err != nil {
		return nil, err
	}
	records := 0
	for _, sm := range maps {
		records += len(sm.Records)
	}
	log.WithFields(logrus.Fields{
		logfields.StackMaps: len(maps),
		logfields.Records:   records,
	}).Debug("decoded section")
	return maps, nil
}

// open distinguishes unreadable files from unparseable ones.
func open(path string) (*elfx.File, error) {
	ef, err := elfx.Open(path)
	switch {
	case err == nil:
		return ef, nil
	case errors.Is(err, elfx.ErrNotELF):
		return nil, fmt.Errorf("%w: %w", stackmap.ErrMalformed, err)
	default:
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
}
