package smfmt

import (
	"encoding/binary"
	"fmt"
)

// DiagKind classifies a diagnostic message.
type DiagKind string

const (
	DiagUnmapped  DiagKind = "unmapped"
	DiagTruncated DiagKind = "truncated"
	DiagInvalid   DiagKind = "invalid"
)

// Diag records a non-fatal issue encountered while analysing a stackmap.
type Diag struct {
	Offset uint64   `json:"offset"`
	Kind   DiagKind `json:"kind"`
	Msg    string   `json:"msg"`
}

func (d Diag) String() string {
	return fmt.Sprintf("[%s] 0x%x: %s", d.Kind, d.Offset, d.Msg)
}

// Diags accumulates diagnostics.
type Diags struct {
	items []Diag
}

func (d *Diags) Add(offset uint64, kind DiagKind, msg string) {
	d.items = append(d.items, Diag{Offset: offset, Kind: kind, Msg: msg})
}

func (d *Diags) Addf(offset uint64, kind DiagKind, format string, args ...any) {
	d.items = append(d.items, Diag{Offset: offset, Kind: kind, Msg: fmt.Sprintf(format, args...)})
}

func (d *Diags) Items() []Diag { return d.items }
func (d *Diags) Len() int      { return len(d.items) }

// Mode controls error handling behavior.
type Mode int

const (
	ModeStrict     Mode = iota // first error returns error
	ModeBestEffort             // continue, accumulate diags
)

// PadMode selects whether the 4-byte pad after a record's locations is
// added to the running offset that drives later padding decisions.
type PadMode int

const (
	PadUncounted PadMode = iota // pad consumed, offset unchanged
	PadCounted                  // pad consumed and counted
)

// Options controls parsing behavior across packages.
type Options struct {
	ByteOrder binary.ByteOrder // nil = binary.NativeEndian
	Padding   PadMode
	Mode      Mode
	MaxSteps  int // cap on disassembled patch sites; 0 = use default
}

// DefaultMaxSteps is the global default loop cap.
const DefaultMaxSteps = 10_000_000

func (o Options) EffectiveMaxSteps() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return DefaultMaxSteps
}

// EffectiveByteOrder returns the configured order or binary.NativeEndian.
func (o Options) EffectiveByteOrder() binary.ByteOrder {
	if o.ByteOrder != nil {
		return o.ByteOrder
	}
	return binary.NativeEndian
}
