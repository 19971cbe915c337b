// Package stackmap decodes LLVM stackmap sections (.llvm_stackmaps).
//
// Layout (version 3, producer byte order):
//
//	Header         u8 version, u8 reserved, u16 reserved
//	               u32 num_functions, u32 num_constants, u32 num_records
//	StkSizeRecord  [num_functions] u64 address, u64 stack_size, u64 record_count
//	Constants      [num_constants] u64
//	StkMapRecord   [num_records]   variable length, see DecodeRecord
//
// A linked binary may carry several stackmaps back to back, one per object
// file that contained patch points; DecodeAll returns all of them.
package stackmap

import "fmt"

// Version is the only stackmap format revision this package accepts.
const Version = 3

// Encoded sizes of the fixed-size parts.
const (
	headerSize         = 4
	countsSize         = 12
	functionRecordSize = 24
	constantSize       = 8
	recordHeaderSize   = 16
	locationSize       = 12
	liveOutSize        = 4
)

// LocationType describes how a Location's fields yield the recorded value.
type LocationType uint8

const (
	LocInvalid    LocationType = 0
	LocRegister   LocationType = 1 // value is in DwarfReg
	LocDirect     LocationType = 2 // value address is DwarfReg + Offset
	LocIndirect   LocationType = 3 // value is at [DwarfReg + Offset]
	LocConstant   LocationType = 4 // value is Offset itself
	LocConstIndex LocationType = 5 // value is Constants[Offset]
)

var locationTypeNames = [...]string{
	LocInvalid:    "Invalid",
	LocRegister:   "Register",
	LocDirect:     "Direct",
	LocIndirect:   "Indirect",
	LocConstant:   "Constant",
	LocConstIndex: "ConstIndex",
}

func (t LocationType) String() string {
	if int(t) < len(locationTypeNames) {
		return locationTypeNames[t]
	}
	return fmt.Sprintf("LocationType(%d)", uint8(t))
}

// MarshalText renders the type by name in JSON output.
func (t LocationType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseLocationType converts an encoded location type byte. Invalid (0) and
// any byte above ConstIndex are rejected.
func ParseLocationType(b byte) (LocationType, error) {
	t := LocationType(b)
	if t == LocInvalid || t > LocConstIndex {
		return LocInvalid, &LocationTypeError{Value: b}
	}
	return t, nil
}

// Header is the stackmap format marker.
type Header struct {
	Version   uint8  `json:"version"`
	Reserved0 uint8  `json:"-"`
	Reserved1 uint16 `json:"-"`
}

// FunctionRecord describes one function that contains patch points.
type FunctionRecord struct {
	// Address is the function's VMA. In position-independent binaries it is
	// filled in by a load-time relocation.
	Address   uint64 `json:"address"`
	StackSize uint64 `json:"stack_size"`
	// RecordCount is the number of consecutive Records owned by this function.
	RecordCount uint64 `json:"record_count"`
}

// Location is where one live value resides at a patch point.
type Location struct {
	Type      LocationType `json:"type"`
	Reserved0 uint8        `json:"-"`
	Size      uint16       `json:"size"`
	DwarfReg  uint16       `json:"dwarf_reg"`
	Reserved1 uint16       `json:"-"`
	// Offset is a register offset, an inline constant, or a constant pool
	// index depending on Type.
	Offset int32 `json:"offset_or_constant"`
}

// LiveOut is a register that must survive the patch point.
type LiveOut struct {
	DwarfReg uint16 `json:"dwarf_reg"`
	Reserved uint8  `json:"-"`
	Size     uint8  `json:"size"`
}

// Record is one patch point (StkMapRecord).
type Record struct {
	PatchPointID uint64 `json:"patch_point_id"`
	// InstructionOffset is relative to the owning function's Address.
	InstructionOffset uint32     `json:"instruction_offset"`
	Reserved          uint16     `json:"-"`
	Locations         []Location `json:"locations"`
	LiveOuts          []LiveOut  `json:"live_outs"`
}

// StackMap is one decoded stackmap instance.
type StackMap struct {
	Header       Header           `json:"header"`
	NumFunctions uint32           `json:"num_functions"`
	NumConstants uint32           `json:"num_constants"`
	NumRecords   uint32           `json:"num_records"`
	Functions    []FunctionRecord `json:"functions"`
	Constants    []uint64         `json:"constants"`
	Records      []Record         `json:"records"`
}

// ConstantAt returns the pool constant a ConstIndex location refers to.
func (sm *StackMap) ConstantAt(idx int32) (uint64, bool) {
	if idx < 0 || int(idx) >= len(sm.Constants) {
		return 0, false
	}
	return sm.Constants[idx], true
}

// FunctionSites pairs a function with the records it owns.
type FunctionSites struct {
	Function FunctionRecord
	Records  []Record
}

// RecordsByFunction partitions Records among Functions using the running sum
// of RecordCount. The counts must cover Records exactly.
func (sm *StackMap) RecordsByFunction() ([]FunctionSites, error) {
	out := make([]FunctionSites, 0, len(sm.Functions))
	var next uint64
	total := uint64(len(sm.Records))
	for i, f := range sm.Functions {
		if f.RecordCount > total-next {
			return nil, fmt.Errorf("%w: function %d claims %d records, %d left",
				ErrMalformed, i, f.RecordCount, total-next)
		}
		out = append(out, FunctionSites{
			Function: f,
			Records:  sm.Records[next : next+f.RecordCount],
		})
		next += f.RecordCount
	}
	if next != total {
		return nil, fmt.Errorf("%w: record counts sum to %d, have %d records",
			ErrMalformed, next, total)
	}
	return out, nil
}
