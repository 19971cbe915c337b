package stackmap

import (
	"fmt"

	"stackmaps/internal/smfmt"
)

// DecodeHeader reads the 4-byte header. An unsupported version is reported
// before the reserved fields are read.
func DecodeHeader(c *smfmt.Cursor) (Header, error) {
	var h Header
	var err error
	if h.Version, err = c.ReadUint8(); err != nil {
		return Header{}, err
	}
	if h.Version != Version {
		return Header{}, &VersionError{Version: h.Version}
	}
	if h.Reserved0, err = c.ReadUint8(); err != nil {
		return Header{}, err
	}
	if h.Reserved1, err = c.ReadUint16(); err != nil {
		return Header{}, err
	}
	if h.Reserved0 != 0 || h.Reserved1 != 0 {
		return Header{}, fmt.Errorf("%w: reserved header bytes are not zero", ErrMalformed)
	}
	return h, nil
}

// DecodeFunctionRecord reads one StkSizeRecord.
func DecodeFunctionRecord(c *smfmt.Cursor) (FunctionRecord, error) {
	var f FunctionRecord
	var err error
	if f.Address, err = c.ReadUint64(); err != nil {
		return FunctionRecord{}, err
	}
	if f.StackSize, err = c.ReadUint64(); err != nil {
		return FunctionRecord{}, err
	}
	if f.RecordCount, err = c.ReadUint64(); err != nil {
		return FunctionRecord{}, err
	}
	return f, nil
}

// DecodeLocation reads one 12-byte Location.
func DecodeLocation(c *smfmt.Cursor) (Location, error) {
	var l Location
	b, err := c.ReadUint8()
	if err != nil {
		return Location{}, err
	}
	if l.Type, err = ParseLocationType(b); err != nil {
		return Location{}, err
	}
	if l.Reserved0, err = c.ReadUint8(); err != nil {
		return Location{}, err
	}
	if l.Size, err = c.ReadUint16(); err != nil {
		return Location{}, err
	}
	if l.DwarfReg, err = c.ReadUint16(); err != nil {
		return Location{}, err
	}
	if l.Reserved1, err = c.ReadUint16(); err != nil {
		return Location{}, err
	}
	if l.Offset, err = c.ReadInt32(); err != nil {
		return Location{}, err
	}
	return l, nil
}

// DecodeLiveOut reads one 4-byte LiveOut.
func DecodeLiveOut(c *smfmt.Cursor) (LiveOut, error) {
	var lo LiveOut
	var err error
	if lo.DwarfReg, err = c.ReadUint16(); err != nil {
		return LiveOut{}, err
	}
	if lo.Reserved, err = c.ReadUint8(); err != nil {
		return LiveOut{}, err
	}
	if lo.Reserved != 0 {
		return LiveOut{}, fmt.Errorf("%w: live-out reserved byte is %d", ErrMalformed, lo.Reserved)
	}
	if lo.Size, err = c.ReadUint8(); err != nil {
		return LiveOut{}, err
	}
	return lo, nil
}

// DecodeRecord reads one StkMapRecord. offset is the running byte count of
// the enclosing stackmap; the updated count is returned and must be passed
// to the next record.
//
// With smfmt.PadUncounted the count does not include the first conditional
// pad:
//
//	u64 id, u32 instruction offset, u16 reserved, u16 num_locations
//	Location[num_locations]             offset += bytes so far
//	u32 pad   if offset%8 != 0          offset unchanged
//	u16 pad, u16 num_live_outs
//	LiveOut[num_live_outs]              offset += bytes since the pad
//	u32 pad   if offset%8 != 0          offset += 4
//
// smfmt.PadCounted adds that pad as well. Encode follows the same
// arithmetic. Changing either one changes which pads later records consume.
func DecodeRecord(c *smfmt.Cursor, offset int, pad smfmt.PadMode) (Record, int, error) {
	var r Record
	var err error
	start := c.Position()

	if r.PatchPointID, err = c.ReadUint64(); err != nil {
		return Record{}, offset, err
	}
	if r.InstructionOffset, err = c.ReadUint32(); err != nil {
		return Record{}, offset, err
	}
	if r.Reserved, err = c.ReadUint16(); err != nil {
		return Record{}, offset, err
	}
	numLocations, err := c.ReadUint16()
	if err != nil {
		return Record{}, offset, err
	}
	if c.Remaining() < int(numLocations)*locationSize {
		return Record{}, offset, ErrTruncated
	}
	r.Locations = make([]Location, 0, numLocations)
	for i := 0; i < int(numLocations); i++ {
		l, err := DecodeLocation(c)
		if err != nil {
			return Record{}, offset, fmt.Errorf("location %d: %w", i, err)
		}
		r.Locations = append(r.Locations, l)
	}

	offset += c.Position() - start
	if offset%8 != 0 {
		if err := c.Skip(4); err != nil {
			return Record{}, offset, err
		}
		if pad == smfmt.PadCounted {
			offset += 4
		}
	}
	mid := c.Position()
	if err := c.Skip(2); err != nil {
		return Record{}, offset, err
	}

	numLiveOuts, err := c.ReadUint16()
	if err != nil {
		return Record{}, offset, err
	}
	if c.Remaining() < int(numLiveOuts)*liveOutSize {
		return Record{}, offset, ErrTruncated
	}
	r.LiveOuts = make([]LiveOut, 0, numLiveOuts)
	for i := 0; i < int(numLiveOuts); i++ {
		lo, err := DecodeLiveOut(c)
		if err != nil {
			return Record{}, offset, fmt.Errorf("live-out %d: %w", i, err)
		}
		r.LiveOuts = append(r.LiveOuts, lo)
	}

	offset += c.Position() - mid
	if offset%8 != 0 {
		if err := c.Skip(4); err != nil {
			return Record{}, offset, err
		}
		offset += 4
	}
	return r, offset, nil
}

// DecodeOne reads a single stackmap instance starting at the cursor.
func DecodeOne(c *smfmt.Cursor, pad smfmt.PadMode) (StackMap, error) {
	var sm StackMap
	var err error
	start := c.Position()

	if sm.Header, err = DecodeHeader(c); err != nil {
		return StackMap{}, err
	}
	if sm.NumFunctions, err = c.ReadUint32(); err != nil {
		return StackMap{}, err
	}
	if sm.NumConstants, err = c.ReadUint32(); err != nil {
		return StackMap{}, err
	}
	if sm.NumRecords, err = c.ReadUint32(); err != nil {
		return StackMap{}, err
	}

	// Declared arrays must fit before anything is allocated for them.
	if uint64(c.Remaining()) < uint64(sm.NumFunctions)*functionRecordSize {
		return StackMap{}, fmt.Errorf("functions: %w", ErrTruncated)
	}
	sm.Functions = make([]FunctionRecord, 0, sm.NumFunctions)
	for i := uint32(0); i < sm.NumFunctions; i++ {
		f, err := DecodeFunctionRecord(c)
		if err != nil {
			return StackMap{}, fmt.Errorf("function %d: %w", i, err)
		}
		sm.Functions = append(sm.Functions, f)
	}

	if uint64(c.Remaining()) < uint64(sm.NumConstants)*constantSize {
		return StackMap{}, fmt.Errorf("constants: %w", ErrTruncated)
	}
	sm.Constants = make([]uint64, 0, sm.NumConstants)
	for i := uint32(0); i < sm.NumConstants; i++ {
		v, err := c.ReadUint64()
		if err != nil {
			return StackMap{}, fmt.Errorf("constant %d: %w", i, err)
		}
		sm.Constants = append(sm.Constants, v)
	}

	if uint64(c.Remaining()) < uint64(sm.NumRecords)*recordHeaderSize {
		return StackMap{}, fmt.Errorf("records: %w", ErrTruncated)
	}
	sm.Records = make([]Record, 0, sm.NumRecords)
	offset := c.Position() - start
	for i := uint32(0); i < sm.NumRecords; i++ {
		var r Record
		r, offset, err = DecodeRecord(c, offset, pad)
		if err != nil {
			return StackMap{}, fmt.Errorf("record %d: %w", i, err)
		}
		sm.Records = append(sm.Records, r)
	}
	return sm, nil
}

// DecodeAll decodes every stackmap concatenated in data. Any failure
// discards the maps decoded so far.
func DecodeAll(data []byte, opts smfmt.Options) ([]StackMap, error) {
	c := smfmt.NewCursor(data, opts.EffectiveByteOrder())
	var maps []StackMap
	for c.Remaining() > 0 {
		start := c.Position()
		sm, err := DecodeOne(c, opts.Padding)
		if err != nil {
			return nil, fmt.Errorf("stackmap %d at 0x%x: %w", len(maps), start, err)
		}
		maps = append(maps, sm)
	}
	return maps, nil
}
