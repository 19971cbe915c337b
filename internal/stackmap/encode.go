package stackmap

import (
	"encoding/binary"

	"stackmaps/internal/smfmt"
)

// Encode serializes maps back to back using the padding rules of
// DecodeRecord. Count fields are taken from the slice lengths; pads are
// written as zero. A nil order selects binary.NativeEndian.
func Encode(order binary.AppendByteOrder, pad smfmt.PadMode, maps ...StackMap) []byte {
	if order == nil {
		order = binary.NativeEndian
	}
	var out []byte
	for i := range maps {
		out = AppendStackMap(out, order, pad, &maps[i])
	}
	return out
}

// AppendStackMap appends one encoded stackmap to dst.
func AppendStackMap(dst []byte, order binary.AppendByteOrder, pad smfmt.PadMode, sm *StackMap) []byte {
	start := len(dst)
	dst = append(dst, sm.Header.Version, sm.Header.Reserved0)
	dst = order.AppendUint16(dst, sm.Header.Reserved1)
	dst = order.AppendUint32(dst, uint32(len(sm.Functions)))
	dst = order.AppendUint32(dst, uint32(len(sm.Constants)))
	dst = order.AppendUint32(dst, uint32(len(sm.Records)))
	for _, f := range sm.Functions {
		dst = order.AppendUint64(dst, f.Address)
		dst = order.AppendUint64(dst, f.StackSize)
		dst = order.AppendUint64(dst, f.RecordCount)
	}
	for _, v := range sm.Constants {
		dst = order.AppendUint64(dst, v)
	}
	offset := len(dst) - start
	for i := range sm.Records {
		dst, offset = appendRecord(dst, order, pad, &sm.Records[i], offset)
	}
	return dst
}

func appendRecord(dst []byte, order binary.AppendByteOrder, pad smfmt.PadMode, r *Record, offset int) ([]byte, int) {
	start := len(dst)
	dst = order.AppendUint64(dst, r.PatchPointID)
	dst = order.AppendUint32(dst, r.InstructionOffset)
	dst = order.AppendUint16(dst, r.Reserved)
	dst = order.AppendUint16(dst, uint16(len(r.Locations)))
	for _, l := range r.Locations {
		dst = append(dst, byte(l.Type), l.Reserved0)
		dst = order.AppendUint16(dst, l.Size)
		dst = order.AppendUint16(dst, l.DwarfReg)
		dst = order.AppendUint16(dst, l.Reserved1)
		dst = order.AppendUint32(dst, uint32(l.Offset))
	}

	offset += len(dst) - start
	if offset%8 != 0 {
		dst = append(dst, 0, 0, 0, 0)
		if pad == smfmt.PadCounted {
			offset += 4
		}
	}
	mid := len(dst)
	dst = append(dst, 0, 0)
	dst = order.AppendUint16(dst, uint16(len(r.LiveOuts)))
	for _, lo := range r.LiveOuts {
		dst = order.AppendUint16(dst, lo.DwarfReg)
		dst = append(dst, lo.Reserved, lo.Size)
	}

	offset += len(dst) - mid
	if offset%8 != 0 {
		dst = append(dst, 0, 0, 0, 0)
		offset += 4
	}
	return dst, offset
}
