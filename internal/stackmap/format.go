package stackmap

import (
	"fmt"
	"io"
	"strings"
)

// LocationString renders l the way llvm-readobj --stackmap does. ConstIndex
// locations are resolved against sm's constant pool.
func (sm *StackMap) LocationString(l Location) string {
	switch l.Type {
	case LocRegister:
		return fmt.Sprintf("Register R#%d", l.DwarfReg)
	case LocDirect:
		return fmt.Sprintf("Direct R#%d + %d", l.DwarfReg, l.Offset)
	case LocIndirect:
		return fmt.Sprintf("Indirect [ R#%d + %d]", l.DwarfReg, l.Offset)
	case LocConstant:
		return fmt.Sprintf("Constant %d", l.Offset)
	case LocConstIndex:
		if v, ok := sm.ConstantAt(l.Offset); ok {
			return fmt.Sprintf("ConstantIndex #%d (%d)", l.Offset, v)
		}
		return fmt.Sprintf("ConstantIndex #%d (<invalid>)", l.Offset)
	default:
		return l.Type.String()
	}
}

// Format renders sm as llvm-readobj style text.
func Format(sm *StackMap) string {
	var b strings.Builder
	fmt.Fprintf(&b, "LLVM StackMap Version: %d\n", sm.Header.Version)
	fmt.Fprintf(&b, "Num Functions: %d\n", sm.NumFunctions)
	for _, f := range sm.Functions {
		fmt.Fprintf(&b, "  Function address: %d, stack size: %d, callsite record count: %d\n",
			f.Address, f.StackSize, f.RecordCount)
	}
	fmt.Fprintf(&b, "Num Constants: %d\n", sm.NumConstants)
	for i, c := range sm.Constants {
		fmt.Fprintf(&b, "  #%d: %d\n", i+1, c)
	}
	fmt.Fprintf(&b, "Num Records: %d\n", sm.NumRecords)
	for _, r := range sm.Records {
		fmt.Fprintf(&b, "  Record ID: %d, instruction offset: %d\n", r.PatchPointID, r.InstructionOffset)
		fmt.Fprintf(&b, "    %d locations:\n", len(r.Locations))
		for i, l := range r.Locations {
			fmt.Fprintf(&b, "      #%d: %s, size: %d\n", i+1, sm.LocationString(l), l.Size)
		}
		fmt.Fprintf(&b, "    %d live-outs: [ ", len(r.LiveOuts))
		for _, lo := range r.LiveOuts {
			fmt.Fprintf(&b, "R#%d (%d-bytes) ", lo.DwarfReg, lo.Size)
		}
		b.WriteString("]\n")
	}
	return b.String()
}

// Fprint writes Format(sm) to w.
func Fprint(w io.Writer, sm *StackMap) error {
	_, err := io.WriteString(w, Format(sm))
	return err
}
