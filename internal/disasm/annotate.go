package disasm

import (
	"fmt"
	"strings"
)

// Annotator returns an optional inline comment for an instruction.
// Empty string means no annotation.
type Annotator func(inst Inst) string

// SiteAnnotator marks the instructions that stackmap records point at.
// Several records may share one address.
func SiteAnnotator(sites []Site) Annotator {
	byAddr := make(map[uint64][]Site)
	for _, s := range sites {
		byAddr[s.Addr] = append(byAddr[s.Addr], s)
	}
	return func(inst Inst) string {
		at := byAddr[inst.Addr]
		if len(at) == 0 {
			return ""
		}
		parts := make([]string, len(at))
		for i, s := range at {
			parts[i] = fmt.Sprintf("patchpoint %d: %d locations, %d live-outs",
				s.PatchPointID, s.NumLocations, s.NumLiveOuts)
		}
		return strings.Join(parts, "; ")
	}
}

// CallAnnotator names the targets of direct calls and the register of
// indirect ones.
func CallAnnotator(lookup SymbolLookup) Annotator {
	return func(inst Inst) string {
		c := inst.Call
		if c == nil {
			return ""
		}
		if c.Indirect {
			if c.Reg == "" {
				return "call indirect"
			}
			return "call via " + c.Reg
		}
		if lookup != nil {
			if name, ok := lookup(c.Target); ok {
				return "-> " + name
			}
		}
		return "-> " + PlaceholderName(c.Target)
	}
}
