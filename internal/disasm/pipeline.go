package disasm

import "fmt"

// SiteRecord is one line in sites.jsonl.
type SiteRecord struct {
	Map          int    `json:"map"`
	Func         string `json:"func"`
	FuncPC       string `json:"func_pc"`
	PatchPointID uint64 `json:"patch_point_id"`
	PC           string `json:"pc"`
	Inst         string `json:"inst,omitempty"`
	Call         string `json:"call,omitempty"`   // "direct" or "indirect"
	Target       string `json:"target,omitempty"` // resolved name or sub_<addr> for direct calls
	Reg          string `json:"reg,omitempty"`    // register for indirect calls
	Locations    int    `json:"locations"`
	LiveOuts     int    `json:"live_outs"`
}

// Record converts s to its JSON line form.
func (s Site) Record(names map[uint64]string) SiteRecord {
	rec := SiteRecord{
		Map:          s.Map,
		Func:         s.FuncName,
		FuncPC:       fmt.Sprintf("0x%x", s.Function),
		PatchPointID: s.PatchPointID,
		PC:           fmt.Sprintf("0x%x", s.Addr),
		Locations:    s.NumLocations,
		LiveOuts:     s.NumLiveOuts,
	}
	if s.Inst != nil {
		rec.Inst = s.Inst.Text
	}
	if s.Call != nil && s.Call.Call != nil {
		c := s.Call.Call
		if c.Indirect {
			rec.Call = "indirect"
			rec.Reg = c.Reg
		} else {
			rec.Call = "direct"
			rec.Target = s.CallTarget(names)
		}
	}
	return rec
}
