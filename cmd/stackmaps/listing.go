package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"stackmaps/internal/disasm"
	"stackmaps/internal/elfx"
	"stackmaps/internal/logger/logfields"
	"stackmaps/internal/output"
	"stackmaps/internal/stackmap"
)

// writeListings disassembles every function that owns patch points and
// writes it to <dir>/asm/<func>.txt with the sites annotated.
func writeListings(dir string, ef *elfx.File, maps []stackmap.StackMap, sites []disasm.Site, names map[uint64]string, maxSteps int, log logrus.FieldLogger) (int, error) {
	lookup := disasm.PlaceholderLookup(names)
	annotators := []disasm.Annotator{disasm.SiteAnnotator(sites), disasm.CallAnnotator(lookup)}

	written := 0
	seen := make(map[uint64]bool)
	for i := range maps {
		groups, err := maps[i].RecordsByFunction()
		if err != nil {
			continue // already reported by PatchSites
		}
		for _, g := range groups {
			if len(g.Records) == 0 || seen[g.Function.Address] {
				continue
			}
			seen[g.Function.Address] = true
			insts, err := disasm.Listing(ef, g, disasm.Options{MaxSteps: maxSteps})
			if err != nil {
				log.WithFields(logrus.Fields{
					logfields.Error:  err,
					logfields.Offset: fmt.Sprintf("0x%x", g.Function.Address),
				}).Warn("skipping function listing")
				continue
			}
			name := names[g.Function.Address]
			if name == "" {
				name = disasm.PlaceholderName(g.Function.Address)
			}
			if err := output.WriteASM(dir, name, insts, nil, annotators...); err != nil {
				return written, err
			}
			written++
		}
	}
	return written, nil
}
