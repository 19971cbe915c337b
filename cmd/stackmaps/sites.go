package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"stackmaps/internal/disasm"
	"stackmaps/internal/logger/logfields"
	"stackmaps/internal/output"
	"stackmaps/internal/smfmt"
)

func cmdSites(args []string) error {
	fs := flag.NewFlagSet("sites", flag.ExitOnError)
	bin := fs.String("bin", "", "path to an ELF binary")
	outDir := fs.String("out", "", "output directory (default stdout)")
	strict := fs.Bool("strict", false, "fail on the first unmapped or undecodable patch point")
	maxSteps := fs.Int("max-steps", 0, "cap on decoded instructions (0 = default)")
	listing := fs.Bool("listing", false, "also write per-function disassembly to <out>/asm")
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *bin == "" {
		return fmt.Errorf("--bin is required")
	}
	if *listing && *outDir == "" {
		return fmt.Errorf("--listing requires --out")
	}
	log, err := common.setup("sites")
	if err != nil {
		return err
	}

	ef, maps, err := common.loadELF(*bin, log)
	if err != nil {
		return err
	}
	defer ef.Close()

	names := ef.FuncNames()
	opts := disasm.SiteOptions{
		Options: smfmt.Options{Mode: smfmt.ModeBestEffort, MaxSteps: *maxSteps},
		Names:   names,
	}
	if *strict {
		opts.Mode = smfmt.ModeStrict
	}
	sites, diags, err := disasm.PatchSites(ef, maps, opts)
	if err != nil {
		return err
	}
	for _, d := range diags.Items() {
		log.WithField(logfields.Offset, fmt.Sprintf("0x%x", d.Offset)).Warn(d.String())
	}
	for _, s := range sites {
		log.WithFields(logrus.Fields{
			logfields.PatchPoint: s.PatchPointID,
			logfields.Offset:     fmt.Sprintf("0x%x", s.Addr),
			logfields.Symbol:     s.FuncName,
		}).Debug("resolved patch point")
	}

	if *outDir == "" {
		_, err := os.Stdout.WriteString(formatSites(sites, names))
		return err
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	sitesPath, err := output.WriteSitesJSONL(*outDir, sites, names)
	if err != nil {
		return err
	}
	diagsPath, err := output.WriteDiagsJSON(*outDir, diags)
	if err != nil {
		return err
	}
	log.Infof("wrote %s (%d sites)", sitesPath, len(sites))
	log.Infof("wrote %s (%d diagnostics)", diagsPath, diags.Len())

	if *listing {
		n, err := writeListings(*outDir, ef, maps, sites, names, *maxSteps, log)
		if err != nil {
			return err
		}
		log.Infof("wrote %d function listings to %s/asm", n, *outDir)
	}
	return nil
}

// formatSites renders one line per site:
// <addr>  <func>+<off>  pp <id>  <inst>  ; <callee>
func formatSites(sites []disasm.Site, names map[uint64]string) string {
	var b strings.Builder
	for _, s := range sites {
		text := "<unmapped>"
		if s.Inst != nil {
			text = s.Inst.Text
		}
		fmt.Fprintf(&b, "0x%08x  %s+0x%x  pp %d  %s", s.Addr, s.FuncName, s.InstructionOffset, s.PatchPointID, text)
		if callee := s.CallTarget(names); callee != "" {
			fmt.Fprintf(&b, "  ; after call to %s", callee)
		} else if s.Call != nil && s.Call.Call != nil {
			fmt.Fprintf(&b, "  ; after %s", s.Call.Text)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
