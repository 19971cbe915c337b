package main

import (
	"flag"
	"fmt"
	"os"

	"stackmaps/internal/disasm"
	"stackmaps/internal/output"
	"stackmaps/internal/sitegraph"
	"stackmaps/internal/smfmt"
)

func cmdGraph(args []string) error {
	fs := flag.NewFlagSet("graph", flag.ExitOnError)
	bin := fs.String("bin", "", "path to an ELF binary")
	outDir := fs.String("out", "", "output directory")
	title := fs.String("title", "stackmap sites", "graph title")
	maxSteps := fs.Int("max-steps", 0, "cap on decoded instructions (0 = default)")
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *bin == "" || *outDir == "" {
		return fmt.Errorf("--bin and --out are required")
	}
	log, err := common.setup("graph")
	if err != nil {
		return err
	}

	ef, maps, err := common.loadELF(*bin, log)
	if err != nil {
		return err
	}
	defer ef.Close()

	names := ef.FuncNames()
	sites, diags, err := disasm.PatchSites(ef, maps, disasm.SiteOptions{
		Options: smfmt.Options{Mode: smfmt.ModeBestEffort, MaxSteps: *maxSteps},
		Names:   names,
	})
	if err != nil {
		return err
	}
	if diags.Len() > 0 {
		log.Warnf("%d patch points could not be fully resolved", diags.Len())
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	g := sitegraph.Build(sites, names)
	path, err := output.WriteDOT(*outDir, "sitegraph.dot", sitegraph.Render(g, *title))
	if err != nil {
		return err
	}
	log.Infof("wrote %s (%d nodes, %d edges)", path, len(g.Nodes), len(g.Edges))
	return nil
}
