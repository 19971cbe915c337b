package main

import (
	"flag"
	"fmt"
	"os"

	"stackmaps/internal/logger/logfields"
	"stackmaps/internal/output"
)

func cmdJSON(args []string) error {
	fs := flag.NewFlagSet("json", flag.ExitOnError)
	bin := fs.String("bin", "", "path to an ELF binary")
	raw := fs.String("raw", "", "path to a raw stackmap section dump")
	endian := fs.String("endian", "native", "byte order of --raw input: little, big or native")
	outDir := fs.String("out", "", "output directory (default stdout)")
	common := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*bin == "") == (*raw == "") {
		return fmt.Errorf("exactly one of --bin or --raw is required")
	}
	log, err := common.setup("json")
	if err != nil {
		return err
	}

	maps, err := loadMaps(common, *bin, *raw, *endian, log)
	if err != nil {
		return err
	}
	doc := output.Document{Path: *bin, Section: *common.section, StackMaps: maps}
	if *raw != "" {
		doc.Path = *raw
	}

	if *outDir == "" {
		return output.WriteStackMapsJSON(os.Stdout, doc)
	}
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	path, err := output.WriteStackMapsJSONFile(*outDir, doc)
	if err != nil {
		return err
	}
	log.WithField(logfields.StackMaps, len(maps)).Infof("wrote %s", path)
	return nil
}
