package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"stackmaps/internal/logger/logfields"
	"stackmaps/internal/objfile"
	"stackmaps/internal/output"
	"stackmaps/internal/smfmt"
	"stackmaps/internal/stackmap"
)

func cmdDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
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
	log, err := common.setup("dump")
	if err != nil {
		return err
	}

	maps, err := loadMaps(common, *bin, *raw, *endian, log)
	if err != nil {
		return err
	}

	var b strings.Builder
	for i := range maps {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(stackmap.Format(&maps[i]))
	}

	if *outDir == "" {
		_, err := os.Stdout.WriteString(b.String())
		return err
	}
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	path, err := output.WriteText(*outDir, "stackmaps.txt", b.String())
	if err != nil {
		return err
	}
	log.WithField(logfields.StackMaps, len(maps)).Infof("wrote %s", path)
	return nil
}

// loadMaps decodes either an ELF binary or a raw section dump.
func loadMaps(common *commonFlags, bin, raw, endian string, log logrus.FieldLogger) ([]stackmap.StackMap, error) {
	if bin != "" {
		return objfile.Load(bin, common.loadOptions(log.WithField(logfields.Path, bin)))
	}
	order, err := parseEndian(endian)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", objfile.ErrIO, err)
	}
	return stackmap.DecodeAll(data, smfmt.Options{ByteOrder: order, Padding: common.padding()})
}

func parseEndian(s string) (binary.ByteOrder, error) {
	switch s {
	case "", "native":
		return nil, nil
	case "little", "le":
		return binary.LittleEndian, nil
	case "big", "be":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("invalid byte order %q", s)
	}
}
