package main

import (
	"flag"
	"fmt"

	"stackmaps/internal/objfile"
)

func cmdProbe(args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	quiet := fs.Bool("q", false, "print nothing; report through the exit status only")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("at least one path is required")
	}

	missing := 0
	for _, path := range fs.Args() {
		ok := objfile.HasStackMap(path)
		if !ok {
			missing++
		}
		if !*quiet {
			fmt.Printf("%s\t%v\n", path, ok)
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d of %d inputs have no %s section", missing, fs.NArg(), objfile.SectionName)
	}
	return nil
}
