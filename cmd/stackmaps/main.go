package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "dump":
		err = cmdDump(os.Args[2:])
	case "json":
		err = cmdJSON(os.Args[2:])
	case "probe":
		err = cmdProbe(os.Args[2:])
	case "sites":
		err = cmdSites(os.Args[2:])
	case "graph":
		err = cmdGraph(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `stackmaps: LLVM stackmap section decoder

Usage:
  stackmaps dump  --bin <path> [--out <dir>]       Print decoded stackmaps as text
  stackmaps dump  --raw <file> [--endian little]    Decode a raw section dump
  stackmaps json  --bin <path> [--out <dir>]       Print decoded stackmaps as JSON
  stackmaps probe <path>...                        Report which files carry a stackmap section
  stackmaps sites --bin <path> [--out <dir>]       Disassemble the instruction at each patch point
  stackmaps graph --bin <path> --out <dir>         Write a function/patch point DOT graph

Common flags:
  --section <name>     stackmap section name (default .llvm_stackmaps)
  --count-all-pads     count the pad after each record's locations in the alignment offset
  --log-level <level>  logrus level (default info)
  --log-format <fmt>   text or json (default text)
`)
}
