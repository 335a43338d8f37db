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
	case "decode":
		err = cmdDecode(os.Args[2:])
	case "cfg":
		err = cmdCFG(os.Args[2:])
	case "callgraph":
		err = cmdCallgraph(os.Args[2:])
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
	fmt.Fprintf(os.Stderr, `bin2ir — binary to IR control-flow decoder

Usage:
  bin2ir decode    --bin <path> --out <dir>    Decode, reconstruct stack, write IR and control flow
  bin2ir cfg       --bin <path>                Print control-flow JSON
  bin2ir callgraph --bin <path> --out <dir>    Write call graph and per-function CFG DOT files

Flags:
  --bin <path>       Path to the input ELF binary
  --out <dir>        Output directory
  --config <path>    YAML decode config (mode, seeds, stack pointer)
  --debug <path>     YAML debug info (named stack locals)
  --mode <n>         Architecture mode: 32 or 64 (overrides config)
  --no-stack         Skip stack variable reconstruction
  -v                 Verbose decode diagnostics on stderr
`)
}
