package main

import (
	"flag"
	"os"

	"bin2ir/internal/decoder"
)

func cmdCFG(args []string) error {
	fs := flag.NewFlagSet("cfg", flag.ExitOnError)
	addCommonFlags(fs)
	verbose := fs.Bool("v", false, "verbose decode diagnostics")
	if err := fs.Parse(args); err != nil {
		return err
	}

	img, cfg, _, err := loadInputs(fs)
	if err != nil {
		return err
	}
	defer img.Close()

	d, err := decoder.New(img, cfg)
	if err != nil {
		return err
	}
	if *verbose {
		d.Diag = os.Stderr
	}
	if err := d.Decode(); err != nil {
		return err
	}
	return d.WriteControlFlowJSON(os.Stdout)
}
