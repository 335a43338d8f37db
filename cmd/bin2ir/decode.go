package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"bin2ir/internal/config"
	"bin2ir/internal/dbginfo"
	"bin2ir/internal/decoder"
	"bin2ir/internal/image"
	"bin2ir/internal/stackvar"
)

// loadInputs opens the binary and assembles the run configuration shared
// by every subcommand.
func loadInputs(fs *flag.FlagSet) (*image.ELFFile, *config.Config, *dbginfo.Provider, error) {
	binPath := fs.Lookup("bin").Value.String()
	cfgPath := fs.Lookup("config").Value.String()
	dbgPath := fs.Lookup("debug").Value.String()
	modeFlag := fs.Lookup("mode").Value.String()

	if binPath == "" {
		return nil, nil, nil, fmt.Errorf("--bin is required")
	}

	img, err := image.OpenELF(binPath)
	if err != nil {
		return nil, nil, nil, err
	}

	cfg := config.Default()
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			img.Close()
			return nil, nil, nil, err
		}
	} else if img.Is64Bit() {
		cfg.Mode = 64
	}
	// An overriding mode also resets the stack pointer so validation
	// fills in the default for the new mode.
	switch modeFlag {
	case "32":
		cfg.Mode = 32
		cfg.StackPointer = ""
	case "64":
		cfg.Mode = 64
		cfg.StackPointer = ""
	}

	var dbg *dbginfo.Provider
	if dbgPath != "" {
		dbg, err = dbginfo.Load(dbgPath)
		if err != nil {
			img.Close()
			return nil, nil, nil, err
		}
	}
	return img, cfg, dbg, nil
}

// addCommonFlags registers the flags shared by all subcommands.
func addCommonFlags(fs *flag.FlagSet) {
	fs.String("bin", "", "path to the input ELF binary")
	fs.String("config", "", "YAML decode config")
	fs.String("debug", "", "YAML debug info")
	fs.String("mode", "", "architecture mode: 32 or 64")
}

func cmdDecode(args []string) error {
	fs := flag.NewFlagSet("decode", flag.ExitOnError)
	addCommonFlags(fs)
	outDir := fs.String("out", "", "output directory")
	noStack := fs.Bool("no-stack", false, "skip stack variable reconstruction")
	verbose := fs.Bool("v", false, "verbose decode diagnostics")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *outDir == "" {
		return fmt.Errorf("--out is required")
	}

	img, cfg, dbg, err := loadInputs(fs)
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

	if !*noStack {
		stackvar.Run(d.Module, stackvar.Options{
			ABI:      d.ABI,
			Lifter:   d.Lifter,
			Debug:    dbg,
			FuncAddr: d.FunctionAddress,
		})
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return fmt.Errorf("mkdir out: %w", err)
	}

	llPath := filepath.Join(*outDir, "module.ll")
	if err := os.WriteFile(llPath, []byte(d.Module.String()), 0644); err != nil {
		return fmt.Errorf("write module.ll: %w", err)
	}

	cfPath := filepath.Join(*outDir, "control-flow.json")
	cfFile, err := os.Create(cfPath)
	if err != nil {
		return fmt.Errorf("create control-flow.json: %w", err)
	}
	defer cfFile.Close()
	if err := d.WriteControlFlowJSON(cfFile); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "decoded %d functions\n", len(d.Functions()))
	return nil
}
