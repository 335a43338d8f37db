package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zboralski/lattice"
	"github.com/zboralski/lattice/render"

	"bin2ir/internal/cfggraph"
	"bin2ir/internal/decoder"
)

func cmdCallgraph(args []string) error {
	fs := flag.NewFlagSet("callgraph", flag.ExitOnError)
	addCommonFlags(fs)
	outDir := fs.String("out", "", "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *outDir == "" {
		return fmt.Errorf("--out is required")
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
	if err := d.Decode(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(*outDir, "cfg"), 0755); err != nil {
		return fmt.Errorf("mkdir out: %w", err)
	}

	cg := cfggraph.BuildCallGraph(d)
	cgDOT := render.DOT(cg, "callgraph")
	if err := os.WriteFile(filepath.Join(*outDir, "callgraph.dot"), []byte(cgDOT), 0644); err != nil {
		return fmt.Errorf("write callgraph.dot: %w", err)
	}

	written := 0
	for _, f := range d.Functions() {
		lcfg := cfggraph.BuildFuncCFG(d, f)
		if len(lcfg.Blocks) < 2 {
			continue
		}
		g := &lattice.CFGGraph{Funcs: []*lattice.FuncCFG{lcfg}}
		dot := render.DOTCFG(g, f.Name())
		path := filepath.Join(*outDir, "cfg", f.Name()+".dot")
		if err := os.WriteFile(path, []byte(dot), 0644); err != nil {
			return fmt.Errorf("write cfg dot %s: %w", f.Name(), err)
		}
		written++
	}

	fmt.Fprintf(os.Stderr, "callgraph: %d functions, %d cfg files\n", len(d.Functions()), written)
	return nil
}
