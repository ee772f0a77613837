package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"machscope/internal/analysis"
	"machscope/internal/disasm"
	"machscope/internal/machox"
	"machscope/internal/patch"
)

// target is an analysis input: either a Mach-O image or a text listing
// with a separate symbols file.
type target struct {
	image   *machox.Image
	stream  disasm.Stream
	symbols *analysis.SymbolTable
}

// isListing reports whether path names a text disassembly rather than a binary.
func isListing(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".s", ".txt", ".lst", ".asm":
		return true
	}
	return false
}

func addSymbolsFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("symbols", "s", "", "Symbols file for text listings (name address size [flags] per line)")
}

func (a *app) loadTarget(cmd *cobra.Command, path string) (*target, error) {
	symbolsPath, _ := cmd.Flags().GetString("symbols")
	if isListing(path) {
		return a.loadListing(path, symbolsPath)
	}

	im, err := machox.Open(path)
	if err != nil {
		return nil, err
	}
	t := &target{image: im, stream: im.Instructions(), symbols: im.SymbolTable()}
	if symbolsPath != "" {
		syms, err := readSymbols(symbolsPath)
		if err != nil {
			return nil, err
		}
		t.symbols = analysis.NewSymbolTable(append(im.Symbols, syms...))
	}
	a.log().Debug("loaded image",
		"path", path, "arch", im.Arch, "uuid", im.UUID,
		"instructions", len(t.stream), "symbols", t.symbols.Len())
	return t, nil
}

func (a *app) loadListing(path, symbolsPath string) (*target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open listing: %w", err)
	}
	defer f.Close()
	stream, err := disasm.ParseListing(f)
	if err != nil {
		return nil, err
	}

	var syms []analysis.SymbolInfo
	if symbolsPath != "" {
		if syms, err = readSymbols(symbolsPath); err != nil {
			return nil, err
		}
	}
	a.log().Debug("loaded listing", "path", path, "instructions", len(stream), "symbols", len(syms))
	return &target{stream: stream, symbols: analysis.NewSymbolTable(syms)}, nil
}

func readSymbols(path string) ([]analysis.SymbolInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open symbols: %w", err)
	}
	defer f.Close()
	return analysis.ParseSymbols(f)
}

// function resolves a function symbol by name, or by hex address when name
// starts with 0x.
func (t *target) function(name string) (analysis.SymbolInfo, error) {
	if strings.HasPrefix(name, "0x") {
		if addr, ok := disasm.ImmediateTarget(name, 0); ok {
			if s, ok := t.symbols.Exact(addr); ok && s.IsFunction {
				return s, nil
			}
		}
	}
	s, ok := t.symbols.Lookup(name)
	if !ok || !s.IsFunction {
		return analysis.SymbolInfo{}, fmt.Errorf("function %q not found", name)
	}
	return s, nil
}

// instructions returns the instructions of fn.
func (t *target) instructions(fn analysis.SymbolInfo) disasm.Stream {
	if t.image != nil {
		if insts, ok := t.image.FunctionInstructions(fn); ok {
			return insts
		}
	}
	return t.stream.Slice(fn.Address, fn.Address+fn.Size)
}

// identity returns the binary identity for patch constraint checks. Files
// that are not Mach-O still get a path-only identity so raw patching works.
func (a *app) identity(path string) (patch.BinaryIdentity, *machox.Image) {
	im, err := machox.Open(path)
	if err != nil {
		a.log().Debug("not a usable Mach-O, constraints limited to the path", "path", path, "error", err)
		return patch.BinaryIdentity{Path: path}, nil
	}
	return im.Identity(), im
}

// branchLabel names the symbol a direct branch lands on, if any.
func branchLabel(t *target, inst disasm.Inst) (string, bool) {
	if !disasm.IsBranch(inst.Mnemonic) {
		return "", false
	}
	to, ok := disasm.BranchTarget(inst)
	if !ok {
		return "", false
	}
	label := t.symbols.Label(to)
	return label, label != ""
}
