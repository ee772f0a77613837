// Package machox opens Mach-O binaries, picks the arm64 slice of universal
// files, and exposes the text section, symbols and identity that the
// analyses and the patch engine consume.
package machox

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/blacktop/go-macho"
	"github.com/blacktop/go-macho/types"

	"machscope/internal/analysis"
	"machscope/internal/disasm"
	"machscope/internal/patch"
)

// ErrNoArm64 is returned for binaries without an arm64 slice.
var ErrNoArm64 = errors.New("no arm64 slice")

// ErrNoText is returned when the image has no __TEXT,__text section.
var ErrNoText = errors.New("no __TEXT,__text section")

type Segment struct {
	Name   string
	Addr   uint64
	Memsz  uint64
	Offset uint64 // relative to the slice
	Filesz uint64
}

// Image is a loaded arm64 slice. File offsets reported by the image are
// offsets into the file on disk, so they already include SliceOffset.
type Image struct {
	Path        string
	UUID        string
	Arch        string
	Version     string
	SliceOffset uint64
	TextAddr    uint64
	TextOffset  uint64
	Text        []byte
	Segments    []Segment
	Symbols     []analysis.SymbolInfo

	table *analysis.SymbolTable
}

// Open loads path. Universal binaries resolve to their arm64 (or arm64e)
// slice; thin files must be arm64.
func Open(path string) (*Image, error) {
	fat, err := macho.OpenFat(path)
	if err == nil {
		defer fat.Close()
		for _, arch := range fat.Arches {
			if arch.CPU != types.CPUArm64 {
				continue
			}
			return load(path, arch.File, uint64(arch.Offset))
		}
		return nil, fmt.Errorf("%s: %w", path, ErrNoArm64)
	}
	if !errors.Is(err, macho.ErrNotFat) {
		return nil, fmt.Errorf("open mach-o: %w", err)
	}

	f, err := macho.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mach-o: %w", err)
	}
	defer f.Close()
	if f.CPU != types.CPUArm64 {
		return nil, fmt.Errorf("%s is %s: %w", path, f.CPU, ErrNoArm64)
	}
	return load(path, f, 0)
}

func load(path string, f *macho.File, sliceOffset uint64) (*Image, error) {
	im := &Image{
		Path:        path,
		Arch:        archName(f.CPU, f.SubCPU),
		SliceOffset: sliceOffset,
	}
	if u := f.UUID(); u != nil {
		im.UUID = u.String()
	}
	if v := f.SourceVersion(); v != nil {
		im.Version = v.Version.String()
	}
	for _, s := range f.Segments() {
		im.Segments = append(im.Segments, Segment{
			Name:   s.Name,
			Addr:   s.Addr,
			Memsz:  s.Memsz,
			Offset: s.Offset,
			Filesz: s.Filesz,
		})
	}

	text := f.Section("__TEXT", "__text")
	if text == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNoText)
	}
	data, err := text.Data()
	if err != nil {
		return nil, fmt.Errorf("read __text: %w", err)
	}
	im.TextAddr = text.Addr
	im.TextOffset = sliceOffset + uint64(text.Offset)
	im.Text = data

	var raw []nlist
	if f.Symtab != nil {
		for _, s := range f.Symtab.Syms {
			raw = append(raw, nlist{
				name:     s.Name,
				addr:     s.Value,
				debug:    s.Type.IsDebugSym(),
				defined:  s.Type.IsDefinedInSection(),
				external: s.Type.IsExternalSym(),
			})
		}
	}
	im.Symbols = buildSymbols(raw, text.Addr, text.Addr+text.Size)
	im.table = analysis.NewSymbolTable(im.Symbols)
	return im, nil
}

func archName(cpu types.CPU, sub types.CPUSubtype) string {
	if cpu != types.CPUArm64 {
		return strings.ToLower(cpu.String())
	}
	if sub&0xff == types.CPUSubtypeArm64E {
		return "arm64e"
	}
	return "arm64"
}

// nlist is the subset of a symbol table entry buildSymbols needs.
type nlist struct {
	name     string
	addr     uint64
	debug    bool
	defined  bool
	external bool
}

// buildSymbols converts nlist entries into sized symbols. Mach-O records no
// symbol size, so a defined text symbol extends to the next distinct text
// symbol address, and the last one to the end of the section.
func buildSymbols(raw []nlist, textStart, textEnd uint64) []analysis.SymbolInfo {
	var starts []uint64
	seen := make(map[uint64]bool)
	for _, s := range raw {
		if s.debug || !s.defined || s.addr < textStart || s.addr >= textEnd {
			continue
		}
		if !seen[s.addr] {
			seen[s.addr] = true
			starts = append(starts, s.addr)
		}
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	sizeOf := func(addr uint64) uint64 {
		i := sort.Search(len(starts), func(i int) bool { return starts[i] > addr })
		if i < len(starts) {
			return starts[i] - addr
		}
		return textEnd - addr
	}

	var out []analysis.SymbolInfo
	for _, s := range raw {
		if s.debug || s.name == "" {
			continue
		}
		info := analysis.SymbolInfo{
			Name:       s.name,
			Address:    s.addr,
			IsDefined:  s.defined,
			IsExternal: s.external,
		}
		if s.defined && seen[s.addr] {
			info.IsFunction = true
			info.Size = sizeOf(s.addr)
		}
		out = append(out, info)
	}
	return out
}

// SymbolTable returns the lookup structure over Symbols.
func (im *Image) SymbolTable() *analysis.SymbolTable {
	if im.table == nil {
		im.table = analysis.NewSymbolTable(im.Symbols)
	}
	return im.table
}

// Identity describes the image for patch set constraint checks.
func (im *Image) Identity() patch.BinaryIdentity {
	return patch.BinaryIdentity{
		Path:         im.Path,
		UUID:         im.UUID,
		Architecture: im.Arch,
		Version:      im.Version,
	}
}

// Instructions decodes the whole text section.
func (im *Image) Instructions() disasm.Stream {
	return disasm.Decode(im.Text, im.TextAddr)
}

// FunctionInstructions decodes the span of one function symbol.
func (im *Image) FunctionInstructions(sym analysis.SymbolInfo) (disasm.Stream, bool) {
	if sym.Address < im.TextAddr || sym.Size == 0 {
		return nil, false
	}
	start := sym.Address - im.TextAddr
	end := start + sym.Size
	if end > uint64(len(im.Text)) {
		return nil, false
	}
	return disasm.Decode(im.Text[start:end], sym.Address), true
}

// FindFunctionByName looks a function up by raw or demangled name.
func (im *Image) FindFunctionByName(name string) (analysis.SymbolInfo, bool) {
	sym, ok := im.SymbolTable().Lookup(name)
	if !ok || !sym.IsFunction {
		return analysis.SymbolInfo{}, false
	}
	return sym, true
}

// VA2Off translates a virtual address into an offset in the file on disk
// using the segment map. It returns false if the address has no file backing.
func (im *Image) VA2Off(va uint64) (uint64, bool) {
	for _, s := range im.Segments {
		if s.Filesz == 0 {
			continue
		}
		if va >= s.Addr && va-s.Addr < s.Filesz {
			return im.SliceOffset + s.Offset + (va - s.Addr), true
		}
	}
	return 0, false
}

// ResolveOffsets locates patches that carry a virtual address. The address
// is authoritative: a zero FileOffset is filled in from it, and a non-zero
// one must agree with it. Patches without an address keep their offset.
func (im *Image) ResolveOffsets(patches []patch.BinaryPatch) error {
	for i := range patches {
		p := &patches[i]
		if p.VirtualAddress == 0 {
			continue
		}
		off, ok := im.VA2Off(p.VirtualAddress)
		if !ok {
			return fmt.Errorf("patch %s: address %#x is not file backed", p.ID, p.VirtualAddress)
		}
		if p.FileOffset != 0 && p.FileOffset != off {
			return fmt.Errorf("patch %s: file offset %#x disagrees with address %#x (file offset %#x)",
				p.ID, p.FileOffset, p.VirtualAddress, off)
		}
		p.FileOffset = off
	}
	return nil
}
