package machox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"machscope/internal/patch"
)

func TestBuildSymbols(t *testing.T) {
	raw := []nlist{
		{name: "_main", addr: 0x100003f00, defined: true, external: true},
		{name: "_helper", addr: 0x100003f40, defined: true},
		{name: "ltmp0", addr: 0x100003f40, defined: true},
		{name: "_last", addr: 0x100003f80, defined: true},
		{name: "_printf", external: true},
		{name: "_data", addr: 0x100008000, defined: true},
		{name: "main.c", addr: 0, debug: true},
	}
	syms := buildSymbols(raw, 0x100003f00, 0x100003fa0)
	require.Len(t, syms, 6)

	byName := map[string]int{}
	for i, s := range syms {
		byName[s.Name] = i
	}
	main := syms[byName["_main"]]
	assert.True(t, main.IsFunction)
	assert.Equal(t, uint64(0x40), main.Size)
	assert.True(t, main.IsExternal)

	assert.Equal(t, uint64(0x40), syms[byName["_helper"]].Size)
	assert.Equal(t, uint64(0x40), syms[byName["ltmp0"]].Size, "aliases share a span")
	assert.Equal(t, uint64(0x20), syms[byName["_last"]].Size, "last symbol runs to the section end")

	printf := syms[byName["_printf"]]
	assert.False(t, printf.IsDefined)
	assert.False(t, printf.IsFunction)

	data := syms[byName["_data"]]
	assert.True(t, data.IsDefined)
	assert.False(t, data.IsFunction)
}

func testImage() *Image {
	return &Image{
		Path:        "/tmp/app",
		UUID:        "4C4C4447-5555-3144-A1B2-C3D4E5F60718",
		Arch:        "arm64",
		Version:     "12.3",
		SliceOffset: 0x4000,
		TextAddr:    0x100003f00,
		Text: []byte{
			0x1f, 0x20, 0x03, 0xd5, // nop
			0xc0, 0x03, 0x5f, 0xd6, // ret
		},
		Segments: []Segment{
			{Name: "__PAGEZERO", Addr: 0, Memsz: 0x100000000},
			{Name: "__TEXT", Addr: 0x100000000, Memsz: 0x4000, Offset: 0, Filesz: 0x4000},
			{Name: "__DATA", Addr: 0x100004000, Memsz: 0x8000, Offset: 0x4000, Filesz: 0x1000},
		},
	}
}

func TestVA2Off(t *testing.T) {
	im := testImage()
	off, ok := im.VA2Off(0x100003f04)
	require.True(t, ok)
	assert.Equal(t, uint64(0x4000+0x3f04), off)

	off, ok = im.VA2Off(0x100004010)
	require.True(t, ok)
	assert.Equal(t, uint64(0x4000+0x4010), off)

	_, ok = im.VA2Off(0x100006000)
	assert.False(t, ok, "zero-fill tail has no file backing")
	_, ok = im.VA2Off(0x1000)
	assert.False(t, ok)
}

func TestResolveOffsets(t *testing.T) {
	im := testImage()
	patches := []patch.BinaryPatch{
		{ID: "va", VirtualAddress: 0x100003f04},
		{ID: "both", FileOffset: 0x7f04, VirtualAddress: 0x100003f04},
		{ID: "off", FileOffset: 0x10},
		{ID: "zero", FileOffset: 0},
	}
	require.NoError(t, im.ResolveOffsets(patches))
	assert.Equal(t, uint64(0x7f04), patches[0].FileOffset)
	assert.Equal(t, uint64(0x7f04), patches[1].FileOffset)
	assert.Equal(t, uint64(0x10), patches[2].FileOffset)
	assert.Equal(t, uint64(0), patches[3].FileOffset, "offset 0 without an address stays put")

	bad := []patch.BinaryPatch{{ID: "bad", VirtualAddress: 0x200000000}}
	assert.Error(t, im.ResolveOffsets(bad))

	conflict := []patch.BinaryPatch{{ID: "conflict", FileOffset: 0x10, VirtualAddress: 0x100003f04}}
	err := im.ResolveOffsets(conflict)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disagrees")
	assert.Equal(t, uint64(0x10), conflict[0].FileOffset)
}

func TestFunctionInstructions(t *testing.T) {
	im := testImage()
	im.Symbols = buildSymbols([]nlist{{name: "_f", addr: 0x100003f00, defined: true}}, 0x100003f00, 0x100003f08)

	sym, ok := im.FindFunctionByName("_f")
	require.True(t, ok)
	insts, ok := im.FunctionInstructions(sym)
	require.True(t, ok)
	require.Len(t, insts, 2)
	assert.Equal(t, "nop", insts[0].Mnemonic)
	assert.Equal(t, "ret", insts[1].Mnemonic)

	_, ok = im.FindFunctionByName("_missing")
	assert.False(t, ok)
	assert.Len(t, im.Instructions(), 2)
}

func TestIdentity(t *testing.T) {
	id := testImage().Identity()
	assert.Equal(t, "arm64", id.Architecture)
	assert.Equal(t, "12.3", id.Version)
	assert.Equal(t, "/tmp/app", id.Path)
}

func TestArchName(t *testing.T) {
	assert.Equal(t, "arm64", archName(0x0100000c, 0))
	assert.Equal(t, "arm64e", archName(0x0100000c, 0x80000002))
}

// The fixtures under testdata are minimal MH_EXECUTE images: one __TEXT
// segment holding __text at file offset 0x100 (address 0x100000100) with
// _main (bl _helper; nop; nop; ret) and _helper (nop; nop; nop; ret), an
// undefined _printf, LC_UUID and LC_SOURCE_VERSION 1.2.3. hello_universal
// carries an x86_64 copy at 0x1000 and the arm64 slice at 0x2000.
const fixtureUUID = "01234567-89AB-CDEF-0123-456789ABCDEF"

func TestOpenThin(t *testing.T) {
	im, err := Open(filepath.Join("testdata", "hello_arm64"))
	require.NoError(t, err)

	assert.Equal(t, "arm64", im.Arch)
	assert.Equal(t, fixtureUUID, im.UUID)
	assert.Equal(t, "1.2.3.0.0", im.Version)
	assert.Equal(t, uint64(0), im.SliceOffset)
	assert.Equal(t, uint64(0x100000100), im.TextAddr)
	assert.Equal(t, uint64(0x100), im.TextOffset)
	assert.Len(t, im.Text, 0x20)

	main, ok := im.FindFunctionByName("_main")
	require.True(t, ok)
	assert.Equal(t, uint64(0x100000100), main.Address)
	assert.Equal(t, uint64(0x10), main.Size)
	assert.True(t, main.IsExternal)
	helper, ok := im.FindFunctionByName("_helper")
	require.True(t, ok)
	assert.Equal(t, uint64(0x10), helper.Size, "last symbol runs to the section end")
	_, ok = im.FindFunctionByName("_printf")
	assert.False(t, ok, "undefined symbols are not functions")

	insts, ok := im.FunctionInstructions(main)
	require.True(t, ok)
	require.Len(t, insts, 4)
	assert.Equal(t, "bl", insts[0].Mnemonic)
	assert.Equal(t, "0x100000110", insts[0].Operands)
	assert.Equal(t, "ret", insts[3].Mnemonic)

	off, ok := im.VA2Off(0x100000110)
	require.True(t, ok)
	assert.Equal(t, uint64(0x110), off)

	id := im.Identity()
	assert.Equal(t, fixtureUUID, id.UUID)
	assert.Equal(t, "arm64", id.Architecture)
	assert.Equal(t, "1.2.3.0.0", id.Version)
	assert.Equal(t, im.Path, id.Path)
}

func TestOpenUniversalPicksArm64(t *testing.T) {
	im, err := Open(filepath.Join("testdata", "hello_universal"))
	require.NoError(t, err)

	assert.Equal(t, "arm64", im.Arch)
	assert.Equal(t, fixtureUUID, im.UUID)
	assert.Equal(t, uint64(0x2000), im.SliceOffset)
	assert.Equal(t, uint64(0x2100), im.TextOffset)
	require.Len(t, im.Text, 0x20)
	assert.Equal(t, []byte{0x04, 0x00, 0x00, 0x94}, im.Text[:4])

	off, ok := im.VA2Off(0x100000110)
	require.True(t, ok)
	assert.Equal(t, uint64(0x2110), off, "offsets include the slice position")

	patches := []patch.BinaryPatch{{ID: "p", VirtualAddress: 0x100000104}}
	require.NoError(t, im.ResolveOffsets(patches))
	assert.Equal(t, uint64(0x2104), patches[0].FileOffset)
}

func TestOpenRejects(t *testing.T) {
	_, err := Open(filepath.Join("testdata", "hello_x86_64"))
	assert.ErrorIs(t, err, ErrNoArm64)

	notMachO := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(notMachO, []byte("plain text, not a binary"), 0o644))
	_, err = Open(notMachO)
	assert.Error(t, err)

	_, err = Open(filepath.Join("testdata", "missing"))
	assert.Error(t, err)
}
