package patch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPatchSetYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "set.yaml")
	content := `
id: set-1
name: skip license check
target_architecture: arm64
patches:
  - id: p1
    name: nop branch
    enabled: true
    file_offset: 0x3f80
    original_bytes: "40 00 00 54"
    patched_bytes: 1f2003d5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	set, err := LoadPatchSet(path)
	require.NoError(t, err)
	assert.Equal(t, "skip license check", set.Name)
	require.Len(t, set.Patches, 1)
	p := set.Patches[0]
	assert.Equal(t, uint64(0x3f80), p.FileOffset)
	assert.Equal(t, HexBytes{0x40, 0x00, 0x00, 0x54}, p.OriginalBytes)
	assert.Equal(t, HexBytes{0x1f, 0x20, 0x03, 0xd5}, p.PatchedBytes)
	assert.True(t, p.Enabled)
}

func TestSaveLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "set.json")
	set := NewPatchSet("json")
	set.Add(NewPatch("p", 16, []byte{1, 2}, []byte{3, 4}))
	require.NoError(t, SavePatchSet(set, path))

	loaded, err := LoadPatchSet(path)
	require.NoError(t, err)
	assert.Equal(t, set.ID, loaded.ID)
	require.Len(t, loaded.Patches, 1)
	assert.Equal(t, set.Patches[0].Checksum, loaded.Patches[0].Checksum)
	assert.Equal(t, HexBytes{3, 4}, loaded.Patches[0].PatchedBytes)
	assert.Len(t, loaded.AuditLog, 2)
}

func TestLoadPatchSetErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadPatchSet(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"patches":[{"original_bytes":"zz"}]}`), 0o644))
	_, err = LoadPatchSet(bad)
	assert.Error(t, err)

	_, err = LoadPatchSet(filepath.Join(dir, "set.ini"))
	assert.Error(t, err)
}

func TestPatchInverse(t *testing.T) {
	p := NewPatch("p", 0, []byte{1}, []byte{2})
	inv := p.Inverse()
	assert.Equal(t, HexBytes{2}, inv.OriginalBytes)
	assert.Equal(t, HexBytes{1}, inv.PatchedBytes)
	assert.Equal(t, inv.ComputeChecksum(), inv.Checksum)
	assert.Equal(t, p.ID, inv.ID)
}
