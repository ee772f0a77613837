package patch

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"machscope/internal/safefileio"
)

// LoadPatchSet reads a patch set from a .json, .yaml or .yml file.
func LoadPatchSet(path string) (*BinaryPatchSet, error) {
	data, err := safefileio.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read patch set: %w", err)
	}
	set := &BinaryPatchSet{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, set)
	case ".json", "":
		err = json.Unmarshal(data, set)
	default:
		return nil, fmt.Errorf("unsupported patch set format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse patch set %s: %w", path, err)
	}
	return set, nil
}

// SavePatchSet writes set atomically in the format chosen by the extension.
func SavePatchSet(set *BinaryPatchSet, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(set)
	case ".json", "":
		data, err = json.MarshalIndent(set, "", "  ")
		data = append(data, '\n')
	default:
		return fmt.Errorf("unsupported patch set format %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("failed to encode patch set: %w", err)
	}
	return safefileio.WriteFileAtomic(path, data, 0o644)
}
