// Package patch validates and applies byte-range substitutions to binary
// files with overlap, bounds and identity checks.
package patch

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
)

// HexBytes is a byte slice that serializes as a hex string.
type HexBytes []byte

func (h HexBytes) String() string { return hex.EncodeToString(h) }

func (h HexBytes) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(h)), nil
}

// UnmarshalText accepts "90 1f 20 03", "0x901f2003" or "901f2003".
func (h *HexBytes) UnmarshalText(text []byte) error {
	s := strings.TrimPrefix(strings.TrimPrefix(string(text), "0x"), "0X")
	s = strings.Join(strings.Fields(s), "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid hex bytes %q: %w", text, err)
	}
	*h = b
	return nil
}

func (HexBytes) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     "^(0x)?([0-9a-fA-F]{2}\\s*)*$",
		Description: "Byte sequence as hex",
	}
}

// Severity ranks how invasive a patch is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Status tracks a patch through its lifecycle.
type Status string

const (
	StatusDraft    Status = "draft"
	StatusReady    Status = "ready"
	StatusApplied  Status = "applied"
	StatusReverted Status = "reverted"
)

// BinaryPatch replaces OriginalBytes at FileOffset with PatchedBytes of the
// same length. When VirtualAddress is set on a Mach-O target it locates the
// patch and FileOffset is derived from it.
type BinaryPatch struct {
	ID                   string   `json:"id" yaml:"id" jsonschema:"required"`
	Name                 string   `json:"name" yaml:"name"`
	Description          string   `json:"description,omitempty" yaml:"description,omitempty"`
	Severity             Severity `json:"severity,omitempty" yaml:"severity,omitempty" jsonschema:"enum=low,enum=medium,enum=high,enum=critical"`
	Status               Status   `json:"status,omitempty" yaml:"status,omitempty" jsonschema:"enum=draft,enum=ready,enum=applied,enum=reverted"`
	Enabled              bool     `json:"enabled" yaml:"enabled"`
	VirtualAddress       uint64   `json:"virtual_address,omitempty" yaml:"virtual_address,omitempty"`
	FileOffset           uint64   `json:"file_offset" yaml:"file_offset" jsonschema:"required"`
	OriginalBytes        HexBytes `json:"original_bytes" yaml:"original_bytes" jsonschema:"required"`
	PatchedBytes         HexBytes `json:"patched_bytes" yaml:"patched_bytes" jsonschema:"required"`
	Checksum             string   `json:"checksum,omitempty" yaml:"checksum,omitempty" jsonschema:"description=sha256 of patched_bytes"`
	ExpectedUUID         string   `json:"expected_uuid,omitempty" yaml:"expected_uuid,omitempty"`
	ExpectedArchitecture string   `json:"expected_architecture,omitempty" yaml:"expected_architecture,omitempty"`
	VersionConstraint    string   `json:"version_constraint,omitempty" yaml:"version_constraint,omitempty"`
}

// Len is the number of bytes the patch replaces.
func (p BinaryPatch) Len() uint64 { return uint64(len(p.OriginalBytes)) }

// End is the first file offset past the patched range.
func (p BinaryPatch) End() uint64 { return p.FileOffset + p.Len() }

// AuditEntry is one record of the patch set's history.
type AuditEntry struct {
	Time   time.Time `json:"time" yaml:"time"`
	Action string    `json:"action" yaml:"action"`
	Detail string    `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// BinaryPatchSet is an ordered collection of patches targeting one binary.
type BinaryPatchSet struct {
	ID                 string        `json:"id" yaml:"id"`
	Name               string        `json:"name" yaml:"name"`
	Description        string        `json:"description,omitempty" yaml:"description,omitempty"`
	TargetPath         string        `json:"target_path,omitempty" yaml:"target_path,omitempty"`
	TargetUUID         string        `json:"target_uuid,omitempty" yaml:"target_uuid,omitempty"`
	TargetArchitecture string        `json:"target_architecture,omitempty" yaml:"target_architecture,omitempty"`
	TargetVersion      string        `json:"target_version,omitempty" yaml:"target_version,omitempty" jsonschema:"description=go-version constraint on the binary version"`
	Patches            []BinaryPatch `json:"patches" yaml:"patches"`
	AuditLog           []AuditEntry  `json:"audit_log,omitempty" yaml:"audit_log,omitempty"`
}

// BinaryIdentity describes the binary a patch set is checked against.
type BinaryIdentity struct {
	Path         string
	UUID         string
	Architecture string
	Version      string
}

// ApplyOptions controls where and how patched output is written.
type ApplyOptions struct {
	AllowInPlaceWrite    bool   `json:"allow_in_place_write" toml:"allow_in_place_write"`
	ForceApplyOnMismatch bool   `json:"force_apply_on_mismatch" toml:"force_apply_on_mismatch"`
	OutputDirectory      string `json:"output_directory,omitempty" toml:"output_directory"`
	Suffix               string `json:"suffix,omitempty" toml:"suffix"`
	CreateBackup         bool   `json:"create_backup" toml:"create_backup"`
	BackupSuffix         string `json:"backup_suffix,omitempty" toml:"backup_suffix"`
}

const (
	DefaultSuffix       = "_patched"
	DefaultBackupSuffix = "_backup"
)

// DefaultApplyOptions writes a sibling "_patched" file and backs up the original.
func DefaultApplyOptions() ApplyOptions {
	return ApplyOptions{
		Suffix:       DefaultSuffix,
		CreateBackup: true,
		BackupSuffix: DefaultBackupSuffix,
	}
}

// ApplyResult reports a successful apply.
type ApplyResult struct {
	OriginalPath       string        `json:"original_path"`
	OutputPath         string        `json:"output_path"`
	AppliedPatchIDs    []string      `json:"applied_patch_ids"`
	Warnings           []string      `json:"warnings,omitempty"`
	Duration           time.Duration `json:"duration"`
	BackupPath         string        `json:"backup_path,omitempty"`
	MismatchedPatchIDs []string      `json:"mismatched_patch_ids,omitempty"`
	BytesChanged       int           `json:"bytes_changed"`
	FileSize           int           `json:"file_size"`
}

// Expectation selects which side of each patch Verify compares against.
type Expectation int

const (
	ExpectOriginal Expectation = iota
	ExpectPatched
)

func (e Expectation) String() string {
	if e == ExpectPatched {
		return "patched"
	}
	return "original"
}

// Mismatch is one patch whose on-disk bytes differ from the expectation.
type Mismatch struct {
	PatchID  string   `json:"patch_id"`
	Offset   uint64   `json:"offset"`
	Expected HexBytes `json:"expected"`
	Actual   HexBytes `json:"actual"`
}

// VerificationResult reports a read-only comparison of a file against patches.
type VerificationResult struct {
	Path       string     `json:"path"`
	Against    string     `json:"against"`
	Matches    bool       `json:"matches"`
	Checked    int        `json:"checked"`
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}
