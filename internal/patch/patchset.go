package patch

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// NewPatch creates an enabled draft patch with a fresh id and checksum.
func NewPatch(name string, fileOffset uint64, original, patched []byte) BinaryPatch {
	p := BinaryPatch{
		ID:            uuid.NewString(),
		Name:          name,
		Severity:      SeverityMedium,
		Status:        StatusDraft,
		Enabled:       true,
		FileOffset:    fileOffset,
		OriginalBytes: append(HexBytes(nil), original...),
		PatchedBytes:  append(HexBytes(nil), patched...),
	}
	p.Checksum = p.ComputeChecksum()
	return p
}

// ComputeChecksum returns the hex sha256 of the patched bytes.
func (p BinaryPatch) ComputeChecksum() string {
	sum := sha256.Sum256(p.PatchedBytes)
	return hex.EncodeToString(sum[:])
}

// Inverse swaps original and patched bytes so applying it undoes p.
func (p BinaryPatch) Inverse() BinaryPatch {
	inv := p
	inv.OriginalBytes = append(HexBytes(nil), p.PatchedBytes...)
	inv.PatchedBytes = append(HexBytes(nil), p.OriginalBytes...)
	if p.Checksum != "" {
		inv.Checksum = inv.ComputeChecksum()
	}
	return inv
}

// NewPatchSet creates an empty set with a fresh id.
func NewPatchSet(name string) *BinaryPatchSet {
	s := &BinaryPatchSet{ID: uuid.NewString(), Name: name}
	s.Record("created", name)
	return s
}

// Add appends a patch and records it in the audit log.
func (s *BinaryPatchSet) Add(p BinaryPatch) {
	s.Patches = append(s.Patches, p)
	s.Record("add", p.ID)
}

// Record appends an audit entry. Entries are never rewritten.
func (s *BinaryPatchSet) Record(action, detail string) {
	s.AuditLog = append(s.AuditLog, AuditEntry{
		Time:   time.Now().UTC(),
		Action: action,
		Detail: detail,
	})
}

// EnabledPatches returns the enabled patches in set order.
func (s *BinaryPatchSet) EnabledPatches() []BinaryPatch {
	return enabled(s.Patches)
}

// SetStatus updates the status of the patches with the given ids.
func (s *BinaryPatchSet) SetStatus(ids []string, status Status) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range s.Patches {
		if want[s.Patches[i].ID] {
			s.Patches[i].Status = status
		}
	}
}

// Inverse returns a set whose patches undo this one's. Identity
// constraints other than the path are kept; the audit log is not.
func (s *BinaryPatchSet) Inverse() *BinaryPatchSet {
	inv := &BinaryPatchSet{
		ID:                 s.ID,
		Name:               s.Name,
		Description:        s.Description,
		TargetUUID:         s.TargetUUID,
		TargetArchitecture: s.TargetArchitecture,
		TargetVersion:      s.TargetVersion,
	}
	for _, p := range s.Patches {
		inv.Patches = append(inv.Patches, p.Inverse())
	}
	return inv
}

func enabled(patches []BinaryPatch) []BinaryPatch {
	var out []BinaryPatch
	for _, p := range patches {
		if p.Enabled {
			out = append(out, p)
		}
	}
	return out
}
