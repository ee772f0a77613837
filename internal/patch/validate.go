package patch

import (
	"fmt"
	"sort"
)

// Validate checks the structure of the enabled patches: at least one,
// unique ids, equal non-empty original and patched lengths, checksums that
// match when present, and no overlapping ranges.
func Validate(patches []BinaryPatch) error {
	if err := validateStructure(patches); err != nil {
		return err
	}
	return checkOverlaps(patches)
}

func validateStructure(patches []BinaryPatch) error {
	if len(patches) == 0 {
		return newError(ErrInvalidPatchSet, "no enabled patches")
	}
	seen := make(map[string]bool, len(patches))
	for _, p := range patches {
		if p.ID == "" {
			return newError(ErrInvalidPatchSet, "patch without id")
		}
		if seen[p.ID] {
			e := newError(ErrInvalidPatchSet, "duplicate patch id")
			e.PatchID = p.ID
			return e
		}
		seen[p.ID] = true

		if len(p.OriginalBytes) == 0 || len(p.OriginalBytes) != len(p.PatchedBytes) {
			e := newError(ErrInvalidPatchSet, fmt.Sprintf("original is %d bytes, patched is %d bytes",
				len(p.OriginalBytes), len(p.PatchedBytes)))
			e.PatchID = p.ID
			e.Offset = p.FileOffset
			return e
		}
		if p.Checksum != "" && p.Checksum != p.ComputeChecksum() {
			e := newError(ErrInvalidPatchSet, "checksum does not match patched bytes")
			e.PatchID = p.ID
			return e
		}
	}
	return nil
}

// checkOverlaps sorts by (offset, length) and compares neighbours, which
// is enough to find any intersecting pair.
func checkOverlaps(patches []BinaryPatch) error {
	sorted := append([]BinaryPatch(nil), patches...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].FileOffset != sorted[j].FileOffset {
			return sorted[i].FileOffset < sorted[j].FileOffset
		}
		return sorted[i].Len() < sorted[j].Len()
	})
	for i := 1; i < len(sorted); i++ {
		prev, cur := sorted[i-1], sorted[i]
		if cur.FileOffset < prev.End() {
			e := newError(ErrOverlappingPatches, "")
			e.PatchID = prev.ID
			e.OtherPatchID = cur.ID
			e.Offset = cur.FileOffset
			e.Length = min(prev.End(), cur.End()) - cur.FileOffset
			return e
		}
	}
	return nil
}

// checkBounds fails when p reaches past a file of size bytes.
func checkBounds(p BinaryPatch, size int, path string) error {
	if p.FileOffset > uint64(size) || p.Len() > uint64(size)-p.FileOffset {
		e := newError(ErrPatchOutsideBounds, fmt.Sprintf("file is %d bytes", size))
		e.PatchID = p.ID
		e.Offset = p.FileOffset
		e.Length = p.Len()
		e.Path = path
		return e
	}
	return nil
}
