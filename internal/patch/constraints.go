package patch

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-version"
)

// ValidatePatchSetConstraints checks the identity the set declares against
// the target binary: path, UUID (canonical form, case-insensitive),
// architecture (case-insensitive) and version constraint. Patch-level
// expectations are checked the same way for every enabled patch. The first
// failure is returned; nothing is read from disk.
func ValidatePatchSetConstraints(set *BinaryPatchSet, id BinaryIdentity) error {
	if set == nil {
		return newError(ErrInvalidPatchSet, "nil patch set")
	}
	if set.TargetPath != "" && !samePath(set.TargetPath, id.Path) {
		e := newError(ErrInvalidPatchSet, fmt.Sprintf("patch set targets %s", set.TargetPath))
		e.Path = id.Path
		return e
	}
	if err := checkIdentity(set.TargetUUID, set.TargetArchitecture, set.TargetVersion, id, ""); err != nil {
		return err
	}
	for _, p := range set.EnabledPatches() {
		if err := checkIdentity(p.ExpectedUUID, p.ExpectedArchitecture, p.VersionConstraint, id, p.ID); err != nil {
			return err
		}
	}
	return nil
}

func checkIdentity(wantUUID, wantArch, constraint string, id BinaryIdentity, patchID string) error {
	if wantUUID != "" && !sameUUID(wantUUID, id.UUID) {
		e := newError(ErrUUIDMismatch, fmt.Sprintf("want %s, binary has %q", wantUUID, id.UUID))
		e.PatchID = patchID
		e.Path = id.Path
		return e
	}
	if wantArch != "" && !strings.EqualFold(wantArch, id.Architecture) {
		e := newError(ErrArchitectureMismatch, fmt.Sprintf("want %s, binary is %q", wantArch, id.Architecture))
		e.PatchID = patchID
		e.Path = id.Path
		return e
	}
	if constraint != "" {
		if err := checkVersion(constraint, id.Version); err != nil {
			e := newError(ErrInvalidPatchSet, err.Error())
			e.PatchID = patchID
			e.Path = id.Path
			return e
		}
	}
	return nil
}

func sameUUID(a, b string) bool {
	ua, errA := uuid.Parse(strings.TrimSpace(a))
	ub, errB := uuid.Parse(strings.TrimSpace(b))
	if errA == nil && errB == nil {
		return ua == ub
	}
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func checkVersion(constraint, have string) error {
	c, err := version.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("bad version constraint %q: %w", constraint, err)
	}
	if have == "" {
		return fmt.Errorf("version constraint %q but the binary version is unknown", constraint)
	}
	v, err := version.NewVersion(have)
	if err != nil {
		return fmt.Errorf("bad binary version %q: %w", have, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("binary version %s does not satisfy %s", v, constraint)
	}
	return nil
}
