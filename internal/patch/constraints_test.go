package patch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePatchSetConstraints(t *testing.T) {
	id := BinaryIdentity{
		Path:         "/bin/target",
		UUID:         "4C4C4447-5555-3144-A1B2-C3D4E5F60718",
		Architecture: "arm64",
		Version:      "1.4.2",
	}
	tests := []struct {
		name    string
		set     BinaryPatchSet
		wantErr error
	}{
		{name: "no constraints", set: BinaryPatchSet{}},
		{name: "uuid case-insensitive", set: BinaryPatchSet{TargetUUID: "4c4c4447-5555-3144-a1b2-c3d4e5f60718"}},
		{name: "uuid without dashes", set: BinaryPatchSet{TargetUUID: "4c4c444755553144a1b2c3d4e5f60718"}},
		{name: "uuid mismatch", set: BinaryPatchSet{TargetUUID: "00000000-0000-0000-0000-000000000000"}, wantErr: ErrUUIDMismatch},
		{name: "arch case-insensitive", set: BinaryPatchSet{TargetArchitecture: "ARM64"}},
		{name: "arch mismatch", set: BinaryPatchSet{TargetArchitecture: "x86_64"}, wantErr: ErrArchitectureMismatch},
		{name: "path match", set: BinaryPatchSet{TargetPath: "/bin/../bin/target"}},
		{name: "path mismatch", set: BinaryPatchSet{TargetPath: "/bin/other"}, wantErr: ErrInvalidPatchSet},
		{name: "version satisfied", set: BinaryPatchSet{TargetVersion: ">= 1.4, < 2.0"}},
		{name: "version not satisfied", set: BinaryPatchSet{TargetVersion: "< 1.0"}, wantErr: ErrInvalidPatchSet},
		{name: "bad constraint", set: BinaryPatchSet{TargetVersion: "not a version"}, wantErr: ErrInvalidPatchSet},
		{name: "patch level arch", set: BinaryPatchSet{Patches: []BinaryPatch{
			{ID: "p", Enabled: true, ExpectedArchitecture: "arm64e"},
		}}, wantErr: ErrArchitectureMismatch},
		{name: "disabled patch ignored", set: BinaryPatchSet{Patches: []BinaryPatch{
			{ID: "p", ExpectedUUID: "00000000-0000-0000-0000-000000000000"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePatchSetConstraints(&tt.set, id)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantErr, KindOf(err))
		})
	}
}

func TestVersionConstraintNeedsKnownVersion(t *testing.T) {
	set := &BinaryPatchSet{TargetVersion: ">= 1.0"}
	err := ValidatePatchSetConstraints(set, BinaryIdentity{Path: "/x"})
	assert.ErrorIs(t, err, ErrInvalidPatchSet)
}
