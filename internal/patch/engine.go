package patch

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"machscope/internal/safefileio"
)

// Engine applies and verifies patches. It holds no mutable state, so one
// engine may serve concurrent calls on different files.
type Engine struct {
	logger *log.Logger
}

// NewEngine creates an engine logging to lg. A nil logger discards output.
func NewEngine(lg *log.Logger) *Engine {
	if lg == nil {
		lg = log.New(io.Discard)
	}
	return &Engine{logger: lg}
}

// Apply writes the enabled patches to a copy of path, or to path itself
// when opts.AllowInPlaceWrite is set. Every check runs against an
// in-memory buffer first; on any failure nothing is written.
func (e *Engine) Apply(patches []BinaryPatch, path string, opts ApplyOptions) (*ApplyResult, error) {
	start := time.Now()
	active := enabled(patches)

	// 1. structure
	if err := validateStructure(active); err != nil {
		return nil, withPath(err, path)
	}

	// 2. read
	data, err := readTarget(path)
	if err != nil {
		return nil, err
	}

	// 3. overlaps, before any byte is touched
	if err := checkOverlaps(active); err != nil {
		return nil, withPath(err, path)
	}

	// 4. bounds, original bytes and in-memory mutation, in the given order
	result := &ApplyResult{OriginalPath: path, FileSize: len(data)}
	buf := append([]byte(nil), data...)
	for _, p := range active {
		if err := checkBounds(p, len(buf), path); err != nil {
			return nil, err
		}
		current := buf[p.FileOffset:p.End()]
		if !bytes.Equal(current, p.OriginalBytes) {
			if !opts.ForceApplyOnMismatch {
				pe := newError(ErrOriginalBytesMismatch, "")
				pe.PatchID = p.ID
				pe.Offset = p.FileOffset
				pe.Length = p.Len()
				pe.Expected = append([]byte(nil), p.OriginalBytes...)
				pe.Actual = append([]byte(nil), current...)
				pe.Path = path
				return nil, pe
			}
			result.MismatchedPatchIDs = append(result.MismatchedPatchIDs, p.ID)
			result.Warnings = append(result.Warnings, fmt.Sprintf(
				"patch %s: bytes at %#x are %x, expected %x; applied anyway",
				p.ID, p.FileOffset, current, []byte(p.OriginalBytes)))
			e.logger.Warn("original bytes mismatch", "patch", p.ID, "offset", fmt.Sprintf("%#x", p.FileOffset))
		}
		copy(buf[p.FileOffset:], p.PatchedBytes)
		result.AppliedPatchIDs = append(result.AppliedPatchIDs, p.ID)
		result.BytesChanged += len(p.PatchedBytes)
	}

	// 5. output path
	out, err := OutputPath(path, opts)
	if err != nil {
		pe := newError(ErrCannotWrite, "resolve output path")
		pe.Path = path
		pe.Err = err
		return nil, pe
	}
	result.OutputPath = out

	// 6. backup, only when the source is left in place
	if opts.CreateBackup && !samePath(out, path) {
		backup, err := e.backup(path, out, opts)
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("backup failed: %v", err))
			e.logger.Warn("backup failed, continuing without one", "source", path, "err", err)
		} else {
			result.BackupPath = backup
		}
	}

	// 7. atomic write
	if err := safefileio.WriteFileAtomic(out, buf, safefileio.Mode(path, 0o755)); err != nil {
		pe := newError(ErrCannotWrite, "")
		pe.Path = out
		pe.Err = err
		return nil, pe
	}

	// 8. report
	result.Duration = time.Since(start)
	e.logger.Info("patches applied",
		"patches", len(result.AppliedPatchIDs),
		"output", out,
		"size", humanize.Bytes(uint64(len(buf))),
		"took", result.Duration)
	return result, nil
}

func (e *Engine) backup(source, output string, opts ApplyOptions) (string, error) {
	dir := opts.OutputDirectory
	if dir == "" {
		dir = filepath.Dir(output)
	}
	backup, err := BackupPath(source, dir, opts)
	if err != nil {
		return "", err
	}
	if err := safefileio.CopyFile(source, backup); err != nil {
		return "", err
	}
	e.logger.Debug("backup written", "path", backup)
	return backup, nil
}

// Verify compares the bytes on disk with each enabled patch's original or
// patched bytes. It never modifies the file.
func (e *Engine) Verify(patches []BinaryPatch, path string, against Expectation) (*VerificationResult, error) {
	active := enabled(patches)
	if len(active) == 0 {
		return nil, withPath(newError(ErrInvalidPatchSet, "no enabled patches"), path)
	}
	data, err := readTarget(path)
	if err != nil {
		return nil, err
	}

	result := &VerificationResult{Path: path, Against: against.String(), Matches: true}
	for _, p := range active {
		if err := checkBounds(p, len(data), path); err != nil {
			return nil, err
		}
		want := p.OriginalBytes
		if against == ExpectPatched {
			want = p.PatchedBytes
		}
		got := data[p.FileOffset:p.End()]
		result.Checked++
		if !bytes.Equal(got, want) {
			result.Matches = false
			result.Mismatches = append(result.Mismatches, Mismatch{
				PatchID:  p.ID,
				Offset:   p.FileOffset,
				Expected: append(HexBytes(nil), want...),
				Actual:   append(HexBytes(nil), got...),
			})
		}
	}
	e.logger.Debug("verified", "path", path, "against", result.Against, "mismatches", len(result.Mismatches))
	return result, nil
}

// ApplySet checks the set's identity constraints against id, applies its
// enabled patches and records the outcome in the set's audit log.
func (e *Engine) ApplySet(set *BinaryPatchSet, id BinaryIdentity, opts ApplyOptions) (*ApplyResult, error) {
	if err := ValidatePatchSetConstraints(set, id); err != nil {
		set.Record("apply-rejected", err.Error())
		return nil, err
	}
	result, err := e.Apply(set.Patches, id.Path, opts)
	if err != nil {
		set.Record("apply-failed", err.Error())
		return nil, err
	}
	set.SetStatus(result.AppliedPatchIDs, StatusApplied)
	set.Record("apply", fmt.Sprintf("%d patches to %s", len(result.AppliedPatchIDs), result.OutputPath))
	return result, nil
}

// RevertSet applies the inverse of set to the patched binary described by id.
func (e *Engine) RevertSet(set *BinaryPatchSet, id BinaryIdentity, opts ApplyOptions) (*ApplyResult, error) {
	inv := set.Inverse()
	if err := ValidatePatchSetConstraints(inv, id); err != nil {
		set.Record("revert-rejected", err.Error())
		return nil, err
	}
	result, err := e.Apply(inv.Patches, id.Path, opts)
	if err != nil {
		set.Record("revert-failed", err.Error())
		return nil, err
	}
	set.SetStatus(result.AppliedPatchIDs, StatusReverted)
	set.Record("revert", fmt.Sprintf("%d patches to %s", len(result.AppliedPatchIDs), result.OutputPath))
	return result, nil
}

func readTarget(path string) ([]byte, error) {
	data, err := safefileio.ReadFile(path)
	if err == nil {
		return data, nil
	}
	kind := ErrCannotRead
	if errors.Is(err, safefileio.ErrFileNotFound) {
		kind = ErrFileNotFound
	}
	pe := newError(kind, "")
	pe.Path = path
	pe.Err = err
	return nil, pe
}

func withPath(err error, path string) error {
	var pe *Error
	if errors.As(err, &pe) && pe.Path == "" {
		pe.Path = path
	}
	return err
}
