package patch

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors, one per failure class. Every error returned by the
// engine is an *Error whose Kind is one of these.
var (
	// ErrFileNotFound indicates that the target binary does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrCannotRead indicates that the target binary could not be read.
	ErrCannotRead = errors.New("cannot read file")

	// ErrCannotWrite indicates that the patched output could not be written.
	ErrCannotWrite = errors.New("cannot write file")

	// ErrPatchOutsideBounds indicates a patch range past the end of the file.
	ErrPatchOutsideBounds = errors.New("patch outside file bounds")

	// ErrOriginalBytesMismatch indicates the bytes on disk differ from the patch's original bytes.
	ErrOriginalBytesMismatch = errors.New("original bytes mismatch")

	// ErrOverlappingPatches indicates two enabled patches touch the same bytes.
	ErrOverlappingPatches = errors.New("overlapping patches")

	// ErrInvalidPatchSet indicates a structurally invalid patch set or a failed constraint.
	ErrInvalidPatchSet = errors.New("invalid patch set")

	// ErrUUIDMismatch indicates the binary UUID differs from the one the patch set targets.
	ErrUUIDMismatch = errors.New("uuid mismatch")

	// ErrArchitectureMismatch indicates the binary architecture differs from the one the patch set targets.
	ErrArchitectureMismatch = errors.New("architecture mismatch")
)

// Error carries the context of a failed apply, verify or constraint check.
type Error struct {
	Kind         error // one of the sentinels above
	Path         string
	PatchID      string
	OtherPatchID string // second patch of an overlap
	Offset       uint64
	Length       uint64
	Expected     []byte
	Actual       []byte
	Detail       string
	Err          error // underlying cause, if any
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.PatchID != "" {
		fmt.Fprintf(&b, ": patch %s", e.PatchID)
	}
	if e.OtherPatchID != "" {
		fmt.Fprintf(&b, " and %s", e.OtherPatchID)
	}
	if e.Length > 0 {
		fmt.Fprintf(&b, " at %#x+%d", e.Offset, e.Length)
	}
	if e.Expected != nil || e.Actual != nil {
		fmt.Fprintf(&b, " (expected %x, found %x)", e.Expected, e.Actual)
	}
	if e.Detail != "" {
		b.WriteString(": " + e.Detail)
	}
	if e.Path != "" {
		b.WriteString(" [" + e.Path + "]")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// KindOf returns the sentinel classifying err, or nil if err is not from this package.
func KindOf(err error) error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return nil
}
