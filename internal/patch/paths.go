package patch

import (
	"fmt"
	"path/filepath"
	"strings"

	"machscope/internal/safefileio"
)

// maxUniqueAttempts bounds the _1, _2, ... search for a free output name.
const maxUniqueAttempts = 10000

// OutputPath resolves where Apply writes. In-place writes reuse source;
// otherwise the result is "<stem><suffix><ext>" in the output directory
// (default: source's directory), numbered until the name is free.
func OutputPath(source string, opts ApplyOptions) (string, error) {
	if opts.AllowInPlaceWrite {
		return source, nil
	}
	suffix := opts.Suffix
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return siblingPath(source, opts.OutputDirectory, suffix)
}

// BackupPath resolves the backup location next to the output, numbered
// until the name is free.
func BackupPath(source, outputDir string, opts ApplyOptions) (string, error) {
	suffix := opts.BackupSuffix
	if suffix == "" {
		suffix = DefaultBackupSuffix
	}
	return siblingPath(source, outputDir, suffix)
}

func siblingPath(source, dir, suffix string) (string, error) {
	if dir == "" {
		dir = filepath.Dir(source)
	}
	stem, ext := splitExt(filepath.Base(source))

	candidate := filepath.Join(dir, stem+suffix+ext)
	for i := 1; safefileio.Exists(candidate) || samePath(candidate, source); i++ {
		if i > maxUniqueAttempts {
			return "", fmt.Errorf("no free name for %s in %s", stem+suffix+ext, dir)
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s%s_%d%s", stem, suffix, i, ext))
	}
	return candidate, nil
}

// splitExt splits base into stem and extension. A leading dot marks a
// hidden file, not an extension, so ".hidden" has none.
func splitExt(base string) (string, string) {
	ext := filepath.Ext(base)
	if ext == base {
		return base, ""
	}
	return strings.TrimSuffix(base, ext), ext
}

// samePath compares two paths after making them absolute and clean.
func samePath(a, b string) bool {
	aa, errA := filepath.Abs(a)
	bb, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return aa == bb
}
