// Package safefileio provides whole-file reads and atomic, symlink-safe
// writes for binaries being analyzed or patched.
package safefileio

import "errors"

var (
	// ErrFileNotFound indicates that the specified file does not exist.
	ErrFileNotFound = errors.New("file not found")

	// ErrInvalidFilePath indicates that the specified file path is invalid.
	ErrInvalidFilePath = errors.New("invalid file path")

	// ErrIsSymlink indicates that the specified path is a symbolic link, which is not allowed.
	ErrIsSymlink = errors.New("path is a symbolic link")

	// ErrFileTooLarge indicates that the file is too large.
	ErrFileTooLarge = errors.New("file too large")

	// ErrFileExists indicates that the file already exists.
	ErrFileExists = errors.New("file exists")
)
