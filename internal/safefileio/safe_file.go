package safefileio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
)

// MaxFileSize is the largest file ReadFile will buffer (4 GiB)
const MaxFileSize = 4 << 30

// ReadFile reads the whole file at path. A missing file yields
// ErrFileNotFound; a symlink at the final component yields ErrIsSymlink.
func ReadFile(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFilePath, err)
	}

	// #nosec G304 - O_NOFOLLOW rejects a symlinked final component
	file, err := os.OpenFile(absPath, os.O_RDONLY|syscall.O_NOFOLLOW, 0)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		case isNoFollowError(err):
			return nil, fmt.Errorf("%w: %s", ErrIsSymlink, path)
		default:
			return nil, err
		}
	}
	defer file.Close()

	info, err := validateFile(file, absPath)
	if err != nil {
		return nil, err
	}
	if info.Size() > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	content, err := io.ReadAll(io.LimitReader(file, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if int64(len(content)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}
	return content, nil
}

// WriteFileAtomic replaces path with content. The data goes to a temporary
// file in the same directory which is synced and renamed over path, so
// readers see either the old or the new file. A symlink at path is refused.
func WriteFileAtomic(path string, content []byte, perm os.FileMode) (err error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFilePath, err)
	}
	if fi, err := os.Lstat(absPath); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("%w: %s", ErrIsSymlink, absPath)
		}
		if !fi.Mode().IsRegular() {
			return fmt.Errorf("%w: not a regular file: %s", ErrInvalidFilePath, absPath)
		}
	}

	dir := filepath.Dir(absPath)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(absPath)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(content); err != nil {
		return fmt.Errorf("failed to write to %s: %w", tmpName, err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err = os.Rename(tmpName, absPath); err != nil {
		return fmt.Errorf("failed to rename into place: %w", err)
	}
	return nil
}

// CopyFile copies src to a new file dst. An existing dst is never
// overwritten and yields ErrFileExists.
func CopyFile(src, dst string) (err error) {
	content, err := ReadFile(src)
	if err != nil {
		return err
	}
	perm := Mode(src, 0o644)

	// #nosec G304 - O_EXCL and O_NOFOLLOW keep the backup from clobbering anything
	file, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL|syscall.O_NOFOLLOW, perm)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrExist):
			return fmt.Errorf("%w: %s", ErrFileExists, dst)
		case isNoFollowError(err):
			return fmt.Errorf("%w: %s", ErrIsSymlink, dst)
		default:
			return fmt.Errorf("failed to open file: %w", err)
		}
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("failed to close file: %w", closeErr)
		}
	}()

	if err = file.Chmod(perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err = file.Write(content); err != nil {
		return fmt.Errorf("failed to write to %s: %w", dst, err)
	}
	return file.Sync()
}

// Exists reports whether something, including a dangling symlink, is at path.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Mode returns the permission bits of path, or fallback if it cannot be stat'ed.
func Mode(path string, fallback os.FileMode) os.FileMode {
	fi, err := os.Stat(path)
	if err != nil {
		return fallback
	}
	return fi.Mode().Perm()
}

// validateFile checks if the file is a regular file and returns its FileInfo
func validateFile(file *os.File, filePath string) (os.FileInfo, error) {
	fileInfo, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to get file info: %w", err)
	}

	if !fileInfo.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: not a regular file: %s", ErrInvalidFilePath, filePath)
	}

	return fileInfo, nil
}
