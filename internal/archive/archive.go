// Package archive reads submitted project archives.
package archive

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/zip"
	"github.com/zeebo/blake3"
)

// ErrEntryNotFound is returned when the archive has no entry with the
// requested name.
var ErrEntryNotFound = errors.New("archive entry not found")

const maxEntrySize = 64 * 1024 * 1024

// ExtractEntry copies one entry out of the zip at zipPath into destDir,
// dropping the entry's directory components. Existing files are overwritten.
// It returns the written path.
func ExtractEntry(zipPath, entryName, destDir string) (string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file.Name != entryName || file.FileInfo().IsDir() {
			continue
		}
		base := path.Base(file.Name)
		if base == "." || base == "/" || base == ".." {
			return "", fmt.Errorf("archive entry %q has no file name", entryName)
		}

		src, err := file.Open()
		if err != nil {
			return "", fmt.Errorf("open entry %q: %w", entryName, err)
		}
		defer src.Close()

		target := filepath.Join(destDir, base)
		dst, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return "", fmt.Errorf("create %s: %w", target, err)
		}
		written, err := io.Copy(dst, io.LimitReader(src, maxEntrySize+1))
		if closeErr := dst.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			return "", fmt.Errorf("extract entry %q: %w", entryName, err)
		}
		if written > maxEntrySize {
			_ = os.Remove(target)
			return "", fmt.Errorf("archive entry %q exceeds %d bytes", entryName, maxEntrySize)
		}
		return target, nil
	}
	return "", fmt.Errorf("%w: %s", ErrEntryNotFound, entryName)
}

// Checksum returns the hex BLAKE3 digest of the file at path.
func Checksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
