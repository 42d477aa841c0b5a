package mediasync

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// extractProgress is called after each extracted file
type extractProgress func(done, total int, name string)

// extractArchive unpacks the zip at archivePath into dest, overwriting
// existing files. Each file is written to a hidden temp file in its target
// directory and renamed into place, so readers of dest never observe a
// partially written file. Cancelling ctx stops before the next file. It
// returns the number of files extracted.
func extractArchive(ctx context.Context, archivePath, dest string, progress extractProgress) (int, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrArchiveCorrupt, err)
	}
	defer r.Close()

	if err := os.MkdirAll(dest, 0755); err != nil {
		return 0, fmt.Errorf("failed to create media directory: %w", err)
	}
	root := filepath.Clean(dest)

	var files []*zip.File
	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			files = append(files, f)
		}
	}

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return i, fmt.Errorf("extraction interrupted: %w", err)
		}
		target := filepath.Join(root, filepath.FromSlash(f.Name))
		if !strings.HasPrefix(target, root+string(os.PathSeparator)) {
			return i, fmt.Errorf("%w: illegal path %q", ErrArchiveCorrupt, f.Name)
		}
		if err := extractFile(f, target); err != nil {
			return i, err
		}
		if progress != nil {
			progress(i+1, len(files), f.Name)
		}
	}
	return len(files), nil
}

func extractFile(f *zip.File, target string) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", f.Name, err)
	}

	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, f.Name, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".part-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", f.Name, err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, src); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		// checksum and truncation errors surface here
		return fmt.Errorf("%w: %s: %v", ErrArchiveCorrupt, f.Name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", f.Name, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set mode on %s: %w", f.Name, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to install %s: %w", f.Name, err)
	}
	return nil
}
