package playback

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

var (
	videoExts = map[string]bool{".mp4": true, ".m4v": true, ".mov": true, ".webm": true, ".mkv": true, ".avi": true}
	imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true}
)

// IsImage reports whether path is a still image
func IsImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// IsMedia reports whether path is a playable video or image
func IsMedia(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return videoExts[ext] || imageExts[ext]
}

// ScanPlaylist lists the media files under dir, sorted by relative path.
// Hidden files and directories are skipped, which also excludes files still
// being extracted.
func ScanPlaylist(dir string) ([]string, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve media directory: %w", err)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && IsMedia(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan media directory: %w", err)
	}

	sort.Strings(files)
	return files, nil
}
