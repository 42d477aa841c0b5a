package mediasync

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/amaumene/grainlink/internal/models"
)

// LoadMetadata reads the installed archive metadata. A missing file yields
// zero metadata and no error.
func LoadMetadata(path string) (models.MediaMetadata, error) {
	var meta models.MediaMetadata
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return meta, nil
		}
		return meta, fmt.Errorf("failed to read metadata: %w", err)
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return models.MediaMetadata{}, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return meta, nil
}

// SaveMetadata writes metadata atomically (temp file + rename)
func SaveMetadata(path string, meta models.MediaMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace metadata: %w", err)
	}
	return nil
}
