package models

import "time"

// MediaMetadata identifies the media archive currently installed in the media directory.
// It is persisted as JSON next to the media directory.
type MediaMetadata struct {
	AssetID    int64     `json:"id"`
	UpdatedAt  time.Time `json:"updated_at"`
	VersionTag string    `json:"version"`
}

// IsZero reports whether nothing is known about the installed archive
func (m MediaMetadata) IsZero() bool {
	return m.AssetID == 0 && m.UpdatedAt.IsZero() && m.VersionTag == ""
}
