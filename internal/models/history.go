package models

import "time"

// BootRecord is the outcome of one run of the startup sequence
type BootRecord struct {
	Seq        uint64      `json:"seq"`
	RunID      string      `json:"run_id"`
	Version    string      `json:"version"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Update     UpdatePhase `json:"update"`
	Media      SyncPhase   `json:"media"`
	Skipped    []string    `json:"skipped,omitempty"`
}

// SyncRecord is the outcome of one media sync
type SyncRecord struct {
	Seq        uint64    `json:"seq"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Phase      SyncPhase `json:"phase"`
	AssetID    int64     `json:"asset_id,omitempty"`
	Version    string    `json:"version,omitempty"`
	Files      int       `json:"files"`
	Bytes      int64     `json:"bytes"`
	Error      string    `json:"error,omitempty"`
}
