package model

import "time"

// ProvenanceEntry records that a source file has been fully staged.
// Entries are append-only; a file name with at least one entry is never
// staged again.
type ProvenanceEntry struct {
	FileName   string    `json:"file_name"`
	IngestedAt time.Time `json:"ingested_at"`
}
