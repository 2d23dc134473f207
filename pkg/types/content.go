package types

import "time"

// Blob is one stored object: its path, raw bytes and the revision token
// that must accompany the next write to the same path.
type Blob struct {
	Path     string `json:"path"`
	Content  []byte `json:"-"`
	Revision string `json:"sha"`
}

// TreeEntryKind distinguishes files from directories in a tree listing
type TreeEntryKind string

const (
	TreeEntryBlob TreeEntryKind = "blob"
	TreeEntryTree TreeEntryKind = "tree"
)

type TreeEntry struct {
	Path     string        `json:"path"`
	Kind     TreeEntryKind `json:"type"`
	Revision string        `json:"sha,omitempty"`
}

type SearchItem struct {
	Path  string  `json:"path"`
	Score float64 `json:"score"`
}

type SearchResult struct {
	TotalCount int          `json:"total_count"`
	Items      []SearchItem `json:"items"`
}

// RebuildRun is one recorded full index rebuild
type RebuildRun struct {
	Id             uint           `db:"id" json:"-"`
	ExternalId     string         `db:"external_id" json:"id"`
	Owner          string         `db:"owner" json:"owner"`
	Repo           string         `db:"repo" json:"repo"`
	Ref            string         `db:"ref" json:"ref"`
	IndexPath      string         `db:"index_path" json:"index_path"`
	FilesProcessed int            `db:"files_processed" json:"files_processed"`
	ErrorCount     int            `db:"error_count" json:"error_count"`
	ByTypeCounts   map[string]int `db:"by_type_counts" json:"by_type_counts"`
	RequestedBy    string         `db:"requested_by" json:"requested_by"`
	StartedAt      time.Time      `db:"started_at" json:"started_at"`
	FinishedAt     time.Time      `db:"finished_at" json:"finished_at"`
}
