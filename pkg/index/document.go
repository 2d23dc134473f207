package index

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/beam-cloud/conceptstore/pkg/types"
)

// CurrentVersion is written to metadata.version on every commit
const CurrentVersion = "2.0"

// Format records which on-disk shape a Document was parsed from
type Format int

const (
	FormatCurrent Format = iota
	// FormatLegacy is the flat {"<file>": "<key>"} shape
	FormatLegacy
)

func (f Format) String() string {
	if f == FormatLegacy {
		return "legacy"
	}
	return "current"
}

type Metadata struct {
	LastUpdated time.Time `json:"lastUpdated"`
	TotalFiles  int       `json:"totalFiles"`
	Version     string    `json:"version"`
}

// FileEntry holds the fields extracted from one object blob
type FileEntry struct {
	Key        string `json:"key"`
	ObjectType string `json:"objectType"`
}

// Search holds the inverted indexes derived from Document.Files
type Search struct {
	ByKey  map[string][]string `json:"byKey"`
	ByType map[string][]string `json:"byType"`
}

// Document is one directory's index. Files is authoritative; Search is
// kept exactly consistent with it and never holds an empty bucket.
type Document struct {
	Metadata Metadata             `json:"metadata"`
	Files    map[string]FileEntry `json:"files"`
	Search   Search               `json:"search"`

	Format Format `json:"-"`
}

func NewDocument() *Document {
	return &Document{
		Metadata: Metadata{Version: CurrentVersion},
		Files:    make(map[string]FileEntry),
		Search: Search{
			ByKey:  make(map[string][]string),
			ByType: make(map[string][]string),
		},
	}
}

type wireMetadata struct {
	LastUpdated string `json:"lastUpdated"`
	TotalFiles  int    `json:"totalFiles"`
	Version     string `json:"version"`
}

type wireDocument struct {
	Metadata *wireMetadata        `json:"metadata"`
	Files    map[string]FileEntry `json:"files"`
}

// Parse decodes an index blob. A JSON value that is not an object yields
// an empty Document; invalid JSON fails with types.ErrMalformedPayload.
// Legacy flat documents are migrated in memory and tagged FormatLegacy.
// The stored search section is ignored and rederived from files.
func Parse(raw []byte) (*Document, error) {
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: index is not valid JSON", types.ErrMalformedPayload)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil || len(top) == 0 {
		return NewDocument(), nil
	}

	_, hasMetadata := top["metadata"]
	_, hasFiles := top["files"]
	_, hasSearch := top["search"]
	if !hasMetadata && !hasFiles && !hasSearch {
		return parseLegacy(top), nil
	}

	var wire wireDocument
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
	}

	doc := NewDocument()
	for name, entry := range wire.Files {
		doc.Files[name] = entry
	}

	if wire.Metadata != nil {
		if wire.Metadata.Version != "" {
			doc.Metadata.Version = wire.Metadata.Version
		}
		if ts, err := time.Parse(time.RFC3339Nano, wire.Metadata.LastUpdated); err == nil {
			doc.Metadata.LastUpdated = ts
		}
	}

	doc.reindex()
	doc.Metadata.TotalFiles = len(doc.Files)
	return doc, nil
}

func parseLegacy(top map[string]json.RawMessage) *Document {
	doc := NewDocument()
	doc.Format = FormatLegacy

	names := make([]string, 0, len(top))
	for name := range top {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		var key string
		if err := json.Unmarshal(top[name], &key); err != nil {
			key = ""
		}
		doc.Apply(name, Upsert(key, "").WithFields(FieldKey))
	}

	doc.Metadata.TotalFiles = len(doc.Files)
	return doc
}

// reindex rebuilds Search from Files
func (d *Document) reindex() {
	d.Search.ByKey = make(map[string][]string)
	d.Search.ByType = make(map[string][]string)

	for _, name := range d.FileNames() {
		d.index(name, d.Files[name])
	}
}

// Marshal renders the current shape; legacy documents are always written
// back in the current shape.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Touch finalizes metadata before a commit
func (d *Document) Touch(now time.Time) {
	d.Metadata.TotalFiles = len(d.Files)
	d.Metadata.LastUpdated = now.UTC()
	d.Metadata.Version = CurrentVersion
}

// FileNames returns the indexed file names in sorted order
func (d *Document) FileNames() []string {
	names := make([]string, 0, len(d.Files))
	for name := range d.Files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Document) FilesByKey(key string) []string {
	return append([]string(nil), d.Search.ByKey[key]...)
}

func (d *Document) FilesByType(objectType string) []string {
	return append([]string(nil), d.Search.ByType[objectType]...)
}

// KeySet returns every non-empty key recorded in the document
func (d *Document) KeySet() map[string]struct{} {
	keys := make(map[string]struct{}, len(d.Files))
	for _, entry := range d.Files {
		if entry.Key != "" {
			keys[entry.Key] = struct{}{}
		}
	}
	return keys
}

// TypeCounts returns the size of every byType bucket
func (d *Document) TypeCounts() map[string]int {
	counts := make(map[string]int, len(d.Search.ByType))
	for objectType, names := range d.Search.ByType {
		counts[objectType] = len(names)
	}
	return counts
}
