package index

import (
	"path"
	"strings"
)

const (
	ObjectSuffix        = ".json"
	DefaultIndexName    = "index"
	ConfigFileName      = "config.json"
	PlaceholderFileName = ".gitkeep"
)

// SplitPath returns the directory ("" for the root) and file name of an
// object path
func SplitPath(p string) (dir, name string) {
	p = strings.Trim(p, "/")
	dir = path.Dir(p)
	if dir == "." {
		dir = ""
	}
	return dir, path.Base(p)
}

// IndexPath is the location of the named index inside dir
func IndexPath(dir, indexName string) string {
	if indexName == "" {
		indexName = DefaultIndexName
	}
	dir = strings.Trim(dir, "/")
	if dir == "" || dir == "." {
		return indexName + ObjectSuffix
	}
	return path.Join(dir, indexName+ObjectSuffix)
}

// IndexPathFor is the index colocated with the object's own directory
func IndexPathFor(objectPath, indexName string) string {
	dir, _ := SplitPath(objectPath)
	return IndexPath(dir, indexName)
}

// IsReserved reports whether a file name is an index, config or
// placeholder file rather than an object
func IsReserved(name, indexName string) bool {
	if indexName == "" {
		indexName = DefaultIndexName
	}
	switch name {
	case DefaultIndexName + ObjectSuffix, ConfigFileName, indexName + ObjectSuffix, PlaceholderFileName:
		return true
	}
	return strings.HasPrefix(name, ".")
}

// IsObjectFile reports whether name is an indexable object file
func IsObjectFile(name, indexName string) bool {
	return strings.HasSuffix(name, ObjectSuffix) && !IsReserved(name, indexName)
}

// FieldsFor picks the inverted indexes an index maintains. The default
// index tracks key and type; a per-type index only tracks key.
func FieldsFor(indexName string) Fields {
	if indexName == "" || indexName == DefaultIndexName {
		return AllFields
	}
	return FieldKey
}
