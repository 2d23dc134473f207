package index

// Fields selects which inverted indexes a mutation maintains
type Fields uint8

const (
	FieldKey Fields = 1 << iota
	FieldType

	AllFields = FieldKey | FieldType
)

type MutationKind int

const (
	MutationUpsert MutationKind = iota
	MutationRemove
)

func (k MutationKind) String() string {
	if k == MutationRemove {
		return "remove"
	}
	return "upsert"
}

// Mutation is the single change applied to a Document for one file
type Mutation struct {
	Kind       MutationKind
	Key        string
	ObjectType string
	Fields     Fields
}

func Upsert(key, objectType string) Mutation {
	return Mutation{Kind: MutationUpsert, Key: key, ObjectType: objectType, Fields: AllFields}
}

func Remove() Mutation {
	return Mutation{Kind: MutationRemove, Fields: AllFields}
}

func (m Mutation) WithFields(fields Fields) Mutation {
	m.Fields = fields
	return m
}

// entry masks out the fields this mutation does not maintain so Files
// never records a value missing from the matching inverted index
func (m Mutation) entry() FileEntry {
	var e FileEntry
	if m.Fields&FieldKey != 0 {
		e.Key = m.Key
	}
	if m.Fields&FieldType != 0 {
		e.ObjectType = m.ObjectType
	}
	return e
}

// Apply mutates the document and reports whether anything changed.
// Upserting identical fields and removing an absent file are no-ops.
func (d *Document) Apply(name string, m Mutation) bool {
	old, exists := d.Files[name]

	switch m.Kind {
	case MutationRemove:
		if !exists {
			return false
		}
		d.unindex(name, old)
		delete(d.Files, name)

	default:
		entry := m.entry()
		if exists && old == entry {
			return false
		}
		if exists {
			d.unindex(name, old)
		}
		d.Files[name] = entry
		d.index(name, entry)
	}

	d.Metadata.TotalFiles = len(d.Files)
	return true
}

func (d *Document) index(name string, entry FileEntry) {
	if entry.Key != "" {
		d.Search.ByKey[entry.Key] = appendUnique(d.Search.ByKey[entry.Key], name)
	}
	if entry.ObjectType != "" {
		d.Search.ByType[entry.ObjectType] = appendUnique(d.Search.ByType[entry.ObjectType], name)
	}
}

func (d *Document) unindex(name string, entry FileEntry) {
	pruneBucket(d.Search.ByKey, entry.Key, name)
	pruneBucket(d.Search.ByType, entry.ObjectType, name)
}

func appendUnique(bucket []string, name string) []string {
	for _, existing := range bucket {
		if existing == name {
			return bucket
		}
	}
	return append(bucket, name)
}

// pruneBucket removes name from buckets[value], deleting the bucket once empty
func pruneBucket(buckets map[string][]string, value, name string) {
	if value == "" {
		return
	}

	members, ok := buckets[value]
	if !ok {
		return
	}

	kept := members[:0]
	for _, member := range members {
		if member != name {
			kept = append(kept, member)
		}
	}

	if len(kept) == 0 {
		delete(buckets, value)
		return
	}
	buckets[value] = kept
}
