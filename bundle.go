package bundlevalidator

// Bundle is a parsed FHIR Bundle: an ordered collection of independently
// validatable entries.
type Bundle struct {
	// ID is Bundle.id, if present
	ID string

	// Type is Bundle.type (document, collection, transaction...)
	Type string

	// Entries in document order
	Entries []Entry
}

// Len returns the number of entries in the bundle.
func (b *Bundle) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Entries)
}

// Entry is one sub-record of a bundle. Entries never share state; each one is
// validated by exactly one job.
type Entry struct {
	// Index is the position of the entry in the bundle
	Index int

	// Ref is the identity of the entry (type, id, fullUrl)
	Ref EntryRef

	// Resource is the decoded entry.resource, nil when the entry has none
	Resource map[string]any

	// Profiles are the canonical URLs declared in resource.meta.profile, in order
	Profiles []string
}

// HasProfiles returns true if the entry declares at least one profile.
func (e Entry) HasProfiles() bool {
	return len(e.Profiles) > 0
}
