package provision

// Kind is the type of a ledger entry
type Kind string

const (
	KindBridge    Kind = "bridge"
	KindContainer Kind = "container"
	// KindVeth entries are named after the root namespace end of the pair
	KindVeth Kind = "veth"
)

// Entry records one created resource
type Entry struct {
	Kind Kind
	Name string
}

// Ledger is the append-only creation record rollback walks in reverse.
// An entry is appended as soon as its create call returns, before it is
// configured, so a half-configured resource is still unwound.
type Ledger struct {
	entries []Entry
}

// Append records a created resource
func (l *Ledger) Append(kind Kind, name string) {
	l.entries = append(l.entries, Entry{Kind: kind, Name: name})
}

// Entries returns a copy of the record in creation order
func (l *Ledger) Entries() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of entries
func (l *Ledger) Len() int {
	return len(l.entries)
}
