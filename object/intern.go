package object

import (
	"sort"
	"sync"

	"github.com/nivl-forge/gitcore/oid"
)

// Record is the interning table's entry for a single digest: whether
// it has been parsed, whether anything has referenced it, and the list
// of digests it in turn points to (its outgoing edges in the object
// graph walked by package fsck).
//
// Edges are stored as Oid values rather than pointers to other Records.
// Storing identifiers instead of owning pointers makes parse order
// irrelevant and lets the graph contain cycles (corrupted input,
// tag-of-tag chains) without any reference-count bookkeeping.
type Record struct {
	ID      oid.Oid
	Type    Type
	Parsed  bool
	Used    bool
	Object  *Object
	Edges   []oid.Oid
	BadEdge error
}

// Table is a process-wide interning table mapping digest to Record. A
// single Table may be shared by every reader of a repository; the zero
// value is ready to use.
//
// Early object-database implementations kept this as an
// insertion-sorted array searched by binary search, matching a
// fixed-capacity arena. A Go map gives the same "digest -> one record"
// semantics in O(1) instead of O(log n); WalkIDs below returns keys in
// sorted order when callers need a stable enumeration (e.g. fsck's
// dangling-object report), so nothing observes the difference. See
// DESIGN.md for the full rationale.
type Table struct {
	mu      sync.RWMutex
	records map[oid.Oid]*Record
}

// NewTable returns an empty interning table.
func NewTable() *Table {
	return &Table{records: make(map[oid.Oid]*Record)}
}

// Get returns the record for id, creating and inserting an empty,
// unparsed one if none exists yet.
func (t *Table) Get(id oid.Oid) *Record {
	t.mu.RLock()
	r, ok := t.records[id]
	t.mu.RUnlock()
	if ok {
		return r
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok = t.records[id]; ok {
		return r
	}
	r = &Record{ID: id}
	if t.records == nil {
		t.records = make(map[oid.Oid]*Record)
	}
	t.records[id] = r
	return r
}

// Intern stores o under its own digest, parsing it into its structured
// variant and recording its outgoing edges. Calling Intern twice for
// the same digest is a no-op on the second call: objects are immutable
// once written, so the first parse stands.
func (t *Table) Intern(o *Object) *Record {
	r := t.Get(o.ID())
	t.mu.Lock()
	defer t.mu.Unlock()
	if r.Parsed {
		return r
	}

	r.Type = o.Type()
	r.Object = o
	r.Parsed = true
	r.Edges, r.BadEdge = edgesOf(o)
	return r
}

// MarkUsed flags id as referenced. fsck calls it once per tip and once
// per outgoing edge of every parsed object, and reports a parsed
// record that never got the flag as dangling. The flag says nothing
// about reachability from the tips, which fsck computes separately.
func (t *Table) MarkUsed(id oid.Oid) {
	r := t.Get(id)
	t.mu.Lock()
	r.Used = true
	t.mu.Unlock()
}

// WalkIDs calls f once for every digest currently interned, in
// ascending digest order.
func (t *Table) WalkIDs(f func(id oid.Oid, r *Record)) {
	t.mu.RLock()
	ids := make([]oid.Oid, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return oid.Less(ids[i], ids[j]) })
	for _, id := range ids {
		t.mu.RLock()
		r := t.records[id]
		t.mu.RUnlock()
		f(id, r)
	}
}

// edgesOf parses o according to its type and returns the digests it
// references directly (a commit's tree and parents, a tree's entries,
// a tag's target). Blobs have no edges. A parse failure is returned as
// the second value, not as an error from edgesOf itself, so Intern can
// keep it as the record's BadEdge and fsck can report it as a "broken
// link" rather than aborting the whole walk.
func edgesOf(o *Object) ([]oid.Oid, error) {
	switch o.Type() {
	case TypeBlob:
		return nil, nil
	case TypeTree:
		tree, err := o.AsTree()
		if err != nil {
			return nil, err
		}
		edges := make([]oid.Oid, 0, len(tree.Entries()))
		for _, e := range tree.Entries() {
			edges = append(edges, e.ID)
		}
		return edges, nil
	case TypeCommit:
		c, err := o.AsCommit()
		if err != nil {
			return nil, err
		}
		edges := append([]oid.Oid{c.TreeID}, c.ParentIDs...)
		return edges, nil
	case TypeTag:
		tag, err := o.AsTag()
		if err != nil {
			return nil, err
		}
		return []oid.Oid{tag.TargetID}, nil
	default:
		return nil, ErrUnknownType
	}
}
