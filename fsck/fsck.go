// Package fsck implements the reachability/integrity walk: starting
// from a set of tips, it interns every object the store holds, marks
// what a DFS from the tips reaches, and reports the same family of
// diagnostics git's original connectivity checker did — missing and
// broken-link references, dangling and unreachable objects, root
// commits, and tree-ordering violations.
package fsck

import (
	"errors"
	"fmt"

	"github.com/nivl-forge/gitcore/object"
	"github.com/nivl-forge/gitcore/odb"
	"github.com/nivl-forge/gitcore/oid"
	"go.uber.org/multierr"
)

// Kind labels the family a Issue belongs to.
type Kind string

const (
	Missing          Kind = "missing"
	BrokenLink       Kind = "broken link"
	Dangling         Kind = "dangling"
	Unreachable      Kind = "unreachable"
	Root             Kind = "root"
	UnorderedTree    Kind = "not properly sorted"
	DuplicateTree    Kind = "has duplicate entries"
	NonStandardMode  Kind = "nonstandard mode"
)

// hardKinds are aggregated into Check's returned error; the rest are
// informational and only appear in the Report.
var hardKinds = map[Kind]bool{
	Missing:       true,
	BrokenLink:    true,
	UnorderedTree: true,
	DuplicateTree: true,
}

// Issue is one diagnostic line. Target is populated for reference
// diagnostics (the missing or unparseable reference target) and for
// --tags reports (the tagged object), and left zero otherwise.
type Issue struct {
	Kind   Kind
	Object oid.Oid
	Target oid.Oid
	Detail string
}

func (i Issue) String() string {
	if i.Target != (oid.Oid{}) {
		return fmt.Sprintf("%s %s -> %s: %s", i.Kind, i.Object, i.Target, i.Detail)
	}
	return fmt.Sprintf("%s %s: %s", i.Kind, i.Object, i.Detail)
}

// Options mirrors fsck-cache's --tags/--unreachable/--standalone
// toggles.
type Options struct {
	// Tips seeds the reachability DFS. The caller resolves these from
	// whatever reference set it cares about (all refs, a single
	// branch, an explicit list of commits on the command line).
	Tips []oid.Oid
	// IncludeUnreachable reports every parsed object the DFS from Tips
	// never reached, not just dangling ones.
	IncludeUnreachable bool
	// IncludeTags reports every tag object's target, the way --tags
	// does, instead of only checking that it resolves.
	IncludeTags bool
	// Standalone skips the loose+pack existence check for a reference
	// target before calling it missing — used when checking an object
	// directory in isolation, with alternates intentionally unplugged.
	Standalone bool
}

// Report collects every diagnostic produced by a single Check.
type Report struct {
	Issues []Issue
}

// Check walks every object the store physically holds, interns it
// into a fresh table, marks reachability from opts.Tips, and returns
// every diagnostic found. The returned error aggregates one entry per
// hard failure (missing reference, broken link, tree-ordering
// violation) via multierr, so a single damaged object never stops the
// scan from covering the rest of the store; a nil error means no hard
// failures were found, even if Report.Issues carries soft ones.
func Check(store *odb.Store, opts Options) (Report, error) {
	table := object.NewTable()
	var report Report
	var errs error

	walkErr := store.WalkIDs(func(id oid.Oid) error {
		o, err := store.Open(id)
		if err != nil {
			report.Issues = append(report.Issues, Issue{Kind: Missing, Object: id, Detail: err.Error()})
			errs = multierr.Append(errs, err)
			return nil
		}
		table.Intern(o)
		return nil
	})
	if walkErr != nil {
		return report, walkErr
	}

	for _, tip := range opts.Tips {
		table.MarkUsed(tip)
	}

	table.WalkIDs(func(id oid.Oid, r *object.Record) {
		if !r.Parsed {
			return
		}

		checkEdges(store, table, &report, &errs, id, r, opts)
		checkStructure(&report, &errs, id, r)

		if r.Type == object.TypeCommit && r.Object != nil {
			if c, err := r.Object.AsCommit(); err == nil && c.IsRoot() {
				report.Issues = append(report.Issues, Issue{Kind: Root, Object: id})
			}
		}
		if r.Type == object.TypeTag && opts.IncludeTags && r.Object != nil {
			if tag, err := r.Object.AsTag(); err == nil {
				report.Issues = append(report.Issues, Issue{
					Kind:   "tagged",
					Object: id,
					Target: tag.TargetID,
					Detail: tag.TargetType.String(),
				})
			}
		}

		for _, e := range r.Edges {
			table.MarkUsed(e)
		}
	})

	reachable := reachableFrom(table, opts.Tips)

	table.WalkIDs(func(id oid.Oid, r *object.Record) {
		if !r.Parsed {
			return
		}
		if !r.Used {
			report.Issues = append(report.Issues, Issue{Kind: Dangling, Object: id})
			return
		}
		if opts.IncludeUnreachable && !reachable[id] {
			report.Issues = append(report.Issues, Issue{Kind: Unreachable, Object: id})
		}
	})

	return report, errs
}

// checkEdges resolves every outgoing reference of r, reporting Missing
// when the target isn't present anywhere and BrokenLink when it's
// present but fails to parse as an object.
func checkEdges(store *odb.Store, table *object.Table, report *Report, errs *error, from oid.Oid, r *object.Record, opts Options) {
	for _, target := range r.Edges {
		if existing := table.Get(target); existing.Parsed {
			if existing.BadEdge != nil {
				issue := Issue{Kind: BrokenLink, Object: from, Target: target, Detail: existing.BadEdge.Error()}
				report.Issues = append(report.Issues, issue)
				*errs = multierr.Append(*errs, errors.New(issue.String()))
			}
			continue
		}

		if opts.Standalone || !store.Exists(target) {
			issue := Issue{Kind: Missing, Object: from, Target: target}
			report.Issues = append(report.Issues, issue)
			*errs = multierr.Append(*errs, errors.New(issue.String()))
			continue
		}

		o, err := store.Open(target)
		if err != nil {
			issue := Issue{Kind: BrokenLink, Object: from, Target: target, Detail: err.Error()}
			report.Issues = append(report.Issues, issue)
			*errs = multierr.Append(*errs, errors.New(issue.String()))
			continue
		}
		rec := table.Intern(o)
		if rec.BadEdge != nil {
			issue := Issue{Kind: BrokenLink, Object: from, Target: target, Detail: rec.BadEdge.Error()}
			report.Issues = append(report.Issues, issue)
			*errs = multierr.Append(*errs, errors.New(issue.String()))
		}
	}
}

// checkStructure runs the tree-ordering validation against r, the
// fsck analogue of fsck_tree's verify_ordered pass.
func checkStructure(report *Report, errs *error, id oid.Oid, r *object.Record) {
	if r.Type != object.TypeTree || r.Object == nil {
		return
	}
	tree, err := r.Object.AsTree()
	if err != nil {
		return
	}
	if vErr := tree.Validate(); vErr != nil {
		kind := UnorderedTree
		if errors.Is(vErr, object.ErrTreeDuplicate) {
			kind = DuplicateTree
		}
		issue := Issue{Kind: kind, Object: id, Detail: vErr.Error()}
		report.Issues = append(report.Issues, issue)
		*errs = multierr.Append(*errs, errors.New(issue.String()))
		return
	}
	for _, e := range tree.Entries() {
		if !e.Mode.IsValid() {
			report.Issues = append(report.Issues, Issue{
				Kind:   NonStandardMode,
				Object: id,
				Detail: fmt.Sprintf("entry %q has mode %06o", e.Name, uint32(e.Mode)),
			})
		}
	}
}

// reachableFrom runs a DFS over the interning table's edge graph
// starting at tips, returning the set of digests it visits. Cycles
// (corrupt input, tag-of-tag chains) are handled by the visited set.
func reachableFrom(table *object.Table, tips []oid.Oid) map[oid.Oid]bool {
	visited := make(map[oid.Oid]bool, len(tips))
	var stack []oid.Oid
	stack = append(stack, tips...)

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[id] {
			continue
		}
		visited[id] = true

		r := table.Get(id)
		if !r.Parsed {
			continue
		}
		stack = append(stack, r.Edges...)
	}
	return visited
}
