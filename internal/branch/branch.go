// Package branch implements the branch update state machine: the branch
// record with its embedded intention log, the UpdateState that materialises
// pending entries into persisted L1s, and the optimistic collapse protocol
// that rewrites the log back to a single saved pointer.
package branch

import (
	"context"
	"fmt"

	"github.com/norvik/vatn/internal/id"
	"github.com/norvik/vatn/internal/store"
	"github.com/norvik/vatn/internal/tree"
)

// Branch is the mutable record of a branch pointer. The commit log is a
// prefix of Saved entries followed by pending Unsaved intentions; tree is
// the frontier after all pending deltas.
type Branch struct {
	id       id.ID
	name     string
	metadata id.ID
	tree     tree.IdMap
	commits  []CommitEntry
	dt       int64
}

// NewBranch creates an empty branch. Its single commit entry is the saved
// empty anchor.
func NewBranch(name string) *Branch {
	return &Branch{
		id:      id.BuildString(name),
		name:    name,
		tree:    tree.L1Empty().Map(),
		commits: []CommitEntry{NewSavedEntry(id.Empty, id.Empty, id.Empty)},
		dt:      nowMicros(),
	}
}

// NewBranchAtL1 creates a branch targeting an already persisted L1.
func NewBranchAtL1(name string, target tree.L1) *Branch {
	return &Branch{
		id:      id.BuildString(name),
		name:    name,
		tree:    target.Map(),
		commits: []CommitEntry{NewSavedEntry(target.ID(), target.MetadataID(), target.ParentID())},
		dt:      nowMicros(),
	}
}

// ID implements Ref. Branch identity derives from the name.
func (b *Branch) ID() id.ID { return b.id }

// Name implements Ref.
func (b *Branch) Name() string { return b.name }

// DT implements Ref.
func (b *Branch) DT() int64 { return b.dt }

// Tree returns the head frontier, pending deltas included.
func (b *Branch) Tree() tree.IdMap { return b.tree }

// Commits returns a copy of the commit log.
func (b *Branch) Commits() []CommitEntry {
	out := make([]CommitEntry, len(b.commits))
	copy(out, b.commits)
	return out
}

// Tail returns the last commit entry.
func (b *Branch) Tail() CommitEntry {
	return b.commits[len(b.commits)-1]
}

// LastDefinedParent returns the most recent Saved anchor, reachable without
// replaying the log. Garbage collection keys off this.
func (b *Branch) LastDefinedParent() (id.ID, error) {
	for i := len(b.commits) - 1; i >= 0; i-- {
		if b.commits[i].Saved() {
			return b.commits[i].ID(), nil
		}
	}
	return id.Empty, fmt.Errorf("branch %q has no saved commit entry: %w", b.name, tree.ErrCorruption)
}

// WithUnsavedCommit returns the branch as it will look with an intention
// staged: entry appended, deltas applied to the frontier.
func (b *Branch) WithUnsavedCommit(entry CommitEntry) *Branch {
	t := b.tree
	for _, d := range entry.Deltas() {
		t = d.Apply(t)
	}
	commits := make([]CommitEntry, 0, len(b.commits)+1)
	commits = append(commits, b.commits...)
	commits = append(commits, entry)
	return &Branch{
		id:       b.id,
		name:     b.name,
		metadata: b.metadata,
		tree:     t,
		commits:  commits,
		dt:       nowMicros(),
	}
}

// ToEntity implements Ref.
func (b *Branch) ToEntity() store.Entity {
	commits := make([]store.Entity, len(b.commits))
	for i, c := range b.commits {
		commits[i] = c.toEntity()
	}
	return store.OfMap(map[string]store.Entity{
		"type":      store.OfString(refTypeBranch),
		"name":      store.OfString(b.name),
		"dt":        store.OfNumber(b.dt),
		"metadata":  store.OfBinary(b.metadata[:]),
		"tree":      b.tree.ToEntity(),
		attrCommits: store.OfList(commits...),
	})
}

// SaveOp returns the save operation persisting this branch record.
func (b *Branch) SaveOp() store.SaveOp {
	return store.SaveOp{Type: store.ValueTypeRef, ID: b.id, Entity: b.ToEntity()}
}

// BranchFromEntity decodes a branch record, deriving its id from the name,
// and checks its invariants: the log is non-empty, its first entry is saved
// and a saved prefix precedes any unsaved suffix.
func BranchFromEntity(e store.Entity) (*Branch, error) {
	name, dt, err := refHeader(e)
	if err != nil {
		return nil, err
	}
	metadata, err := idAttr(e, "metadata")
	if err != nil {
		return nil, fmt.Errorf("branch %q: %w", name, err)
	}
	te, ok := e.Attr("tree")
	if !ok {
		return nil, fmt.Errorf("branch %q missing tree", name)
	}
	t, err := tree.IdMapFromEntity(te, tree.L1Size)
	if err != nil {
		return nil, fmt.Errorf("branch %q tree: %w", name, err)
	}
	ce, ok := e.Attr(attrCommits)
	if !ok {
		return nil, fmt.Errorf("branch %q missing commits", name)
	}
	clist, ok := ce.AsList()
	if !ok {
		return nil, fmt.Errorf("branch %q commits is not a list", name)
	}
	if len(clist) == 0 {
		return nil, fmt.Errorf("branch %q has an empty commit log: %w", name, tree.ErrCorruption)
	}
	commits := make([]CommitEntry, len(clist))
	inUnsaved := false
	for i, el := range clist {
		commits[i], err = entryFromEntity(el)
		if err != nil {
			return nil, fmt.Errorf("branch %q commit %d: %w", name, i, err)
		}
		if commits[i].Saved() {
			if inUnsaved {
				return nil, fmt.Errorf("branch %q: saved entry %d follows unsaved: %w", name, i, tree.ErrCorruption)
			}
		} else {
			inUnsaved = true
		}
	}
	if !commits[0].Saved() {
		return nil, fmt.Errorf("branch %q: first commit entry is unsaved: %w", name, tree.ErrCorruption)
	}
	return &Branch{
		id:       id.BuildString(name),
		name:     name,
		metadata: metadata,
		tree:     t,
		commits:  commits,
		dt:       dt,
	}, nil
}

// GetUpdateState computes the work needed to bring the branch record to the
// Clean state: which L1s to persist, which log positions to delete and
// which tail to rewrite.
func (b *Branch) GetUpdateState(ctx context.Context, s store.Store) (*UpdateState, error) {
	var (
		unsaved      []CommitEntry
		lastSaved    CommitEntry
		haveSaved    bool
		unsavedStart int
	)
	for _, c := range b.commits {
		if c.Saved() {
			if len(unsaved) > 0 {
				return nil, fmt.Errorf("branch %q: saved entry inside unsaved suffix: %w", b.name, tree.ErrCorruption)
			}
			lastSaved = c
			haveSaved = true
			unsavedStart++
		} else {
			unsaved = append(unsaved, c)
		}
	}
	if !haveSaved {
		return nil, fmt.Errorf("branch %q has no saved anchor: %w", b.name, tree.ErrCorruption)
	}

	// Only the tail position survives the collapse.
	var deletes []deleteEntry
	for i := 0; i < len(b.commits)-1; i++ {
		deletes = append(deletes, deleteEntry{position: i, id: b.commits[i].ID()})
	}

	lastSavedL1, err := tree.LoadL1(ctx, s, lastSaved.ID())
	if err != nil {
		return nil, err
	}

	if len(unsaved) == 0 {
		return newUpdateState(nil, deletes, lastSavedL1, 0, lastSavedL1.ID(), b)
	}

	// Rewind the frontier to the last saved state.
	t := b.tree
	for i := len(unsaved) - 1; i >= 0; i-- {
		for _, d := range unsaved[i].Deltas() {
			t = d.Reverse(t)
		}
	}
	if !t.Equals(lastSavedL1.Map()) {
		return nil, fmt.Errorf("branch %q: rewound frontier does not match saved anchor %s: %w",
			b.name, lastSavedL1.ID(), tree.ErrCorruption)
	}

	// Re-apply forward, deriving one L1 per intention.
	lastL1 := lastSavedL1
	lastPos := unsavedStart
	var lastID id.ID
	var saves []store.SaveOp
	unsavedL1s := make(map[id.ID]tree.L1)
	for i, c := range unsaved {
		for _, d := range c.Deltas() {
			t = d.Apply(t)
		}
		unsavedL1s[lastL1.ID()] = lastL1
		next := lastL1.GetChildWithTree(c.CommitID(), t, c.KeyMutations())
		next, err = next.WithCheckpointAsNecessary(ctx, s, unsavedL1s)
		if err != nil {
			return nil, err
		}
		lastL1 = next
		saves = append(saves, lastL1.SaveOp())
		lastID = c.ID()
		if i < len(unsaved)-1 {
			lastPos++
		}
	}

	if !t.Equals(b.tree) {
		return nil, fmt.Errorf("branch %q: re-applied frontier does not match record: %w", b.name, tree.ErrCorruption)
	}
	return newUpdateState(saves, deletes, lastL1, lastPos, lastID, b)
}
