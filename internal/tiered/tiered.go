// Package tiered is the user-facing surface of the version store. It stages
// commits as intentions on branch records, drives the collapse, and reads
// values through the tree tiers.
package tiered

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/norvik/vatn/internal/branch"
	"github.com/norvik/vatn/internal/config"
	"github.com/norvik/vatn/internal/id"
	"github.com/norvik/vatn/internal/keys"
	"github.com/norvik/vatn/internal/store"
	"github.com/norvik/vatn/internal/tree"
	"github.com/norvik/vatn/internal/values"
)

// ErrKeyNotFound reports a key with no value on the requested reference.
var ErrKeyNotFound = errors.New("key not found")

// RefScanner is the optional listing capability of a store backend.
type RefScanner interface {
	ScanRefs(ctx context.Context) ([]store.Entity, error)
}

// Operation is one key change inside a commit. A nil Value removes the key.
type Operation struct {
	Key   keys.Key
	Value *values.Value
}

// VersionStore ties the branch state machine to a store backend.
type VersionStore struct {
	s    store.Store
	exec branch.Executor
	cfg  config.Config
	log  *zap.Logger
}

// New creates a version store. A nil logger disables logging.
func New(s store.Store, cfg config.Config, log *zap.Logger) *VersionStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &VersionStore{s: s, exec: branch.GoExecutor{}, cfg: cfg, log: log}
}

// WithExecutor replaces the executor driving background collapses.
func (v *VersionStore) WithExecutor(exec branch.Executor) *VersionStore {
	v.exec = exec
	return v
}

// CreateBranch creates an empty branch.
func (v *VersionStore) CreateBranch(ctx context.Context, name string) (*branch.Branch, error) {
	b := branch.NewBranch(name)
	if err := v.s.Save(ctx, []store.SaveOp{b.SaveOp()}); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("branch %q already exists", name)
		}
		return nil, err
	}
	v.log.Info("created branch", zap.String("name", name))
	return b, nil
}

// CreateBranchAt creates a branch targeting an already persisted L1.
func (v *VersionStore) CreateBranchAt(ctx context.Context, name string, l1ID id.ID) (*branch.Branch, error) {
	target, err := tree.LoadL1(ctx, v.s, l1ID)
	if err != nil {
		return nil, err
	}
	b := branch.NewBranchAtL1(name, target)
	if err := v.s.Save(ctx, []store.SaveOp{b.SaveOp()}); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("branch %q already exists", name)
		}
		return nil, err
	}
	return b, nil
}

// CreateTag creates a tag pointing at a persisted L1.
func (v *VersionStore) CreateTag(ctx context.Context, name string, l1ID id.ID) (*branch.Tag, error) {
	if _, err := tree.LoadL1(ctx, v.s, l1ID); err != nil {
		return nil, err
	}
	t := branch.NewTag(name, l1ID)
	if err := v.s.Save(ctx, []store.SaveOp{{Type: store.ValueTypeRef, ID: t.ID(), Entity: t.ToEntity()}}); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("tag %q already exists", name)
		}
		return nil, err
	}
	return t, nil
}

// DeleteRef removes a branch or tag by name.
func (v *VersionStore) DeleteRef(ctx context.Context, name string) error {
	ref, err := branch.LoadRef(ctx, v.s, id.BuildString(name))
	if err != nil {
		return err
	}
	return v.s.Delete(ctx, store.ValueTypeRef, ref.ID())
}

// ListRefs returns all references, when the backend can enumerate them.
func (v *VersionStore) ListRefs(ctx context.Context) ([]branch.Ref, error) {
	sc, ok := v.s.(RefScanner)
	if !ok {
		return nil, fmt.Errorf("store backend cannot enumerate references")
	}
	ents, err := sc.ScanRefs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]branch.Ref, 0, len(ents))
	for _, e := range ents {
		ref, err := branch.RefFromEntity(e)
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}

// Commit applies key operations to a branch as one commit: payloads and the
// derived L2/L3 tiers persist eagerly, the commit itself is staged as an
// unsaved intention and then collapsed.
func (v *VersionStore) Commit(ctx context.Context, branchName string, meta tree.CommitMeta, ops []Operation) (tree.L1, error) {
	if len(ops) == 0 {
		return tree.L1{}, fmt.Errorf("commit needs at least one operation")
	}

	for attempt := 0; attempt < v.cfg.P2CommitAttempts; attempt++ {
		b, err := branch.LoadBranch(ctx, v.s, branchName)
		if err != nil {
			return tree.L1{}, err
		}

		entry, saveOps, err := v.buildIntention(ctx, b, meta, ops)
		if err != nil {
			return tree.L1{}, err
		}
		if err := v.s.Save(ctx, saveOps); err != nil {
			return tree.L1{}, err
		}

		update, condition := branch.StageIntention(b, entry)
		e, ok, err := v.s.Update(ctx, store.ValueTypeRef, b.ID(), update, &condition)
		if err != nil {
			return tree.L1{}, err
		}
		if !ok {
			v.log.Debug("commit staging raced, retrying",
				zap.String("branch", branchName), zap.Int("attempt", attempt))
			continue
		}

		nb, err := branch.BranchFromEntity(e)
		if err != nil {
			return tree.L1{}, err
		}
		us, err := nb.GetUpdateState(ctx, v.s)
		if err != nil {
			return tree.L1{}, err
		}
		if err := us.EnsureAvailable(ctx, v.s, v.exec, v.cfg, v.log); err != nil {
			return tree.L1{}, err
		}
		return us.L1()
	}
	return tree.L1{}, fmt.Errorf("unable to stage commit on %q after %d attempts: %w",
		branchName, v.cfg.P2CommitAttempts, branch.ErrRefConflict)
}

// buildIntention computes the new L2/L3 tiers for the operations and the
// unsaved entry describing the frontier change.
func (v *VersionStore) buildIntention(ctx context.Context, b *branch.Branch, meta tree.CommitMeta, ops []Operation) (branch.CommitEntry, []store.SaveOp, error) {
	saveOps := []store.SaveOp{meta.SaveOp()}
	t := b.Tree()
	var deltas []branch.UnsavedDelta
	var muts []keys.Mutation

	for _, op := range ops {
		l1pos := tree.L1Position(op.Key)
		l2pos := tree.L2Position(op.Key)

		l2, err := tree.LoadL2(ctx, v.s, t.Get(l1pos))
		if err != nil {
			return branch.CommitEntry{}, nil, err
		}
		l3, err := tree.LoadL3(ctx, v.s, l2.Get(l2pos))
		if err != nil {
			return branch.CommitEntry{}, nil, err
		}

		var valueID id.ID
		if op.Value != nil {
			valueID = op.Value.ID()
			vop, err := op.Value.SaveOp()
			if err != nil {
				return branch.CommitEntry{}, nil, err
			}
			saveOps = append(saveOps, vop)
			muts = append(muts, keys.NewAddition(op.Key))
		} else {
			muts = append(muts, keys.NewRemoval(op.Key))
		}

		nl3 := l3.With(op.Key, valueID)
		nl2 := l2.WithID(l2pos, nl3.ID())
		if !nl3.ID().IsEmpty() {
			saveOps = append(saveOps, nl3.SaveOp())
		}
		if !nl2.ID().IsEmpty() {
			saveOps = append(saveOps, nl2.SaveOp())
		}

		deltas = append(deltas, branch.UnsavedDelta{Position: l1pos, OldID: t.Get(l1pos), NewID: nl2.ID()})
		t = t.WithID(l1pos, nl2.ID())
	}

	entry, err := branch.NewUnsavedEntry(id.Random(), meta.ID(), deltas, keys.NewMutationList(muts...))
	if err != nil {
		return branch.CommitEntry{}, nil, err
	}
	return entry, saveOps, nil
}

// headMap resolves the frontier of a reference: a branch's record already
// carries its head frontier, pending intentions included; a tag loads its
// L1.
func (v *VersionStore) headMap(ctx context.Context, name string) (tree.IdMap, error) {
	ref, err := branch.LoadRef(ctx, v.s, id.BuildString(name))
	if err != nil {
		return tree.IdMap{}, err
	}
	switch r := ref.(type) {
	case *branch.Branch:
		return r.Tree(), nil
	case *branch.Tag:
		l1, err := tree.LoadL1(ctx, v.s, r.CommitID())
		if err != nil {
			return tree.IdMap{}, err
		}
		return l1.Map(), nil
	default:
		return tree.IdMap{}, fmt.Errorf("unknown ref kind for %q", name)
	}
}

// GetValue reads the payload at a key on a branch or tag head.
func (v *VersionStore) GetValue(ctx context.Context, refName string, k keys.Key) (values.Value, error) {
	m, err := v.headMap(ctx, refName)
	if err != nil {
		return values.Value{}, err
	}
	l2, err := tree.LoadL2(ctx, v.s, m.Get(tree.L1Position(k)))
	if err != nil {
		return values.Value{}, err
	}
	l3, err := tree.LoadL3(ctx, v.s, l2.Get(tree.L2Position(k)))
	if err != nil {
		return values.Value{}, err
	}
	valueID := l3.Get(k)
	if valueID.IsEmpty() {
		return values.Value{}, fmt.Errorf("%q on %q: %w", k, refName, ErrKeyNotFound)
	}
	return values.Load(ctx, v.s, valueID)
}

// GetValues reads several keys concurrently.
func (v *VersionStore) GetValues(ctx context.Context, refName string, ks []keys.Key) ([]values.Value, error) {
	out := make([]values.Value, len(ks))
	g, ctx := errgroup.WithContext(ctx)
	for i, k := range ks {
		i, k := i, k
		g.Go(func() error {
			val, err := v.GetValue(ctx, refName, k)
			if err != nil {
				return err
			}
			out[i] = val
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Collapse forces the intention log of a branch to a single saved pointer,
// waiting for completion.
func (v *VersionStore) Collapse(ctx context.Context, branchName string) (*branch.Branch, error) {
	b, err := branch.LoadBranch(ctx, v.s, branchName)
	if err != nil {
		return nil, err
	}
	us, err := b.GetUpdateState(ctx, v.s)
	if err != nil {
		return nil, err
	}
	if err := us.Save(ctx, v.s); err != nil {
		return nil, err
	}
	return us.CollapseIntentionLog(ctx, v.s, v.cfg, v.log)
}

// Log walks the commit metadata chain from a reference head.
func (v *VersionStore) Log(ctx context.Context, refName string, limit int) ([]tree.CommitMeta, error) {
	ref, err := branch.LoadRef(ctx, v.s, id.BuildString(refName))
	if err != nil {
		return nil, err
	}
	var headID id.ID
	switch r := ref.(type) {
	case *branch.Branch:
		headID, err = r.LastDefinedParent()
		if err != nil {
			return nil, err
		}
	case *branch.Tag:
		headID = r.CommitID()
	}

	var out []tree.CommitMeta
	cur := headID
	for !cur.IsEmpty() && (limit <= 0 || len(out) < limit) {
		l1, err := tree.LoadL1(ctx, v.s, cur)
		if err != nil {
			return nil, err
		}
		if !l1.MetadataID().IsEmpty() {
			me, err := v.s.LoadSingle(ctx, store.ValueTypeCommitMeta, l1.MetadataID())
			if err != nil {
				return nil, err
			}
			meta, err := tree.CommitMetaFromEntity(l1.MetadataID(), me)
			if err != nil {
				return nil, err
			}
			out = append(out, meta)
		}
		cur = l1.ParentID()
	}
	return out, nil
}
