package branch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/norvik/vatn/internal/config"
	"github.com/norvik/vatn/internal/id"
	"github.com/norvik/vatn/internal/store"
	"github.com/norvik/vatn/internal/tree"
)

const (
	tagOperation = "nessie.operation"
	tagBranch    = "nessie.branch"
	tagNumSaves  = "nessie.num-saves"
	tagNumDels   = "nessie.num-deletes"
	tagCompleted = "nessie.completed"
)

var tracer = otel.Tracer("github.com/norvik/vatn/internal/branch")

var noopTracer = noop.NewTracerProvider().Tracer("")

type deleteEntry struct {
	position int
	id       id.ID
}

// UpdateState is the plan computed from a loaded branch record: the L1s to
// persist, the log positions to delete and the tail to rewrite so that
// exactly one saved entry remains.
type UpdateState struct {
	mu    sync.Mutex
	saved bool

	saves           []store.SaveOp
	deletes         []deleteEntry
	finalL1         tree.L1
	finalL1Position int
	finalL1RandomID id.ID
	initialBranch   *Branch
}

func newUpdateState(saves []store.SaveOp, deletes []deleteEntry, finalL1 tree.L1, finalL1Position int, finalL1RandomID id.ID, initial *Branch) (*UpdateState, error) {
	if finalL1Position == 0 && len(deletes) > 0 {
		return nil, fmt.Errorf("update state with deletes at final position zero: %w", tree.ErrCorruption)
	}
	return &UpdateState{
		saves:           saves,
		deletes:         deletes,
		finalL1:         finalL1,
		finalL1Position: finalL1Position,
		finalL1RandomID: finalL1RandomID,
		initialBranch:   initial,
	}, nil
}

// Save persists the derived L1s. Safe to call any number of times; the
// underlying store save happens at most once.
func (u *UpdateState) Save(ctx context.Context, s store.Store) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.saved {
		return nil
	}
	if len(u.saves) == 0 {
		u.saved = true
		return nil
	}
	if err := s.Save(ctx, u.saves); err != nil {
		return err
	}
	u.saved = true
	return nil
}

// L1 returns the final L1 once Save (or EnsureAvailable) has run.
func (u *UpdateState) L1() (tree.L1, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.saved {
		return tree.L1{}, fmt.Errorf("EnsureAvailable must run before reading the L1 state")
	}
	return u.finalL1, nil
}

// NumSaves returns the number of pending L1 saves.
func (u *UpdateState) NumSaves() int {
	return len(u.saves)
}

// EnsureAvailable makes the derived L1s readable, then schedules the
// collapse of the intention log on the executor. With WaitOnCollapse the
// call blocks until the collapse finishes; otherwise the collapse continues
// in the background and a late failure only costs compactness, never
// correctness.
func (u *UpdateState) EnsureAvailable(ctx context.Context, s store.Store, exec Executor, cfg config.Config, log *zap.Logger) error {
	if err := u.Save(ctx, s); err != nil {
		return err
	}
	if len(u.saves) == 0 {
		return nil
	}

	// The collapse must not die with the caller.
	bg := context.WithoutCancel(ctx)
	done := make(chan error, 1)
	exec.Go(func() {
		_, err := u.CollapseIntentionLog(bg, s, cfg, log)
		done <- err
	})

	if !cfg.WaitOnCollapse {
		return nil
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CollapseIntentionLog drives the branch record to the Clean state with a
// bounded number of optimistic attempts. Each attempt pins every log
// position to the exact id observed, so a racing writer fails the condition
// deterministically and triggers a reload.
func (u *UpdateState) CollapseIntentionLog(ctx context.Context, s store.Store, cfg config.Config, log *zap.Logger) (*Branch, error) {
	if log == nil {
		log = zap.NewNop()
	}
	tr := noopTracer
	if cfg.EnableTracing {
		tr = tracer
	}

	b := u.initialBranch
	state := u

	ctx, outer := tr.Start(ctx, "InternalBranch.collapseIntentionLog", trace.WithAttributes(
		attribute.String(tagOperation, "CollapseIntentionLog"),
		attribute.String(tagBranch, b.Name()),
	))
	defer outer.End()

	for attempt := 0; attempt < cfg.P2CommitAttempts; attempt++ {
		updated, err := state.tryCollapse(ctx, tr, s, b, attempt, log)
		if err != nil {
			outer.RecordError(err)
			return nil, err
		}
		if updated != nil {
			return updated, nil
		}

		// Something changed under us; reload and recompute the plan.
		ref, err := LoadRef(ctx, s, b.ID())
		if err != nil {
			return nil, fmt.Errorf("collapse reload: %w", err)
		}
		nb, ok := ref.(*Branch)
		if !ok {
			return nil, fmt.Errorf("former branch %q is now a tag: %w", b.Name(), ErrRefNotFound)
		}
		b = nb
		state, err = b.GetUpdateState(ctx, s)
		if err != nil {
			return nil, err
		}
	}

	return nil, fmt.Errorf("unable to collapse intention log after %d attempts, giving up: %w",
		cfg.P2CommitAttempts, ErrRefConflict)
}

// tryCollapse runs one conditional-update attempt. A nil branch with nil
// error means the condition missed and the caller should reload.
func (u *UpdateState) tryCollapse(ctx context.Context, tr trace.Tracer, s store.Store, b *Branch, attempt int, log *zap.Logger) (*Branch, error) {
	ctx, span := tr.Start(ctx, fmt.Sprintf("Attempt-%d", attempt), trace.WithAttributes(
		attribute.Int(tagNumSaves, len(u.saves)),
		attribute.Int(tagNumDels, len(u.deletes)),
	))
	defer span.End()

	// A no-op after the first call; recomputed states save their own L1s.
	if err := u.Save(ctx, s); err != nil {
		return nil, err
	}

	commits := store.NewPath(attrCommits)
	last := commits.Position(u.finalL1Position)

	var update store.UpdateExpression
	var condition store.ConditionExpression

	for _, d := range u.deletes {
		path := commits.Position(d.position)
		condition = condition.AndEquals(path.Name(attrID), store.OfBinary(d.id[:]))
		update = update.AndRemove(path)
	}

	finalID := u.finalL1.ID()
	parentID := u.finalL1.ParentID()
	condition = condition.AndEquals(last.Name(attrID), store.OfBinary(u.finalL1RandomID[:]))
	update = update.
		AndRemove(last.Name(attrDeltas)).
		AndRemove(last.Name(attrKeys)).
		AndSet(last.Name(attrParent), store.OfBinary(parentID[:])).
		AndSet(last.Name(attrID), store.OfBinary(finalID[:]))

	e, ok, err := s.Update(ctx, store.ValueTypeRef, b.ID(), update, &condition)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("branch %q vanished during collapse: %w", b.Name(), ErrRefNotFound)
		}
		return nil, err
	}
	if !ok {
		log.Debug("collapse attempt missed",
			zap.Int("attempt", attempt),
			zap.Stringer("l1", finalID),
			zap.Int("position", u.finalL1Position))
		return nil, nil
	}

	span.SetAttributes(attribute.Bool(tagCompleted, true))
	log.Debug("collapse completed",
		zap.Int("attempt", attempt),
		zap.Stringer("l1", finalID),
		zap.Stringer("parent", parentID),
		zap.Int("position", u.finalL1Position))

	ref, err := RefFromEntity(e)
	if err != nil {
		return nil, err
	}
	nb, ok2 := ref.(*Branch)
	if !ok2 {
		return nil, fmt.Errorf("collapsed record is not a branch: %w", tree.ErrCorruption)
	}
	return nb, nil
}
