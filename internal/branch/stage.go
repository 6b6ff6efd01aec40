package branch

import (
	"github.com/norvik/vatn/internal/store"
)

// StageIntention builds the conditional update that appends an unsaved
// commit entry to the branch record and advances the frontier slots it
// touches. The condition pins both the observed tail id and the log length,
// so two writers staging against the same observed tail race
// deterministically: one append wins, the other reloads.
func StageIntention(b *Branch, entry CommitEntry) (store.UpdateExpression, store.ConditionExpression) {
	commits := store.NewPath(attrCommits)
	tailPos := len(b.commits) - 1
	tail := b.Tail()

	var condition store.ConditionExpression
	condition = condition.
		AndEquals(commits.Position(tailPos).Name(attrID), store.OfBinary(tail.id[:])).
		AndSizeEquals(commits, len(b.commits))

	var update store.UpdateExpression
	update = update.AndSet(commits.Position(tailPos+1), entry.toEntity())
	for _, d := range entry.Deltas() {
		update = update.AndSet(store.NewPath("tree").Position(d.Position), store.OfBinary(d.NewID[:]))
	}
	update = update.AndSet(store.NewPath("dt"), store.OfNumber(nowMicros()))
	return update, condition
}
