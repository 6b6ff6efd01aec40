package branch

import "errors"

// ErrRefNotFound reports a reference that does not exist, or that stopped
// being a branch while an operation was in flight. Not retryable.
var ErrRefNotFound = errors.New("reference not found")

// ErrRefConflict reports that the optimistic retry budget was exhausted
// under heavy concurrency.
var ErrRefConflict = errors.New("reference conflict")
