package gitio

import "errors"

// ErrNothingToCommit signals a clean worktree, distinct from a real
// commit failure so callers (the sync coordinator) can treat it as a
// successful no-op sync cycle rather than an error.
var ErrNothingToCommit = errors.New("gitio: nothing to commit")
