package models

import "time"

// Commit is an immutable node in the history DAG. ParentID covers the common
// single-parent case; merge commits additionally own CommitParent rows for
// every extra parent.
type Commit struct {
	ID          int64     `json:"id"`
	Hash        string    `json:"hash"`
	Message     string    `json:"message"`
	AuthorID    int64     `json:"author_id"`
	CommitterID int64     `json:"committer_id"`
	ParentID    int64     `json:"parent_id,omitempty"` // 0 for a root commit
	IsMerge     bool      `json:"is_merge"`
	CommittedAt time.Time `json:"committed_at"`
}

// ShortHash returns a shortened commit hash (first 7 characters)
func (c *Commit) ShortHash() string {
	if len(c.Hash) > 7 {
		return c.Hash[:7]
	}
	return c.Hash
}

// CommitParent records one extra parent of a merge commit. ParentOrder is
// 1-based; the implicit Commit.ParentID is order 0.
type CommitParent struct {
	CommitID    int64 `json:"commit_id"`
	ParentID    int64 `json:"parent_id"`
	ParentOrder int   `json:"parent_order"`
}
