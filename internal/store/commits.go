package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/courseloom/amvc/internal/models"
)

const commitColumns = "id, hash, message, author_id, committer_id, parent_id, is_merge, committed_at"

// CreateCommit inserts a commit and fills in its assigned id. Hashes are not
// unique: identical content committed at different times hashes differently,
// but the store does not enforce it either way.
func (t *sqliteTx) CreateCommit(ctx context.Context, c *models.Commit) error {
	if c.CommittedAt.IsZero() {
		c.CommittedAt = time.Now()
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO commits (hash, message, author_id, committer_id, parent_id, is_merge, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.Hash, c.Message, c.AuthorID, c.CommitterID, nullInt64(c.ParentID), c.IsMerge, formatTime(c.CommittedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert commit: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (t *sqliteTx) GetCommit(ctx context.Context, id int64) (*models.Commit, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+commitColumns+" FROM commits WHERE id = ?", id)
	return scanCommit(row)
}

// GetCommitByHash returns the most recent commit with the given hash.
func (t *sqliteTx) GetCommitByHash(ctx context.Context, hash string) (*models.Commit, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+commitColumns+" FROM commits WHERE hash = ? ORDER BY id DESC LIMIT 1", hash)
	return scanCommit(row)
}

func (t *sqliteTx) AddCommitParent(ctx context.Context, p *models.CommitParent) error {
	_, err := t.tx.ExecContext(ctx,
		"INSERT INTO commit_parents (commit_id, parent_id, parent_order) VALUES (?, ?, ?)",
		p.CommitID, p.ParentID, p.ParentOrder,
	)
	if err != nil {
		return fmt.Errorf("failed to insert commit parent: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetCommitParents(ctx context.Context, commitID int64) ([]*models.CommitParent, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT commit_id, parent_id, parent_order FROM commit_parents WHERE commit_id = ? ORDER BY parent_order",
		commitID)
	if err != nil {
		return nil, fmt.Errorf("failed to query commit parents: %w", err)
	}
	defer rows.Close()

	var parents []*models.CommitParent
	for rows.Next() {
		var p models.CommitParent
		if err := rows.Scan(&p.CommitID, &p.ParentID, &p.ParentOrder); err != nil {
			return nil, fmt.Errorf("failed to scan commit parent: %w", err)
		}
		parents = append(parents, &p)
	}
	return parents, rows.Err()
}

// GetAncestors returns every commit id reachable from commitID (inclusive)
// via BFS, following both the primary parent and any merge parents.
func (t *sqliteTx) GetAncestors(ctx context.Context, commitID int64) (map[int64]bool, error) {
	ancestors := make(map[int64]bool)
	queue := []int64{commitID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current == 0 || ancestors[current] {
			continue
		}
		ancestors[current] = true

		commit, err := t.GetCommit(ctx, current)
		if err != nil {
			return nil, err
		}

		if commit.ParentID != 0 {
			queue = append(queue, commit.ParentID)
		}
		if commit.IsMerge {
			extra, err := t.GetCommitParents(ctx, current)
			if err != nil {
				return nil, err
			}
			for _, p := range extra {
				queue = append(queue, p.ParentID)
			}
		}
	}

	return ancestors, nil
}

func scanCommit(row rowScanner) (*models.Commit, error) {
	var c models.Commit
	var parent sql.NullInt64
	var committedAt string
	err := row.Scan(&c.ID, &c.Hash, &c.Message, &c.AuthorID, &c.CommitterID, &parent, &c.IsMerge, &committedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("commit: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan commit: %w", err)
	}
	c.ParentID = parent.Int64
	if c.CommittedAt, err = parseTimestamp(committedAt); err != nil {
		return nil, fmt.Errorf("commit %d: %w", c.ID, err)
	}
	return &c, nil
}
