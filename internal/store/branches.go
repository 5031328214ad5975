package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/courseloom/amvc/internal/models"
)

const branchColumns = "id, origin_id, name, description, is_default, created_by, created_at"

// CreateBranch inserts a branch and fills in its assigned id. The (origin,
// name) pair is unique.
func (t *sqliteTx) CreateBranch(ctx context.Context, b *models.Branch) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO branches (origin_id, name, description, is_default, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		b.OriginID, b.Name, b.Description, b.IsDefault, b.CreatedBy, formatTime(b.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("branch %q: %w", b.Name, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert branch: %w", err)
	}
	b.ID, err = res.LastInsertId()
	return err
}

func (t *sqliteTx) GetBranch(ctx context.Context, id int64) (*models.Branch, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+branchColumns+" FROM branches WHERE id = ?", id)
	return scanBranch(row)
}

func (t *sqliteTx) GetBranchByName(ctx context.Context, originID int64, name string) (*models.Branch, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+branchColumns+" FROM branches WHERE origin_id = ? AND name = ?", originID, name)
	return scanBranch(row)
}

func (t *sqliteTx) GetDefaultBranch(ctx context.Context, originID int64) (*models.Branch, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+branchColumns+" FROM branches WHERE origin_id = ? AND is_default", originID)
	return scanBranch(row)
}

// ListBranches returns the lineage's branches sorted by name.
func (t *sqliteTx) ListBranches(ctx context.Context, originID int64) ([]*models.Branch, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+branchColumns+" FROM branches WHERE origin_id = ? ORDER BY name", originID)
	if err != nil {
		return nil, fmt.Errorf("failed to query branches: %w", err)
	}
	defer rows.Close()

	var branches []*models.Branch
	for rows.Next() {
		b, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		branches = append(branches, b)
	}
	return branches, rows.Err()
}

func (t *sqliteTx) DeleteBranch(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM branches WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete branch: %w", err)
	}
	return requireRowAffected(res, "branch")
}

func scanBranch(row rowScanner) (*models.Branch, error) {
	var b models.Branch
	var createdAt string
	err := row.Scan(&b.ID, &b.OriginID, &b.Name, &b.Description, &b.IsDefault, &b.CreatedBy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("branch: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan branch: %w", err)
	}
	if b.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("branch %d: %w", b.ID, err)
	}
	return &b, nil
}
