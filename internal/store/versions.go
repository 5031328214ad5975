package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/courseloom/amvc/internal/models"
)

const versionColumns = "id, module_id, branch_id, commit_id, title, description, content, content_hash, is_current_head, created_at"

// CreateVersion inserts a version and fills in its assigned id.
func (t *sqliteTx) CreateVersion(ctx context.Context, v *models.Version) error {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now()
	}
	var content any
	if v.Content != nil {
		content = string(v.Content)
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO versions (module_id, branch_id, commit_id, title, description, content, content_hash, is_current_head, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ModuleID, v.BranchID, v.CommitID, v.Title, v.Description, content, v.ContentHash, v.IsHead, formatTime(v.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert version: %w", err)
	}
	v.ID, err = res.LastInsertId()
	return err
}

// GetHeadVersion returns the current head for a (module, branch) pair.
func (t *sqliteTx) GetHeadVersion(ctx context.Context, moduleID, branchID int64) (*models.Version, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE module_id = ? AND branch_id = ? AND is_current_head",
		moduleID, branchID)
	return scanVersion(row)
}

// GetVersionAtCommit returns the version a specific commit produced on the
// branch for the module, head or not.
func (t *sqliteTx) GetVersionAtCommit(ctx context.Context, moduleID, branchID, commitID int64) (*models.Version, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE module_id = ? AND branch_id = ? AND commit_id = ? ORDER BY id DESC LIMIT 1",
		moduleID, branchID, commitID)
	return scanVersion(row)
}

// ListHeadVersions returns every current head on the branch, across modules.
func (t *sqliteTx) ListHeadVersions(ctx context.Context, branchID int64) ([]*models.Version, error) {
	rows, err := t.tx.QueryContext(ctx,
		"SELECT "+versionColumns+" FROM versions WHERE branch_id = ? AND is_current_head ORDER BY module_id",
		branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query head versions: %w", err)
	}
	defer rows.Close()
	return collectVersions(rows)
}

// ListModuleVersions returns a module's versions on a branch, oldest commit
// first.
func (t *sqliteTx) ListModuleVersions(ctx context.Context, moduleID, branchID int64) ([]*models.Version, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT v.id, v.module_id, v.branch_id, v.commit_id, v.title, v.description, v.content, v.content_hash, v.is_current_head, v.created_at
		FROM versions v JOIN commits c ON c.id = v.commit_id
		WHERE v.module_id = ? AND v.branch_id = ?
		ORDER BY c.committed_at, v.id`,
		moduleID, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query module versions: %w", err)
	}
	defer rows.Close()
	return collectVersions(rows)
}

// DemoteHead clears the head flag for a (module, branch) pair. A pair with
// no head is not an error; the caller may be writing the first version.
func (t *sqliteTx) DemoteHead(ctx context.Context, moduleID, branchID int64) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE versions SET is_current_head = FALSE WHERE module_id = ? AND branch_id = ? AND is_current_head",
		moduleID, branchID)
	if err != nil {
		return fmt.Errorf("failed to demote head version: %w", err)
	}
	return nil
}

func (t *sqliteTx) DeleteVersionsByBranch(ctx context.Context, branchID int64) (int64, error) {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM versions WHERE branch_id = ?", branchID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete branch versions: %w", err)
	}
	return res.RowsAffected()
}

func (t *sqliteTx) DeleteVersionsByModule(ctx context.Context, moduleID int64) (int64, error) {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM versions WHERE module_id = ?", moduleID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete module versions: %w", err)
	}
	return res.RowsAffected()
}

func collectVersions(rows *sql.Rows) ([]*models.Version, error) {
	var versions []*models.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func scanVersion(row rowScanner) (*models.Version, error) {
	var v models.Version
	var content sql.NullString
	var createdAt string
	err := row.Scan(&v.ID, &v.ModuleID, &v.BranchID, &v.CommitID, &v.Title, &v.Description, &content, &v.ContentHash, &v.IsHead, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("version: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}
	if content.Valid {
		v.Content = []byte(content.String)
	}
	if v.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("version %d: %w", v.ID, err)
	}
	return &v, nil
}
