package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/courseloom/amvc/internal/models"
)

const mergeRequestColumns = `id, from_module_id, to_module_id, title, description, status, allow_comments, reason,
	created_by, created_at, updated_at, merged_by, merged_at, rejected_by, rejected_at, closed_by, closed_at`

// CreateMergeRequest inserts a merge request and fills in its assigned id.
func (t *sqliteTx) CreateMergeRequest(ctx context.Context, mr *models.MergeRequest) error {
	now := time.Now()
	if mr.CreatedAt.IsZero() {
		mr.CreatedAt = now
	}
	if mr.UpdatedAt.IsZero() {
		mr.UpdatedAt = now
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO merge_requests (from_module_id, to_module_id, title, description, status, allow_comments, reason,
			created_by, created_at, updated_at, merged_by, merged_at, rejected_by, rejected_at, closed_by, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mr.FromModuleID, mr.ToModuleID, mr.Title, mr.Description, string(mr.Status), mr.AllowComments, mr.Reason,
		mr.CreatedBy, formatTime(mr.CreatedAt), formatTime(mr.UpdatedAt),
		nullInt64(mr.MergedBy), nullTimeStr(mr.MergedAt),
		nullInt64(mr.RejectedBy), nullTimeStr(mr.RejectedAt),
		nullInt64(mr.ClosedBy), nullTimeStr(mr.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert merge request: %w", err)
	}
	mr.ID, err = res.LastInsertId()
	return err
}

func (t *sqliteTx) GetMergeRequest(ctx context.Context, id int64) (*models.MergeRequest, error) {
	row := t.tx.QueryRowContext(ctx,
		"SELECT "+mergeRequestColumns+" FROM merge_requests WHERE id = ?", id)
	return scanMergeRequest(row)
}

// UpdateMergeRequest rewrites the mutable fields and bumps updated_at.
func (t *sqliteTx) UpdateMergeRequest(ctx context.Context, mr *models.MergeRequest) error {
	mr.UpdatedAt = time.Now()
	res, err := t.tx.ExecContext(ctx, `
		UPDATE merge_requests SET title = ?, description = ?, status = ?, allow_comments = ?, reason = ?, updated_at = ?,
			merged_by = ?, merged_at = ?, rejected_by = ?, rejected_at = ?, closed_by = ?, closed_at = ?
		WHERE id = ?`,
		mr.Title, mr.Description, string(mr.Status), mr.AllowComments, mr.Reason, formatTime(mr.UpdatedAt),
		nullInt64(mr.MergedBy), nullTimeStr(mr.MergedAt),
		nullInt64(mr.RejectedBy), nullTimeStr(mr.RejectedAt),
		nullInt64(mr.ClosedBy), nullTimeStr(mr.ClosedAt),
		mr.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update merge request: %w", err)
	}
	return requireRowAffected(res, "merge request")
}

func (t *sqliteTx) DeleteMergeRequest(ctx context.Context, id int64) error {
	if _, err := t.tx.ExecContext(ctx,
		"DELETE FROM merge_request_comments WHERE merge_request_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete merge request comments: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, "DELETE FROM merge_requests WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete merge request: %w", err)
	}
	return requireRowAffected(res, "merge request")
}

// FindMergeRequests returns matching requests, newest first.
func (t *sqliteTx) FindMergeRequests(ctx context.Context, f MergeRequestFilter, page Page) ([]*models.MergeRequest, error) {
	var conds []string
	var args []any
	if f.ModuleID != 0 {
		conds = append(conds, "(from_module_id = ? OR to_module_id = ?)")
		args = append(args, f.ModuleID, f.ModuleID)
	}
	if f.FromModuleID != 0 {
		conds = append(conds, "from_module_id = ?")
		args = append(args, f.FromModuleID)
	}
	if f.ToModuleID != 0 {
		conds = append(conds, "to_module_id = ?")
		args = append(args, f.ToModuleID)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}

	query := "SELECT " + mergeRequestColumns + " FROM merge_requests"
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC, id DESC"
	if page.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", page.Limit, page.Offset)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query merge requests: %w", err)
	}
	defer rows.Close()

	var requests []*models.MergeRequest
	for rows.Next() {
		mr, err := scanMergeRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, mr)
	}
	return requests, rows.Err()
}

func (t *sqliteTx) CreateComment(ctx context.Context, c *models.MergeRequestComment) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO merge_request_comments (merge_request_id, body, created_by, created_at)
		VALUES (?, ?, ?, ?)`,
		c.MergeRequestID, c.Body, c.CreatedBy, formatTime(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert comment: %w", err)
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (t *sqliteTx) ListComments(ctx context.Context, mergeRequestID int64) ([]*models.MergeRequestComment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, merge_request_id, body, created_by, created_at
		FROM merge_request_comments WHERE merge_request_id = ? ORDER BY created_at, id`,
		mergeRequestID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	var comments []*models.MergeRequestComment
	for rows.Next() {
		var c models.MergeRequestComment
		var createdAt string
		if err := rows.Scan(&c.ID, &c.MergeRequestID, &c.Body, &c.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		var perr error
		if c.CreatedAt, perr = parseTimestamp(createdAt); perr != nil {
			return nil, fmt.Errorf("comment %d: %w", c.ID, perr)
		}
		comments = append(comments, &c)
	}
	return comments, rows.Err()
}

func scanMergeRequest(row rowScanner) (*models.MergeRequest, error) {
	var mr models.MergeRequest
	var status, createdAt, updatedAt string
	var mergedBy, rejectedBy, closedBy sql.NullInt64
	var mergedAt, rejectedAt, closedAt sql.NullString
	err := row.Scan(&mr.ID, &mr.FromModuleID, &mr.ToModuleID, &mr.Title, &mr.Description, &status, &mr.AllowComments, &mr.Reason,
		&mr.CreatedBy, &createdAt, &updatedAt, &mergedBy, &mergedAt, &rejectedBy, &rejectedAt, &closedBy, &closedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("merge request: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan merge request: %w", err)
	}
	mr.Status = models.MergeRequestStatus(status)
	if mr.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("merge request %d: %w", mr.ID, err)
	}
	if mr.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("merge request %d: %w", mr.ID, err)
	}
	mr.MergedBy = mergedBy.Int64
	if mr.MergedAt, err = parseNullTime(mergedAt); err != nil {
		return nil, fmt.Errorf("merge request %d: %w", mr.ID, err)
	}
	mr.RejectedBy = rejectedBy.Int64
	if mr.RejectedAt, err = parseNullTime(rejectedAt); err != nil {
		return nil, fmt.Errorf("merge request %d: %w", mr.ID, err)
	}
	mr.ClosedBy = closedBy.Int64
	if mr.ClosedAt, err = parseNullTime(closedAt); err != nil {
		return nil, fmt.Errorf("merge request %d: %w", mr.ID, err)
	}
	return &mr, nil
}
