package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/courseloom/amvc/internal/models"
)

const moduleColumns = "id, slug, title, description, module_type, status, origin_id, created_by, created_at"

// CreateModule inserts a module and fills in its assigned id.
func (t *sqliteTx) CreateModule(ctx context.Context, m *models.Module) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO modules (slug, title, description, module_type, status, origin_id, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Slug, m.Title, m.Description, m.Type, m.Status, nullInt64(m.OriginID), m.CreatedBy, formatTime(m.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("module slug %q: %w", m.Slug, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to insert module: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

func (t *sqliteTx) GetModule(ctx context.Context, id int64) (*models.Module, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+moduleColumns+" FROM modules WHERE id = ?", id)
	return scanModule(row)
}

func (t *sqliteTx) GetModuleBySlug(ctx context.Context, slug string) (*models.Module, error) {
	row := t.tx.QueryRowContext(ctx, "SELECT "+moduleColumns+" FROM modules WHERE slug = ?", slug)
	return scanModule(row)
}

// UpdateModule rewrites the mutable module fields.
func (t *sqliteTx) UpdateModule(ctx context.Context, m *models.Module) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE modules SET slug = ?, title = ?, description = ?, module_type = ?, status = ?, origin_id = ?
		WHERE id = ?`,
		m.Slug, m.Title, m.Description, m.Type, m.Status, nullInt64(m.OriginID), m.ID,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("module slug %q: %w", m.Slug, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to update module: %w", err)
	}
	return requireRowAffected(res, "module")
}

func (t *sqliteTx) DeleteModule(ctx context.Context, id int64) error {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM modules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete module: %w", err)
	}
	return requireRowAffected(res, "module")
}

// FindModules returns modules matching the filter, ordered by slug.
func (t *sqliteTx) FindModules(ctx context.Context, f ModuleFilter, page Page) ([]*models.Module, error) {
	where, args := moduleWhere(f)
	query := "SELECT " + moduleColumns + " FROM modules" + where + " ORDER BY slug"
	if page.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", page.Limit, page.Offset)
	}

	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query modules: %w", err)
	}
	defer rows.Close()

	var modulesOut []*models.Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, err
		}
		modulesOut = append(modulesOut, m)
	}
	return modulesOut, rows.Err()
}

func (t *sqliteTx) CountModules(ctx context.Context, f ModuleFilter) (int, error) {
	where, args := moduleWhere(f)
	var n int
	err := t.tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM modules"+where, args...).Scan(&n)
	return n, err
}

func moduleWhere(f ModuleFilter) (string, []any) {
	var conds []string
	var args []any
	if f.Slug != "" {
		conds = append(conds, "slug = ?")
		args = append(args, f.Slug)
	}
	if f.TitleContains != "" {
		conds = append(conds, "title LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(f.TitleContains)+"%")
	}
	if f.Type != "" {
		conds = append(conds, "module_type = ?")
		args = append(args, f.Type)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.CreatedBy != 0 {
		conds = append(conds, "created_by = ?")
		args = append(args, f.CreatedBy)
	}
	if f.Origin != 0 {
		conds = append(conds, "(origin_id = ? OR (origin_id IS NULL AND id = ?))")
		args = append(args, f.Origin, f.Origin)
	}
	if len(conds) == 0 {
		return "", nil
	}
	where := " WHERE " + conds[0]
	for _, c := range conds[1:] {
		where += " AND " + c
	}
	return where, args
}

func escapeLike(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '%' || s[i] == '_' || s[i] == '\\' {
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModule(row rowScanner) (*models.Module, error) {
	var m models.Module
	var origin sql.NullInt64
	var createdAt string
	err := row.Scan(&m.ID, &m.Slug, &m.Title, &m.Description, &m.Type, &m.Status, &origin, &m.CreatedBy, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("module: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan module: %w", err)
	}
	m.OriginID = origin.Int64
	if m.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("module %d: %w", m.ID, err)
	}
	return &m, nil
}

func requireRowAffected(res sql.Result, entity string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	return nil
}
