package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vibekraft/vibekraft/internal/storage"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateInstance(ctx context.Context, inst *storage.Instance) error {
	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now
	if inst.Status == "" {
		inst.Status = storage.StatusStopped
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (id, workspace_id, owner_id, template, status,
			cpu_shares, memory_mib, disk_mib, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.WorkspaceID, inst.OwnerID, inst.Template, inst.Status,
		inst.Claim.CPUShares, inst.Claim.MemoryMiB, inst.Claim.DiskMiB,
		inst.CreatedAt.Format(time.RFC3339), inst.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting instance: %w", err)
	}
	return nil
}

const instanceColumns = `id, workspace_id, owner_id, template, status,
	cpu_shares, memory_mib, disk_mib, created_at, updated_at, started_at, stopped_at`

func (s *SQLiteStore) GetInstance(ctx context.Context, id string) (*storage.Instance, error) {
	// Try exact match first, then prefix match
	inst, err := s.getInstanceExact(ctx, id)
	if err == nil {
		return inst, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+instanceColumns+`
		FROM instances WHERE id LIKE ? || '%'`, id)
	if err != nil {
		return nil, fmt.Errorf("querying instance: %w", err)
	}
	defer rows.Close()

	var matches []*storage.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, inst)
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous instance prefix %q matches %d instances", id, len(matches))
	}
}

func (s *SQLiteStore) getInstanceExact(ctx context.Context, id string) (*storage.Instance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+`
		FROM instances WHERE id = ?`, id)
	return scanInstanceRow(row)
}

func (s *SQLiteStore) ListInstances(ctx context.Context, opts storage.InstanceListOptions) ([]storage.Instance, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + instanceColumns + ` FROM instances`
	var where []string
	var args []any

	if opts.Status != "" {
		where = append(where, `status = ?`)
		args = append(args, string(opts.Status))
	}
	if opts.OwnerID != "" {
		where = append(where, `owner_id = ?`)
		args = append(args, opts.OwnerID)
	}
	for i, cond := range where {
		if i == 0 {
			query += ` WHERE ` + cond
		} else {
			query += ` AND ` + cond
		}
	}

	query += ` ORDER BY updated_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}
	defer rows.Close()

	var instances []storage.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *inst)
	}
	return instances, rows.Err()
}

func (s *SQLiteStore) SetInstanceStatus(ctx context.Context, id string, status storage.InstanceStatus, ts storage.StatusTimes) error {
	query := `UPDATE instances SET status = ?, updated_at = ?`
	args := []any{string(status), time.Now().UTC().Format(time.RFC3339)}

	if ts.StartedAt != nil {
		query += `, started_at = ?`
		args = append(args, ts.StartedAt.UTC().Format(time.RFC3339))
	}
	if ts.StoppedAt != nil {
		query += `, stopped_at = ?`
		args = append(args, ts.StoppedAt.UTC().Format(time.RFC3339))
	}

	query += ` WHERE id = ?`
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating instance status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) DeleteInstance(ctx context.Context, id string) error {
	// Resolve prefix first
	inst, err := s.GetInstance(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, inst.ID)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Scanner interface to work with both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanInstanceFromScanner(sc scanner) (*storage.Instance, error) {
	var inst storage.Instance
	var createdAt, updatedAt string
	var startedAt, stoppedAt sql.NullString
	err := sc.Scan(&inst.ID, &inst.WorkspaceID, &inst.OwnerID, &inst.Template, &inst.Status,
		&inst.Claim.CPUShares, &inst.Claim.MemoryMiB, &inst.Claim.DiskMiB,
		&createdAt, &updatedAt, &startedAt, &stoppedAt)
	if err != nil {
		return nil, err
	}
	inst.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	inst.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if startedAt.Valid {
		t, err := time.Parse(time.RFC3339, startedAt.String)
		if err == nil {
			inst.StartedAt = &t
		}
	}
	if stoppedAt.Valid {
		t, err := time.Parse(time.RFC3339, stoppedAt.String)
		if err == nil {
			inst.StoppedAt = &t
		}
	}
	return &inst, nil
}

func scanInstance(rows *sql.Rows) (*storage.Instance, error) {
	return scanInstanceFromScanner(rows)
}

func scanInstanceRow(row *sql.Row) (*storage.Instance, error) {
	inst, err := scanInstanceFromScanner(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	return inst, err
}
