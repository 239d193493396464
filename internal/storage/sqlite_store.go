package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/devghori1264/aerophoenix/laundromat/internal/models"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on a single SQLite file. Listing order is the
// order machines were first provisioned in.
type SQLiteStore struct {
	db *sql.DB
}

func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer; also keeps the single file from being locked against ourselves.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := migrateSQLite(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func migrateSQLite(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS machines (
			id TEXT PRIMARY KEY,
			location_id TEXT NOT NULL,
			status TEXT NOT NULL,
			current_job_id TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_machines_location ON machines(location_id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) PutMachine(ctx context.Context, m *models.Machine) error {
	if m == nil || m.ID == "" {
		return errors.New("machine id required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO machines (id, location_id, status, current_job_id, version, updated_at)
		 VALUES (?, ?, ?, ?, 0, ?)
		 ON CONFLICT(id) DO UPDATE SET
			location_id = excluded.location_id,
			status = excluded.status,
			current_job_id = excluded.current_job_id,
			version = machines.version + 1,
			updated_at = excluded.updated_at`,
		m.ID, m.LocationID, string(m.Status), m.CurrentJobID, time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("put machine %s: %w", m.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetMachine(ctx context.Context, id string) (*models.Machine, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, location_id, status, current_job_id, version, updated_at
		 FROM machines WHERE id = ?`, id,
	)
	m, err := scanMachine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get machine %s: %w", id, err)
	}
	return m, nil
}

func (s *SQLiteStore) ListMachinesAtLocation(ctx context.Context, locationID string) ([]*models.Machine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, location_id, status, current_job_id, version, updated_at
		 FROM machines
		 WHERE location_id = ?
		 ORDER BY rowid`, locationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list machines at %s: %w", locationID, err)
	}
	defer rows.Close()

	out := []*models.Machine{}
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan machine: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateMachineStatus(ctx context.Context, id string, status models.Status) error {
	return s.exec(ctx, id,
		`UPDATE machines SET status = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC().UnixNano(), id,
	)
}

func (s *SQLiteStore) UpdateMachineJobID(ctx context.Context, id string, jobID string) error {
	return s.exec(ctx, id,
		`UPDATE machines SET current_job_id = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		jobID, time.Now().UTC().UnixNano(), id,
	)
}

func (s *SQLiteStore) CompareAndSwapStatus(ctx context.Context, id string, from, to models.Status) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE machines SET status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(to), time.Now().UTC().UnixNano(), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("swap status of %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	// Distinguish a missing row from a status mismatch.
	if _, err := s.GetMachine(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: machine %s is not %s", ErrConditionFailed, id, from)
}

func (s *SQLiteStore) exec(ctx context.Context, id string, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update machine %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMachine(r rowScanner) (*models.Machine, error) {
	var (
		m         models.Machine
		status    string
		updatedAt int64
	)
	if err := r.Scan(&m.ID, &m.LocationID, &status, &m.CurrentJobID, &m.Version, &updatedAt); err != nil {
		return nil, err
	}
	m.Status = models.Status(status)
	m.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &m, nil
}
