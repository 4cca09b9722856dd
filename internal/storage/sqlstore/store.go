// Package sqlstore implements the storage interface on database/sql.
//
// One schema, two dialects: an embedded SQLite database (default, WAL mode)
// and a MySQL-protocol server for shared deployments — Dolt and MySQL both
// speak it. The status history is persisted as a JSON array and the status
// as its canonical string, so the table stays auditable with plain SQL.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/issuepilot/issuepilot/internal/storage"
	"github.com/issuepilot/issuepilot/internal/types"
)

// Dialect selects backend-specific DDL and upsert behavior.
type Dialect string

// Supported dialects.
const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql" // MySQL or Dolt server mode
)

// Store is a SQL-backed implementation of storage.Store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// New opens a store for the given dialect and DSN and ensures the schema
// exists. For SQLite the DSN is a file path or ":memory:"; for MySQL it is
// a go-sql-driver DSN (user:pass@tcp(host:port)/dbname?parseTime=false).
func New(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case DialectSQLite:
		db, err = openSQLite(dsn)
	case DialectMySQL:
		db, err = sql.Open("mysql", dsn)
	default:
		return nil, fmt.Errorf("unknown storage dialect: %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{
		db:      db,
		dialect: dialect,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if err := s.init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// WithClock overrides the store's clock. Test hook.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// init creates the issue_states table if missing.
func (s *Store) init(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS issue_states (
		repository    TEXT    NOT NULL,
		issue_number  INTEGER NOT NULL,
		status        TEXT    NOT NULL,
		assigned_agent TEXT   NOT NULL DEFAULT '',
		confidence    REAL    NOT NULL DEFAULT 0,
		est_cost      REAL    NOT NULL DEFAULT 0,
		est_hours     REAL    NOT NULL DEFAULT 0,
		branch_name   TEXT    NOT NULL DEFAULT '',
		pr_number     INTEGER NOT NULL DEFAULT 0,
		error_message TEXT    NOT NULL DEFAULT '',
		history       TEXT    NOT NULL DEFAULT '[]',
		created_at    TEXT    NOT NULL,
		updated_at    TEXT    NOT NULL,
		version       INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (repository, issue_number)
	)`
	if s.dialect == DialectMySQL {
		// MySQL cannot key on TEXT; mirror the schema with bounded VARCHARs.
		ddl = `CREATE TABLE IF NOT EXISTS issue_states (
			repository    VARCHAR(255) NOT NULL,
			issue_number  INT          NOT NULL,
			status        VARCHAR(32)  NOT NULL,
			assigned_agent VARCHAR(255) NOT NULL DEFAULT '',
			confidence    DOUBLE       NOT NULL DEFAULT 0,
			est_cost      DOUBLE       NOT NULL DEFAULT 0,
			est_hours     DOUBLE       NOT NULL DEFAULT 0,
			branch_name   VARCHAR(255) NOT NULL DEFAULT '',
			pr_number     INT          NOT NULL DEFAULT 0,
			error_message TEXT         NOT NULL,
			history       MEDIUMTEXT   NOT NULL,
			created_at    VARCHAR(40)  NOT NULL,
			updated_at    VARCHAR(40)  NOT NULL,
			version       BIGINT       NOT NULL DEFAULT 0,
			PRIMARY KEY (repository, issue_number)
		)`
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: create schema: %v", storage.ErrUnavailable, err)
	}
	return nil
}

const stateColumns = `repository, issue_number, status, assigned_agent, confidence,
	est_cost, est_hours, branch_name, pr_number, error_message, history,
	created_at, updated_at, version`

// Load returns a snapshot of the record, or storage.ErrNotFound.
func (s *Store) Load(ctx context.Context, key types.IssueKey) (*types.IssueState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM issue_states WHERE repository = ? AND issue_number = ?`,
		key.Repository, key.IssueNumber)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", storage.ErrUnavailable, key, err)
	}
	return st, nil
}

// Commit applies fn to the current record (creating it at NEW on first
// reference) and persists with a compare-and-swap on the version column.
// Transient I/O failures are retried with backoff before surfacing as
// storage.ErrUnavailable; mutator errors and CAS conflicts are permanent.
func (s *Store) Commit(ctx context.Context, key types.IssueKey, fn storage.Mutator) (*types.IssueState, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	var committed *types.IssueState
	err := storage.WithRetry(ctx, func() error {
		st, err := s.commitOnce(ctx, key, fn)
		if err != nil {
			return err
		}
		committed = st
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

func (s *Store) commitOnce(ctx context.Context, key types.IssueKey, fn storage.Mutator) (*types.IssueState, error) {
	cur, err := s.Load(ctx, key)
	create := false
	if errors.Is(err, storage.ErrNotFound) {
		cur = types.NewIssueState(key, s.now())
		create = true
	} else if err != nil {
		return nil, err
	}

	work := cur.Clone()
	if err := fn(work); err != nil {
		return nil, err // Nothing persisted
	}
	if err := work.Validate(); err != nil {
		return nil, err
	}

	history, err := json.Marshal(work.StatusHistory)
	if err != nil {
		return nil, fmt.Errorf("marshal history for %s: %w", key, err)
	}

	work.Version = cur.Version + 1
	if create {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO issue_states (`+stateColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			work.Repository, work.IssueNumber, string(work.Status),
			work.AssignedAgent, work.ConfidenceScore, work.EstimatedCost,
			work.EstimatedHours, work.BranchName, work.PRNumber,
			work.ErrorMessage, string(history),
			work.CreatedAt.Format(time.RFC3339Nano),
			work.UpdatedAt.Format(time.RFC3339Nano),
			work.Version)
		if err != nil {
			if isDuplicateKey(err) {
				// Another writer created the record between our read and
				// insert. Structurally impossible under the serializer.
				return nil, fmt.Errorf("%w: create %s", storage.ErrConflict, key)
			}
			return nil, fmt.Errorf("%w: insert %s: %v", storage.ErrUnavailable, key, err)
		}
		return work, nil
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE issue_states SET status = ?, assigned_agent = ?, confidence = ?,
			est_cost = ?, est_hours = ?, branch_name = ?, pr_number = ?,
			error_message = ?, history = ?, updated_at = ?, version = ?
		 WHERE repository = ? AND issue_number = ? AND version = ?`,
		string(work.Status), work.AssignedAgent, work.ConfidenceScore,
		work.EstimatedCost, work.EstimatedHours, work.BranchName,
		work.PRNumber, work.ErrorMessage, string(history),
		work.UpdatedAt.Format(time.RFC3339Nano), work.Version,
		key.Repository, key.IssueNumber, cur.Version)
	if err != nil {
		return nil, fmt.Errorf("%w: update %s: %v", storage.ErrUnavailable, key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: update %s lost version race", storage.ErrConflict, key)
	}
	return work, nil
}

// List returns snapshots for one repository ordered by issue number.
func (s *Store) List(ctx context.Context, repository string) ([]*types.IssueState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+stateColumns+` FROM issue_states WHERE repository = ? ORDER BY issue_number`,
		repository)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", storage.ErrUnavailable, repository, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*types.IssueState
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan %s: %v", storage.ErrUnavailable, repository, err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", storage.ErrUnavailable, repository, err)
	}
	return out, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanState(row scanner) (*types.IssueState, error) {
	var (
		st        types.IssueState
		status    string
		history   string
		createdAt string
		updatedAt string
	)
	err := row.Scan(&st.Repository, &st.IssueNumber, &status, &st.AssignedAgent,
		&st.ConfidenceScore, &st.EstimatedCost, &st.EstimatedHours,
		&st.BranchName, &st.PRNumber, &st.ErrorMessage, &history,
		&createdAt, &updatedAt, &st.Version)
	if err != nil {
		return nil, err
	}

	st.Status = types.Status(status)
	if err := json.Unmarshal([]byte(history), &st.StatusHistory); err != nil {
		return nil, fmt.Errorf("corrupt history for %s: %w", st.Key(), err)
	}
	if st.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("corrupt created_at for %s: %w", st.Key(), err)
	}
	if st.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("corrupt updated_at for %s: %w", st.Key(), err)
	}
	return &st, nil
}

// isDuplicateKey detects primary-key violations across both dialects
// without importing driver error types.
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "Duplicate entry") ||
		strings.Contains(msg, "constraint violation")
}
