// Package store persists submission history and job snapshots in a local
// SQLite database so the client can resume and recover across restarts.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lingodoc/lingodoc-go/internal/translation"
)

// historyCap bounds the submission history; appends prune the oldest rows
// beyond this count.
const historyCap = 10

//go:embed migrations/*.sql
var migrationFiles embed.FS

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	// Bootstrap schema_migrations table so we can track applied versions.
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename
// (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// AppendSubmission records a submission and prunes the history beyond the
// cap inside a single transaction.
func (s *SQLiteStore) AppendSubmission(ctx context.Context, rec translation.SubmissionRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append submission: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	submittedAt := rec.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO submission_history (job_id, file_name, from_lang, to_lang, pending_recovery, submitted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.JobID,
		rec.FileName,
		rec.FromLang,
		rec.ToLang,
		boolToInt(rec.PendingRecovery),
		submittedAt,
	); err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM submission_history
		 WHERE id NOT IN (
			SELECT id FROM submission_history
			ORDER BY submitted_at DESC, id DESC
			LIMIT ?
		 )`,
		historyCap,
	); err != nil {
		return fmt.Errorf("prune submission history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append submission: %w", err)
	}
	committed = true
	return nil
}

// RecentSubmissions returns up to limit records, newest first. A limit of
// zero or beyond the cap falls back to the cap.
func (s *SQLiteStore) RecentSubmissions(ctx context.Context, limit int) ([]translation.SubmissionRecord, error) {
	if limit <= 0 || limit > historyCap {
		limit = historyCap
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, file_name, from_lang, to_lang, pending_recovery, submitted_at
		 FROM submission_history
		 ORDER BY submitted_at DESC, id DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

// PendingRecoveries returns records whose upload timed out before a job id
// was observed, oldest first.
func (s *SQLiteStore) PendingRecoveries(ctx context.Context) ([]translation.SubmissionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, file_name, from_lang, to_lang, pending_recovery, submitted_at
		 FROM submission_history
		 WHERE pending_recovery = 1
		 ORDER BY submitted_at ASC, id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query pending recoveries: %w", err)
	}
	defer rows.Close()
	return scanSubmissions(rows)
}

// MarkRecovered assigns the job id to pending records for the file and
// clears their recovery flag.
func (s *SQLiteStore) MarkRecovered(ctx context.Context, fileName, jobID string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE submission_history
		 SET job_id = ?, pending_recovery = 0
		 WHERE file_name = ? AND pending_recovery = 1`,
		jobID,
		fileName,
	); err != nil {
		return fmt.Errorf("mark recovered: %w", err)
	}
	return nil
}

// SaveJobSnapshot upserts the latest observed state for a job. The store
// always stamps a fresh timestamp so staleness can be judged on read.
func (s *SQLiteStore) SaveJobSnapshot(ctx context.Context, job translation.Job) error {
	if strings.TrimSpace(job.ID) == "" {
		return fmt.Errorf("job id is required")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job snapshot: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO job_snapshots (job_id, status, payload, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET
			status = excluded.status,
			payload = excluded.payload,
			updated_at = excluded.updated_at`,
		job.ID,
		string(job.Status),
		string(payload),
		time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("save job snapshot: %w", err)
	}
	return nil
}

// GetJobSnapshot loads the stored state for a job along with the time it
// was written. A missing snapshot returns (nil, zero, nil).
func (s *SQLiteStore) GetJobSnapshot(ctx context.Context, jobID string) (*translation.Job, time.Time, error) {
	var (
		payload   string
		updatedAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, updated_at FROM job_snapshots WHERE job_id = ?`,
		jobID,
	).Scan(&payload, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("load job snapshot: %w", err)
	}
	var job translation.Job
	if err := json.Unmarshal([]byte(payload), &job); err != nil {
		return nil, time.Time{}, fmt.Errorf("decode job snapshot: %w", err)
	}
	return &job, updatedAt, nil
}

func (s *SQLiteStore) DeleteJobSnapshot(ctx context.Context, jobID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM job_snapshots WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("delete job snapshot: %w", err)
	}
	return nil
}

// DeleteExpiredSnapshots removes snapshots last written before the cutoff
// and reports how many rows were dropped.
func (s *SQLiteStore) DeleteExpiredSnapshots(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_snapshots WHERE updated_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete expired snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count expired snapshots: %w", err)
	}
	return n, nil
}

// PruneSubmissions re-applies the history cap and reports how many rows
// were dropped. Appends already prune, so this is a maintenance backstop.
func (s *SQLiteStore) PruneSubmissions(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM submission_history
		 WHERE id NOT IN (
			SELECT id FROM submission_history
			ORDER BY submitted_at DESC, id DESC
			LIMIT ?
		 )`,
		historyCap,
	)
	if err != nil {
		return 0, fmt.Errorf("prune submissions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count pruned submissions: %w", err)
	}
	return n, nil
}

func scanSubmissions(rows *sql.Rows) ([]translation.SubmissionRecord, error) {
	var out []translation.SubmissionRecord
	for rows.Next() {
		var (
			rec     translation.SubmissionRecord
			pending int
		)
		if err := rows.Scan(
			&rec.JobID,
			&rec.FileName,
			&rec.FromLang,
			&rec.ToLang,
			&pending,
			&rec.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		rec.PendingRecovery = pending != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
