package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for routing metrics,
// download events, the job queue, and the learner profile.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database in dataDir and brings its
// schema up to date. Pass ":memory:" as dataDir for an in-memory database
// (used by tests).
func Open(dataDir string) (*Store, error) {
	dsn, err := databasePath(dataDir)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", dsn, err)
	}

	// One connection keeps the API handlers and the download worker from
	// tripping over SQLITE_BUSY; the busy timeout covers the rest, and WAL
	// lets reads proceed during a write.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

func databasePath(dataDir string) (string, error) {
	if dataDir == ":memory:" {
		return ":memory:", nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return "", fmt.Errorf("creating data directory: %w", err)
	}
	return filepath.Join(dataDir, "tutord.db"), nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for raw SQL.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migration pairs an embedded script with its numeric version prefix.
type migration struct {
	version int
	name    string
}

// migrate applies every embedded migration not yet recorded in
// schema_version. Each script runs in one transaction together with its
// bookkeeping row, so a failed migration leaves no partial state.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	applied, err := s.appliedSet()
	if err != nil {
		return err
	}
	all, err := loadMigrations()
	if err != nil {
		return err
	}

	for _, m := range all {
		if applied[m.version] {
			continue
		}
		script, err := fs.ReadFile(migrationsFS, m.name)
		if err != nil {
			return fmt.Errorf("reading %s: %w", m.name, err)
		}
		if err := s.applyMigration(m.version, string(script)); err != nil {
			return err
		}
	}
	return nil
}

// loadMigrations lists the embedded scripts ordered by version number, so
// 10_x.sql sorts after 2_y.sql.
func loadMigrations() ([]migration, error) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing migrations: %w", err)
	}
	all := make([]migration, 0, len(names))
	for _, name := range names {
		v, err := migrationVersion(path.Base(name))
		if err != nil {
			return nil, err
		}
		all = append(all, migration{version: v, name: name})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].version < all[j].version })
	return all, nil
}

// migrationVersion extracts the numeric prefix from a name like 3_jobs.sql.
func migrationVersion(filename string) (int, error) {
	prefix, _, ok := strings.Cut(filename, "_")
	if !ok {
		return 0, fmt.Errorf("migration %q missing version prefix", filename)
	}
	v, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, fmt.Errorf("migration %q missing version prefix", filename)
	}
	return v, nil
}

func (s *Store) appliedSet() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (s *Store) applyMigration(version int, script string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("migration %d: %w", version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(script); err != nil {
		return fmt.Errorf("applying migration %d: %w", version, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
		return fmt.Errorf("recording migration %d: %w", version, err)
	}
	return tx.Commit()
}

// AppliedMigrations reports the applied schema versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	applied, err := s.appliedSet()
	if err != nil {
		return nil, err
	}
	versions := make([]int, 0, len(applied))
	for v := range applied {
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

// parseTime decodes an RFC 3339 column value.
func parseTime(value, column string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", column, err)
	}
	return t, nil
}

// --- Routing Decisions ---

func (s *Store) SaveDecision(d RoutingDecision) error {
	status := d.Status
	if status == "" {
		status = "ok"
	}
	candidates := d.Candidates
	if candidates == "" {
		candidates = "[]"
	}
	_, err := s.db.Exec(`
		INSERT INTO routing_decisions (id, created_at, category, device_tier, network, cost_preference, candidates, provider, ttft_ms, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.CreatedAt.UTC().Format(time.RFC3339), d.Category, d.DeviceTier,
		d.Network, d.CostPreference, candidates, d.Provider, d.TTFTMillis, status, d.Error,
	)
	return err
}

func (s *Store) RecentDecisions(limit int) ([]RoutingDecision, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, category, device_tier, network, cost_preference, candidates, provider, ttft_ms, status, error
		FROM routing_decisions ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []RoutingDecision
	for rows.Next() {
		var d RoutingDecision
		var createdAt string
		if err := rows.Scan(&d.ID, &createdAt, &d.Category, &d.DeviceTier, &d.Network, &d.CostPreference, &d.Candidates, &d.Provider, &d.TTFTMillis, &d.Status, &d.Error); err != nil {
			return nil, err
		}
		if d.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// ProviderUsage counts decisions per provider since the given time.
// Requests that never reached a provider land under the empty name.
func (s *Store) ProviderUsage(since time.Time) (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT provider, COUNT(*) FROM routing_decisions
		WHERE created_at >= ? GROUP BY provider`,
		since.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var provider string
		var n int
		if err := rows.Scan(&provider, &n); err != nil {
			return nil, err
		}
		result[provider] = n
	}
	return result, rows.Err()
}

// --- Download Events ---

func (s *Store) SaveDownloadEvent(e DownloadEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO download_events (created_at, model, phase, percent, received_bytes, total_bytes, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.CreatedAt.UTC().Format(time.RFC3339), e.Model, e.Phase, e.Percent,
		e.ReceivedBytes, e.TotalBytes, e.Error,
	)
	return err
}

func (s *Store) RecentDownloadEvents(model string, limit int) ([]DownloadEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, model, phase, percent, received_bytes, total_bytes, error
		FROM download_events WHERE model = ? ORDER BY id DESC LIMIT ?`, model, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []DownloadEvent
	for rows.Next() {
		var e DownloadEvent
		var createdAt string
		if err := rows.Scan(&e.ID, &createdAt, &e.Model, &e.Phase, &e.Percent, &e.ReceivedBytes, &e.TotalBytes, &e.Error); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// --- Learner Profile ---

func (s *Store) SetProfileKey(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO learner_profile (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) ProfileKey(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM learner_profile WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return value, err
}

func (s *Store) ProfileKeys() (map[string]string, error) {
	rows, err := s.db.Query("SELECT key, value FROM learner_profile")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		fields[key] = value
	}
	return fields, rows.Err()
}

// --- Jobs ---

// jobMaxAttemptsDefault applies when EnqueueJob gets a zero MaxAttempts.
const jobMaxAttemptsDefault = 3

func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Truncate(time.Second)
	runAfter := job.RunAfter
	if runAfter.IsZero() {
		runAfter = now
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = jobMaxAttemptsDefault
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts,
		runAfter.UTC().Format(time.RFC3339), now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

// ClaimNextJob picks the oldest due pending job of one of the given types
// and flips it to 'running'. A nil job with a nil error means nothing is
// due. The UPDATE re-checks the status, so a job grabbed by a concurrent
// claim between SELECT and UPDATE is skipped rather than double-run.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	now := time.Now().UTC().Truncate(time.Second)
	nowStr := now.Format(time.RFC3339)

	args := []any{nowStr}
	for _, t := range types {
		args = append(args, t)
	}
	in := "?" + strings.Repeat(", ?", len(types)-1)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim: %w", err)
	}
	defer tx.Rollback()

	var j Job
	var runAfter, createdAt string
	var lastError sql.NullString
	err = tx.QueryRow(`
		SELECT id, type, payload_json, attempts, max_attempts, run_after, created_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (`+in+`)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`, args...,
	).Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Attempts, &j.MaxAttempts, &runAfter, &createdAt, &lastError)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, nowStr, j.ID)
	if err != nil {
		return nil, fmt.Errorf("claiming job %s: %w", j.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n != 1 {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.UpdatedAt = now
	j.LastError = lastError.String
	if j.RunAfter, err = parseTime(runAfter, "run_after"); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = parseTime(createdAt, "created_at"); err != nil {
		return nil, err
	}
	return &j, nil
}

// CompleteJob marks a job done. ErrNotFound if no such job exists.
func (s *Store) CompleteJob(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. Jobs with attempts left go back to
// 'pending' with exponential backoff; exhausted jobs land in 'failed'.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrNotFound
	case err != nil:
		return err
	}

	attempts++
	now := time.Now().UTC()
	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		runAfter := now.Add(jobBackoff(attempts))
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// jobBackoff doubles per attempt: 2s after the first failure, then 4s, 8s.
func jobBackoff(attempts int) time.Duration {
	return time.Duration(1<<attempts) * time.Second
}

// RequeueStuckJobs moves jobs left in 'running' by an earlier process
// back to 'pending'. Called once at startup, before the worker starts,
// so a download interrupted by shutdown resumes from its partial file.
func (s *Store) RequeueStuckJobs() (int, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'pending', run_after = ?, updated_at = ? WHERE status = 'running'`, now, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
