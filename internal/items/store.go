// Package items persists work items and their transition history in SQLite.
// Items are append-only at intake; the dot-path column changes only through
// RecordTransition, which writes the history row in the same transaction.
package items

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"loom/internal/services"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped on incompatible schema changes; a mismatched
// database must be deleted and rebuilt from the tracker.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database was created by a different
// schema version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Store manages work item persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open initializes or connects to the work item database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}

	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete the database to rebuild)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (s *Store) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

const itemColumns = `id, intake_key, title, dot_path, flow, branch, pr_number, worktree, deps_json, created_at, updated_at, last_advanced_at`

// Create inserts a new work item at the given entry dot-path. A fresh intake
// key is generated when none is supplied; supplying one makes intake
// idempotent against tracker re-imports.
func (s *Store) Create(ctx context.Context, intakeKey, title, dotPath, flow string, deps []int64) (*Item, error) {
	if strings.TrimSpace(title) == "" {
		return nil, services.Wrap(services.ErrValidation, dotPath, "intake", "title must not be empty", nil)
	}
	if intakeKey == "" {
		intakeKey = uuid.NewString()
	}
	if deps == nil {
		deps = []int64{}
	}
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return nil, fmt.Errorf("marshal deps: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO work_items (
            intake_key, title, dot_path, flow, deps_json,
            created_at, updated_at, last_advanced_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		intakeKey, title, dotPath, flow, string(depsJSON), now, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert work item: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a work item, nil when absent.
func (s *Store) GetByID(ctx context.Context, id int64) (*Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM work_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// FindByIntakeKey returns the item created with the given intake key, nil
// when absent.
func (s *Store) FindByIntakeKey(ctx context.Context, key string) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM work_items WHERE intake_key = ? LIMIT 1`, key)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by intake key: %w", err)
	}
	return item, nil
}

// List returns all items ordered by id.
func (s *Store) List(ctx context.Context) ([]*Item, error) {
	return s.queryItems(ctx, `SELECT `+itemColumns+` FROM work_items ORDER BY id`)
}

// ListByPath returns items currently at the given dot-path.
func (s *Store) ListByPath(ctx context.Context, dotPath string) ([]*Item, error) {
	return s.queryItems(ctx,
		`SELECT `+itemColumns+` FROM work_items WHERE dot_path = ? ORDER BY id`, dotPath)
}

// InFlight returns items whose dot-path is not in the excluded set. The
// caller supplies the resting states (terminals and parking lots).
func (s *Store) InFlight(ctx context.Context, excluded []string) ([]*Item, error) {
	if len(excluded) == 0 {
		return s.List(ctx)
	}
	placeholders := strings.Repeat("?,", len(excluded))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(excluded))
	for i, p := range excluded {
		args[i] = p
	}
	return s.queryItems(ctx,
		`SELECT `+itemColumns+` FROM work_items WHERE dot_path NOT IN (`+placeholders+`) ORDER BY id`,
		args...)
}

// Unblocked returns items waiting at waitPath whose dependencies have all
// reached one of the done states.
func (s *Store) Unblocked(ctx context.Context, waitPath string, doneStates []string) ([]*Item, error) {
	waiting, err := s.ListByPath(ctx, waitPath)
	if err != nil {
		return nil, err
	}
	if len(waiting) == 0 {
		return nil, nil
	}
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*Item, len(all))
	for _, item := range all {
		byID[item.ID] = item
	}
	done := make(map[string]bool, len(doneStates))
	for _, state := range doneStates {
		done[state] = true
	}

	var unblocked []*Item
	for _, item := range waiting {
		ready := true
		for _, dep := range item.Deps {
			d, ok := byID[dep]
			if !ok || !done[d.DotPath] {
				ready = false
				break
			}
		}
		if ready {
			unblocked = append(unblocked, item)
		}
	}
	return unblocked, nil
}

// RecordTransition moves an item to a new dot-path and appends the history
// row in the same transaction. The kind must be one of the Kind constants.
func (s *Store) RecordTransition(ctx context.Context, itemID int64, toPath, kind, reason string) (*Item, error) {
	item, err := s.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, services.Wrap(services.ErrNotFound, "", "transition",
			fmt.Sprintf("work item %d does not exist", itemID), nil)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	err = retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transition tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx,
			`UPDATE work_items SET dot_path = ?, updated_at = ?, last_advanced_at = ? WHERE id = ?`,
			toPath, now, now, itemID,
		); err != nil {
			return fmt.Errorf("update item path: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO item_transitions (item_id, from_path, to_path, kind, reason, at)
             VALUES (?, ?, ?, ?, ?, ?)`,
			itemID, item.DotPath, toPath, kind, nullableString(reason), now,
		); err != nil {
			return fmt.Errorf("insert transition: %w", err)
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, itemID)
}

// SetDetails updates the mutable bookkeeping columns that hook actions own:
// branch, PR number, and worktree location. Zero values leave a column
// untouched.
func (s *Store) SetDetails(ctx context.Context, itemID int64, branch string, prNumber int, worktree string) error {
	item, err := s.GetByID(ctx, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		return services.Wrap(services.ErrNotFound, "", "update",
			fmt.Sprintf("work item %d does not exist", itemID), nil)
	}
	if branch == "" {
		branch = item.Branch
	}
	if prNumber == 0 {
		prNumber = item.PRNumber
	}
	if worktree == "" {
		worktree = item.Worktree
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = s.execWithRetry(ctx,
		`UPDATE work_items SET branch = ?, pr_number = ?, worktree = ?, updated_at = ? WHERE id = ?`,
		nullableString(branch), prNumber, nullableString(worktree), now, itemID)
	if err != nil {
		return fmt.Errorf("update item details: %w", err)
	}
	return nil
}

// History returns the transition records for an item, oldest first.
func (s *Store) History(ctx context.Context, itemID int64) ([]Transition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_id, from_path, to_path, kind, reason, at
         FROM item_transitions WHERE item_id = ? ORDER BY id`, itemID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var history []Transition
	for rows.Next() {
		var (
			t      Transition
			reason sql.NullString
			at     string
		)
		if err := rows.Scan(&t.ID, &t.ItemID, &t.FromPath, &t.ToPath, &t.Kind, &reason, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.Reason = reason.String
		t.At = parseTime(at)
		history = append(history, t)
	}
	return history, rows.Err()
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var result []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		result = append(result, item)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item       Item
		branch     sql.NullString
		worktree   sql.NullString
		depsJSON   string
		createdAt  string
		updatedAt  string
		advancedAt string
	)
	if err := row.Scan(
		&item.ID, &item.IntakeKey, &item.Title, &item.DotPath, &item.Flow,
		&branch, &item.PRNumber, &worktree, &depsJSON,
		&createdAt, &updatedAt, &advancedAt,
	); err != nil {
		return nil, err
	}
	item.Branch = branch.String
	item.Worktree = worktree.String
	if err := json.Unmarshal([]byte(depsJSON), &item.Deps); err != nil {
		return nil, fmt.Errorf("decode deps: %w", err)
	}
	item.CreatedAt = parseTime(createdAt)
	item.UpdatedAt = parseTime(updatedAt)
	item.LastAdvancedAt = parseTime(advancedAt)
	return &item, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
