// Package journal records one row per pipeline run in a local SQLite
// database so operators can see what happened to each file after the fact.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"seisarchive/internal/config"
	"seisarchive/internal/sqlitedb"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes; older journals must
// be deleted.
const schemaVersion = 1

const entryColumns = "id, file, source_path, policy, state, exit_status, final_stage, reason_code, reason_class, reason_message, identifier, final_path, trail, session_json, error_message, started_at, finished_at"

// Entry is one journaled run.
type Entry struct {
	ID            int64
	File          string
	SourcePath    string
	Policy        string
	State         string
	Exit          string
	Stage         string
	ReasonCode    string
	ReasonClass   string
	ReasonMessage string
	Identifier    string
	FinalPath     string
	Trail         []string
	SessionJSON   string
	ErrorMessage  string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	File   string
	Policy string
	State  string
	Limit  int
}

// Store persists journal entries.
type Store struct {
	db   *sql.DB
	path string
}

// Path returns the journal location under the state directory.
func Path(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.StateDir, "journal.db")
}

// Open opens or creates the journal for cfg.
func Open(ctx context.Context, cfg *config.Config) (*Store, error) {
	return OpenPath(ctx, Path(cfg))
}

// OpenPath opens or creates the journal at path.
func OpenPath(ctx context.Context, path string) (*Store, error) {
	db, err := sqlitedb.Open(ctx, path, sqlitedb.Schema{Name: "journal", SQL: schemaSQL, Version: schemaVersion})
	if err != nil {
		return nil, err
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts entry and assigns its ID.
func (s *Store) Record(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return errors.New("entry is nil")
	}
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = time.Now().UTC()
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = entry.FinishedAt
	}
	res, err := sqlitedb.Exec(ctx, s.db,
		`INSERT INTO runs (
            file, source_path, policy, state, exit_status, final_stage,
            reason_code, reason_class, reason_message, identifier, final_path,
            trail, session_json, error_message, started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.File,
		entry.SourcePath,
		entry.Policy,
		entry.State,
		entry.Exit,
		nullableString(entry.Stage),
		nullableString(entry.ReasonCode),
		nullableString(entry.ReasonClass),
		nullableString(entry.ReasonMessage),
		nullableString(entry.Identifier),
		nullableString(entry.FinalPath),
		nullableString(strings.Join(entry.Trail, ",")),
		nullableString(entry.SessionJSON),
		nullableString(entry.ErrorMessage),
		entry.StartedAt.UTC().Format(time.RFC3339Nano),
		entry.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// Get returns the entry with id, or nil.
func (s *Store) Get(ctx context.Context, id int64) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM runs WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get journal entry: %w", err)
	}
	return entry, nil
}

// List returns entries matching filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.File != "" {
		clauses = append(clauses, "file = ?")
		args = append(args, filter.File)
	}
	if filter.Policy != "" {
		clauses = append(clauses, "policy = ?")
		args = append(args, filter.Policy)
	}
	if filter.State != "" {
		clauses = append(clauses, "state = ?")
		args = append(args, filter.State)
	}
	query := `SELECT ` + entryColumns + ` FROM runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// Stats counts entries grouped by state.
func (s *Store) Stats(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(1) FROM runs GROUP BY state`)
	if err != nil {
		return nil, fmt.Errorf("journal stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats[state] = count
	}
	return stats, rows.Err()
}

// Prune deletes entries finished before cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := sqlitedb.Exec(ctx, s.db, `DELETE FROM runs WHERE finished_at < ?`, cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune journal: %w", err)
	}
	return res.RowsAffected()
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		entry         Entry
		stage         sql.NullString
		reasonCode    sql.NullString
		reasonClass   sql.NullString
		reasonMessage sql.NullString
		identifier    sql.NullString
		finalPath     sql.NullString
		trail         sql.NullString
		sessionJSON   sql.NullString
		errorMessage  sql.NullString
		startedRaw    string
		finishedRaw   string
	)
	if err := scanner.Scan(
		&entry.ID,
		&entry.File,
		&entry.SourcePath,
		&entry.Policy,
		&entry.State,
		&entry.Exit,
		&stage,
		&reasonCode,
		&reasonClass,
		&reasonMessage,
		&identifier,
		&finalPath,
		&trail,
		&sessionJSON,
		&errorMessage,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	entry.Stage = stage.String
	entry.ReasonCode = reasonCode.String
	entry.ReasonClass = reasonClass.String
	entry.ReasonMessage = reasonMessage.String
	entry.Identifier = identifier.String
	entry.FinalPath = finalPath.String
	if trail.String != "" {
		entry.Trail = strings.Split(trail.String, ",")
	}
	entry.SessionJSON = sessionJSON.String
	entry.ErrorMessage = errorMessage.String
	if t, err := time.Parse(time.RFC3339Nano, startedRaw); err == nil {
		entry.StartedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, finishedRaw); err == nil {
		entry.FinishedAt = t
	}
	return &entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
