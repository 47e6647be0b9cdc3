package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"autorec/internal/config"
)

// ErrNotFound is returned when an entry id does not exist.
var ErrNotFound = errors.New("history entry not found")

// Store persists recording history in SQLite, bounded to MaxEntries.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open initializes or connects to the history database under paths.state_dir.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.HistoryDBPath())
}

// OpenPath opens the history database at an explicit location.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection serializes append and trim.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, now: time.Now}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Append inserts entry as the newest record and evicts the oldest records
// beyond MaxEntries in the same transaction. A blank ID or Date is filled in.
// The number of evicted entries is returned.
func (s *Store) Append(ctx context.Context, entry *Entry) (int, error) {
	if entry == nil {
		return 0, errors.New("entry is nil")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Date.IsZero() {
		entry.Date = s.now()
	}
	entry.Date = entry.Date.UTC()

	var evicted int
	err := retryOnBusy(ctx, func() error {
		n, err := s.appendTx(ctx, entry)
		evicted = n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("append history entry: %w", err)
	}
	return evicted, nil
}

func (s *Store) appendTx(ctx context.Context, entry *Entry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO history_entries (
            id, recorded_at, duration_ms, transcription, summary,
            mic_transcription, counterpart_transcription, is_separate,
            audio_path, error_message, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.Date.Format(time.RFC3339Nano),
		entry.DurationMs,
		nullableString(entry.Transcription),
		nullableString(entry.Summary),
		nullableString(entry.MicTranscription),
		nullableString(entry.CounterpartTranscription),
		boolToInt(entry.IsSeparateRecording),
		nullableString(entry.AudioPath),
		nullableString(entry.ErrorMessage),
		s.now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM history_entries
         WHERE seq NOT IN (SELECT seq FROM history_entries ORDER BY seq DESC LIMIT ?)`,
		MaxEntries,
	)
	if err != nil {
		return 0, err
	}
	evicted, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(evicted), nil
}

// List returns entries newest first.
func (s *Store) List(ctx context.Context) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+entryColumns+` FROM history_entries ORDER BY seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// Get fetches one entry by id. A unique id prefix is also accepted.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrNotFound)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM history_entries WHERE id = ?`, id)
	entry, err := scanEntry(row)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get history entry: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM history_entries WHERE id LIKE ? ESCAPE '\' LIMIT 2`,
		escapeLike(id)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("get history entry: %w", err)
	}
	defer rows.Close()
	var matches []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		matches = append(matches, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	if len(matches) != 1 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return matches[0], nil
}

// Delete removes one entry by exact id.
func (s *Store) Delete(ctx context.Context, id string) error {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, `DELETE FROM history_entries WHERE id = ?`, id)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("delete history entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Clear removes every entry and returns how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	var res sql.Result
	err := retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx, `DELETE FROM history_entries`)
		return execErr
	})
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of retained entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM history_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

func escapeLike(value string) string {
	out := make([]byte, 0, len(value))
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '%', '_', '\\':
			out = append(out, '\\')
		}
		out = append(out, value[i])
	}
	return string(out)
}
