package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Enable foreign keys so admin-side file deletion cascades to chunks
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStore opens (or creates) the database at dbPath and applies
// pending migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Tracked files

const fileColumns = `id, name, original_name, size_bytes, media_type, extension,
       source_path, status, original_text, original_length, original_sha256,
       chunk_count, created_at, updated_at`

func (s *SQLiteStore) CreateFile(ctx context.Context, file *TrackedFile) error {
	query := `
		INSERT INTO files (name, original_name, size_bytes, media_type, extension,
		                   source_path, status, original_text, original_length,
		                   original_sha256, chunk_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	if file.Status == "" {
		file.Status = StatusPending
	}
	result, err := s.db.ExecContext(ctx, query,
		file.Name, file.OriginalName, file.SizeBytes, file.MediaType, file.Extension,
		file.SourcePath, string(file.Status), file.OriginalText, file.OriginalLength,
		file.OriginalSHA256, file.ChunkCount, now, now)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	file.ID = id
	file.CreatedAt = now
	file.UpdatedAt = now
	return nil
}

func scanFile(row interface{ Scan(...any) error }) (*TrackedFile, error) {
	var f TrackedFile
	var status string
	var originalName, mediaType, extension, sourcePath, originalText, sha sql.NullString
	err := row.Scan(
		&f.ID, &f.Name, &originalName, &f.SizeBytes, &mediaType, &extension,
		&sourcePath, &status, &originalText, &f.OriginalLength, &sha,
		&f.ChunkCount, &f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	f.Status = FileStatus(status)
	f.OriginalName = originalName.String
	f.MediaType = mediaType.String
	f.Extension = extension.String
	f.SourcePath = sourcePath.String
	f.OriginalText = originalText.String
	f.OriginalSHA256 = sha.String
	return &f, nil
}

func (s *SQLiteStore) GetFile(ctx context.Context, id int64) (*TrackedFile, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)
	file, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (s *SQLiteStore) FindFilesBySourcePath(ctx context.Context, sourcePath string) ([]*TrackedFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files WHERE source_path = ? ORDER BY id`, sourcePath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectFiles(rows)
}

func (s *SQLiteStore) ListFiles(ctx context.Context) ([]*TrackedFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectFiles(rows)
}

func (s *SQLiteStore) ListFilesWithSource(ctx context.Context) ([]*TrackedFile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+fileColumns+` FROM files
		 WHERE source_path IS NOT NULL AND source_path != ''
		 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectFiles(rows)
}

func collectFiles(rows *sql.Rows) ([]*TrackedFile, error) {
	files := make([]*TrackedFile, 0)
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

// UpdateFileStatus changes the lifecycle status and applies any non-nil
// patch fields in the same statement.
func (s *SQLiteStore) UpdateFileStatus(ctx context.Context, id int64, status FileStatus, patch *FilePatch) error {
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(status), time.Now().UTC()}

	if patch != nil {
		if patch.OriginalText != nil {
			sets = append(sets, "original_text = ?")
			args = append(args, *patch.OriginalText)
		}
		if patch.OriginalLength != nil {
			sets = append(sets, "original_length = ?")
			args = append(args, *patch.OriginalLength)
		}
		if patch.OriginalSHA256 != nil {
			sets = append(sets, "original_sha256 = ?")
			args = append(args, *patch.OriginalSHA256)
		}
		if patch.ChunkCount != nil {
			sets = append(sets, "chunk_count = ?")
			args = append(args, *patch.ChunkCount)
		}
	}

	args = append(args, id)
	query := "UPDATE files SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update file status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Chunks

func (s *SQLiteStore) DeleteChunksByFile(ctx context.Context, fileID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// InsertChunks writes a complete chunk set for a file in one transaction, so
// the file never ends up with a partial set, only stale or empty.
func (s *SQLiteStore) InsertChunks(ctx context.Context, fileID int64, chunks []ChunkInput, runID string) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin chunk insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (file_id, idx, content, start_char, end_char, token_count, run_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	var run sql.NullString
	if runID != "" {
		run = sql.NullString{String: runID, Valid: true}
	}
	for i, c := range chunks {
		if _, err := stmt.ExecContext(ctx, fileID, i, c.Content, c.StartChar, c.EndChar, c.TokenCount, run, now); err != nil {
			return fmt.Errorf("failed to insert chunk %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunk insert: %w", err)
	}
	return nil
}

const chunkColumns = `id, file_id, idx, content, start_char, end_char, token_count, run_id, created_at`

func (s *SQLiteStore) ListChunksByFile(ctx context.Context, fileID int64) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE file_id = ? ORDER BY idx`, fileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectChunks(rows)
}

func (s *SQLiteStore) ListChunksByRun(ctx context.Context, runID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE run_id = ? ORDER BY file_id, idx`, runID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectChunks(rows)
}

func collectChunks(rows *sql.Rows) ([]*Chunk, error) {
	chunks := make([]*Chunk, 0)
	for rows.Next() {
		var c Chunk
		var run sql.NullString
		if err := rows.Scan(&c.ID, &c.FileID, &c.Idx, &c.Content, &c.StartChar,
			&c.EndChar, &c.TokenCount, &run, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.RunID = run.String
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

// Watch runs

func (s *SQLiteStore) CreateWatchRun(ctx context.Context, mode string) (*WatchRun, error) {
	run := &WatchRun{
		ID:        uuid.NewString(),
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watch_runs (id, mode, started_at) VALUES (?, ?, ?)`,
		run.ID, run.Mode, run.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create watch run: %w", err)
	}
	return run, nil
}

// FinishWatchRun finalizes a run exactly once; finishing an already-finished
// run is a no-op.
func (s *SQLiteStore) FinishWatchRun(ctx context.Context, runID string, scanned, changed, errCount int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE watch_runs
		SET finished_at = ?, files_scanned = ?, files_changed = ?, error_count = ?
		WHERE id = ? AND finished_at IS NULL
	`, time.Now().UTC(), scanned, changed, errCount, runID)
	if err != nil {
		return fmt.Errorf("failed to finish watch run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetWatchRun(ctx context.Context, runID string) (*WatchRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, mode, started_at, finished_at, files_scanned, files_changed, error_count
		FROM watch_runs WHERE id = ?
	`, runID)
	run, err := scanWatchRun(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) ListWatchRuns(ctx context.Context, limit int) ([]*WatchRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, mode, started_at, finished_at, files_scanned, files_changed, error_count
		FROM watch_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	runs := make([]*WatchRun, 0)
	for rows.Next() {
		run, err := scanWatchRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanWatchRun(row interface{ Scan(...any) error }) (*WatchRun, error) {
	var run WatchRun
	var finished sql.NullTime
	err := row.Scan(&run.ID, &run.Mode, &run.StartedAt, &finished,
		&run.FilesScanned, &run.FilesChanged, &run.ErrorCount)
	if err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

// Reindex events

func (s *SQLiteStore) CreateReindexEvent(ctx context.Context, event *ReindexEvent) error {
	now := time.Now().UTC()
	var run sql.NullString
	if event.RunID != "" {
		run = sql.NullString{String: event.RunID, Valid: true}
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO reindex_events (file_id, run_id, old_sha256, new_sha256, status, message, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, event.FileID, run, event.OldSHA256, event.NewSHA256, event.Status, event.Message, event.DurationMs, now)
	if err != nil {
		return fmt.Errorf("failed to create reindex event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = id
	event.CreatedAt = now
	return nil
}

func (s *SQLiteStore) ListReindexEventsByFile(ctx context.Context, fileID int64) ([]*ReindexEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, run_id, old_sha256, new_sha256, status, message, duration_ms, created_at
		FROM reindex_events WHERE file_id = ? ORDER BY id
	`, fileID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	events := make([]*ReindexEvent, 0)
	for rows.Next() {
		var e ReindexEvent
		var run, oldSHA, newSHA, msg sql.NullString
		if err := rows.Scan(&e.ID, &e.FileID, &run, &oldSHA, &newSHA, &e.Status, &msg,
			&e.DurationMs, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.RunID = run.String
		e.OldSHA256 = oldSHA.String
		e.NewSHA256 = newSHA.String
		e.Message = msg.String
		events = append(events, &e)
	}
	return events, rows.Err()
}
