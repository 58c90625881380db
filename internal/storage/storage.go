package storage

import (
	"context"
	"time"
)

// FileStatus is the lifecycle state of a tracked file.
//
// Happy path: pending -> uploading -> processing -> uploaded (or ready).
// error is reachable from any state. reindexing is only entered from
// uploaded/ready while the reprocessor is mid-swap, and returns to
// uploaded on success or error on failure. Deletion is an external admin
// action, not a status.
type FileStatus string

const (
	StatusPending    FileStatus = "pending"
	StatusUploading  FileStatus = "uploading"
	StatusProcessing FileStatus = "processing"
	StatusUploaded   FileStatus = "uploaded"
	StatusReady      FileStatus = "ready"
	StatusReindexing FileStatus = "reindexing"
	StatusError      FileStatus = "error"
)

// IsSteady reports whether the status is a not-mid-transition state. The
// scanner keeps revisiting steady files on every cycle.
func (s FileStatus) IsSteady() bool {
	return s == StatusUploaded || s == StatusReady
}

// Outcome recorded on a ReindexEvent.
const (
	EventOK    = "ok"
	EventError = "error"
)

// TrackedFile is one ingested document. ChunkCount mirrors the number of
// chunk rows for the file whenever the status is steady, and
// OriginalSHA256 is the fingerprint of OriginalText as of the last
// successful (re)processing.
type TrackedFile struct {
	ID             int64
	Name           string
	OriginalName   string
	SizeBytes      int64
	MediaType      string
	Extension      string
	SourcePath     string
	Status         FileStatus
	OriginalText   string
	OriginalLength int
	OriginalSHA256 string
	ChunkCount     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Chunk is one contiguous slice of a file's text. For a given file the Idx
// values form a dense 0..N-1 sequence and StartChar is non-decreasing with
// Idx. Chunks are replaced wholesale, never mutated individually.
type Chunk struct {
	ID         int64
	FileID     int64
	Idx        int
	Content    string
	StartChar  int
	EndChar    int
	TokenCount int
	RunID      string // optional watch-run correlation, empty when manual
	CreatedAt  time.Time
}

// ChunkInput is the write-side shape handed to InsertChunks.
type ChunkInput struct {
	Content    string
	StartChar  int
	EndChar    int
	TokenCount int
}

// WatchRun is one execution of the scan cycle. Append-only: FinishedAt is
// set exactly once, after every candidate file has been visited.
type WatchRun struct {
	ID           string // uuid
	Mode         string
	StartedAt    time.Time
	FinishedAt   *time.Time
	FilesScanned int
	FilesChanged int
	ErrorCount   int
}

// ReindexEvent is the audit record for one reprocessing attempt. Exactly
// one event exists per attempt, whatever the outcome.
type ReindexEvent struct {
	ID         int64
	FileID     int64
	RunID      string // empty for manual reindexes
	OldSHA256  string
	NewSHA256  string
	Status     string // EventOK or EventError
	Message    string
	DurationMs int64
	CreatedAt  time.Time
}

// FilePatch carries the optional field updates applied together with a
// status change. Nil fields are left untouched.
type FilePatch struct {
	OriginalText   *string
	OriginalLength *int
	OriginalSHA256 *string
	ChunkCount     *int
}

// Store abstracts persistence for tracked files, chunks, watch runs and
// reindex events. Each method is a single logical operation against the
// backing store; the interface offers no multi-statement atomicity. The
// reprocessor's delete/insert/update sequence is a documented
// at-least-once, eventually-consistent update.
type Store interface {
	// Tracked files
	CreateFile(ctx context.Context, file *TrackedFile) error
	GetFile(ctx context.Context, id int64) (*TrackedFile, error)
	FindFilesBySourcePath(ctx context.Context, sourcePath string) ([]*TrackedFile, error)
	ListFiles(ctx context.Context) ([]*TrackedFile, error)
	ListFilesWithSource(ctx context.Context) ([]*TrackedFile, error)
	UpdateFileStatus(ctx context.Context, id int64, status FileStatus, patch *FilePatch) error

	// Chunks
	DeleteChunksByFile(ctx context.Context, fileID int64) error
	InsertChunks(ctx context.Context, fileID int64, chunks []ChunkInput, runID string) error
	ListChunksByFile(ctx context.Context, fileID int64) ([]*Chunk, error)
	ListChunksByRun(ctx context.Context, runID string) ([]*Chunk, error)

	// Watch runs
	CreateWatchRun(ctx context.Context, mode string) (*WatchRun, error)
	FinishWatchRun(ctx context.Context, runID string, scanned, changed, errors int) error
	GetWatchRun(ctx context.Context, runID string) (*WatchRun, error)
	ListWatchRuns(ctx context.Context, limit int) ([]*WatchRun, error)

	// Reindex events
	CreateReindexEvent(ctx context.Context, event *ReindexEvent) error
	ListReindexEventsByFile(ctx context.Context, fileID int64) ([]*ReindexEvent, error)

	// Ping verifies the store is reachable; used as the API preflight.
	Ping(ctx context.Context) error
	Close() error
}
