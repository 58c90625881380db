// Package reindex performs the fingerprint-compare-and-replace operation
// for a single tracked file.
package reindex

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/driftwatch/driftwatch/internal/fingerprint"
	"github.com/driftwatch/driftwatch/internal/splitter"
	"github.com/driftwatch/driftwatch/internal/storage"
)

// Result reports the outcome of one reprocessing attempt.
type Result struct {
	Changed    bool
	NewSHA256  string
	ChunkCount int
}

// Reprocessor re-splits a file's text and swaps its chunk set whenever the
// content fingerprint has drifted.
type Reprocessor struct {
	store  storage.Store
	split  *splitter.Splitter
	logger *slog.Logger
}

func New(store storage.Store, split *splitter.Splitter, logger *slog.Logger) *Reprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reprocessor{store: store, split: split, logger: logger}
}

// Reprocess compares sourceText's fingerprint against the stored one and, on
// mismatch, replaces the file's chunk set and updates the file record. runID
// may be empty for manual reindexes.
//
// The delete/insert/update sequence is not atomic across store calls. A crash
// mid-sequence leaves the stored fingerprint stale, so the next scan cycle
// sees a mismatch and retries; the transient reindexing status marks the file
// as mid-swap in the meantime.
func (r *Reprocessor) Reprocess(ctx context.Context, file *storage.TrackedFile, sourceText, runID string) (*Result, error) {
	return r.reprocess(ctx, file, sourceText, runID, false)
}

// ForceReprocess re-splits even when the fingerprint is unchanged. The audit
// event still records the stored fingerprint as its old value.
func (r *Reprocessor) ForceReprocess(ctx context.Context, file *storage.TrackedFile, sourceText, runID string) (*Result, error) {
	return r.reprocess(ctx, file, sourceText, runID, true)
}

func (r *Reprocessor) reprocess(ctx context.Context, file *storage.TrackedFile, sourceText, runID string, force bool) (*Result, error) {
	newSHA := fingerprint.Hash(sourceText)

	if !force && file.OriginalSHA256 != "" && file.OriginalSHA256 == newSHA {
		r.logger.Debug("fingerprint unchanged, skipping reindex",
			"file_id", file.ID, "sha256", newSHA)
		return &Result{Changed: false, NewSHA256: newSHA, ChunkCount: file.ChunkCount}, nil
	}

	start := time.Now()
	oldSHA := file.OriginalSHA256

	if file.Status.IsSteady() {
		if err := r.store.UpdateFileStatus(ctx, file.ID, storage.StatusReindexing, nil); err != nil {
			return nil, r.fail(ctx, file, runID, oldSHA, newSHA, start, fmt.Errorf("failed to mark file reindexing: %w", err))
		}
	}

	pieces := r.split.Split(sourceText)
	inputs := make([]storage.ChunkInput, len(pieces))
	for i, p := range pieces {
		inputs[i] = storage.ChunkInput{
			Content:    p.Text,
			StartChar:  p.StartChar,
			EndChar:    p.EndChar,
			TokenCount: p.TokenCount,
		}
	}

	if err := r.store.DeleteChunksByFile(ctx, file.ID); err != nil {
		return nil, r.fail(ctx, file, runID, oldSHA, newSHA, start, fmt.Errorf("failed to delete stale chunks: %w", err))
	}
	if err := r.store.InsertChunks(ctx, file.ID, inputs, runID); err != nil {
		return nil, r.fail(ctx, file, runID, oldSHA, newSHA, start, fmt.Errorf("failed to insert chunks: %w", err))
	}

	length := len(sourceText)
	count := len(inputs)
	patch := &storage.FilePatch{
		OriginalText:   &sourceText,
		OriginalLength: &length,
		OriginalSHA256: &newSHA,
		ChunkCount:     &count,
	}
	if err := r.store.UpdateFileStatus(ctx, file.ID, storage.StatusUploaded, patch); err != nil {
		return nil, r.fail(ctx, file, runID, oldSHA, newSHA, start, fmt.Errorf("failed to update file record: %w", err))
	}

	event := &storage.ReindexEvent{
		FileID:     file.ID,
		RunID:      runID,
		OldSHA256:  oldSHA,
		NewSHA256:  newSHA,
		Status:     storage.EventOK,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err := r.store.CreateReindexEvent(ctx, event); err != nil {
		r.logger.Warn("failed to record reindex event", "file_id", file.ID, "error", err)
	}

	r.logger.Info("file reindexed",
		"file_id", file.ID, "chunks", count,
		"old_sha256", oldSHA, "new_sha256", newSHA,
		"duration_ms", event.DurationMs)

	return &Result{Changed: true, NewSHA256: newSHA, ChunkCount: count}, nil
}

// fail marks the file errored and records an audit event before returning
// the original error. Bookkeeping failures are logged, never masked over
// the cause.
func (r *Reprocessor) fail(ctx context.Context, file *storage.TrackedFile, runID, oldSHA, newSHA string, start time.Time, cause error) error {
	if err := r.store.UpdateFileStatus(ctx, file.ID, storage.StatusError, nil); err != nil {
		r.logger.Warn("failed to mark file errored", "file_id", file.ID, "error", err)
	}
	event := &storage.ReindexEvent{
		FileID:     file.ID,
		RunID:      runID,
		OldSHA256:  oldSHA,
		NewSHA256:  newSHA,
		Status:     storage.EventError,
		Message:    cause.Error(),
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err := r.store.CreateReindexEvent(ctx, event); err != nil {
		r.logger.Warn("failed to record reindex event", "file_id", file.ID, "error", err)
	}
	r.logger.Error("reindex failed", "file_id", file.ID, "error", cause)
	return cause
}
