package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftwatch/driftwatch/internal/reindex"
	"github.com/driftwatch/driftwatch/internal/splitter"
	"github.com/driftwatch/driftwatch/internal/storage"
	"github.com/driftwatch/driftwatch/internal/watcher"
)

type testEnv struct {
	router http.Handler
	store  *storage.SQLiteStore
	root   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := storage.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	root := t.TempDir()
	opts := watcher.Options{Interval: time.Hour, SourceRoot: root, Mode: watcher.ModeFilesystem}
	proc := reindex.New(store, splitter.New(splitter.DefaultPolicy), nil)
	w := watcher.New(store, proc, nil)
	t.Cleanup(w.Stop)

	srv := NewServer(store, proc, w, opts, nil)
	return &testEnv{router: srv.Router(), store: store, root: root}
}

func (e *testEnv) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func writeSource(t *testing.T, root, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(content), 0o644))
}

func TestRegisterFile(t *testing.T) {
	env := newTestEnv(t)
	writeSource(t, env.root, "a.md", "a\n\nb")

	rec := env.post(t, "/files/register", map[string]string{"path": "a.md"})
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["chunkCount"])
	assert.Equal(t, "a.md", body["uploadPath"])

	fileID := int64(body["fileId"].(float64))
	file, err := env.store.GetFile(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusUploaded, file.Status)
	assert.Equal(t, 1, file.ChunkCount)
	assert.Equal(t, "a\n\nb", file.OriginalText)
	assert.NotEmpty(t, file.OriginalSHA256)
}

func TestRegisterMissingPath(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/files/register", map[string]string{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestRegisterNonexistentFile(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/files/register", map[string]string{"path": "missing.md"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestWatchRunFullCycle(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/files/watch/run", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])
}

func TestWatchRunTargetedUnchangedThenChanged(t *testing.T) {
	env := newTestEnv(t)
	writeSource(t, env.root, "a.md", "original content")

	rec := env.post(t, "/files/register", map[string]string{"path": "a.md"})
	require.Equal(t, http.StatusCreated, rec.Code)
	fileID := int64(decode(t, rec)["fileId"].(float64))

	// Unchanged source: targeted run is a no-op
	rec = env.post(t, "/files/watch/run", map[string]string{"path": "a.md"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, false, results[0].(map[string]any)["changed"])

	events, err := env.store.ListReindexEventsByFile(context.Background(), fileID)
	require.NoError(t, err)
	assert.Len(t, events, 1) // registration only

	// Drifted source: targeted run replaces the chunk set
	writeSource(t, env.root, "a.md", "updated content")
	rec = env.post(t, "/files/watch/run", map[string]string{"path": "a.md"})
	require.Equal(t, http.StatusOK, rec.Code)
	results = decode(t, rec)["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, true, results[0].(map[string]any)["changed"])

	events, err = env.store.ListReindexEventsByFile(context.Background(), fileID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, storage.EventOK, events[1].Status)
	assert.NotEqual(t, events[1].OldSHA256, events[1].NewSHA256)

	chunks, err := env.store.ListChunksByFile(context.Background(), fileID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "updated content", chunks[0].Content)
}

func TestWatchRunTargetedNoMatch(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/files/watch/run", map[string]string{"path": "unknown.md"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestWatchRunStoreUnavailable(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Close())

	rec := env.post(t, "/files/watch/run", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestReindexUnknownID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/files/reindex/9999", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, false, decode(t, rec)["success"])
}

func TestReindexInvalidID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.post(t, "/files/reindex/abc", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReindexNoTextAvailable(t *testing.T) {
	env := newTestEnv(t)
	file := &storage.TrackedFile{Name: "empty.md", Status: storage.StatusUploaded}
	require.NoError(t, env.store.CreateFile(context.Background(), file))

	rec := env.post(t, "/files/reindex/"+itoa(file.ID), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReindexWithOverrideText(t *testing.T) {
	env := newTestEnv(t)
	writeSource(t, env.root, "a.md", "stored text")
	rec := env.post(t, "/files/register", map[string]string{"path": "a.md"})
	require.Equal(t, http.StatusCreated, rec.Code)
	fileID := int64(decode(t, rec)["fileId"].(float64))

	rec = env.post(t, "/files/reindex/"+itoa(fileID), map[string]string{"overrideText": "override text"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["changed"])

	file, err := env.store.GetFile(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, "override text", file.OriginalText)
}

func TestReindexStoredTextForcesResplit(t *testing.T) {
	env := newTestEnv(t)
	writeSource(t, env.root, "a.md", "stored text")
	rec := env.post(t, "/files/register", map[string]string{"path": "a.md"})
	require.Equal(t, http.StatusCreated, rec.Code)
	fileID := int64(decode(t, rec)["fileId"].(float64))

	file, err := env.store.GetFile(context.Background(), fileID)
	require.NoError(t, err)
	priorSHA := file.OriginalSHA256
	require.NotEmpty(t, priorSHA)

	rec = env.post(t, "/files/reindex/"+itoa(fileID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["changed"])
	assert.Equal(t, float64(1), body["chunkCount"])

	// The audit event keeps the real prior fingerprint
	events, err := env.store.ListReindexEventsByFile(context.Background(), fileID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, priorSHA, events[1].OldSHA256)
	assert.Equal(t, priorSHA, events[1].NewSHA256)
}

func TestDebugFiles(t *testing.T) {
	env := newTestEnv(t)
	writeSource(t, env.root, "a.md", "some content")
	rec := env.post(t, "/files/register", map[string]string{"path": "a.md"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.get(t, "/debug/files")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	files := body["files"].([]any)
	require.Len(t, files, 1)
	file := files[0].(map[string]any)
	assert.Equal(t, "a.md", file["sourcePath"])
	assert.Len(t, file["chunks"].([]any), 1)

	// Filtering by an unknown run hides everything
	rec = env.get(t, "/debug/files?run_id=nope")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode(t, rec)["files"])
}

func TestDebugFilesIncludesFilesWithoutSource(t *testing.T) {
	env := newTestEnv(t)
	file := &storage.TrackedFile{Name: "pasted.txt", Status: storage.StatusUploaded}
	require.NoError(t, env.store.CreateFile(context.Background(), file))

	rec := env.get(t, "/debug/files")
	require.Equal(t, http.StatusOK, rec.Code)
	files := decode(t, rec)["files"].([]any)
	require.Len(t, files, 1)
	assert.Equal(t, "pasted.txt", files[0].(map[string]any)["name"])
}

func TestDebugFilesRunFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	inRun := &storage.TrackedFile{Name: "a.md", SourcePath: "a.md", Status: storage.StatusUploaded}
	outside := &storage.TrackedFile{Name: "b.md", SourcePath: "b.md", Status: storage.StatusUploaded}
	require.NoError(t, env.store.CreateFile(ctx, inRun))
	require.NoError(t, env.store.CreateFile(ctx, outside))
	require.NoError(t, env.store.InsertChunks(ctx, inRun.ID,
		[]storage.ChunkInput{{Content: "x", StartChar: 0, EndChar: 1, TokenCount: 1}}, "run-1"))
	require.NoError(t, env.store.InsertChunks(ctx, outside.ID,
		[]storage.ChunkInput{{Content: "y", StartChar: 0, EndChar: 1, TokenCount: 1}}, ""))

	rec := env.get(t, "/debug/files?run_id=run-1")
	require.Equal(t, http.StatusOK, rec.Code)
	files := decode(t, rec)["files"].([]any)
	require.Len(t, files, 1)
	file := files[0].(map[string]any)
	assert.Equal(t, "a.md", file["name"])
	chunks := file["chunks"].([]any)
	require.Len(t, chunks, 1)
	assert.Equal(t, "run-1", chunks[0].(map[string]any)["runId"])
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rec := env.get(t, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
