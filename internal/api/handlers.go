package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/driftwatch/driftwatch/internal/storage"
	"github.com/driftwatch/driftwatch/internal/watcher"
)

type registerRequest struct {
	Path string `json:"path"`
	Name string `json:"name,omitempty"`
}

// handleRegister onboards a file from the configured source root: reads it,
// splits it and creates a tracked file in uploaded status.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}

	resolved := watcher.ResolvePath(s.watchOpts.SourceRoot, req.Path)
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "file does not exist: "+resolved)
			return
		}
		s.logger.Error("failed to read source file", "path", resolved, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to read file")
		return
	}

	name := req.Name
	if name == "" {
		name = filepath.Base(resolved)
	}
	ext := filepath.Ext(resolved)
	sourcePath := watcher.NormalizePath(req.Path)

	file := &storage.TrackedFile{
		Name:         name,
		OriginalName: filepath.Base(resolved),
		SizeBytes:    int64(len(data)),
		MediaType:    mime.TypeByExtension(ext),
		Extension:    ext,
		SourcePath:   sourcePath,
		Status:       storage.StatusProcessing,
	}
	if err := s.store.CreateFile(r.Context(), file); err != nil {
		s.logger.Error("failed to create tracked file", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to create file record")
		return
	}

	res, err := s.proc.Reprocess(r.Context(), file, string(data), "")
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to process file: "+err.Error())
		return
	}

	s.respond(w, http.StatusCreated, map[string]any{
		"success":      true,
		"fileId":       file.ID,
		"uploadPath":   sourcePath,
		"chunkCount":   res.ChunkCount,
		"resolvedPath": resolved,
	})
}

type watchRunRequest struct {
	Path string `json:"path,omitempty"`
}

type fileRunResult struct {
	FileID     int64  `json:"fileId"`
	Changed    bool   `json:"changed"`
	ChunkCount int    `json:"chunkCount"`
	Error      string `json:"error,omitempty"`
}

// handleWatchRun triggers a full scan cycle, or with a path in the body,
// synchronously reprocesses only the tracked files matching that path.
func (s *Server) handleWatchRun(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.logger.Error("store preflight failed", "error", err)
		s.respondError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	var req watchRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Path == "" {
		if err := s.watch.Start(s.watchOpts); err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.watch.TriggerNow()
		s.respond(w, http.StatusAccepted, map[string]any{
			"success": true,
			"message": "watch cycle triggered",
		})
		return
	}

	results, found, err := s.runTargeted(r, req.Path)
	if err != nil {
		s.logger.Error("targeted run failed", "path", req.Path, "error", err)
		s.respondError(w, http.StatusInternalServerError, "targeted run failed")
		return
	}
	if !found {
		s.respondError(w, http.StatusNotFound, "no tracked file matches path: "+req.Path)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"success": true,
		"results": results,
	})
}

// runTargeted reprocesses every tracked file whose normalized source
// locator equals the given path. Per-file failures are reported in the
// result list, never aborting the remaining matches.
func (s *Server) runTargeted(r *http.Request, path string) ([]fileRunResult, bool, error) {
	// Source locators are stored normalized, so an equality query suffices
	files, err := s.store.FindFilesBySourcePath(r.Context(), watcher.NormalizePath(path))
	if err != nil {
		return nil, false, err
	}

	results := make([]fileRunResult, 0, len(files))
	for _, file := range files {
		result := fileRunResult{FileID: file.ID}

		resolved := watcher.ResolvePath(s.watchOpts.SourceRoot, file.SourcePath)
		data, err := os.ReadFile(resolved)
		if err != nil {
			result.Error = "source unreadable: " + err.Error()
			results = append(results, result)
			continue
		}

		res, err := s.proc.Reprocess(r.Context(), file, string(data), "")
		if err != nil {
			result.Error = err.Error()
		} else {
			result.Changed = res.Changed
			result.ChunkCount = res.ChunkCount
		}
		results = append(results, result)
	}
	return results, len(results) > 0, nil
}

type reindexRequest struct {
	OverrideText *string `json:"overrideText,omitempty"`
}

// handleReindex forces a re-split of one tracked file from the supplied
// override text or, absent one, its stored text.
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid file id")
		return
	}

	file, err := s.store.GetFile(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		s.respondError(w, http.StatusNotFound, "file not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load file", "file_id", id, "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to load file")
		return
	}

	var req reindexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	text := file.OriginalText
	if req.OverrideText != nil {
		text = *req.OverrideText
	} else if text == "" {
		s.respondError(w, http.StatusBadRequest, "file has no stored text and no overrideText was supplied")
		return
	}

	res, err := s.proc.ForceReprocess(r.Context(), file, text, "")
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "reindex failed: "+err.Error())
		return
	}

	s.respond(w, http.StatusOK, map[string]any{
		"success":    true,
		"fileId":     file.ID,
		"changed":    res.Changed,
		"chunkCount": res.ChunkCount,
		"sha256":     res.NewSHA256,
	})
}

type chunkView struct {
	Idx        int    `json:"idx"`
	Content    string `json:"content"`
	StartChar  int    `json:"startChar"`
	EndChar    int    `json:"endChar"`
	TokenCount int    `json:"tokenCount"`
	RunID      string `json:"runId,omitempty"`
}

type fileView struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	SourcePath string      `json:"sourcePath"`
	Status     string      `json:"status"`
	SHA256     string      `json:"sha256"`
	ChunkCount int         `json:"chunkCount"`
	Chunks     []chunkView `json:"chunks"`
}

// handleDebugFiles lists every tracked file with its chunks. With run_id it
// narrows to the files and chunks written by that watch run.
func (s *Server) handleDebugFiles(w http.ResponseWriter, r *http.Request) {
	var views []fileView
	var err error
	if runID := r.URL.Query().Get("run_id"); runID != "" {
		views, err = s.runFileViews(r, runID)
	} else {
		views, err = s.allFileViews(r)
	}
	if err != nil {
		s.logger.Error("failed to build debug listing", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to list files")
		return
	}

	s.respond(w, http.StatusOK, map[string]any{
		"success": true,
		"files":   views,
	})
}

func (s *Server) allFileViews(r *http.Request) ([]fileView, error) {
	ctx := r.Context()
	files, err := s.store.ListFiles(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]fileView, 0, len(files))
	for _, file := range files {
		chunks, err := s.store.ListChunksByFile(ctx, file.ID)
		if err != nil {
			return nil, err
		}
		views = append(views, newFileView(file, chunks))
	}
	return views, nil
}

// runFileViews builds the listing from the run's chunks, so only files the
// run actually rewrote appear.
func (s *Server) runFileViews(r *http.Request, runID string) ([]fileView, error) {
	ctx := r.Context()
	chunks, err := s.store.ListChunksByRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	byFile := make(map[int64][]*storage.Chunk)
	order := make([]int64, 0, 4)
	for _, c := range chunks {
		if _, seen := byFile[c.FileID]; !seen {
			order = append(order, c.FileID)
		}
		byFile[c.FileID] = append(byFile[c.FileID], c)
	}

	views := make([]fileView, 0, len(order))
	for _, fileID := range order {
		file, err := s.store.GetFile(ctx, fileID)
		if err != nil {
			return nil, err
		}
		views = append(views, newFileView(file, byFile[fileID]))
	}
	return views, nil
}

func newFileView(file *storage.TrackedFile, chunks []*storage.Chunk) fileView {
	cviews := make([]chunkView, 0, len(chunks))
	for _, c := range chunks {
		cviews = append(cviews, chunkView{
			Idx:        c.Idx,
			Content:    c.Content,
			StartChar:  c.StartChar,
			EndChar:    c.EndChar,
			TokenCount: c.TokenCount,
			RunID:      c.RunID,
		})
	}
	return fileView{
		ID:         file.ID,
		Name:       file.Name,
		SourcePath: file.SourcePath,
		Status:     string(file.Status),
		SHA256:     file.OriginalSHA256,
		ChunkCount: file.ChunkCount,
		Chunks:     cviews,
	}
}

// handleHealth reports store reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  "ok",
		"build":   storage.BuildMode,
	})
}
