package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/driftwatch/driftwatch/internal/storage"
	"github.com/driftwatch/driftwatch/internal/watcher"
)

// MCP error codes
const (
	ErrorCodeInvalidParams = -32602 // Invalid method parameters
	ErrorCodeInternalError = -32603 // Internal JSON-RPC error
	ErrorCodeFileNotFound  = -32001 // Source path or tracked file id not found
	ErrorCodeNoText        = -32002 // No stored text and no override supplied
)

// handleRegisterFile handles the register_file tool invocation
func (s *Server) handleRegisterFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	path, ok := args["path"].(string)
	if !ok || path == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "path parameter is required", map[string]interface{}{
			"param":  "path",
			"reason": "missing or empty",
		})
	}

	resolved := watcher.ResolvePath(s.watchOpts.SourceRoot, path)
	data, err := os.ReadFile(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newMCPError(ErrorCodeFileNotFound, "file does not exist", map[string]interface{}{
				"resolved_path": resolved,
			})
		}
		return nil, newMCPError(ErrorCodeInternalError, "failed to read file", map[string]interface{}{
			"error": err.Error(),
		})
	}

	name := getStringDefault(args, "name", filepath.Base(resolved))
	ext := filepath.Ext(resolved)
	file := &storage.TrackedFile{
		Name:         name,
		OriginalName: filepath.Base(resolved),
		SizeBytes:    int64(len(data)),
		MediaType:    mime.TypeByExtension(ext),
		Extension:    ext,
		SourcePath:   watcher.NormalizePath(path),
		Status:       storage.StatusProcessing,
	}
	if err := s.store.CreateFile(ctx, file); err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to create file record", map[string]interface{}{
			"error": err.Error(),
		})
	}

	res, err := s.proc.Reprocess(ctx, file, string(data), "")
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to process file", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"registered":    true,
		"file_id":       file.ID,
		"chunk_count":   res.ChunkCount,
		"sha256":        res.NewSHA256,
		"resolved_path": resolved,
	})), nil
}

// handleRunWatch handles the run_watch tool invocation
func (s *Server) handleRunWatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	path := getStringDefault(args, "path", "")

	if path == "" {
		if err := s.watch.Start(s.watchOpts); err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "failed to start watcher", map[string]interface{}{
				"error": err.Error(),
			})
		}
		run, err := s.watch.RunOnce(ctx)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "scan cycle failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
		if run == nil {
			return mcp.NewToolResultText(formatJSON(map[string]interface{}{
				"skipped": true,
				"message": "a scan cycle is already in flight",
			})), nil
		}
		return mcp.NewToolResultText(formatJSON(map[string]interface{}{
			"run_id":  run.ID,
			"scanned": run.FilesScanned,
			"changed": run.FilesChanged,
			"errors":  run.ErrorCount,
		})), nil
	}

	files, err := s.store.FindFilesBySourcePath(ctx, watcher.NormalizePath(path))
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list tracked files", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := make([]map[string]interface{}, 0, len(files))
	for _, file := range files {
		entry := map[string]interface{}{"file_id": file.ID}

		resolved := watcher.ResolvePath(s.watchOpts.SourceRoot, file.SourcePath)
		data, err := os.ReadFile(resolved)
		if err != nil {
			entry["error"] = "source unreadable: " + err.Error()
			results = append(results, entry)
			continue
		}
		res, err := s.proc.Reprocess(ctx, file, string(data), "")
		if err != nil {
			entry["error"] = err.Error()
		} else {
			entry["changed"] = res.Changed
			entry["chunk_count"] = res.ChunkCount
		}
		results = append(results, entry)
	}
	if len(results) == 0 {
		return nil, newMCPError(ErrorCodeFileNotFound, "no tracked file matches path", map[string]interface{}{
			"path": path,
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"results": results,
	})), nil
}

// handleReindexFile handles the reindex_file tool invocation
func (s *Server) handleReindexFile(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	idFloat, ok := args["file_id"].(float64)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "file_id parameter is required", map[string]interface{}{
			"param":  "file_id",
			"reason": "missing or not an integer",
		})
	}
	id := int64(idFloat)

	file, err := s.store.GetFile(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeFileNotFound, "file not found", map[string]interface{}{
			"file_id": id,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to load file", map[string]interface{}{
			"error": err.Error(),
		})
	}

	text := file.OriginalText
	if override, ok := args["override_text"].(string); ok {
		text = override
	} else if text == "" {
		return nil, newMCPError(ErrorCodeNoText, "file has no stored text and no override_text was supplied", map[string]interface{}{
			"file_id": id,
		})
	}

	res, err := s.proc.ForceReprocess(ctx, file, text, "")
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "reindex failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"file_id":     id,
		"changed":     res.Changed,
		"chunk_count": res.ChunkCount,
		"sha256":      res.NewSHA256,
	})), nil
}

// handleWatchStatus handles the watch_status tool invocation
func (s *Server) handleWatchStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})
	limit := getIntDefault(args, "limit", 5)

	runs, err := s.store.ListWatchRuns(ctx, limit)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list watch runs", map[string]interface{}{
			"error": err.Error(),
		})
	}

	runViews := make([]map[string]interface{}, 0, len(runs))
	for _, run := range runs {
		view := map[string]interface{}{
			"run_id":     run.ID,
			"mode":       run.Mode,
			"started_at": run.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
			"scanned":    run.FilesScanned,
			"changed":    run.FilesChanged,
			"errors":     run.ErrorCount,
		}
		if run.FinishedAt != nil {
			view["finished_at"] = run.FinishedAt.Format("2006-01-02T15:04:05Z07:00")
		}
		runViews = append(runViews, view)
	}

	stats := s.watch.Stats()
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"counters": map[string]interface{}{
			"cycles_run":     stats.CyclesRun,
			"cycles_skipped": stats.CyclesSkipped,
			"files_scanned":  stats.FilesScanned,
			"files_changed":  stats.FilesChanged,
			"errors":         stats.Errors,
		},
		"recent_runs": runViews,
		"build_mode":  storage.BuildMode,
	})), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

func getStringDefault(args map[string]interface{}, key, def string) string {
	if args == nil {
		return def
	}
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func getIntDefault(args map[string]interface{}, key string, def int) int {
	if args == nil {
		return def
	}
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	out, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(out)
}
