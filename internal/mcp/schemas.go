package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerFileTool returns the tool definition for register_file
func registerFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "register_file",
		Description: "Register a file from the source root for drift tracking and chunk it",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "Source path, resolved against the configured source root",
				},
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Display name (defaults to the file's base name)",
				},
			},
			Required: []string{"path"},
		},
	}
}

// runWatchTool returns the tool definition for run_watch
func runWatchTool() mcp.Tool {
	return mcp.Tool{
		Name:        "run_watch",
		Description: "Run one drift-detection cycle over all tracked files, or only those matching a path",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"path": map[string]interface{}{
					"type":        "string",
					"description": "If given, only tracked files with this source path are reprocessed",
				},
			},
		},
	}
}

// reindexFileTool returns the tool definition for reindex_file
func reindexFileTool() mcp.Tool {
	return mcp.Tool{
		Name:        "reindex_file",
		Description: "Force a re-split of one tracked file from override text or its stored text",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"file_id": map[string]interface{}{
					"type":        "integer",
					"description": "Tracked file id",
				},
				"override_text": map[string]interface{}{
					"type":        "string",
					"description": "Text to index instead of the stored source text",
				},
			},
			Required: []string{"file_id"},
		},
	}
}

// watchStatusTool returns the tool definition for watch_status
func watchStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "watch_status",
		Description: "Report watcher counters and recent watch runs",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Number of recent runs to include",
					"default":     5,
				},
			},
		},
	}
}
