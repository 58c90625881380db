package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/server"

	"github.com/driftwatch/driftwatch/internal/config"
	"github.com/driftwatch/driftwatch/internal/reindex"
	"github.com/driftwatch/driftwatch/internal/splitter"
	"github.com/driftwatch/driftwatch/internal/storage"
	"github.com/driftwatch/driftwatch/internal/watcher"
)

const (
	// ServerName is the MCP server name
	ServerName = "driftwatch-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp       *server.MCPServer
	store     storage.Store
	proc      *reindex.Reprocessor
	watch     *watcher.Watcher
	watchOpts watcher.Options
}

// NewServer creates a new MCP server instance backed by the configured
// store and watch options.
func NewServer(cfg *config.Config) (*Server, error) {
	store, err := storage.NewSQLiteStore(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	proc := reindex.New(store, splitter.New(splitter.DefaultPolicy), nil)
	watch := watcher.New(store, proc, nil)

	mcpServer := server.NewMCPServer(
		ServerName,
		ServerVersion,
	)

	s := &Server{
		mcp:   mcpServer,
		store: store,
		proc:  proc,
		watch: watch,
		watchOpts: watcher.Options{
			Interval:   cfg.Watch.Interval,
			SourceRoot: cfg.Watch.SourceRoot,
			Mode:       cfg.Watch.Mode,
		},
	}

	s.registerTools()
	return s, nil
}

// Serve starts the MCP server on stdio and blocks until shutdown
func (s *Server) Serve(ctx context.Context) error {
	defer func() {
		s.watch.Stop()
		_ = s.store.Close()
	}()
	return server.ServeStdio(s.mcp)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(registerFileTool(), s.handleRegisterFile)
	s.mcp.AddTool(runWatchTool(), s.handleRunWatch)
	s.mcp.AddTool(reindexFileTool(), s.handleReindexFile)
	s.mcp.AddTool(watchStatusTool(), s.handleWatchStatus)
}
