//go:build cgo && !purego
// +build cgo,!purego

package storage

// This file is compiled when building with CGO and without the purego tag.
// It uses the C SQLite implementation, which is faster for large stores.
//
// Build command:
//   CGO_ENABLED=1 go build ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
