package watcher

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvePath(t *testing.T) {
	root := filepath.FromSlash("/srv/docs")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"relative", "notes/a.md", filepath.Join(root, "notes", "a.md")},
		{"leading slash stays under root", "/notes/a.md", filepath.Join(root, "notes", "a.md")},
		{"double leading slash", "//notes/a.md", filepath.Join(root, "notes", "a.md")},
		{"drive letter honored", `C:\docs\a.md`, filepath.Clean(`C:\docs\a.md`)},
		{"drive letter forward slash", "D:/docs/a.md", filepath.Clean("D:/docs/a.md")},
		{"unc honored", `\\server\share\a.md`, filepath.Clean(`\\server\share\a.md`)},
		{"whitespace trimmed", "  notes/a.md ", filepath.Join(root, "notes", "a.md")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolvePath(root, tt.in))
		})
	}
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "docs/a.md", NormalizePath("docs/a.md"))
	assert.Equal(t, "docs/a.md", NormalizePath("/docs/a.md"))
	assert.Equal(t, "docs/a.md", NormalizePath(`\docs\a.md`))
	assert.Equal(t, "docs/a.md", NormalizePath("docs//a.md"))
	assert.Equal(t, "docs/a.md", NormalizePath(" docs/a.md "))
	assert.Equal(t, "", NormalizePath(""))
	assert.Equal(t, NormalizePath("/docs/a.md"), NormalizePath(`docs\a.md`))
}
