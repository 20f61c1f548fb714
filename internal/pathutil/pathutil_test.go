package pathutil

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToStored(t *testing.T) {
	assert.Equal(t, "a/b/c", ToStored(filepath.Join("a", "b", "c")))
}

func TestIsAbsolute(t *testing.T) {
	tests := []struct {
		name string
		path string
		want bool
	}{
		{"drive letter backslash", `C:\Users\dev`, true},
		{"drive letter slash", "D:/data", true},
		{"unc", `\\server\share\dir`, true},
		{"unc forward", "//server/share", true},
		{"relative", "a/b", false},
		{"dot relative", "./a", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsAbsolute(tt.path))
		})
	}

	if runtime.GOOS != "windows" {
		assert.True(t, IsAbsolute("/usr/local"))
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("a/b/../c", "a/c"))
	if runtime.GOOS == "windows" {
		assert.True(t, Equal(`C:\Data`, `c:\data`))
	} else {
		assert.False(t, Equal("/tmp/A", "/tmp/a"))
	}
}

func TestIsWithin(t *testing.T) {
	root := filepath.Join("ws", "agent")
	assert.True(t, IsWithin(root, filepath.Join(root, "out", "file.txt")))
	assert.False(t, IsWithin(root, filepath.Join("ws", "other")))
	assert.False(t, IsWithin(root, filepath.Join(root, "..", "..", "etc")))
}

func TestExpandPath(t *testing.T) {
	got, err := ExpandPath("~/x")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(got))

	got, err = ExpandPath("plain/path")
	require.NoError(t, err)
	assert.Equal(t, "plain/path", got)

	got, err = ExpandPath("")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}
