package maintenance

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"automatosx/internal/memory"
	"automatosx/internal/session"
	"automatosx/internal/workspace"
)

func TestRunOnceSweepsTmpAndMemory(t *testing.T) {
	root := t.TempDir()

	ws, err := workspace.NewManager(workspace.Options{
		Root:   filepath.Join(root, "workspaces"),
		TmpDir: filepath.Join(root, "tmp"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	stale := filepath.Join(ws.TmpDir(), "stale.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0644))
	old := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))

	mem, err := memory.NewManager(memory.Config{
		Path:       filepath.Join(root, "memory.db"),
		MaxEntries: 100,
	}, zerolog.Nop())
	require.NoError(t, err)
	defer mem.Close()

	_, err = mem.Add(context.Background(), "fresh entry", memory.Metadata{})
	require.NoError(t, err)

	sessions, err := session.NewManager(session.Options{
		Path:   filepath.Join(root, "sessions.json"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	defer sessions.Close()

	sess, err := sessions.Create("backend", "keep me", nil)
	require.NoError(t, err)
	require.NoError(t, sessions.Complete(sess.ID))

	s, err := New(Options{
		Memory:              mem,
		Sessions:            sessions,
		Workspaces:          ws,
		TmpMaxAge:           24 * time.Hour,
		MemoryRetentionDays: 30,
		SessionMaxAgeDays:   7,
		Logger:              zerolog.Nop(),
	})
	require.NoError(t, err)

	s.RunOnce()

	assert.NoFileExists(t, stale)
	assert.Equal(t, 1, mem.Count())      // fresh entry untouched
	assert.Equal(t, 1, sessions.Count()) // recently completed session kept
}

func TestInvalidCronSpec(t *testing.T) {
	root := t.TempDir()
	ws, err := workspace.NewManager(workspace.Options{
		Root:   filepath.Join(root, "workspaces"),
		TmpDir: filepath.Join(root, "tmp"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)

	_, err = New(Options{
		Workspaces:     ws,
		TmpMaxAge:      time.Hour,
		TmpCleanupSpec: "not a cron spec",
		Logger:         zerolog.Nop(),
	})
	assert.Error(t, err)
}
