package memory

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Backup writes a consistent snapshot of the database to destPath. The WAL is
// checkpointed first, then VACUUM INTO produces a compact standalone copy.
func (m *Manager) Backup(ctx context.Context, destPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dir := filepath.Dir(destPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return dbError("create backup directory", err)
		}
	}
	// VACUUM INTO refuses to overwrite.
	if err := os.Remove(destPath); err != nil && !os.IsNotExist(err) {
		return dbError("remove stale backup", err)
	}

	if _, err := m.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`); err != nil {
		return dbError("checkpoint wal", err)
	}
	if _, err := m.db.ExecContext(ctx, `VACUUM INTO ?`, destPath); err != nil {
		return dbError("backup database", err)
	}

	m.logger.Info().Str("dest", destPath).Msg("memory backup written")
	return nil
}

// Restore replaces the live database with the snapshot at srcPath. The
// current database is closed, overwritten via a temp file rename, and
// reopened.
func (m *Manager) Restore(ctx context.Context, srcPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := os.Stat(srcPath); err != nil {
		return dbError("stat backup", err)
	}

	if err := m.db.Close(); err != nil {
		return dbError("close database", err)
	}
	// Stale WAL/SHM files would shadow the restored image.
	os.Remove(m.cfg.Path + "-wal")
	os.Remove(m.cfg.Path + "-shm")

	if err := copyFileAtomic(srcPath, m.cfg.Path); err != nil {
		return dbError("restore database", err)
	}

	db, err := openDB(m.cfg.Path)
	if err != nil {
		return err
	}
	m.db = db

	if err := m.refreshCount(ctx); err != nil {
		return err
	}
	m.logger.Info().Str("src", srcPath).Int("entries", m.entryCount).Msg("memory restored")
	return nil
}

func copyFileAtomic(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := fmt.Sprintf("%s.tmp.%d", dest, os.Getpid())
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
