package database

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"clinicqueue/internal/config"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	logger := zerolog.New(io.Discard)
	dir := t.TempDir()
	source := filepath.Join(dir, "queue.json")
	backups := filepath.Join(dir, "backups")

	svc := NewBackupService(source, config.BackupConfig{
		Enabled:       true,
		StoragePath:   backups,
		RetentionDays: 7,
	}, time.Hour, &logger)
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC) }

	t.Run("NoSnapshotYet", func(t *testing.T) {
		path, err := svc.PerformBackup()
		require.NoError(t, err)
		assert.Empty(t, path)
	})

	t.Run("CopiesSnapshot", func(t *testing.T) {
		require.NoError(t, os.WriteFile(source, []byte(`{"tokens":[]}`), 0o644))

		path, err := svc.PerformBackup()
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(backups, "queue_20250310_180000.json"), path)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, `{"tokens":[]}`, string(data))
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		old := filepath.Join(backups, "queue_20250101_000000.json")
		require.NoError(t, os.WriteFile(old, []byte("{}"), 0o644))
		oldTime := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, os.Chtimes(old, oldTime, oldTime))

		svc.now = time.Now
		assert.Equal(t, 1, svc.CleanupOldBackups())
		_, err := os.Stat(old)
		assert.True(t, os.IsNotExist(err))
	})
}

// closeFailingFile accepts writes but reports a failed flush on Close.
type closeFailingFile struct {
	*os.File
}

func (f closeFailingFile) Close() error {
	_ = f.File.Close()
	return errors.New("disk full")
}

func TestBackupService_CloseError(t *testing.T) {
	logger := zerolog.New(io.Discard)
	dir := t.TempDir()
	source := filepath.Join(dir, "queue.json")
	backups := filepath.Join(dir, "backups")
	require.NoError(t, os.WriteFile(source, []byte(`{"tokens":[]}`), 0o644))

	svc := NewBackupService(source, config.BackupConfig{Enabled: true, StoragePath: backups}, time.Hour, &logger)
	svc.now = func() time.Time { return time.Date(2025, 3, 10, 18, 0, 0, 0, time.UTC) }
	svc.create = func(path string) (io.WriteCloser, error) {
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		return closeFailingFile{f}, nil
	}

	path, err := svc.PerformBackup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, path)

	_, err = os.Stat(filepath.Join(backups, "queue_20250310_180000.json"))
	assert.True(t, os.IsNotExist(err))
}
