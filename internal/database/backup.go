package database

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"clinicqueue/internal/config"

	"github.com/rs/zerolog"
)

// BackupService copies the queue snapshot file into a backup directory on an
// interval and removes copies older than the retention window.
type BackupService struct {
	sourcePath string
	config     config.BackupConfig
	interval   time.Duration
	logger     *zerolog.Logger
	now        func() time.Time
	create     func(path string) (io.WriteCloser, error)
}

func NewBackupService(sourcePath string, cfg config.BackupConfig, interval time.Duration, logger *zerolog.Logger) *BackupService {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &BackupService{
		sourcePath: sourcePath,
		config:     cfg,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
		create:     func(path string) (io.WriteCloser, error) { return os.Create(path) },
	}
}

func (s *BackupService) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info().Msg("Backup service is disabled")
		return
	}

	s.logger.Info().Dur("interval", s.interval).Msg("Backup service started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Run first backup immediately
	if _, err := s.PerformBackup(); err != nil {
		s.logger.Error().Err(err).Msg("Initial backup failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.PerformBackup(); err != nil {
				s.logger.Error().Err(err).Msg("Scheduled backup failed")
			}
			s.CleanupOldBackups()
		}
	}
}

// PerformBackup copies the snapshot and returns the backup path. A missing
// snapshot (nothing booked yet) is not an error and produces no file.
func (s *BackupService) PerformBackup() (string, error) {
	if err := os.MkdirAll(s.config.StoragePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	source, err := os.Open(s.sourcePath)
	if os.IsNotExist(err) {
		s.logger.Debug().Str("source", s.sourcePath).Msg("No snapshot to back up yet")
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer source.Close()

	timestamp := s.now().Format("20060102_150405")
	ext := filepath.Ext(s.sourcePath)
	base := strings.TrimSuffix(filepath.Base(s.sourcePath), ext)
	backupPath := filepath.Join(s.config.StoragePath, fmt.Sprintf("%s_%s%s", base, timestamp, ext))

	s.logger.Info().Str("path", backupPath).Msg("Performing snapshot backup")

	destination, err := s.create(backupPath)
	if err != nil {
		return "", err
	}
	if _, err = io.Copy(destination, source); err != nil {
		_ = destination.Close()
		_ = os.Remove(backupPath)
		return "", err
	}
	// A failed close can mean the copy never reached disk.
	if err = destination.Close(); err != nil {
		_ = os.Remove(backupPath)
		return "", fmt.Errorf("failed to finalize backup: %w", err)
	}

	s.logger.Info().Msg("Backup completed successfully")
	return backupPath, nil
}

func (s *BackupService) CleanupOldBackups() int {
	if s.config.RetentionDays <= 0 {
		return 0
	}

	files, err := os.ReadDir(s.config.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read backup directory for cleanup")
		return 0
	}

	cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
	removed := 0

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			s.logger.Info().Str("file", file.Name()).Msg("Deleting old backup")
			if err := os.Remove(filepath.Join(s.config.StoragePath, file.Name())); err == nil {
				removed++
			}
		}
	}
	return removed
}
