package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AvaProtocol/ap-staking/pkg/logger"
	"github.com/AvaProtocol/ap-staking/storage"
)

// Service snapshots the intent journal into timestamped directories under
// backupDir.
type Service struct {
	logger    logger.Logger
	db        storage.Storage
	backupDir string
	now       func() time.Time
}

func NewService(log logger.Logger, db storage.Storage, backupDir string) *Service {
	return &Service{
		logger:    logger.EnsureLogger(log),
		db:        db,
		backupDir: backupDir,
		now:       time.Now,
	}
}

// PerformBackup writes a full backup and returns the file it wrote.
func (s *Service) PerformBackup(ctx context.Context) (string, error) {
	timestamp := s.now().UTC().Format("06-01-02-15-04-05")
	backupPath := filepath.Join(s.backupDir, timestamp)

	if err := os.MkdirAll(backupPath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	backupFile := filepath.Join(backupPath, "full-backup.db")
	f, err := os.Create(backupFile)
	if err != nil {
		return "", fmt.Errorf("failed to create backup file: %w", err)
	}
	defer f.Close()

	s.logger.Info("running journal backup", "file", backupFile)
	if _, err := s.db.Backup(ctx, f, 0); err != nil {
		return "", fmt.Errorf("backup operation failed: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("failed to flush backup file: %w", err)
	}
	return backupFile, nil
}

// Restore loads a file written by PerformBackup. Keys in the backup
// overwrite keys already present; nothing else is removed.
func (s *Service) Restore(ctx context.Context, backupFile string) error {
	f, err := os.Open(backupFile)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()

	s.logger.Info("restoring journal", "file", backupFile)
	if err := s.db.Load(ctx, f); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	return nil
}
