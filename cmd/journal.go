package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AvaProtocol/ap-staking/core/backup"
	"github.com/AvaProtocol/ap-staking/core/config"
	"github.com/AvaProtocol/ap-staking/core/migrator"
	"github.com/AvaProtocol/ap-staking/migrations"
	"github.com/AvaProtocol/ap-staking/pkg/logger"
	"github.com/AvaProtocol/ap-staking/storage"
)

var (
	backupDir string

	journalCmd = &cobra.Command{
		Use:   "journal",
		Short: "Maintain the local intent journal",
	}

	journalBackupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Write a full backup of the journal, then compact it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournalDB(cmd.Context(), func(cfg *config.Config, db storage.Storage) error {
				file, err := backup.NewService(cfg.Logger, db, journalBackupDir(cfg)).PerformBackup(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), file)
				// the backup holds every version, so the value log can be compacted
				if err := db.Vacuum(); err != nil {
					cfg.Logger.Warn("journal vacuum failed", "error", err)
				}
				return nil
			})
		},
	}

	journalRestoreCmd = &cobra.Command{
		Use:   "restore <backup-file>",
		Short: "Load a journal backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJournalDB(cmd.Context(), func(cfg *config.Config, db storage.Storage) error {
				return backup.NewService(cfg.Logger, db, journalBackupDir(cfg)).Restore(cmd.Context(), args[0])
			})
		},
	}
)

func journalBackupDir(cfg *config.Config) string {
	if backupDir != "" {
		return backupDir
	}
	return cfg.DBPath + "-backups"
}

// openJournalDB opens the journal storage and applies pending migrations.
// An empty path gives an in-memory journal that lives as long as the process.
func openJournalDB(ctx context.Context, cfg *config.Config, log logger.Logger) (storage.Storage, error) {
	if cfg.DBPath == "" {
		return storage.NewInMemory()
	}
	db, err := storage.NewWithPath(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	m := migrator.NewMigrator(db, backup.NewService(log, db, journalBackupDir(cfg)), migrations.Migrations, log)
	if err := m.Run(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// withJournalDB loads the config and opens the journal without dialing the
// chain.
func withJournalDB(ctx context.Context, fn func(cfg *config.Config, db storage.Storage) error) error {
	cfg, err := config.NewConfig(configPath)
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	if cfg.DBPath == "" {
		return fmt.Errorf("db_path is not set, there is no journal on disk")
	}
	db, err := openJournalDB(ctx, cfg, cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to open journal at %s: %w", cfg.DBPath, err)
	}
	defer db.Close()
	return fn(cfg, db)
}

func init() {
	journalCmd.PersistentFlags().StringVar(&backupDir, "backup-dir", "", "backup directory, defaults to <db_path>-backups")
	journalCmd.AddCommand(journalBackupCmd, journalRestoreCmd)
	rootCmd.AddCommand(journalCmd)
}
