package migrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AvaProtocol/ap-staking/core/backup"
	"github.com/AvaProtocol/ap-staking/pkg/logger"
	"github.com/AvaProtocol/ap-staking/storage"
)

// MigrationFunc performs one migration and returns the number of records it
// updated.
type MigrationFunc func(db storage.Storage, log logger.Logger) (int, error)

type Migration struct {
	Name     string
	Function MigrationFunc
}

// Migrator applies journal migrations once each, in order. Applied
// migrations are marked under "migration:<name>".
type Migrator struct {
	db         storage.Storage
	migrations []Migration
	backup     *backup.Service
	logger     logger.Logger
	mu         sync.Mutex
}

// NewMigrator takes an optional backup service. When set, a backup is taken
// before the first pending migration runs.
func NewMigrator(db storage.Storage, backup *backup.Service, migrations []Migration, log logger.Logger) *Migrator {
	return &Migrator{
		db:         db,
		migrations: migrations,
		backup:     backup,
		logger:     logger.EnsureLogger(log),
	}
}

func (m *Migrator) Register(name string, fn MigrationFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.migrations = append(m.migrations, Migration{Name: name, Function: fn})
}

func migrationKey(name string) []byte {
	return []byte(fmt.Sprintf("migration:%s", name))
}

// Pending returns the names of the migrations not applied yet.
func (m *Migrator) Pending() ([]string, error) {
	var pending []string
	for _, migration := range m.migrations {
		done, err := m.db.Exist(migrationKey(migration.Name))
		if err != nil {
			return nil, fmt.Errorf("failed to check migration %s: %w", migration.Name, err)
		}
		if !done {
			pending = append(pending, migration.Name)
		}
	}
	return pending, nil
}

// Run executes every registered migration that hasn't been run yet.
func (m *Migrator) Run(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := m.Pending()
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	if m.backup != nil {
		m.logger.Info("pending journal migrations, taking a backup first", "pending", pending)
		backupFile, err := m.backup.PerformBackup(ctx)
		if err != nil {
			return fmt.Errorf("failed to create backup before migrations: %w", err)
		}
		m.logger.Info("journal backup created", "file", backupFile)
	}

	for _, migration := range m.migrations {
		key := migrationKey(migration.Name)
		if done, err := m.db.Exist(key); err == nil && done {
			m.logger.Debug("migration already applied", "migration", migration.Name)
			continue
		}

		m.logger.Info("running migration", "migration", migration.Name)
		updated, err := migration.Function(m.db, m.logger)
		if err != nil {
			return fmt.Errorf("migration %s failed: %w", migration.Name, err)
		}
		m.logger.Info("migration completed", "migration", migration.Name, "records", updated)

		if err := m.db.Set(key, []byte(fmt.Sprintf("records=%d,ts=%d", updated, time.Now().UnixMilli()))); err != nil {
			return fmt.Errorf("failed to mark migration as complete in database: %w", err)
		}
	}
	return nil
}
