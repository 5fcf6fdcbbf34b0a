package migrator

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/AvaProtocol/ap-staking/core/backup"
	"github.com/AvaProtocol/ap-staking/core/testutil"
	"github.com/AvaProtocol/ap-staking/pkg/logger"
	"github.com/AvaProtocol/ap-staking/storage"
)

func TestMigrator(t *testing.T) {
	log := testutil.GetLogger()
	db := testutil.TestMustDB()
	defer storage.Destroy(db.(*storage.BadgerStorage))

	backupDir := t.TempDir()
	m := NewMigrator(db, backup.NewService(log, db, backupDir), nil, log)
	m.Register("test_migration", func(db storage.Storage, _ logger.Logger) (int, error) {
		return 5, db.Set([]byte("test:key"), []byte("migrated"))
	})

	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	record, err := db.GetKey([]byte("migration:test_migration"))
	if err != nil {
		t.Fatalf("Migration was not marked as complete: %v", err)
	}
	if !strings.Contains(string(record), "records=5") || !strings.Contains(string(record), "ts=") {
		t.Errorf("Unexpected migration record: %s", record)
	}

	entries, err := os.ReadDir(backupDir)
	if err != nil {
		t.Fatalf("Failed to read backup dir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected one backup before the migration, got %d", len(entries))
	}

	// Migrations aren't run twice
	calls := 0
	counting := func(db storage.Storage, _ logger.Logger) (int, error) {
		calls++
		return 0, nil
	}
	m.Register("test_migration", counting)
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Failed to run migrations second time: %v", err)
	}
	if calls > 0 {
		t.Errorf("Migration was executed again when it should have been skipped")
	}

	m.Register("second_migration", counting)
	pending, err := m.Pending()
	if err != nil || len(pending) != 1 || pending[0] != "second_migration" {
		t.Fatalf("Unexpected pending migrations %v: %v", pending, err)
	}
	if err := m.Run(context.Background()); err != nil {
		t.Fatalf("Failed to run migrations third time: %v", err)
	}
	if calls != 1 {
		t.Errorf("New migration was not executed")
	}
}

func TestMigratorStopsOnFailure(t *testing.T) {
	db, err := storage.NewInMemory()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ran := false
	m := NewMigrator(db, nil, []Migration{
		{Name: "broken", Function: func(storage.Storage, logger.Logger) (int, error) { return 0, errors.New("boom") }},
		{Name: "after", Function: func(storage.Storage, logger.Logger) (int, error) { ran = true; return 0, nil }},
	}, nil)

	err = m.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "migration broken failed") {
		t.Fatalf("Expected the broken migration to fail the run, got %v", err)
	}
	if ran {
		t.Errorf("Migrations after a failure must not run")
	}
	if done, _ := db.Exist([]byte("migration:broken")); done {
		t.Errorf("A failed migration must not be marked complete")
	}
}
