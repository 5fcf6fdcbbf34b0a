package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-staking/core/testutil"
	"github.com/AvaProtocol/ap-staking/storage"
)

func TestBackupAndRestore(t *testing.T) {
	db := testutil.TestMustDB()
	defer storage.Destroy(db.(*storage.BadgerStorage))

	require.NoError(t, db.Set([]byte("intent:01J9A"), []byte(`{"id":"01J9A"}`)))
	require.NoError(t, db.Set([]byte("intent_state:CONFIRMED:01J9A"), []byte{}))

	dir := t.TempDir()
	svc := NewService(testutil.GetLogger(), db, dir)
	svc.now = func() time.Time { return time.Date(2026, 10, 18, 9, 30, 15, 0, time.UTC) }

	file, err := svc.PerformBackup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "26-10-18-09-30-15", "full-backup.db"), file)

	stat, err := os.Stat(file)
	require.NoError(t, err)
	assert.Greater(t, stat.Size(), int64(0))

	restored, err := storage.NewInMemory()
	require.NoError(t, err)
	defer restored.Close()

	require.NoError(t, NewService(nil, restored, dir).Restore(context.Background(), file))

	body, err := restored.GetKey([]byte("intent:01J9A"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"01J9A"}`, string(body))

	ok, err := restored.Exist([]byte("intent_state:CONFIRMED:01J9A"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRestoreMissingFile(t *testing.T) {
	db, err := storage.NewInMemory()
	require.NoError(t, err)
	defer db.Close()

	err = NewService(nil, db, t.TempDir()).Restore(context.Background(), "/does/not/exist.db")
	assert.ErrorContains(t, err, "failed to open backup file")
}
