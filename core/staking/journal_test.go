package staking

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/testutil"
	"github.com/AvaProtocol/ap-staking/model"
	"github.com/AvaProtocol/ap-staking/pkg/erc4337/preset"
	"github.com/AvaProtocol/ap-staking/pkg/logger"
	"github.com/AvaProtocol/ap-staking/storage"
	"github.com/AvaProtocol/ap-staking/storage/schema"
)

func newJournal(t *testing.T) (*Journal, storage.Storage) {
	t.Helper()
	db := testutil.TestMustDB()
	t.Cleanup(func() { _ = storage.Destroy(db.(*storage.BadgerStorage)) })
	return NewJournal(db, logger.NewRecorder()), db
}

func TestJournalMovesStateIndex(t *testing.T) {
	j, db := newJournal(t)
	intent := model.NewIntent(model.OperationStake, "0xowner", "0xsender", "100")
	require.NoError(t, j.Create(intent))

	ok, err := db.Exist(schema.IntentStateKey(model.StateBuilding, intent.ID))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, j.Transition(intent, model.StateEstimating, nil))
	require.NoError(t, j.Transition(intent, model.StatePending, func(i *model.Intent) { i.UserOpHash = "0x01" }))

	ok, err = db.Exist(schema.IntentStateKey(model.StateBuilding, intent.ID))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = db.Exist(schema.IntentStateKey(model.StateEstimating, intent.ID))
	require.NoError(t, err)
	assert.False(t, ok)

	pending, err := j.ListByState(model.StatePending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "0x01", pending[0].UserOpHash)
	assert.Len(t, pending[0].History, 3)

	// staying in a state rewrites the body without touching history
	require.NoError(t, j.Transition(intent, model.StatePending, func(i *model.Intent) { i.TxHash = "0x02" }))
	got, err := j.Get(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, "0x02", got.TxHash)
	assert.Len(t, got.History, 3)
}

func TestJournalGetMissing(t *testing.T) {
	j, _ := newJournal(t)
	_, err := j.Get("01HZZZZZZZZZZZZZZZZZZZZZZZ")
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))
}

func TestJournalFailRecordsErrorOnce(t *testing.T) {
	j, _ := newJournal(t)
	intent := model.NewIntent(model.OperationClaim, "0xowner", "0xsender", "")
	require.NoError(t, j.Create(intent))

	j.Fail(intent, apperr.Bundler(apperr.CodeBadSignature, "AA24 signature error", nil))
	assert.Equal(t, model.StateFailed, intent.State)
	assert.Equal(t, apperr.CodeBadSignature, intent.ErrorCode)
	assert.Equal(t, string(apperr.KindBundler), intent.ErrorKind)

	// a terminal intent is left alone
	j.Fail(intent, errors.New("later"))
	got, err := j.Get(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, apperr.CodeBadSignature, got.ErrorCode)
	assert.Len(t, got.History, 2)
}

func TestJournalListsOldestFirst(t *testing.T) {
	j, _ := newJournal(t)
	var ids []string
	for i := 0; i < 3; i++ {
		intent := model.NewIntent(model.OperationStake, "0xowner", "0xsender", "1")
		require.NoError(t, j.Create(intent))
		ids = append(ids, intent.ID)
	}

	listed, err := j.ListByState(model.StateBuilding)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	for i, intent := range listed {
		assert.Equal(t, ids[i], intent.ID)
	}
	n, err := j.CountByState(model.StateBuilding)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestJournalObserverMirrorsBuilder(t *testing.T) {
	j, _ := newJournal(t)
	intent := model.NewIntent(model.OperationStake, "0xowner", "0xsender", "1")
	require.NoError(t, j.Create(intent))

	tracker := preset.NewTracker(j.Observer(intent))
	require.NoError(t, tracker.Advance(preset.StateEstimating))
	require.NoError(t, tracker.Advance(preset.StateSigning))
	tracker.SetUserOpHash(common.HexToHash("0xaa"))
	require.NoError(t, tracker.Advance(preset.StateSubmitting))
	tracker.Fail(apperr.Bundler(apperr.CodeRejected, "rejected", nil))

	got, err := j.Get(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, got.State)
	assert.Equal(t, common.HexToHash("0xaa").Hex(), got.UserOpHash)
	assert.Equal(t, apperr.CodeRejected, got.ErrorCode)
}

func TestJournalFindAndResolveTimedOut(t *testing.T) {
	j, _ := newJournal(t)
	intent := model.NewIntent(model.OperationStake, "0xowner", "0xsender", "1")
	require.NoError(t, j.Create(intent))
	hash := common.HexToHash("0xbeef")
	require.NoError(t, j.Transition(intent, model.StateTimedOut, func(i *model.Intent) { i.UserOpHash = hash.Hex() }))

	found, err := j.FindByUserOpHash(hash)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, intent.ID, found.ID)

	require.NoError(t, j.Resolve(found, false, common.HexToHash("0x99")))
	got, err := j.Get(intent.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateTimedOut, got.State)
	require.NotNil(t, got.Resolution)
	assert.False(t, got.Resolution.Success)

	missing, err := j.FindByUserOpHash(common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestNilJournalIsNoop(t *testing.T) {
	var j *Journal
	intent := model.NewIntent(model.OperationStake, "0xowner", "0xsender", "1")
	require.NoError(t, j.Create(intent))
	require.NoError(t, j.Transition(intent, model.StateEstimating, nil))
	assert.Equal(t, model.StateEstimating, intent.State)

	j.Fail(intent, errors.New("boom"))
	assert.Equal(t, model.StateFailed, intent.State)

	list, err := j.ListByState(model.StateFailed)
	require.NoError(t, err)
	assert.Empty(t, list)
}
