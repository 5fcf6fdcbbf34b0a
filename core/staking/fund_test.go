package staking

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/chainio/aa"
	"github.com/AvaProtocol/ap-staking/core/testutil"
	"github.com/AvaProtocol/ap-staking/model"
)

func TestFundSendsFromOwnerToAccount(t *testing.T) {
	f := newFixture(t)
	f.chain.SetBalance(testutil.OwnerAddress(), big.NewInt(3e18))
	f.chain.OnMined = func(tx *types.Transaction) {
		f.chain.SetBalance(accountAddress, new(big.Int).Add(big.NewInt(5e18), tx.Value()))
	}

	res, err := f.svc.Fund(context.Background(), f.session, oneMON)
	require.NoError(t, err)

	assert.Equal(t, model.StateConfirmed, res.State)
	assert.False(t, res.Pending)
	assert.Equal(t, accountAddress, res.Account)
	assert.Equal(t, big.NewInt(6e18), res.Balance)
	assert.Contains(t, res.ExplorerURL, res.TxHash.Hex())

	sent := f.chain.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, accountAddress, *sent[0].To())
	assert.Equal(t, oneMON, sent[0].Value())
	assert.Empty(t, sent[0].Data())
	assert.Equal(t, sent[0].Hash(), res.TxHash)
	assert.Zero(t, f.bundler.Calls("eth_sendUserOperation"))
}

func TestFundUnminedIsPending(t *testing.T) {
	f := newFixture(t)
	f.chain.SetBalance(testutil.OwnerAddress(), big.NewInt(3e18))
	f.chain.AutoMine = false

	res, err := f.svc.Fund(context.Background(), f.session, oneMON)
	require.NoError(t, err)
	assert.Equal(t, model.StateTimedOut, res.State)
	assert.True(t, res.Pending)
	assert.Nil(t, res.Balance)
}

func TestFundRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Fund(ctx, f.session, big.NewInt(0))
	assert.Equal(t, apperr.CodeAmountNotPositive, apperr.CodeOf(err))

	// owner holds nothing
	_, err = f.svc.Fund(ctx, f.session, oneMON)
	assert.Equal(t, apperr.CodeInsufficientFunds, apperr.CodeOf(err))

	f.session.Handle.Mode = aa.ModeDegradedEOA
	_, err = f.svc.Fund(ctx, f.session, oneMON)
	assert.Equal(t, apperr.CodeDegradedMode, apperr.CodeOf(err))

	_, err = f.svc.Fund(ctx, nil, oneMON)
	assert.Equal(t, apperr.CodeWalletUnavailable, apperr.CodeOf(err))
	assert.Empty(t, f.chain.Sent())
}
