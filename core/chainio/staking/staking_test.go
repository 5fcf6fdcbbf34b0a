package staking

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/testutil"
	"github.com/AvaProtocol/ap-staking/model"
)

var contractAddr = common.HexToAddress("0x91e33a594da3e8e2ad3af5195611cf8cabe75353")

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

func TestPackStakeIsBareSelector(t *testing.T) {
	data, err := PackStake()
	require.NoError(t, err)
	assert.Equal(t, selector("stake()"), data)

	call, err := DecodeCall(data)
	require.NoError(t, err)
	assert.Equal(t, "stake", call.Method)
	assert.Empty(t, call.Args)
}

func TestPackUnstake(t *testing.T) {
	amount := big.NewInt(5e17)
	data, err := PackUnstake(amount)
	require.NoError(t, err)
	assert.Len(t, data, 4+32)
	assert.Equal(t, selector("unstake(uint256)"), data[:4])

	call, err := DecodeCall(data)
	require.NoError(t, err)
	assert.Equal(t, "unstake", call.Method)
	assert.Equal(t, 0, amount.Cmp(call.Args[0].(*big.Int)))

	_, err = PackUnstake(big.NewInt(0))
	assert.Error(t, err)
	_, err = PackUnstake(nil)
	assert.Error(t, err)
}

func TestPackClaimRewards(t *testing.T) {
	data, err := PackClaimRewards()
	require.NoError(t, err)
	assert.Equal(t, selector("claimRewards()"), data)
}

func TestDecodeCallRejectsUnknownSelector(t *testing.T) {
	_, err := DecodeCall([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.Error(t, err)
}

func stakeInfoReturn(t *testing.T, staked, rewards, lockEnd int64, canUnstake bool) []byte {
	t.Helper()
	out, err := ABI.Methods["getStakeInfo"].Outputs.Pack(big.NewInt(staked), big.NewInt(rewards), big.NewInt(lockEnd), canUnstake)
	require.NoError(t, err)
	return out
}

func TestGetStakeInfoReadsAtLatestBlock(t *testing.T) {
	chain := testutil.NewFakeChain(testutil.MonadTestnetChainID)
	user := testutil.OwnerAddress()

	chain.Handle(contractAddr, func(msg ethereum.CallMsg) ([]byte, error) {
		call, err := DecodeCall(msg.Data)
		if err != nil {
			return nil, err
		}
		if call.Method != "getStakeInfo" || call.Args[0].(common.Address) != user {
			return nil, errors.New("unexpected call")
		}
		return stakeInfoReturn(t, 1e18, 2e16, 1_700_000_000, true), nil
	})

	info, err := NewContract(contractAddr, chain).GetStakeInfo(context.Background(), user)
	require.NoError(t, err)

	assert.Equal(t, user, info.User)
	assert.Equal(t, "1000000000000000000", info.StakedAmount.String())
	assert.Equal(t, "20000000000000000", info.PendingRewards.String())
	assert.Equal(t, int64(1_700_000_000), info.LockEnd().Unix())
	assert.True(t, info.CanUnstake)
	assert.Equal(t, uint64(1000), info.BlockNumber)
	assert.Equal(t, 1, chain.Calls("HeaderByNumber"))
	assert.Equal(t, 1, chain.Calls("CallContract"))
}

func TestGetStakeInfoWithoutContractMakesNoCalls(t *testing.T) {
	chain := testutil.NewFakeChain(testutil.MonadTestnetChainID)

	info, err := NewContract(common.Address{}, chain).GetStakeInfo(context.Background(), testutil.OwnerAddress())
	require.NoError(t, err)
	assert.False(t, info.HasStake())
	assert.False(t, info.HasRewards())
	assert.True(t, info.LockEnd().IsZero())
	assert.Equal(t, 0, chain.Calls(""))
}

func TestGetStakeInfoClassifiesNetworkErrors(t *testing.T) {
	chain := testutil.NewFakeChain(testutil.MonadTestnetChainID)
	chain.FailOn("CallContract", errors.New("dial tcp: connection refused"))

	_, err := NewContract(contractAddr, chain).GetStakeInfo(context.Background(), testutil.OwnerAddress())
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNetwork))
}

func TestStakesAndRewards(t *testing.T) {
	chain := testutil.NewFakeChain(testutil.MonadTestnetChainID)
	chain.Handle(contractAddr, func(msg ethereum.CallMsg) ([]byte, error) {
		call, err := DecodeCall(msg.Data)
		if err != nil {
			return nil, err
		}
		v := big.NewInt(7)
		if call.Method == "rewards" {
			v = big.NewInt(3)
		}
		return ABI.Methods[call.Method].Outputs.Pack(v)
	})

	c := NewContract(contractAddr, chain)
	staked, err := c.Stakes(context.Background(), testutil.OwnerAddress())
	require.NoError(t, err)
	assert.Equal(t, int64(7), staked.Int64())

	rewards, err := c.Rewards(context.Background(), testutil.OwnerAddress())
	require.NoError(t, err)
	assert.Equal(t, int64(3), rewards.Int64())
}

func eventLog(t *testing.T, name string, user common.Address, block uint64, values ...interface{}) types.Log {
	t.Helper()
	ev := ABI.Events[name]
	data, err := ev.Inputs.NonIndexed().Pack(values...)
	require.NoError(t, err)
	return types.Log{
		Address:     contractAddr,
		Topics:      []common.Hash{ev.ID, common.BytesToHash(user.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(big.NewInt(int64(block))),
	}
}

func TestParseLog(t *testing.T) {
	user := testutil.OwnerAddress()

	ev, err := ParseLog(eventLog(t, "Unstaked", user, 12, big.NewInt(100), big.NewInt(4), big.NewInt(1_700_000_100)))
	require.NoError(t, err)
	assert.Equal(t, model.EventUnstaked, ev.Kind)
	assert.Equal(t, user, ev.User)
	assert.Equal(t, int64(100), ev.Amount.Int64())
	assert.Equal(t, int64(4), ev.Reward.Int64())
	assert.Equal(t, int64(1_700_000_100), ev.Timestamp)

	_, err = ParseLog(types.Log{Topics: []common.Hash{{0x01}, {0x02}}})
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestFilterEventsNewestFirst(t *testing.T) {
	chain := testutil.NewFakeChain(testutil.MonadTestnetChainID)
	user := testutil.OwnerAddress()
	other := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	chain.AddLog(eventLog(t, "Staked", user, 10, big.NewInt(1e18), big.NewInt(1000)))
	chain.AddLog(eventLog(t, "RewardClaimed", user, 30, big.NewInt(5), big.NewInt(3000)))
	chain.AddLog(eventLog(t, "Staked", other, 20, big.NewInt(2e18), big.NewInt(2000)))

	events, err := NewContract(contractAddr, chain).FilterEvents(context.Background(), user, big.NewInt(0))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventRewardClaimed, events[0].Kind)
	assert.Equal(t, model.EventStaked, events[1].Kind)
}
