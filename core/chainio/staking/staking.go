// Package staking encodes and decodes calls to the MonStaking contract.
package staking

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ap-staking/core/chainio"
	"github.com/AvaProtocol/ap-staking/model"
	"github.com/AvaProtocol/ap-staking/pkg/byte4"
)

const stakingABIJSON = `[
	{"type":"function","name":"stake","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"unstake","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"claimRewards","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"function","name":"getStakeInfo","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[
		{"name":"stakedAmount","type":"uint256"},
		{"name":"pendingRewards","type":"uint256"},
		{"name":"lockEndsAt","type":"uint256"},
		{"name":"canUnstake","type":"bool"}]},
	{"type":"function","name":"stakes","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"rewards","stateMutability":"view","inputs":[{"name":"user","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"event","name":"Staked","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"Unstaked","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"reward","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]},
	{"type":"event","name":"RewardClaimed","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"timestamp","type":"uint256","indexed":false}]}
]`

// ABI is the parsed staking contract interface.
var ABI = mustParseABI(stakingABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Errorf("invalid staking abi: %w", err))
	}
	return parsed
}

func PackStake() ([]byte, error) {
	return ABI.Pack("stake")
}

func PackUnstake(amount *big.Int) ([]byte, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("unstake amount must be positive")
	}
	return ABI.Pack("unstake", amount)
}

func PackClaimRewards() ([]byte, error) {
	return ABI.Pack("claimRewards")
}

func PackGetStakeInfo(user common.Address) ([]byte, error) {
	return ABI.Pack("getStakeInfo", user)
}

// Call is a decoded contract call.
type Call struct {
	Method   string
	Selector [4]byte
	Args     []interface{}
}

// DecodeCall maps calldata back onto the staking ABI.
func DecodeCall(data []byte) (*Call, error) {
	method, args, err := byte4.DecodeCalldata(ABI, data)
	if err != nil {
		return nil, err
	}
	c := &Call{Method: method.Name, Args: args}
	copy(c.Selector[:], method.ID)
	return c, nil
}

// UnpackStakeInfo decodes the return data of getStakeInfo.
func UnpackStakeInfo(user common.Address, data []byte) (*model.StakeInfo, error) {
	out, err := ABI.Unpack("getStakeInfo", data)
	if err != nil {
		return nil, fmt.Errorf("unpack getStakeInfo: %w", err)
	}
	if len(out) != 4 {
		return nil, fmt.Errorf("unpack getStakeInfo: expected 4 values, got %d", len(out))
	}
	return &model.StakeInfo{
		User:           user,
		StakedAmount:   out[0].(*big.Int),
		PendingRewards: out[1].(*big.Int),
		LockEndsAt:     out[2].(*big.Int),
		CanUnstake:     out[3].(bool),
		FetchedAt:      time.Now(),
	}, nil
}

// Contract reads from a deployed staking contract.
type Contract struct {
	address common.Address
	client  chainio.Client
}

func NewContract(address common.Address, client chainio.Client) *Contract {
	return &Contract{address: address, client: client}
}

func (c *Contract) Address() common.Address {
	return c.address
}

// Deployed reports whether a staking contract address has been configured.
func (c *Contract) Deployed() bool {
	return c.address != (common.Address{})
}

// GetStakeInfo reads the position of user at the latest block. A contract
// that has not been configured yields an empty position without any call.
func (c *Contract) GetStakeInfo(ctx context.Context, user common.Address) (*model.StakeInfo, error) {
	if !c.Deployed() {
		return model.EmptyStakeInfo(user), nil
	}

	data, err := PackGetStakeInfo(user)
	if err != nil {
		return nil, err
	}

	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, chainio.Wrap(err, "read latest block")
	}

	res, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, header.Number)
	if err != nil {
		return nil, chainio.Wrap(err, "call getStakeInfo")
	}

	info, err := UnpackStakeInfo(user, res)
	if err != nil {
		return nil, err
	}
	info.BlockNumber = header.Number.Uint64()
	return info, nil
}

// Stakes reads the raw staked balance of user.
func (c *Contract) Stakes(ctx context.Context, user common.Address) (*big.Int, error) {
	return c.readUint(ctx, "stakes", user)
}

// Rewards reads the raw reward balance of user.
func (c *Contract) Rewards(ctx context.Context, user common.Address) (*big.Int, error) {
	return c.readUint(ctx, "rewards", user)
}

func (c *Contract) readUint(ctx context.Context, method string, user common.Address) (*big.Int, error) {
	if !c.Deployed() {
		return new(big.Int), nil
	}
	data, err := ABI.Pack(method, user)
	if err != nil {
		return nil, err
	}
	res, err := c.client.CallContract(ctx, ethereum.CallMsg{To: &c.address, Data: data}, nil)
	if err != nil {
		return nil, chainio.Wrap(err, "call "+method)
	}
	out, err := ABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return out[0].(*big.Int), nil
}
