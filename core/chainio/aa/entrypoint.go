package aa

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ap-staking/core/chainio"
)

const entryPointABIJSON = `[
	{"type":"function","name":"getNonce","stateMutability":"view","inputs":[
		{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"outputs":[{"name":"nonce","type":"uint256"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
		{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var EntryPointABI = mustABI(entryPointABIJSON)

// EntryPoint reads the v0.7 entry point.
type EntryPoint struct {
	address common.Address
	client  chainio.Client
}

func NewEntryPoint(address common.Address, client chainio.Client) *EntryPoint {
	return &EntryPoint{address: address, client: client}
}

func (e *EntryPoint) Address() common.Address {
	return e.address
}

// GetNonce returns the next nonce of sender in the sequence identified by key.
// Key 0 is the default sequence.
func (e *EntryPoint) GetNonce(ctx context.Context, sender common.Address, key *big.Int) (*big.Int, error) {
	return e.readUint(ctx, "getNonce", sender, valueOrZero(key))
}

// DepositOf is the prefund sender holds at the entry point.
func (e *EntryPoint) DepositOf(ctx context.Context, account common.Address) (*big.Int, error) {
	return e.readUint(ctx, "balanceOf", account)
}

func (e *EntryPoint) readUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	data, err := EntryPointABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	res, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &e.address, Data: data}, nil)
	if err != nil {
		return nil, chainio.Wrap(err, "entrypoint "+method)
	}
	out, err := EntryPointABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, out[0])
	}
	return v, nil
}
