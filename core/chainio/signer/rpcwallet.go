package signer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/chainio"
	"github.com/AvaProtocol/ap-staking/core/config"
)

const providerUnknownChain = 4902

var _ Wallet = (*RPCWallet)(nil)

// RPCWallet talks to a remote wallet that exposes the EIP-1193 methods over
// JSON-RPC, such as a wallet bridge or a signer daemon.
type RPCWallet struct {
	client  *rpc.Client
	address common.Address
}

// ConnectRPCWallet asks the wallet for its accounts and binds to the first.
func ConnectRPCWallet(ctx context.Context, client *rpc.Client) (*RPCWallet, error) {
	var accounts []common.Address
	if err := client.CallContext(ctx, &accounts, "eth_requestAccounts"); err != nil {
		return nil, apperr.Classify(err, apperr.KindWallet)
	}
	if len(accounts) == 0 {
		return nil, apperr.Wallet(apperr.CodeUnauthorized, "wallet exposed no accounts", nil)
	}
	return &RPCWallet{client: client, address: accounts[0]}, nil
}

func NewRPCWallet(client *rpc.Client, address common.Address) *RPCWallet {
	return &RPCWallet{client: client, address: address}
}

func (w *RPCWallet) Address() common.Address {
	return w.address
}

func (w *RPCWallet) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := w.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, apperr.Classify(err, apperr.KindWallet)
	}
	return (*big.Int)(&id), nil
}

func (w *RPCWallet) SignTypedData(ctx context.Context, typed apitypes.TypedData) ([]byte, error) {
	payload, err := json.Marshal(typed)
	if err != nil {
		return nil, err
	}
	var sig hexutil.Bytes
	if err := w.client.CallContext(ctx, &sig, "eth_signTypedData_v4", w.address, string(payload)); err != nil {
		return nil, apperr.Classify(err, apperr.KindWallet)
	}
	return sig, nil
}

func (w *RPCWallet) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	var sig hexutil.Bytes
	if err := w.client.CallContext(ctx, &sig, "personal_sign", hexutil.Bytes(msg), w.address); err != nil {
		return nil, apperr.Classify(err, apperr.KindWallet)
	}
	return sig, nil
}

type sendTxArgs struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *hexutil.Big   `json:"value"`
	Data  hexutil.Bytes  `json:"data"`
}

// SendTransaction lets the wallet fill nonce and fees; client is unused.
func (w *RPCWallet) SendTransaction(ctx context.Context, client chainio.Client, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	if value == nil {
		value = new(big.Int)
	}
	var hash common.Hash
	args := sendTxArgs{From: w.address, To: to, Value: (*hexutil.Big)(value), Data: data}
	if err := w.client.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
		return common.Hash{}, apperr.Classify(err, apperr.KindWallet)
	}
	return hash, nil
}

type addChainParams struct {
	ChainID           string                `json:"chainId"`
	ChainName         string                `json:"chainName"`
	NativeCurrency    config.NativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string              `json:"rpcUrls"`
	BlockExplorerURLs []string              `json:"blockExplorerUrls,omitempty"`
}

// EnsureChain switches the wallet to chain, adding the chain first when the
// wallet does not know it.
func (w *RPCWallet) EnsureChain(ctx context.Context, chain config.ChainDescriptor) error {
	current, err := w.ChainID(ctx)
	if err == nil && current.Cmp(chain.ChainID()) == 0 {
		return nil
	}

	switchParams := []map[string]string{{"chainId": chain.HexChainID()}}
	err = w.client.CallContext(ctx, nil, "wallet_switchEthereumChain", switchParams)
	if err == nil {
		return nil
	}

	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) || rpcErr.ErrorCode() != providerUnknownChain {
		return apperr.Classify(err, apperr.KindWallet)
	}

	add := addChainParams{
		ChainID:        chain.HexChainID(),
		ChainName:      chain.Name(),
		NativeCurrency: chain.NativeCurrency(),
		RPCURLs:        chain.RPCURLs(),
	}
	if chain.ExplorerURL() != "" {
		add.BlockExplorerURLs = []string{chain.ExplorerURL()}
	}
	if err := w.client.CallContext(ctx, nil, "wallet_addEthereumChain", []addChainParams{add}); err != nil {
		return apperr.Classify(err, apperr.KindWallet)
	}
	if err := w.client.CallContext(ctx, nil, "wallet_switchEthereumChain", switchParams); err != nil {
		return fmt.Errorf("switch after adding chain: %w", apperr.Classify(err, apperr.KindWallet))
	}
	return nil
}
