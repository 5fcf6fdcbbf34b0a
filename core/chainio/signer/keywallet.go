package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/chainio"
)

var _ Wallet = (*KeyWallet)(nil)

// KeyWallet signs with a private key held in process. It is what the CLI
// uses; the gateway never holds one.
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID *big.Int
}

func NewKeyWallet(key *ecdsa.PrivateKey, chainID *big.Int) *KeyWallet {
	return &KeyWallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: new(big.Int).Set(chainID),
	}
}

func (w *KeyWallet) Address() common.Address {
	return w.address
}

func (w *KeyWallet) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(w.chainID), nil
}

func (w *KeyWallet) SignTypedData(ctx context.Context, typed apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, apperr.Wallet(apperr.CodeUnsupportedMethod, "typed data could not be hashed", err)
	}
	return signDigest(w.key, common.BytesToHash(digest))
}

func (w *KeyWallet) SignMessage(ctx context.Context, msg []byte) ([]byte, error) {
	return SignMessage(w.key, msg)
}

// SendTransaction sends an EIP-1559 transaction from the key's address.
func (w *KeyWallet) SendTransaction(ctx context.Context, client chainio.Client, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, chainio.Wrap(err, "read sender nonce")
	}
	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, chainio.Wrap(err, "suggest tip")
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, chainio.Wrap(err, "suggest gas price")
	}
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{From: w.address, To: &to, Value: value, Data: data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   w.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: new(big.Int).Add(gasPrice, tip),
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(w.chainID), w.key)
	if err != nil {
		return common.Hash{}, err
	}
	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, apperr.Classify(err, apperr.KindNetwork)
	}
	return signed.Hash(), nil
}
