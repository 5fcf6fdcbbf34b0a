// Package signer obtains owner signatures and sends owner transactions,
// either from a local key or through a remote EIP-1193 style wallet.
package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/AvaProtocol/ap-staking/core/chainio"
)

const (
	eip191Prefix = "\x19Ethereum Signed Message:\n"
)

// Wallet is the owner EOA as the builder and the facade see it.
type Wallet interface {
	Address() common.Address
	ChainID(ctx context.Context) (*big.Int, error)
	// SignTypedData returns a 65 byte signature over the EIP-712 digest.
	SignTypedData(ctx context.Context, typed apitypes.TypedData) ([]byte, error)
	// SignMessage returns a 65 byte EIP-191 signature over msg.
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
	SendTransaction(ctx context.Context, client chainio.Client, to common.Address, value *big.Int, data []byte) (common.Hash, error)
}

func KeyFromHex(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	return crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
}

// Generate EIP191 signature
func SignMessage(key *ecdsa.PrivateKey, data []byte) ([]byte, error) {
	prefix := []byte(eip191Prefix + fmt.Sprint(len(data)))
	prefixedData := append(prefix, data...)
	hash := crypto.Keccak256Hash(prefixedData)
	return signDigest(key, hash)
}

func signDigest(key *ecdsa.PrivateKey, digest common.Hash) ([]byte, error) {
	sig, err := crypto.Sign(digest.Bytes(), key)
	if err != nil {
		return nil, err
	}
	// https://stackoverflow.com/questions/69762108/implementing-ethereum-personal-sign-eip-191-from-go-ethereum-gives-different-s
	sig[64] += 27
	return sig, nil
}

// RecoverSigner returns the address that produced sig over digest. Both the
// 0/1 and 27/28 recovery id conventions are accepted.
func RecoverSigner(digest common.Hash, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes, got %d", crypto.SignatureLength, len(sig))
	}
	normalized := append([]byte{}, sig...)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	pub, err := crypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
