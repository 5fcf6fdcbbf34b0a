// Package aa derives, inspects and deploys ERC-4337 smart accounts.
package aa

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ComputeAddress applies the CREATE2 formula
// keccak256(0xff || factory || salt || initCodeHash)[12:].
func ComputeAddress(factory common.Address, salt *big.Int, initCodeHash common.Hash) common.Address {
	saltBytes := make([]byte, 32)
	valueOrZero(salt).FillBytes(saltBytes)

	b := make([]byte, 0, 1+20+32+32)
	b = append(b, 0xff)
	b = append(b, factory.Bytes()...)
	b = append(b, saltBytes...)
	b = append(b, initCodeHash.Bytes()...)
	return common.BytesToAddress(crypto.Keccak256(b)[12:])
}
