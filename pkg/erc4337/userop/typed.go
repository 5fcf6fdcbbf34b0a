package userop

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	// DomainName and DomainVersion identify the entry point EIP-712 domain.
	DomainName    = "ERC4337"
	DomainVersion = "1"

	PrimaryType = "PackedUserOperation"
)

var typedDataTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	PrimaryType: {
		{Name: "sender", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "initCode", Type: "bytes"},
		{Name: "callData", Type: "bytes"},
		{Name: "accountGasLimits", Type: "bytes32"},
		{Name: "preVerificationGas", Type: "uint256"},
		{Name: "gasFees", Type: "bytes32"},
		{Name: "paymasterAndData", Type: "bytes"},
	},
}

// TypedData is the EIP-712 request a wallet renders when asked to approve op.
// Values are hex encoded so the structure can be sent as-is over
// eth_signTypedData_v4.
func (op *UserOperation) TypedData(entryPoint common.Address, chainID *big.Int) apitypes.TypedData {
	p := op.Pack()

	return apitypes.TypedData{
		Types:       typedDataTypes,
		PrimaryType: PrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(orZero(chainID))),
			VerifyingContract: entryPoint.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"sender":             p.Sender.Hex(),
			"nonce":              (*math.HexOrDecimal256)(new(big.Int).Set(p.Nonce)),
			"initCode":           hexutil.Bytes(p.InitCode),
			"callData":           hexutil.Bytes(p.CallData),
			"accountGasLimits":   hexutil.Bytes(p.AccountGasLimits[:]),
			"preVerificationGas": (*math.HexOrDecimal256)(new(big.Int).Set(p.PreVerificationGas)),
			"gasFees":            hexutil.Bytes(p.GasFees[:]),
			"paymasterAndData":   hexutil.Bytes(p.PaymasterAndData),
		},
	}
}

// TypedDataHash is the digest a wallet signs for TypedData.
func (op *UserOperation) TypedDataHash(entryPoint common.Address, chainID *big.Int) (common.Hash, error) {
	digest, _, err := apitypes.TypedDataAndHash(op.TypedData(entryPoint, chainID))
	if err != nil {
		return common.Hash{}, fmt.Errorf("hash typed user operation: %w", err)
	}
	return common.BytesToHash(digest), nil
}

// MessageDigest is the EIP-191 personal_sign digest over the canonical hash,
// the form SimpleAccount validates signatures against.
func MessageDigest(userOpHash common.Hash) common.Hash {
	return common.BytesToHash(accounts.TextHash(userOpHash.Bytes()))
}
