// Package userop models the ERC-4337 v0.7 user operation: the unpacked form
// bundlers speak over JSON-RPC, the packed form the entry point hashes, and
// the digests an owner signs.
package userop

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// UserOperation is the unpacked v0.7 operation. Factory is nil once the
// sender is deployed; Paymaster is nil for self-funded operations.
type UserOperation struct {
	Sender      common.Address
	Nonce       *big.Int
	Factory     *common.Address
	FactoryData []byte
	CallData    []byte

	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int

	Paymaster                     *common.Address
	PaymasterVerificationGasLimit *big.Int
	PaymasterPostOpGasLimit       *big.Int
	PaymasterData                 []byte

	Signature []byte
}

// PackedUserOperation is the on-chain struct the v0.7 entry point consumes.
type PackedUserOperation struct {
	Sender             common.Address
	Nonce              *big.Int
	InitCode           []byte
	CallData           []byte
	AccountGasLimits   [32]byte
	PreVerificationGas *big.Int
	GasFees            [32]byte
	PaymasterAndData   []byte
	Signature          []byte
}

// InitCode is factory||factoryData, or empty when the sender is deployed.
func (op *UserOperation) InitCode() []byte {
	if op.Factory == nil {
		return []byte{}
	}
	out := make([]byte, 0, common.AddressLength+len(op.FactoryData))
	out = append(out, op.Factory.Bytes()...)
	return append(out, op.FactoryData...)
}

// PaymasterAndData is paymaster||verificationGas(16)||postOpGas(16)||data.
func (op *UserOperation) PaymasterAndData() []byte {
	if op.Paymaster == nil {
		return []byte{}
	}
	out := make([]byte, 0, common.AddressLength+32+len(op.PaymasterData))
	out = append(out, op.Paymaster.Bytes()...)
	out = append(out, packUint128(op.PaymasterVerificationGasLimit)...)
	out = append(out, packUint128(op.PaymasterPostOpGasLimit)...)
	return append(out, op.PaymasterData...)
}

// AccountGasLimits packs verificationGasLimit into the high 16 bytes and
// callGasLimit into the low 16 bytes.
func (op *UserOperation) AccountGasLimits() [32]byte {
	return pack128Pair(op.VerificationGasLimit, op.CallGasLimit)
}

// GasFees packs maxPriorityFeePerGas high and maxFeePerGas low.
func (op *UserOperation) GasFees() [32]byte {
	return pack128Pair(op.MaxPriorityFeePerGas, op.MaxFeePerGas)
}

func (op *UserOperation) Pack() PackedUserOperation {
	return PackedUserOperation{
		Sender:             op.Sender,
		Nonce:              orZero(op.Nonce),
		InitCode:           op.InitCode(),
		CallData:           nonNil(op.CallData),
		AccountGasLimits:   op.AccountGasLimits(),
		PreVerificationGas: orZero(op.PreVerificationGas),
		GasFees:            op.GasFees(),
		PaymasterAndData:   op.PaymasterAndData(),
		Signature:          nonNil(op.Signature),
	}
}

var (
	addressT, _ = abi.NewType("address", "", nil)
	uint256T, _ = abi.NewType("uint256", "", nil)
	bytes32T, _ = abi.NewType("bytes32", "", nil)

	innerArgs = abi.Arguments{
		{Type: addressT}, // sender
		{Type: uint256T}, // nonce
		{Type: bytes32T}, // keccak(initCode)
		{Type: bytes32T}, // keccak(callData)
		{Type: bytes32T}, // accountGasLimits
		{Type: uint256T}, // preVerificationGas
		{Type: bytes32T}, // gasFees
		{Type: bytes32T}, // keccak(paymasterAndData)
	}
	outerArgs = abi.Arguments{
		{Type: bytes32T},
		{Type: addressT},
		{Type: uint256T},
	}
)

// Hash is the v0.7 userOpHash as computed by EntryPoint.getUserOpHash. Every
// field except the signature is bound, together with the entry point and
// chain, so a signature cannot be replayed on another deployment.
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) common.Hash {
	p := op.Pack()

	inner, err := innerArgs.Pack(
		p.Sender,
		p.Nonce,
		crypto.Keccak256Hash(p.InitCode),
		crypto.Keccak256Hash(p.CallData),
		p.AccountGasLimits,
		p.PreVerificationGas,
		p.GasFees,
		crypto.Keccak256Hash(p.PaymasterAndData),
	)
	if err != nil {
		// static types only; a failure here is a programming error
		panic(fmt.Errorf("pack user operation: %w", err))
	}

	outer, err := outerArgs.Pack(crypto.Keccak256Hash(inner), entryPoint, orZero(chainID))
	if err != nil {
		panic(fmt.Errorf("pack user operation hash: %w", err))
	}
	return crypto.Keccak256Hash(outer)
}

// Clone returns a deep copy so a builder can mutate gas or signature fields
// without touching an op that was already handed out.
func (op *UserOperation) Clone() *UserOperation {
	c := &UserOperation{
		Sender:                        op.Sender,
		Nonce:                         cloneInt(op.Nonce),
		FactoryData:                   cloneBytes(op.FactoryData),
		CallData:                      cloneBytes(op.CallData),
		CallGasLimit:                  cloneInt(op.CallGasLimit),
		VerificationGasLimit:          cloneInt(op.VerificationGasLimit),
		PreVerificationGas:            cloneInt(op.PreVerificationGas),
		MaxFeePerGas:                  cloneInt(op.MaxFeePerGas),
		MaxPriorityFeePerGas:          cloneInt(op.MaxPriorityFeePerGas),
		PaymasterVerificationGasLimit: cloneInt(op.PaymasterVerificationGasLimit),
		PaymasterPostOpGasLimit:       cloneInt(op.PaymasterPostOpGasLimit),
		PaymasterData:                 cloneBytes(op.PaymasterData),
		Signature:                     cloneBytes(op.Signature),
	}
	if op.Factory != nil {
		f := *op.Factory
		c.Factory = &f
	}
	if op.Paymaster != nil {
		p := *op.Paymaster
		c.Paymaster = &p
	}
	return c
}

// MaxGasCost is the prefund the entry point requires from the sender:
// (callGas + verificationGas + preVerificationGas) * maxFeePerGas.
func (op *UserOperation) MaxGasCost() *big.Int {
	total := new(big.Int).Add(orZero(op.CallGasLimit), orZero(op.VerificationGasLimit))
	total.Add(total, orZero(op.PreVerificationGas))
	total.Add(total, orZero(op.PaymasterVerificationGasLimit))
	total.Add(total, orZero(op.PaymasterPostOpGasLimit))
	return total.Mul(total, orZero(op.MaxFeePerGas))
}

// jsonUserOp is the eth_sendUserOperation v0.7 shape.
type jsonUserOp struct {
	Sender                        common.Address  `json:"sender"`
	Nonce                         *hexutil.Big    `json:"nonce"`
	Factory                       *common.Address `json:"factory,omitempty"`
	FactoryData                   *hexutil.Bytes  `json:"factoryData,omitempty"`
	CallData                      hexutil.Bytes   `json:"callData"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterData                 *hexutil.Bytes  `json:"paymasterData,omitempty"`
	Signature                     hexutil.Bytes   `json:"signature"`
}

func (op UserOperation) MarshalJSON() ([]byte, error) {
	out := jsonUserOp{
		Sender:               op.Sender,
		Nonce:                (*hexutil.Big)(orZero(op.Nonce)),
		CallData:             nonNil(op.CallData),
		CallGasLimit:         (*hexutil.Big)(orZero(op.CallGasLimit)),
		VerificationGasLimit: (*hexutil.Big)(orZero(op.VerificationGasLimit)),
		PreVerificationGas:   (*hexutil.Big)(orZero(op.PreVerificationGas)),
		MaxFeePerGas:         (*hexutil.Big)(orZero(op.MaxFeePerGas)),
		MaxPriorityFeePerGas: (*hexutil.Big)(orZero(op.MaxPriorityFeePerGas)),
		Signature:            nonNil(op.Signature),
	}
	if op.Factory != nil {
		out.Factory = op.Factory
		fd := hexutil.Bytes(nonNil(op.FactoryData))
		out.FactoryData = &fd
	}
	if op.Paymaster != nil {
		out.Paymaster = op.Paymaster
		out.PaymasterVerificationGasLimit = (*hexutil.Big)(orZero(op.PaymasterVerificationGasLimit))
		out.PaymasterPostOpGasLimit = (*hexutil.Big)(orZero(op.PaymasterPostOpGasLimit))
		pd := hexutil.Bytes(nonNil(op.PaymasterData))
		out.PaymasterData = &pd
	}
	return json.Marshal(out)
}

func (op *UserOperation) UnmarshalJSON(data []byte) error {
	var in jsonUserOp
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	*op = UserOperation{
		Sender:                        in.Sender,
		Nonce:                         (*big.Int)(in.Nonce),
		Factory:                       in.Factory,
		CallData:                      in.CallData,
		CallGasLimit:                  (*big.Int)(in.CallGasLimit),
		VerificationGasLimit:          (*big.Int)(in.VerificationGasLimit),
		PreVerificationGas:            (*big.Int)(in.PreVerificationGas),
		MaxFeePerGas:                  (*big.Int)(in.MaxFeePerGas),
		MaxPriorityFeePerGas:          (*big.Int)(in.MaxPriorityFeePerGas),
		Paymaster:                     in.Paymaster,
		PaymasterVerificationGasLimit: (*big.Int)(in.PaymasterVerificationGasLimit),
		PaymasterPostOpGasLimit:       (*big.Int)(in.PaymasterPostOpGasLimit),
		Signature:                     in.Signature,
	}
	if in.FactoryData != nil {
		op.FactoryData = *in.FactoryData
	}
	if in.PaymasterData != nil {
		op.PaymasterData = *in.PaymasterData
	}
	return nil
}

func packUint128(v *big.Int) []byte {
	return common.LeftPadBytes(orZero(v).Bytes(), 16)
}

func pack128Pair(high, low *big.Int) [32]byte {
	var out [32]byte
	copy(out[:16], packUint128(high))
	copy(out[16:], packUint128(low))
	return out
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
