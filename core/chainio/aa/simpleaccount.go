package aa

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AvaProtocol/ap-staking/core/chainio"
)

// Call is one instruction the smart account executes on our behalf.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Implementation is a smart account family: how its factory derives and
// deploys accounts and how it wraps calls.
type Implementation interface {
	Name() string
	EncodeExecute(call Call) ([]byte, error)
	EncodeExecuteBatch(calls []Call) ([]byte, error)
	FactoryData(owner common.Address, salt *big.Int) ([]byte, error)
	// GetAddress asks the factory for the counterfactual address.
	GetAddress(ctx context.Context, client chainio.Client, factory, owner common.Address, salt *big.Int) (common.Address, error)
	// InitCodeHash returns the CREATE2 init code hash when the family knows
	// its proxy creation code; ok is false otherwise.
	InitCodeHash(owner common.Address) (hash common.Hash, ok bool)
	DummySignature() []byte
	// SignatureDigest is the digest validateUserOp recovers the owner from.
	SignatureDigest(userOpHash common.Hash) common.Hash
	// AcceptsTypedData reports whether validateUserOp also accepts an
	// EIP-712 signature over the PackedUserOperation.
	AcceptsTypedData() bool
	OwnerOf(ctx context.Context, client chainio.Client, account common.Address) (common.Address, error)
}

// EncodeCalls uses execute for a single call and executeBatch otherwise.
func EncodeCalls(impl Implementation, calls []Call) ([]byte, error) {
	switch len(calls) {
	case 0:
		return nil, fmt.Errorf("no calls to encode")
	case 1:
		return impl.EncodeExecute(calls[0])
	default:
		return impl.EncodeExecuteBatch(calls)
	}
}

const simpleAccountABIJSON = `[
	{"type":"function","name":"execute","stateMutability":"nonpayable","inputs":[
		{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"executeBatch","stateMutability":"nonpayable","inputs":[
		{"name":"dest","type":"address[]"},{"name":"value","type":"uint256[]"},{"name":"func","type":"bytes[]"}],"outputs":[]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"initialize","stateMutability":"nonpayable","inputs":[{"name":"anOwner","type":"address"}],"outputs":[]}
]`

const simpleFactoryABIJSON = `[
	{"type":"function","name":"createAccount","stateMutability":"nonpayable","inputs":[
		{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"ret","type":"address"}]},
	{"type":"function","name":"getAddress","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"","type":"address"}]}
]`

var (
	SimpleAccountABI = mustABI(simpleAccountABIJSON)
	SimpleFactoryABI = mustABI(simpleFactoryABIJSON)

	// An ECDSA signature that recovers to some address without reverting,
	// so bundlers can simulate validation before the owner signs.
	simpleAccountDummySig = common.FromHex("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Errorf("invalid abi: %w", err))
	}
	return parsed
}

// SimpleAccount is the eth-infinitism SimpleAccount v0.7 family.
type SimpleAccount struct {
	// proxyCreationCode and implementation enable local CREATE2 derivation.
	proxyCreationCode []byte
	implementation    common.Address
}

func NewSimpleAccount() *SimpleAccount {
	return &SimpleAccount{}
}

// WithProxy lets the account derive addresses locally. creationCode is the
// ERC1967Proxy creation bytecode the factory deploys in front of impl.
func (s *SimpleAccount) WithProxy(creationCode []byte, impl common.Address) *SimpleAccount {
	return &SimpleAccount{proxyCreationCode: append([]byte{}, creationCode...), implementation: impl}
}

func (s *SimpleAccount) Name() string {
	return "SimpleAccount v0.7"
}

func (s *SimpleAccount) EncodeExecute(call Call) ([]byte, error) {
	return SimpleAccountABI.Pack("execute", call.To, valueOrZero(call.Value), nonNilBytes(call.Data))
}

func (s *SimpleAccount) EncodeExecuteBatch(calls []Call) ([]byte, error) {
	dest := make([]common.Address, len(calls))
	values := make([]*big.Int, len(calls))
	data := make([][]byte, len(calls))
	for i, c := range calls {
		dest[i] = c.To
		values[i] = valueOrZero(c.Value)
		data[i] = nonNilBytes(c.Data)
	}
	return SimpleAccountABI.Pack("executeBatch", dest, values, data)
}

func (s *SimpleAccount) FactoryData(owner common.Address, salt *big.Int) ([]byte, error) {
	return SimpleFactoryABI.Pack("createAccount", owner, valueOrZero(salt))
}

func (s *SimpleAccount) GetAddress(ctx context.Context, client chainio.Client, factory, owner common.Address, salt *big.Int) (common.Address, error) {
	data, err := SimpleFactoryABI.Pack("getAddress", owner, valueOrZero(salt))
	if err != nil {
		return common.Address{}, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, chainio.Wrap(err, "factory getAddress")
	}
	return unpackAddress(SimpleFactoryABI, "getAddress", res)
}

func (s *SimpleAccount) InitCodeHash(owner common.Address) (common.Hash, bool) {
	if len(s.proxyCreationCode) == 0 {
		return common.Hash{}, false
	}

	initCall, err := SimpleAccountABI.Pack("initialize", owner)
	if err != nil {
		return common.Hash{}, false
	}
	args := abi.Arguments{{Type: addressType}, {Type: bytesType}}
	ctorArgs, err := args.Pack(s.implementation, initCall)
	if err != nil {
		return common.Hash{}, false
	}

	initCode := append(append([]byte{}, s.proxyCreationCode...), ctorArgs...)
	return crypto.Keccak256Hash(initCode), true
}

func (s *SimpleAccount) DummySignature() []byte {
	return append([]byte{}, simpleAccountDummySig...)
}

// SignatureDigest is toEthSignedMessageHash(userOpHash): SimpleAccount v0.7
// recovers the owner from the EIP-191 form of the canonical hash only.
func (s *SimpleAccount) SignatureDigest(userOpHash common.Hash) common.Hash {
	return common.BytesToHash(accounts.TextHash(userOpHash.Bytes()))
}

func (s *SimpleAccount) AcceptsTypedData() bool {
	return false
}

func (s *SimpleAccount) OwnerOf(ctx context.Context, client chainio.Client, account common.Address) (common.Address, error) {
	data, err := SimpleAccountABI.Pack("owner")
	if err != nil {
		return common.Address{}, err
	}
	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &account, Data: data}, nil)
	if err != nil {
		return common.Address{}, chainio.Wrap(err, "read account owner")
	}
	return unpackAddress(SimpleAccountABI, "owner", res)
}

var (
	addressType, _ = abi.NewType("address", "", nil)
	bytesType, _   = abi.NewType("bytes", "", nil)
)

func unpackAddress(contract abi.ABI, method string, res []byte) (common.Address, error) {
	out, err := contract.Unpack(method, res)
	if err != nil {
		return common.Address{}, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return common.Address{}, fmt.Errorf("unpack %s: empty result", method)
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unpack %s: unexpected type %T", method, out[0])
	}
	return addr, nil
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
