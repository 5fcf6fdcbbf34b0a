package userop

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	entryPoint = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")
	chainID    = big.NewInt(10143)
)

func sampleOp() *UserOperation {
	factory := common.HexToAddress("0x91E60e0613810449d098b0b5Ec8b51A0FE8c8985")
	return &UserOperation{
		Sender:               common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:                big.NewInt(3),
		Factory:              &factory,
		FactoryData:          common.FromHex("0x5fbfb9cf"),
		CallData:             common.FromHex("0xb61d27f6"),
		CallGasLimit:         big.NewInt(520000),
		VerificationGasLimit: big.NewInt(1300000),
		PreVerificationGas:   big.NewInt(1040000),
		MaxFeePerGas:         big.NewInt(65_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
	}
}

func word(b []byte) []byte {
	return common.LeftPadBytes(b, 32)
}

// referenceHash concatenates the 32 byte words by hand so the abi packer is
// checked against an independent encoding.
func referenceHash(op *UserOperation) common.Hash {
	var inner []byte
	inner = append(inner, word(op.Sender.Bytes())...)
	inner = append(inner, word(op.Nonce.Bytes())...)
	inner = append(inner, crypto.Keccak256(op.InitCode())...)
	inner = append(inner, crypto.Keccak256(op.CallData)...)
	gl := op.AccountGasLimits()
	inner = append(inner, gl[:]...)
	inner = append(inner, word(op.PreVerificationGas.Bytes())...)
	fees := op.GasFees()
	inner = append(inner, fees[:]...)
	inner = append(inner, crypto.Keccak256(op.PaymasterAndData())...)

	var outer []byte
	outer = append(outer, crypto.Keccak256(inner)...)
	outer = append(outer, word(entryPoint.Bytes())...)
	outer = append(outer, word(chainID.Bytes())...)
	return crypto.Keccak256Hash(outer)
}

func TestHashMatchesManualEncoding(t *testing.T) {
	op := sampleOp()
	assert.Equal(t, referenceHash(op), op.Hash(entryPoint, chainID))
}

func TestHashIgnoresSignature(t *testing.T) {
	op := sampleOp()
	before := op.Hash(entryPoint, chainID)
	op.Signature = make([]byte, 65)
	assert.Equal(t, before, op.Hash(entryPoint, chainID))
}

func TestHashBindsEntryPointAndChain(t *testing.T) {
	op := sampleOp()
	h := op.Hash(entryPoint, chainID)

	assert.NotEqual(t, h, op.Hash(common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"), chainID))
	assert.NotEqual(t, h, op.Hash(entryPoint, big.NewInt(1)))

	bumped := op.Clone()
	bumped.Nonce = big.NewInt(4)
	assert.NotEqual(t, h, bumped.Hash(entryPoint, chainID))
}

func TestPackedGasWords(t *testing.T) {
	op := sampleOp()
	gl := op.AccountGasLimits()
	assert.Equal(t, int64(1300000), new(big.Int).SetBytes(gl[:16]).Int64())
	assert.Equal(t, int64(520000), new(big.Int).SetBytes(gl[16:]).Int64())

	fees := op.GasFees()
	assert.Equal(t, int64(1_000_000_000), new(big.Int).SetBytes(fees[:16]).Int64())
	assert.Equal(t, int64(65_000_000_000), new(big.Int).SetBytes(fees[16:]).Int64())
}

func TestInitCode(t *testing.T) {
	op := sampleOp()
	initCode := op.InitCode()
	assert.Equal(t, op.Factory.Bytes(), initCode[:20])
	assert.Equal(t, op.FactoryData, initCode[20:])

	op.Factory = nil
	assert.Empty(t, op.InitCode())
}

func TestPaymasterAndData(t *testing.T) {
	op := sampleOp()
	assert.Empty(t, op.PaymasterAndData())

	pm := common.HexToAddress("0x2222222222222222222222222222222222222222")
	op.Paymaster = &pm
	op.PaymasterVerificationGasLimit = big.NewInt(100)
	op.PaymasterPostOpGasLimit = big.NewInt(50)
	op.PaymasterData = []byte{0xaa}

	pad := op.PaymasterAndData()
	require.Len(t, pad, 20+32+1)
	assert.Equal(t, pm.Bytes(), pad[:20])
	assert.Equal(t, int64(100), new(big.Int).SetBytes(pad[20:36]).Int64())
	assert.Equal(t, int64(50), new(big.Int).SetBytes(pad[36:52]).Int64())
	assert.Equal(t, byte(0xaa), pad[52])
}

func TestMarshalJSONBundlerShape(t *testing.T) {
	op := sampleOp()
	body, err := json.Marshal(op)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &m))
	assert.Equal(t, "0x3", m["nonce"])
	assert.Equal(t, "0x7ef40", m["callGasLimit"])
	assert.Equal(t, "0x5fbfb9cf", m["factoryData"])
	assert.Equal(t, "0x", m["signature"])
	assert.NotContains(t, m, "paymaster")

	op.Factory = nil
	body, err = json.Marshal(op)
	require.NoError(t, err)
	m = map[string]interface{}{}
	require.NoError(t, json.Unmarshal(body, &m))
	assert.NotContains(t, m, "factory")
	assert.NotContains(t, m, "factoryData")
}

func TestJSONRoundTripKeepsHash(t *testing.T) {
	op := sampleOp()
	body, err := json.Marshal(op)
	require.NoError(t, err)

	var decoded UserOperation
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, op.Hash(entryPoint, chainID), decoded.Hash(entryPoint, chainID))
}

func TestCloneIsDeep(t *testing.T) {
	op := sampleOp()
	c := op.Clone()
	c.Nonce.SetInt64(99)
	c.CallData[0] = 0x00
	*c.Factory = common.Address{}

	assert.Equal(t, int64(3), op.Nonce.Int64())
	assert.Equal(t, byte(0xb6), op.CallData[0])
	assert.NotEqual(t, common.Address{}, *op.Factory)
}

func TestMaxGasCost(t *testing.T) {
	op := sampleOp()
	want := new(big.Int).Mul(big.NewInt(520000+1300000+1040000), big.NewInt(65_000_000_000))
	assert.Equal(t, 0, want.Cmp(op.MaxGasCost()))
}

func TestTypedDataHash(t *testing.T) {
	op := sampleOp()

	td := op.TypedData(entryPoint, chainID)
	assert.Equal(t, PrimaryType, td.PrimaryType)
	assert.Equal(t, DomainName, td.Domain.Name)
	assert.Equal(t, entryPoint.Hex(), td.Domain.VerifyingContract)

	h1, err := op.TypedDataHash(entryPoint, chainID)
	require.NoError(t, err)
	h2, err := op.TypedDataHash(entryPoint, chainID)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.NotEqual(t, op.Hash(entryPoint, chainID), h1)

	other, err := op.TypedDataHash(entryPoint, big.NewInt(1))
	require.NoError(t, err)
	assert.NotEqual(t, h1, other)
}

func TestTypedDataSerialisesAsHex(t *testing.T) {
	body, err := json.Marshal(sampleOp().TypedData(entryPoint, chainID))
	require.NoError(t, err)
	assert.Contains(t, string(body), `"callData":"0xb61d27f6"`)
	assert.Contains(t, string(body), `"nonce":"0x3"`)
}

func TestMessageDigest(t *testing.T) {
	h := sampleOp().Hash(entryPoint, chainID)
	prefixed := append([]byte("\x19Ethereum Signed Message:\n32"), h.Bytes()...)
	assert.Equal(t, crypto.Keccak256Hash(prefixed), MessageDigest(h))
}
