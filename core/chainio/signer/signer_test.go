package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/config"
	"github.com/AvaProtocol/ap-staking/core/testutil"
	"github.com/AvaProtocol/ap-staking/pkg/erc4337/userop"
)

var (
	entryPoint = common.HexToAddress(config.EntryPointV07)
	monad      = big.NewInt(testutil.MonadTestnetChainID)
)

func sampleOp() *userop.UserOperation {
	return &userop.UserOperation{
		Sender:               common.HexToAddress("0x7c3a76086588230c7B3f4839A4c1F5BBafcd57C6"),
		Nonce:                big.NewInt(0),
		CallData:             common.FromHex("0xb61d27f6"),
		CallGasLimit:         big.NewInt(400000),
		VerificationGasLimit: big.NewInt(1000000),
		PreVerificationGas:   big.NewInt(800000),
		MaxFeePerGas:         big.NewInt(65_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
	}
}

func TestSignMessageIsEIP191(t *testing.T) {
	key := testutil.OwnerKey()
	msg := crypto.Keccak256([]byte("hello"))

	sig, err := SignMessage(key, msg)
	require.NoError(t, err)
	assert.True(t, sig[64] == 27 || sig[64] == 28)

	signer, err := RecoverSigner(common.BytesToHash(accounts.TextHash(msg)), sig)
	require.NoError(t, err)
	assert.Equal(t, testutil.OwnerAddress(), signer)
}

func TestRecoverSignerRejectsShortSignature(t *testing.T) {
	_, err := RecoverSigner(common.Hash{}, []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestKeyWalletSignsTypedUserOp(t *testing.T) {
	w := NewKeyWallet(testutil.OwnerKey(), monad)
	op := sampleOp()

	sig, err := w.SignTypedData(context.Background(), op.TypedData(entryPoint, monad))
	require.NoError(t, err)

	digest, err := op.TypedDataHash(entryPoint, monad)
	require.NoError(t, err)
	signer, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), signer)
}

func TestKeyWalletSignsMessageOverUserOpHash(t *testing.T) {
	w := NewKeyWallet(testutil.OwnerKey(), monad)
	hash := sampleOp().Hash(entryPoint, monad)

	sig, err := w.SignMessage(context.Background(), hash.Bytes())
	require.NoError(t, err)

	signer, err := RecoverSigner(userop.MessageDigest(hash), sig)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), signer)
}

func TestKeyWalletSendTransaction(t *testing.T) {
	chain := testutil.NewFakeChain(testutil.MonadTestnetChainID)
	w := NewKeyWallet(testutil.OwnerKey(), monad)
	chain.SetNonce(w.Address(), 7)
	to := common.HexToAddress("0x91e33a594da3e8e2ad3af5195611cf8cabe75353")

	hash, err := w.SendTransaction(context.Background(), chain, to, big.NewInt(1e17), []byte{0x3a, 0x4b, 0x66, 0xf1})
	require.NoError(t, err)

	sent := chain.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, hash, sent[0].Hash())
	assert.Equal(t, uint64(7), sent[0].Nonce())
	assert.Equal(t, to, *sent[0].To())

	from, err := types.Sender(types.LatestSignerForChainID(monad), sent[0])
	require.NoError(t, err)
	assert.Equal(t, w.Address(), from)
}

// fakeWallet is a JSON-RPC server that behaves like an injected wallet.
type fakeWallet struct {
	mu         sync.Mutex
	chainID    int64
	known      map[int64]bool
	rejectCode int
	methods    []string
}

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (f *fakeWallet) serve(t *testing.T) *httptest.Server {
	key := testutil.OwnerKey()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		f.mu.Lock()
		defer f.mu.Unlock()
		f.methods = append(f.methods, req.Method)

		reply := func(result interface{}) {
			body, _ := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
			_, _ = w.Write(body)
		}
		fail := func(code int, msg string) {
			body, _ := json.Marshal(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "error": map[string]interface{}{"code": code, "message": msg}})
			_, _ = w.Write(body)
		}

		if f.rejectCode != 0 && (req.Method == "eth_signTypedData_v4" || req.Method == "personal_sign") {
			fail(f.rejectCode, "User rejected the request.")
			return
		}

		switch req.Method {
		case "eth_requestAccounts":
			reply([]string{testutil.OwnerAddress().Hex()})
		case "eth_chainId":
			reply(fmt.Sprintf("0x%x", f.chainID))
		case "eth_signTypedData_v4":
			var raw string
			require.NoError(t, json.Unmarshal(req.Params[1], &raw))
			var typed apitypes.TypedData
			require.NoError(t, json.Unmarshal([]byte(raw), &typed))
			digest, _, err := apitypes.TypedDataAndHash(typed)
			require.NoError(t, err)
			sig, err := signDigest(key, common.BytesToHash(digest))
			require.NoError(t, err)
			reply(hexutil.Encode(sig))
		case "personal_sign":
			var msg hexutil.Bytes
			require.NoError(t, json.Unmarshal(req.Params[0], &msg))
			sig, err := SignMessage(key, msg)
			require.NoError(t, err)
			reply(hexutil.Encode(sig))
		case "wallet_switchEthereumChain":
			var params []map[string]string
			require.NoError(t, json.Unmarshal(req.Params[0], &params))
			id, _ := new(big.Int).SetString(params[0]["chainId"][2:], 16)
			if !f.known[id.Int64()] {
				fail(4902, "Unrecognized chain ID")
				return
			}
			f.chainID = id.Int64()
			reply(nil)
		case "wallet_addEthereumChain":
			var params []map[string]interface{}
			require.NoError(t, json.Unmarshal(req.Params[0], &params))
			id, _ := new(big.Int).SetString(params[0]["chainId"].(string)[2:], 16)
			f.known[id.Int64()] = true
			reply(nil)
		default:
			fail(-32601, "method not found")
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func dialWallet(t *testing.T, f *fakeWallet) *RPCWallet {
	t.Helper()
	client, err := rpc.DialContext(context.Background(), f.serve(t).URL)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	w, err := ConnectRPCWallet(context.Background(), client)
	require.NoError(t, err)
	return w
}

func TestRPCWalletTypedDataMatchesLocalDigest(t *testing.T) {
	w := dialWallet(t, &fakeWallet{chainID: 10143, known: map[int64]bool{10143: true}})
	assert.Equal(t, testutil.OwnerAddress(), w.Address())

	op := sampleOp()
	sig, err := w.SignTypedData(context.Background(), op.TypedData(entryPoint, monad))
	require.NoError(t, err)

	digest, err := op.TypedDataHash(entryPoint, monad)
	require.NoError(t, err)
	signer, err := RecoverSigner(digest, sig)
	require.NoError(t, err)
	assert.Equal(t, testutil.OwnerAddress(), signer)
}

func TestRPCWalletPersonalSign(t *testing.T) {
	w := dialWallet(t, &fakeWallet{chainID: 10143, known: map[int64]bool{10143: true}})
	hash := sampleOp().Hash(entryPoint, monad)

	sig, err := w.SignMessage(context.Background(), hash.Bytes())
	require.NoError(t, err)
	signer, err := RecoverSigner(userop.MessageDigest(hash), sig)
	require.NoError(t, err)
	assert.Equal(t, testutil.OwnerAddress(), signer)
}

func TestRPCWalletClassifiesRejection(t *testing.T) {
	w := dialWallet(t, &fakeWallet{chainID: 10143, known: map[int64]bool{}, rejectCode: 4001})

	_, err := w.SignTypedData(context.Background(), sampleOp().TypedData(entryPoint, monad))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeUserRejected, apperr.CodeOf(err))
}

func TestRPCWalletClassifiesUnsupported(t *testing.T) {
	w := dialWallet(t, &fakeWallet{chainID: 10143, known: map[int64]bool{}, rejectCode: 4200})

	_, err := w.SignTypedData(context.Background(), sampleOp().TypedData(entryPoint, monad))
	assert.Equal(t, apperr.CodeUnsupportedMethod, apperr.CodeOf(err))
}

func TestEnsureChainAddsUnknownChain(t *testing.T) {
	f := &fakeWallet{chainID: 1, known: map[int64]bool{1: true}}
	w := dialWallet(t, f)

	require.NoError(t, w.EnsureChain(context.Background(), config.MonadTestnet()))

	id, err := w.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(10143), id.Int64())
	assert.Contains(t, f.methods, "wallet_addEthereumChain")
}

func TestEnsureChainNoopWhenAlreadyThere(t *testing.T) {
	f := &fakeWallet{chainID: 10143, known: map[int64]bool{10143: true}}
	w := dialWallet(t, f)

	require.NoError(t, w.EnsureChain(context.Background(), config.MonadTestnet()))
	assert.NotContains(t, f.methods, "wallet_switchEthereumChain")
}
