package testutil

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// CallHandler answers eth_call against one contract address.
type CallHandler func(msg ethereum.CallMsg) ([]byte, error)

// ErrNotFound mirrors ethereum.NotFound for receipts that never land.
var ErrNotFound = ethereum.NotFound

// FakeChain is an in-memory chainio.Client. Every method counts as one call
// so tests can assert that a code path made no network round trips.
type FakeChain struct {
	mu sync.Mutex

	chainID  *big.Int
	head     uint64
	gasPrice *big.Int
	tipCap   *big.Int

	balances  map[common.Address]*big.Int
	code      map[common.Address][]byte
	nonces    map[common.Address]uint64
	contracts map[common.Address]CallHandler
	receipts  map[common.Hash]*types.Receipt
	logs      []types.Log
	failures  map[string]error
	calls     map[string]int

	sent []*types.Transaction

	// AutoMine produces a successful receipt for every sent transaction.
	AutoMine bool
	// OnMined runs after AutoMine stores a receipt, with the lock released.
	OnMined func(tx *types.Transaction)
}

func NewFakeChain(chainID int64) *FakeChain {
	return &FakeChain{
		chainID:   big.NewInt(chainID),
		head:      1000,
		gasPrice:  big.NewInt(50_000_000_000),
		tipCap:    big.NewInt(1_000_000_000),
		balances:  map[common.Address]*big.Int{},
		code:      map[common.Address][]byte{},
		nonces:    map[common.Address]uint64{},
		contracts: map[common.Address]CallHandler{},
		receipts:  map[common.Hash]*types.Receipt{},
		failures:  map[string]error{},
		calls:     map[string]int{},
		AutoMine:  true,
	}
}

func (f *FakeChain) SetBalance(addr common.Address, wei *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[addr] = new(big.Int).Set(wei)
}

func (f *FakeChain) SetCode(addr common.Address, code []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if code == nil {
		delete(f.code, addr)
		return
	}
	f.code[addr] = code
}

func (f *FakeChain) SetNonce(addr common.Address, nonce uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonces[addr] = nonce
}

func (f *FakeChain) SetGasPrice(wei *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gasPrice = new(big.Int).Set(wei)
}

// Handle registers the eth_call handler for addr.
func (f *FakeChain) Handle(addr common.Address, h CallHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contracts[addr] = h
}

func (f *FakeChain) AddLog(l types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, l)
}

func (f *FakeChain) SetReceipt(hash common.Hash, r *types.Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = r
}

// FailOn makes method return err until cleared with a nil err.
func (f *FakeChain) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, method)
		return
	}
	f.failures[method] = err
}

// Calls returns how often method was called. An empty method sums all calls.
func (f *FakeChain) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if method != "" {
		return f.calls[method]
	}
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *FakeChain) Sent() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*types.Transaction, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *FakeChain) enter(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.failures[method]
}

func (f *FakeChain) ChainID(ctx context.Context) (*big.Int, error) {
	if err := f.enter("ChainID"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(f.chainID), nil
}

func (f *FakeChain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if err := f.enter("BalanceAt"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (f *FakeChain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if err := f.enter("CodeAt"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code[account], nil
}

func (f *FakeChain) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	if err := f.enter("NonceAt"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[account], nil
}

func (f *FakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if err := f.enter("PendingNonceAt"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[account], nil
}

func (f *FakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := f.enter("SuggestGasPrice"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *FakeChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	if err := f.enter("SuggestGasTipCap"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.tipCap), nil
}

func (f *FakeChain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := f.enter("EstimateGas"); err != nil {
		return 0, err
	}
	return 100_000, nil
}

func (f *FakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := f.enter("CallContract"); err != nil {
		return nil, err
	}
	if msg.To == nil {
		return nil, errors.New("fakechain: call without target")
	}
	f.mu.Lock()
	h, ok := f.contracts[*msg.To]
	f.mu.Unlock()
	if !ok {
		// calling an address without code returns empty data on a real node
		return []byte{}, nil
	}
	return h(msg)
}

func (f *FakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := f.enter("HeaderByNumber"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return &types.Header{Number: new(big.Int).SetUint64(f.head), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *FakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := f.enter("FilterLogs"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []types.Log
	for _, l := range f.logs {
		if len(q.Addresses) > 0 && !containsAddress(q.Addresses, l.Address) {
			continue
		}
		if !topicsMatch(q.Topics, l.Topics) {
			continue
		}
		if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (f *FakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := f.enter("SendTransaction"); err != nil {
		return err
	}

	signer := types.LatestSignerForChainID(f.chainID)
	from, err := types.Sender(signer, tx)
	if err != nil {
		return fmt.Errorf("fakechain: invalid signature: %w", err)
	}

	f.mu.Lock()
	f.sent = append(f.sent, tx)
	f.nonces[from] = tx.Nonce() + 1
	f.head++
	mined := f.AutoMine
	if mined {
		f.receipts[tx.Hash()] = &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			TxHash:      tx.Hash(),
			BlockNumber: new(big.Int).SetUint64(f.head),
			GasUsed:     21_000,
		}
	}
	hook := f.OnMined
	f.mu.Unlock()

	if mined && hook != nil {
		hook(tx)
	}
	return nil
}

func (f *FakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := f.enter("TransactionReceipt"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func containsAddress(list []common.Address, a common.Address) bool {
	for _, x := range list {
		if x == a {
			return true
		}
	}
	return false
}

func topicsMatch(filter [][]common.Hash, topics []common.Hash) bool {
	for i, alternatives := range filter {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		found := false
		for _, t := range alternatives {
			if t == topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
