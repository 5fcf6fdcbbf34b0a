// Package chainio is the read side of the chain plus plain transaction
// submission. Everything above it talks to the Client interface so tests can
// swap in an in-memory chain.
package chainio

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/config"
	"github.com/AvaProtocol/ap-staking/pkg/logger"
)

// Client is the subset of ethclient the staking pipeline relies on.
type Client interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Client = (*ethclient.Client)(nil)

// Connection is a dialed endpoint. RPC exposes the raw client for calls
// ethclient does not wrap.
type Connection struct {
	*ethclient.Client
	RPC *rpc.Client
	URL string
}

// Dial connects to the first reachable RPC endpoint of chain and checks that
// it serves the expected chain id.
func Dial(ctx context.Context, chain config.ChainDescriptor, httpClient *http.Client, log logger.Logger) (*Connection, error) {
	log = logger.EnsureLogger(log)
	urls := chain.RPCURLs()
	if len(urls) == 0 {
		return nil, apperr.Network(apperr.CodeUnreachable, "no rpc url configured", nil)
	}

	var errs []error
	for _, url := range urls {
		conn, err := dialOne(ctx, url, httpClient)
		if err != nil {
			log.Warn("rpc endpoint unavailable", "url", url, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}

		chainID, err := conn.ChainID(ctx)
		if err != nil {
			conn.Close()
			log.Warn("rpc endpoint did not answer eth_chainId", "url", url, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}
		if chainID.Cmp(chain.ChainID()) != 0 {
			conn.Close()
			return nil, apperr.Network(apperr.CodeChainMismatch,
				fmt.Sprintf("%s serves chain %s, expected %s", url, chainID, chain.ChainID()), nil)
		}

		log.Info("connected to rpc", "url", url, "chain_id", chainID)
		return conn, nil
	}

	return nil, apperr.Network(apperr.CodeUnreachable, "no rpc endpoint reachable", errors.Join(errs...))
}

func dialOne(ctx context.Context, url string, httpClient *http.Client) (*Connection, error) {
	opts := []rpc.ClientOption{}
	if httpClient != nil {
		opts = append(opts, rpc.WithHTTPClient(httpClient))
	}
	rc, err := rpc.DialOptions(ctx, url, opts...)
	if err != nil {
		return nil, err
	}
	return &Connection{Client: ethclient.NewClient(rc), RPC: rc, URL: url}, nil
}

// Wrap classifies a chain call failure as a network error with context.
func Wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	e := apperr.Classify(err, apperr.KindNetwork)
	return fmt.Errorf("%s: %w", op, e)
}
