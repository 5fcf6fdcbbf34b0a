// Package bundler speaks the ERC-4337 bundler JSON-RPC namespace. Every call
// goes out exactly once from here; the shared transport underneath decides on
// connection-level retries.
package bundler

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/chainio"
	"github.com/AvaProtocol/ap-staking/metrics"
	"github.com/AvaProtocol/ap-staking/pkg/erc4337/userop"
	"github.com/AvaProtocol/ap-staking/pkg/logger"
)

const jsonrpcVersion = "2.0"

// BundlerClient is a client for an ERC-4337 bundler endpoint.
type BundlerClient struct {
	url     string
	resty   *resty.Client
	logger  logger.Logger
	metrics metrics.MetricsGenerator
	id      atomic.Int64

	// sleep is swapped in tests to make polling instant.
	sleep func(ctx context.Context, d time.Duration) error
}

type Option func(*BundlerClient)

// WithAPIKey sends key as the apikey query parameter, which is how Pimlico
// and most hosted bundlers authenticate.
func WithAPIKey(key string) Option {
	return func(c *BundlerClient) {
		if key != "" {
			c.resty.SetQueryParam("apikey", key)
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *BundlerClient) {
		c.logger = logger.EnsureLogger(l)
	}
}

func WithMetrics(m metrics.MetricsGenerator) Option {
	return func(c *BundlerClient) {
		c.metrics = metrics.Ensure(m)
	}
}

// NewBundlerClient builds a client on top of httpClient, which should be the
// process-wide retrying client from chainio.NewHTTPClient.
func NewBundlerClient(url string, httpClient *http.Client, opts ...Option) *BundlerClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	c := &BundlerClient{
		url:     url,
		resty:   resty.NewWithClient(httpClient).SetHeader("Content-Type", "application/json"),
		logger:  logger.NewNoOpLogger(),
		metrics: metrics.NoopMetrics{},
		sleep:   chainio.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int64         `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage        `json:"result"`
	Error  map[string]interface{} `json:"error"`
}

// call performs one JSON-RPC request. out may be nil.
func (c *BundlerClient) call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	req := rpcRequest{JSONRPC: jsonrpcVersion, ID: c.id.Add(1), Method: method, Params: params}

	resp, err := c.resty.R().SetContext(ctx).SetBody(req).Post(c.url)
	if err != nil {
		c.metrics.IncBundlerCall(method, "unreachable")
		return fmt.Errorf("%s: %w", method, apperr.Classify(err, apperr.KindNetwork))
	}

	var body rpcResponse
	if jsonErr := json.Unmarshal(resp.Body(), &body); jsonErr != nil {
		c.metrics.IncBundlerCall(method, "bad_response")
		if resp.IsError() {
			return apperr.Network(apperr.CodeUnreachable,
				fmt.Sprintf("bundler returned %s for %s", resp.Status(), method), nil)
		}
		return apperr.Network(apperr.CodeRPCFailure, "bundler returned a malformed response", jsonErr).
			WithDetail("method", method)
	}

	if body.Error != nil {
		c.metrics.IncBundlerCall(method, "rejected")
		rpcErr, decodeErr := decodeRPCError(body.Error)
		if decodeErr != nil {
			return apperr.Bundler(apperr.CodeRejected, "bundler returned an unreadable error", decodeErr)
		}
		c.logger.Debug("bundler rejected call", "method", method, "code", rpcErr.Code, "message", rpcErr.Message)
		return rpcErr.Classify(method)
	}
	if resp.IsError() {
		c.metrics.IncBundlerCall(method, "http_error")
		return apperr.Network(apperr.CodeUnreachable,
			fmt.Sprintf("bundler returned %s for %s", resp.Status(), method), nil)
	}

	c.metrics.IncBundlerCall(method, "ok")
	if out == nil || len(body.Result) == 0 || string(body.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(body.Result, out); err != nil {
		return apperr.Network(apperr.CodeRPCFailure, "decode "+method+" result", err)
	}
	return nil
}

// ChainID returns the chain the bundler serves.
func (c *BundlerClient) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := c.call(ctx, &id, "eth_chainId"); err != nil {
		return nil, err
	}
	return (*big.Int)(&id), nil
}

func (c *BundlerClient) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var out []common.Address
	if err := c.call(ctx, &out, "eth_supportedEntryPoints"); err != nil {
		return nil, err
	}
	return out, nil
}

// EstimateUserOperationGas asks the bundler to simulate op. The signature
// only needs the right shape; a dummy works.
// https://eips.ethereum.org/EIPS/eip-4337#-eth_estimateuseroperationgas
func (c *BundlerClient) EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation, entrypoint common.Address) (*GasEstimation, error) {
	var raw gasEstimationJSON
	if err := c.call(ctx, &raw, "eth_estimateUserOperationGas", op, entrypoint); err != nil {
		return nil, err
	}
	return raw.toEstimation()
}

// SendUserOperation hands op to the bundler's mempool and returns the
// userOpHash it reports. It is never resent from here.
func (c *BundlerClient) SendUserOperation(ctx context.Context, op *userop.UserOperation, entrypoint common.Address) (common.Hash, error) {
	var hash common.Hash
	if err := c.call(ctx, &hash, "eth_sendUserOperation", op, entrypoint); err != nil {
		return common.Hash{}, err
	}
	if hash == (common.Hash{}) {
		return common.Hash{}, apperr.Bundler(apperr.CodeRejected, "bundler accepted the operation but returned no hash", nil)
	}
	return hash, nil
}

// GetUserOperationReceipt returns nil without error while the op is pending.
func (c *BundlerClient) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*UserOpReceipt, error) {
	var receipt *UserOpReceipt
	if err := c.call(ctx, &receipt, "eth_getUserOperationReceipt", hash); err != nil {
		return nil, err
	}
	return receipt, nil
}
