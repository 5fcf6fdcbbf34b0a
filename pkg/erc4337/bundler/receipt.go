package bundler

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/chainio"
)

// UserOpReceipt is the result of eth_getUserOperationReceipt.
type UserOpReceipt struct {
	UserOpHash    common.Hash    `json:"userOpHash"`
	EntryPoint    common.Address `json:"entryPoint"`
	Sender        common.Address `json:"sender"`
	Nonce         *hexutil.Big   `json:"nonce"`
	Paymaster     common.Address `json:"paymaster"`
	ActualGasCost *hexutil.Big   `json:"actualGasCost"`
	ActualGasUsed *hexutil.Big   `json:"actualGasUsed"`
	Success       bool           `json:"success"`
	Reason        string         `json:"reason"`
	Receipt       *TxReceipt     `json:"receipt"`
}

// TxReceipt carries the parts of the bundle transaction receipt we use.
// types.Receipt is not used because bundlers differ in which of its required
// fields they fill.
type TxReceipt struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	BlockHash       common.Hash    `json:"blockHash"`
	BlockNumber     *hexutil.Big   `json:"blockNumber"`
	Status          hexutil.Uint64 `json:"status"`
	GasUsed         *hexutil.Big   `json:"gasUsed"`
}

// TxHash is the hash of the transaction that included the op.
func (r *UserOpReceipt) TxHash() common.Hash {
	if r == nil || r.Receipt == nil {
		return common.Hash{}
	}
	return r.Receipt.TransactionHash
}

// WaitForReceipt polls for the receipt of hash. When the attempts run out it
// returns pending=true and no error: the op may still land, and the caller
// reports it as such instead of resubmitting.
func (c *BundlerClient) WaitForReceipt(ctx context.Context, hash common.Hash, policy chainio.PollPolicy) (*UserOpReceipt, bool, error) {
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	started := time.Now()

	for i := 0; i < attempts; i++ {
		receipt, err := c.GetUserOperationReceipt(ctx, hash)
		switch {
		case err != nil && !apperr.IsKind(err, apperr.KindNetwork):
			return nil, false, err
		case err != nil:
			c.logger.Warn("receipt lookup failed, polling again", "userOpHash", hash, "attempt", i+1, "error", err)
		case receipt != nil:
			outcome := "confirmed"
			if !receipt.Success {
				outcome = "failed"
			}
			c.metrics.ObserveReceiptWait(outcome, time.Since(started))
			return receipt, false, nil
		}

		if i == attempts-1 {
			break
		}
		if err := c.sleep(ctx, policy.Interval); err != nil {
			return nil, true, chainio.Wrap(err, "wait for userop receipt")
		}
	}

	c.metrics.ObserveReceiptWait("pending", time.Since(started))
	c.logger.Info("userop still pending after polling", "userOpHash", hash, "attempts", attempts)
	return nil, true, nil
}
