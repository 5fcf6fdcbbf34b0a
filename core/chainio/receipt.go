package chainio

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PollPolicy bounds how long we wait for something to land on chain.
type PollPolicy struct {
	Interval time.Duration
	Attempts int
}

// DefaultPollPolicy waits up to ~20 seconds.
var DefaultPollPolicy = PollPolicy{Interval: 2 * time.Second, Attempts: 10}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WaitMined polls for the receipt of txHash. It returns a nil receipt and a
// nil error when the attempts run out; the transaction may still be mined.
func WaitMined(ctx context.Context, client Client, txHash common.Hash, policy PollPolicy) (*types.Receipt, error) {
	attempts := policy.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		receipt, err := client.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, Wrap(err, "read transaction receipt")
		}
		if i == attempts-1 {
			break
		}
		if err := Sleep(ctx, policy.Interval); err != nil {
			return nil, Wrap(err, "wait for receipt")
		}
	}
	return nil, nil
}
