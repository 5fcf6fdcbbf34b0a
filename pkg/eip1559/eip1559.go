package eip1559

import (
	"context"
	"math/big"
)

const (
	MinMultiplierPercent     = 120
	MaxMultiplierPercent     = 150
	DefaultMultiplierPercent = 130
)

// DefaultPriorityFee is 1 gwei.
var DefaultPriorityFee = big.NewInt(1_000_000_000)

// GasPricer is the slice of the chain client the policy reads.
type GasPricer interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Policy derives UserOp fee caps from the node's gas price. Monad testnet
// prices near the base fee, so a fixed multiplier leaves enough headroom
// between estimation and inclusion.
type Policy struct {
	MultiplierPercent uint64
	PriorityFee       *big.Int
}

func NewPolicy(multiplierPercent uint64, priorityFee *big.Int) Policy {
	return Policy{MultiplierPercent: multiplierPercent, PriorityFee: priorityFee}
}

func (p Policy) multiplier() int64 {
	m := int64(p.MultiplierPercent)
	if m == 0 {
		return DefaultMultiplierPercent
	}
	if m < MinMultiplierPercent {
		return MinMultiplierPercent
	}
	if m > MaxMultiplierPercent {
		return MaxMultiplierPercent
	}
	return m
}

// Apply returns gasPrice * multiplier / 100 and the priority fee capped at
// that value.
func (p Policy) Apply(gasPrice *big.Int) (*big.Int, *big.Int) {
	maxFee := new(big.Int).Mul(gasPrice, big.NewInt(p.multiplier()))
	maxFee.Div(maxFee, big.NewInt(100))

	priority := p.PriorityFee
	if priority == nil {
		priority = DefaultPriorityFee
	}
	if priority.Cmp(maxFee) > 0 {
		priority = maxFee
	}
	return maxFee, new(big.Int).Set(priority)
}

// SuggestFee returns maxFeePerGas and maxPriorityFeePerGas.
func (p Policy) SuggestFee(ctx context.Context, client GasPricer) (*big.Int, *big.Int, error) {
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, nil, err
	}
	maxFee, priority := p.Apply(gasPrice)
	return maxFee, priority, nil
}
