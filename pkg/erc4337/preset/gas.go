package preset

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ap-staking/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ap-staking/pkg/erc4337/userop"
)

type GasSource string

const (
	GasFromBundler  GasSource = "bundler"
	GasFromFallback GasSource = "fallback"
)

// GasLimits are the three gas fields of an operation.
type GasLimits struct {
	CallGasLimit         uint64
	VerificationGasLimit uint64
	PreVerificationGas   uint64
}

// DefaultFallbackGas is used as is when the bundler cannot estimate.
var DefaultFallbackGas = GasLimits{
	CallGasLimit:         400000,
	VerificationGasLimit: 1000000,
	PreVerificationGas:   800000,
}

const DefaultGasMarginPercent = 30

type GasEstimator interface {
	EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation, entrypoint common.Address) (*bundler.GasEstimation, error)
}

// GasStrategy fills the gas fields from a bundler estimate plus margin, or
// from the fallback constants. The margin only applies to estimates.
type GasStrategy struct {
	Fallback      GasLimits
	MarginPercent uint64
}

// estimate runs against a copy of op carrying dummySig, so the caller's op
// only ever receives gas values.
func (g GasStrategy) estimate(ctx context.Context, est GasEstimator, op *userop.UserOperation, entryPoint common.Address, dummySig []byte) (GasSource, error) {
	sized := op.Clone()
	sized.Signature = dummySig

	res, err := est.EstimateUserOperationGas(ctx, sized, entryPoint)
	if err != nil {
		g.applyFallback(op)
		return GasFromFallback, err
	}

	op.CallGasLimit = bundler.WithMargin(res.CallGasLimit, g.MarginPercent)
	op.VerificationGasLimit = bundler.WithMargin(res.VerificationGasLimit, g.MarginPercent)
	op.PreVerificationGas = bundler.WithMargin(res.PreVerificationGas, g.MarginPercent)
	return GasFromBundler, nil
}

func (g GasStrategy) applyFallback(op *userop.UserOperation) {
	limits := g.Fallback
	if limits == (GasLimits{}) {
		limits = DefaultFallbackGas
	}
	op.CallGasLimit = new(big.Int).SetUint64(limits.CallGasLimit)
	op.VerificationGasLimit = new(big.Int).SetUint64(limits.VerificationGasLimit)
	op.PreVerificationGas = new(big.Int).SetUint64(limits.PreVerificationGas)
}
