package bundler

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/AvaProtocol/ap-staking/core/apperr"
)

type GasEstimation struct {
	PreVerificationGas   *big.Int
	VerificationGasLimit *big.Int
	CallGasLimit         *big.Int

	// Only set when the op carries a paymaster.
	PaymasterVerificationGasLimit *big.Int
	PaymasterPostOpGasLimit       *big.Int
}

type gasEstimationJSON struct {
	PreVerificationGas            *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit          *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit                  *hexutil.Big `json:"callGasLimit"`
	PaymasterVerificationGasLimit *hexutil.Big `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       *hexutil.Big `json:"paymasterPostOpGasLimit"`
}

func (g gasEstimationJSON) toEstimation() (*GasEstimation, error) {
	if g.PreVerificationGas == nil || g.VerificationGasLimit == nil || g.CallGasLimit == nil {
		return nil, apperr.Bundler(apperr.CodeRejected, "bundler estimate is missing gas fields", nil)
	}
	return &GasEstimation{
		PreVerificationGas:            g.PreVerificationGas.ToInt(),
		VerificationGasLimit:          g.VerificationGasLimit.ToInt(),
		CallGasLimit:                  g.CallGasLimit.ToInt(),
		PaymasterVerificationGasLimit: optionalInt(g.PaymasterVerificationGasLimit),
		PaymasterPostOpGasLimit:       optionalInt(g.PaymasterPostOpGasLimit),
	}, nil
}

func optionalInt(v *hexutil.Big) *big.Int {
	if v == nil {
		return nil
	}
	return v.ToInt()
}

// WithMargin returns v * (100 + percent) / 100.
func WithMargin(v *big.Int, percent uint64) *big.Int {
	out := new(big.Int).Mul(v, new(big.Int).SetUint64(100+percent))
	return out.Div(out, big.NewInt(100))
}
