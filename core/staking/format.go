package staking

import (
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/model"
)

// Decimals of MON.
const Decimals int32 = 18

// StakeInfoView is a StakeInfo with amounts in whole tokens.
type StakeInfoView struct {
	User           string `json:"user"`
	StakedAmount   string `json:"staked_amount"`
	PendingRewards string `json:"pending_rewards"`
	// LockEndsAt is RFC3339 in UTC, empty when there is no lock.
	LockEndsAt  string `json:"lock_ends_at"`
	CanUnstake  bool   `json:"can_unstake"`
	BlockNumber uint64 `json:"block_number,omitempty"`
}

func FormatStakeInfo(info *model.StakeInfo, decimals int32) StakeInfoView {
	v := StakeInfoView{
		User:           info.User.Hex(),
		StakedAmount:   FormatAmount(info.StakedAmount, decimals),
		PendingRewards: FormatAmount(info.PendingRewards, decimals),
		CanUnstake:     info.CanUnstake,
		BlockNumber:    info.BlockNumber,
	}
	if end := info.LockEnd(); !end.IsZero() {
		v.LockEndsAt = end.UTC().Format(time.RFC3339)
	}
	return v
}

// FormatAmount renders base units as a decimal string without trailing zeros.
func FormatAmount(wei *big.Int, decimals int32) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -decimals).String()
}

// ParseAmount converts a human amount like "1.5" into base units. Amounts
// with more precision than decimals are rejected rather than rounded.
func ParseAmount(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, apperr.Validationf(apperr.CodeInvalidInput, "%q is not a number", amount)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, apperr.Validationf(apperr.CodeInvalidInput, "%s has more than %d decimal places", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// CalculateAPY annualises rewards earned on staked over days, in percent.
// It is zero when nothing is staked or no time has passed.
func CalculateAPY(staked, rewards *big.Int, days float64) decimal.Decimal {
	if staked == nil || staked.Sign() == 0 || days <= 0 {
		return decimal.Zero
	}
	ratio := decimal.NewFromBigInt(rewards, 0).Div(decimal.NewFromBigInt(staked, 0))
	return ratio.Mul(decimal.NewFromInt(365)).Div(decimal.NewFromFloat(days)).Mul(decimal.NewFromInt(100))
}
