package staking

import (
	"math/big"
	"time"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/chainio/aa"
	stakingabi "github.com/AvaProtocol/ap-staking/core/chainio/staking"
	"github.com/AvaProtocol/ap-staking/model"
)

func requirePositive(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return apperr.Validation(apperr.CodeAmountNotPositive, "amount must be greater than zero")
	}
	return nil
}

// validateStake only looks at the amount, never at the chain.
func (s *Service) validateStake(amount *big.Int) error {
	if err := requirePositive(amount); err != nil {
		return err
	}
	min := s.config.Staking.MinStake
	if min != nil && amount.Cmp(min) < 0 {
		return apperr.Validationf(apperr.CodeBelowMinimum, "amount is below the minimum stake of %s MON",
			FormatAmount(min, Decimals)).
			WithDetail("min_stake", min.String())
	}
	return nil
}

func validateUnstake(info *model.StakeInfo, amount *big.Int) error {
	if !info.HasStake() {
		return apperr.Validation(apperr.CodeNoStake, "there is nothing staked")
	}
	if !info.CanUnstake {
		err := apperr.Validation(apperr.CodeStillLocked, "stake is still locked")
		if end := info.LockEnd(); !end.IsZero() {
			err = apperr.Validationf(apperr.CodeStillLocked, "stake is locked until %s", end.UTC().Format(time.RFC3339)).
				WithDetail("lock_ends_at", end.UTC().Format(time.RFC3339))
		}
		return err
	}
	if amount.Cmp(info.StakedAmount) > 0 {
		return apperr.Validationf(apperr.CodeExceedsStake, "amount exceeds the staked %s MON",
			FormatAmount(info.StakedAmount, Decimals)).
			WithDetail("staked_amount", info.StakedAmount.String())
	}
	return nil
}

func (s *Service) stakeCall(amount *big.Int) (aa.Call, error) {
	data, err := stakingabi.PackStake()
	if err != nil {
		return aa.Call{}, err
	}
	return aa.Call{To: s.contract.Address(), Value: new(big.Int).Set(amount), Data: data}, nil
}

func (s *Service) unstakeCall(amount *big.Int) (aa.Call, error) {
	data, err := stakingabi.PackUnstake(amount)
	if err != nil {
		return aa.Call{}, err
	}
	return aa.Call{To: s.contract.Address(), Value: new(big.Int), Data: data}, nil
}

func (s *Service) claimCall() (aa.Call, error) {
	data, err := stakingabi.PackClaimRewards()
	if err != nil {
		return aa.Call{}, err
	}
	return aa.Call{To: s.contract.Address(), Value: new(big.Int), Data: data}, nil
}
