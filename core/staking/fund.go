package staking

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/chainio"
	"github.com/AvaProtocol/ap-staking/model"
)

// FundResult is a top up of the smart account from its owner.
type FundResult struct {
	Account     common.Address    `json:"account"`
	TxHash      common.Hash       `json:"tx_hash"`
	State       model.IntentState `json:"state"`
	Pending     bool              `json:"pending"`
	ExplorerURL string            `json:"explorer_url,omitempty"`
	// Balance is read after the transfer is mined.
	Balance *big.Int `json:"balance,omitempty"`
}

// Fund sends amount of native token from the owner wallet to the smart
// account, so it can pay for value-bearing intents and their gas.
func (s *Service) Fund(ctx context.Context, sess *Session, amount *big.Int) (*FundResult, error) {
	if sess == nil || sess.Handle == nil || sess.Wallet == nil {
		return nil, apperr.Wallet(apperr.CodeWalletUnavailable, "no wallet connected", nil)
	}
	if err := requirePositive(amount); err != nil {
		return nil, err
	}
	if sess.Handle.Degraded() {
		return nil, apperr.Deployment(apperr.CodeDegradedMode, "degraded accounts are the owner wallet, there is nothing to fund", nil)
	}

	owner := sess.Wallet.Address()
	balance, err := s.client.BalanceAt(ctx, owner, nil)
	if err != nil {
		return nil, chainio.Wrap(err, "read owner balance")
	}
	if balance.Cmp(amount) < 0 {
		return nil, apperr.Validationf(apperr.CodeInsufficientFunds,
			"owner %s holds %s MON, cannot send %s MON", owner.Hex(), FormatAmount(balance, Decimals), FormatAmount(amount, Decimals)).
			WithDetail("balance", balance.String())
	}

	account := sess.Handle.Address
	txHash, err := sess.Wallet.SendTransaction(ctx, s.client, account, amount, nil)
	if err != nil {
		s.metrics.IncIntent("fund", string(model.StateFailed))
		return nil, apperr.Classify(err, apperr.KindWallet)
	}
	s.logger.Info("funding smart account", "account", account, "owner", owner, "amount", amount, "txHash", txHash)

	res := &FundResult{Account: account, TxHash: txHash, ExplorerURL: s.config.Chain.TxURL(txHash)}
	poll := chainio.PollPolicy{Interval: s.config.Poll.Interval, Attempts: s.config.Poll.Attempts}
	receipt, err := chainio.WaitMined(ctx, s.client, txHash, poll)
	switch {
	case err != nil:
		s.logger.Warn("could not follow funding transaction, leaving it pending", "txHash", txHash, "error", err)
		fallthrough
	case receipt == nil:
		res.State = model.StateTimedOut
		res.Pending = true
	case receipt.Status == types.ReceiptStatusSuccessful:
		res.State = model.StateConfirmed
	default:
		res.State = model.StateFailed
	}
	s.metrics.IncIntent("fund", string(res.State))

	if res.State == model.StateConfirmed {
		if bal, err := s.client.BalanceAt(ctx, account, nil); err == nil {
			res.Balance = bal
		} else {
			s.logger.Warn("could not read account balance after funding", "account", account, "error", err)
		}
	}
	return res, nil
}
