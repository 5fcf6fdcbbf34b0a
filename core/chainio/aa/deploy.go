package aa

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/chainio"
	"github.com/AvaProtocol/ap-staking/pkg/logger"
)

// TxSender sends a plain transaction from the owner EOA.
type TxSender interface {
	Address() common.Address
	SendTransaction(ctx context.Context, client chainio.Client, to common.Address, value *big.Int, data []byte) (common.Hash, error)
}

type DeployOutcome string

const (
	DeployedNow     DeployOutcome = "deployed"
	AlreadyDeployed DeployOutcome = "already_deployed"
	// Unverified means a transaction was sent but the account still has
	// no code when we stopped looking. It is not a success.
	Unverified DeployOutcome = "unverified"
)

type DeployResult struct {
	State    DeployOutcome
	TxHash   common.Hash
	Fallback bool
}

// Deploy deploys the account of handle explicitly. It calls the factory when
// the factory checks out; otherwise it sends one empty transaction to the
// account address, which deploys some implementations as a side effect. There
// is no further retry.
func Deploy(ctx context.Context, handle *SmartAccountHandle, sender TxSender, client chainio.Client, poll chainio.PollPolicy, log logger.Logger) (*DeployResult, error) {
	log = logger.EnsureLogger(log)

	if handle.Degraded() {
		return nil, degradedError()
	}
	if sender.Address() != handle.Owner {
		return nil, apperr.Wallet(apperr.CodeOwnerMismatch,
			fmt.Sprintf("wallet %s does not own account %s", sender.Address().Hex(), handle.Address.Hex()), nil)
	}
	if handle.IsDeployed(ctx, client) {
		return &DeployResult{State: AlreadyDeployed}, nil
	}

	result := &DeployResult{}
	target, data, verr := validateFactory(ctx, handle, client)
	if verr != nil {
		log.Warn("factory validation failed, sending empty transaction to account instead",
			"account", handle.Address, "factory", handle.Factory, "error", verr)
		target, data = handle.Address, []byte{}
		result.Fallback = true
	}

	txHash, err := sender.SendTransaction(ctx, client, target, new(big.Int), data)
	if err != nil {
		return nil, deploySendError(err, verr)
	}
	result.TxHash = txHash
	log.Info("deployment transaction sent", "account", handle.Address, "tx", txHash, "fallback", result.Fallback)

	receipt, err := chainio.WaitMined(ctx, client, txHash, poll)
	if err != nil {
		// the transaction is out; report what we know instead of dropping the hash
		log.Warn("could not read deployment receipt", "tx", txHash, "error", err)
	}
	if receipt != nil && receipt.Status != types.ReceiptStatusSuccessful {
		return nil, apperr.Deployment(apperr.CodeDeploymentFailed, "deployment transaction reverted", nil).
			WithDetail("tx_hash", txHash.Hex())
	}

	if handle.IsDeployed(ctx, client) {
		result.State = DeployedNow
		return result, nil
	}

	log.Warn("deployment could not be verified", "account", handle.Address, "tx", txHash, "mined", receipt != nil)
	result.State = Unverified
	return result, nil
}

// validateFactory returns the factory call when the factory looks usable.
func validateFactory(ctx context.Context, handle *SmartAccountHandle, client chainio.Client) (common.Address, []byte, error) {
	if handle.Factory == (common.Address{}) {
		return common.Address{}, nil, fmt.Errorf("factory address is empty")
	}
	if !common.IsHexAddress(handle.Factory.Hex()) {
		return common.Address{}, nil, fmt.Errorf("factory address %q is malformed", handle.Factory.Hex())
	}

	data, err := handle.Implementation.FactoryData(handle.Owner, handle.Salt)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("encode factory data: %w", err)
	}
	if len(data) == 0 {
		return common.Address{}, nil, fmt.Errorf("factory data is empty")
	}

	code, err := client.CodeAt(ctx, handle.Factory, nil)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("read factory bytecode: %w", err)
	}
	if len(code) == 0 {
		return common.Address{}, nil, fmt.Errorf("factory %s has no bytecode", handle.Factory.Hex())
	}
	return handle.Factory, data, nil
}

func deploySendError(err error, validationErr error) error {
	e := apperr.Classify(err, apperr.KindDeployment)
	switch e.Kind {
	case apperr.KindWallet, apperr.KindNetwork:
		return e
	}
	if validationErr != nil {
		return apperr.Deployment(apperr.CodeDeploymentFailed,
			fmt.Sprintf("factory invalid (%v) and fallback transaction failed", validationErr), err)
	}
	return apperr.Deployment(apperr.CodeDeploymentFailed, "deployment transaction failed", err)
}
