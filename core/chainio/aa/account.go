package aa

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/chainio"
	"github.com/AvaProtocol/ap-staking/model"
)

// Mode tells whether a handle is backed by a real smart account.
type Mode string

const (
	ModeSmartAccount Mode = "smart_account"
	// ModeDegradedEOA stands the owner EOA in for the account when the
	// implementation is not available on this chain.
	ModeDegradedEOA Mode = "degraded_eoa"
)

// DeployState is the tri-state deployment fact of a handle.
type DeployState int

const (
	DeployUnknown DeployState = iota
	DeployNotDeployed
	DeployDeployed
)

func (s DeployState) String() string {
	switch s {
	case DeployNotDeployed:
		return "not_deployed"
	case DeployDeployed:
		return "deployed"
	default:
		return "unknown"
	}
}

// SmartAccountHandle is one derived account identity. It is owned by the
// session that resolved it and is never persisted.
type SmartAccountHandle struct {
	Address        common.Address
	Owner          common.Address
	Factory        common.Address
	Salt           *big.Int
	Mode           Mode
	Implementation Implementation

	mu       sync.Mutex
	deployed DeployState
}

func (h *SmartAccountHandle) Degraded() bool {
	return h.Mode == ModeDegradedEOA
}

// DeployState is the result of the last IsDeployed check.
func (h *SmartAccountHandle) DeployState() DeployState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.deployed
}

// IsDeployed reads the bytecode at the account address. It always goes to the
// chain because deployment happens out of band with the first operation. A
// read failure is reported as not deployed.
func (h *SmartAccountHandle) IsDeployed(ctx context.Context, client chainio.Client) bool {
	code, err := client.CodeAt(ctx, h.Address, nil)

	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.deployed = DeployUnknown
		return false
	}
	if len(code) == 0 {
		h.deployed = DeployNotDeployed
		return false
	}
	h.deployed = DeployDeployed
	return true
}

// DeploymentCallData returns the factory and its calldata while the account is
// undeployed, or a nil factory once it has code.
func (h *SmartAccountHandle) DeploymentCallData(ctx context.Context, client chainio.Client) (*common.Address, []byte, error) {
	if h.Degraded() {
		return nil, nil, degradedError()
	}
	if h.IsDeployed(ctx, client) {
		return nil, nil, nil
	}
	data, err := h.Implementation.FactoryData(h.Owner, h.Salt)
	if err != nil {
		return nil, nil, err
	}
	factory := h.Factory
	return &factory, data, nil
}

// InitCode is factory||factoryData regardless of deployment state.
func (h *SmartAccountHandle) InitCode() ([]byte, error) {
	if h.Degraded() {
		return nil, degradedError()
	}
	data, err := h.Implementation.FactoryData(h.Owner, h.Salt)
	if err != nil {
		return nil, err
	}
	return append(h.Factory.Bytes(), data...), nil
}

// ToModel is the serialisable view; explorer is the address link, if any.
func (h *SmartAccountHandle) ToModel(explorer string) *model.SmartWallet {
	w := &model.SmartWallet{
		Owner:    h.Owner,
		Address:  h.Address,
		Salt:     h.Salt,
		Mode:     string(h.Mode),
		Explorer: explorer,
	}
	if !h.Degraded() {
		f := h.Factory
		w.Factory = &f
	}
	switch h.DeployState() {
	case DeployDeployed:
		v := true
		w.Deployed = &v
	case DeployNotDeployed:
		v := false
		w.Deployed = &v
	}
	return w
}

func degradedError() error {
	return apperr.Deployment(apperr.CodeDegradedMode,
		"smart account implementation is not available on this chain; the owner wallet acts directly", nil)
}
