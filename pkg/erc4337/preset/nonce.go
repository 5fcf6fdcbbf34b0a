package preset

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ap-staking/core/chainio"
	"github.com/AvaProtocol/ap-staking/core/chainio/aa"
	"github.com/AvaProtocol/ap-staking/metrics"
	"github.com/AvaProtocol/ap-staking/pkg/logger"
)

type NonceSource string

// defaultNonceKey selects the entry point's default sequence.
var defaultNonceKey = big.NewInt(0)

const (
	NonceFromEntryPoint NonceSource = "entrypoint"
	// NonceFromTxCount is an approximation: eth_getTransactionCount of the
	// account equals the entry point sequence only while neither has moved,
	// e.g. for the very first operation of a fresh account.
	NonceFromTxCount NonceSource = "tx_count"
)

// NonceManager remembers the next nonce per sender for operations we have
// submitted but the chain has not mined yet.
type NonceManager struct {
	pending map[common.Address]*big.Int
	mu      sync.Mutex
}

func NewNonceManager() *NonceManager {
	return &NonceManager{pending: make(map[common.Address]*big.Int)}
}

// Next returns max(onChain, cached).
func (nm *NonceManager) Next(sender common.Address, onChain *big.Int) *big.Int {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	cached, ok := nm.pending[sender]
	if !ok || onChain.Cmp(cached) >= 0 {
		return new(big.Int).Set(onChain)
	}
	return new(big.Int).Set(cached)
}

// Submitted records that used was accepted by the bundler.
func (nm *NonceManager) Submitted(sender common.Address, used *big.Int) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.pending[sender] = new(big.Int).Add(used, big.NewInt(1))
}

// Reset forgets sender, e.g. after the bundler reported a nonce conflict.
func (nm *NonceManager) Reset(sender common.Address) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	delete(nm.pending, sender)
}

// NonceStrategy reads the entry point sequence (key 0) and falls back to
// the account's transaction count when the entry point cannot be read.
type NonceStrategy struct {
	entryPoint *aa.EntryPoint
	client     chainio.Client
	manager    *NonceManager
	logger     logger.Logger
	metrics    metrics.MetricsGenerator
}

func NewNonceStrategy(entryPoint *aa.EntryPoint, client chainio.Client, manager *NonceManager, log logger.Logger, m metrics.MetricsGenerator) *NonceStrategy {
	if manager == nil {
		manager = NewNonceManager()
	}
	return &NonceStrategy{
		entryPoint: entryPoint,
		client:     client,
		manager:    manager,
		logger:     logger.EnsureLogger(log),
		metrics:    metrics.Ensure(m),
	}
}

func (s *NonceStrategy) Manager() *NonceManager {
	return s.manager
}

func (s *NonceStrategy) Next(ctx context.Context, sender common.Address) (*big.Int, NonceSource, error) {
	onChain, err := s.entryPoint.GetNonce(ctx, sender, defaultNonceKey)
	if err == nil {
		return s.manager.Next(sender, onChain), NonceFromEntryPoint, nil
	}

	s.logger.Warn("entry point nonce unavailable, using transaction count as an approximation",
		"sender", sender, "entrypoint", s.entryPoint.Address(), "error", err)
	s.metrics.IncFallback("nonce")

	count, txErr := s.client.NonceAt(ctx, sender, nil)
	if txErr != nil {
		return nil, "", chainio.Wrap(txErr, "read transaction count")
	}
	return s.manager.Next(sender, new(big.Int).SetUint64(count)), NonceFromTxCount, nil
}
