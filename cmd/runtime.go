package cmd

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/chainio"
	"github.com/AvaProtocol/ap-staking/core/chainio/aa"
	"github.com/AvaProtocol/ap-staking/core/chainio/signer"
	stakingabi "github.com/AvaProtocol/ap-staking/core/chainio/staking"
	"github.com/AvaProtocol/ap-staking/core/config"
	"github.com/AvaProtocol/ap-staking/core/staking"
	"github.com/AvaProtocol/ap-staking/metrics"
	"github.com/AvaProtocol/ap-staking/pkg/erc4337/bundler"
	"github.com/AvaProtocol/ap-staking/pkg/erc4337/preset"
	"github.com/AvaProtocol/ap-staking/pkg/graphql"
	"github.com/AvaProtocol/ap-staking/pkg/logger"
	"github.com/AvaProtocol/ap-staking/storage"
)

// runtime is everything a command needs, wired once from the config.
type runtime struct {
	cfg    *config.Config
	logger logger.Logger

	httpClient *http.Client
	conn       *chainio.Connection
	db         storage.Storage

	registry *prometheus.Registry
	metrics  *metrics.StakingMetrics

	resolver *aa.Resolver
	builder  *preset.Builder
	service  *staking.Service
}

func newRuntime(ctx context.Context, path string) (*runtime, error) {
	cfg, err := config.NewConfig(path)
	if err != nil {
		return nil, err
	}
	rt := &runtime{cfg: cfg, logger: cfg.Logger}

	rt.registry = prometheus.NewRegistry()
	rt.metrics = metrics.NewStakingMetrics(rt.registry)

	rt.httpClient = chainio.NewHTTPClient(chainio.RetryPolicy{
		Attempts: cfg.Transport.Attempts,
		Backoff:  cfg.Transport.Backoff,
		Timeout:  cfg.Transport.Timeout,
	}, rt.logger)

	rt.conn, err = chainio.Dial(ctx, cfg.Chain, rt.httpClient, rt.logger)
	if err != nil {
		return nil, err
	}

	rt.db, err = openJournalDB(ctx, cfg, rt.logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.resolver, err = aa.NewResolver(rt.conn, aa.NewSimpleAccount(), cfg.Factory, cfg.AccountSalt, rt.logger)
	if err != nil {
		rt.Close()
		return nil, err
	}

	bc := bundler.NewBundlerClient(cfg.BundlerURL, rt.httpClient,
		bundler.WithAPIKey(cfg.BundlerAPIKey),
		bundler.WithLogger(rt.logger),
		bundler.WithMetrics(rt.metrics),
	)
	opts := preset.OptionsFromConfig(cfg, rt.conn, bc)
	opts.Metrics = rt.metrics
	rt.builder = preset.NewBuilder(opts)

	idem, err := staking.NewIdempotencyStore(cfg.IdempotencyWindow)
	if err != nil {
		rt.Close()
		return nil, err
	}

	var history *graphql.Client
	if cfg.HistoryURL != "" {
		history = graphql.NewClient(cfg.HistoryURL, rt.httpClient, graphql.WithLog(func(s string) {
			rt.logger.Debug("history query", "detail", s)
		}))
	}

	rt.service = staking.NewService(staking.Deps{
		Config:      cfg,
		Client:      rt.conn,
		Contract:    stakingabi.NewContract(cfg.StakingContract, rt.conn),
		Resolver:    rt.resolver,
		Builder:     rt.builder,
		History:     history,
		Idempotency: idem,
		Journal:     staking.NewJournal(rt.db, rt.logger),
		Logger:      rt.logger,
		Metrics:     rt.metrics,
	})
	return rt, nil
}

// wallet returns the signer for this process: the configured key, or the
// wallet behind wallet_rpc_url switched to the configured chain.
func (rt *runtime) wallet(ctx context.Context) (signer.Wallet, error) {
	if rt.cfg.OwnerPrivateKey != nil {
		return signer.NewKeyWallet(rt.cfg.OwnerPrivateKey, rt.cfg.Chain.ChainID()), nil
	}
	if rt.cfg.WalletRPCURL == "" {
		return nil, apperr.Wallet(apperr.CodeWalletUnavailable,
			"no wallet: set owner_private_key or wallet_rpc_url", nil)
	}
	client, err := rpc.DialOptions(ctx, rt.cfg.WalletRPCURL, rpc.WithHTTPClient(rt.httpClient))
	if err != nil {
		return nil, apperr.Classify(err, apperr.KindWallet)
	}
	w, err := signer.ConnectRPCWallet(ctx, client)
	if err != nil {
		return nil, err
	}
	if err := w.EnsureChain(ctx, rt.cfg.Chain); err != nil {
		return nil, err
	}
	return w, nil
}

func (rt *runtime) session(ctx context.Context) (*staking.Session, error) {
	w, err := rt.wallet(ctx)
	if err != nil {
		return nil, err
	}
	return rt.service.Connect(ctx, w)
}

func (rt *runtime) Close() {
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			rt.logger.Warn("failed to close journal", "error", err)
		}
	}
	if rt.conn != nil {
		rt.conn.Close()
	}
}

func withRuntime(ctx context.Context, fn func(rt *runtime) error) error {
	rt, err := newRuntime(ctx, configPath)
	if err != nil {
		return fmt.Errorf("startup failed: %w", err)
	}
	defer rt.Close()
	return fn(rt)
}
