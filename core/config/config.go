package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	sdkutils "github.com/Layr-Labs/eigensdk-go/utils"
)

const (
	// EntryPointV07 is the canonical ERC-4337 v0.7 entry point, deployed at the
	// same address on every chain.
	EntryPointV07 = "0x0000000071727De22E5E9d8BAf0edAc6f37da032"
	// SimpleAccountFactoryV07 is the eth-infinitism SimpleAccountFactory for v0.7.
	SimpleAccountFactoryV07 = "0x91E60e0613810449d098b0b5Ec8b51A0FE8c8985"
	// DefaultStakingContract is the MonStaking deployment on Monad testnet.
	DefaultStakingContract = "0x91e33a594da3e8e2ad3af5195611cf8cabe75353"

	DefaultBundlerURL = "https://api.pimlico.io/v2/monad-testnet/rpc"
	DefaultHistoryURL = "https://api.envio.dev/v1/graphql"
)

// Signing schemes accepted in config.
const (
	SigningAuto    = "auto"
	SigningTyped   = "typed"
	SigningMessage = "message"
)

// Config is the resolved runtime configuration. Every component receives the
// values it needs from here; nothing reads the environment on its own.
type Config struct {
	Environment sdklogging.LogLevel
	Logger      sdklogging.Logger

	Chain ChainDescriptor

	BundlerURL    string
	BundlerAPIKey string
	HistoryURL    string
	WalletRPCURL  string

	EntryPoint      common.Address
	Factory         common.Address
	AccountSalt     *big.Int
	StakingContract common.Address

	// OwnerPrivateKey is optional. When unset the CLI signs through WalletRPCURL.
	OwnerPrivateKey *ecdsa.PrivateKey `json:"-"`

	Staking   StakingParams
	Gas       GasParams
	Fee       FeeParams
	Poll      PollParams
	Transport TransportParams

	SigningScheme     string
	RefreshInterval   time.Duration
	IdempotencyWindow time.Duration

	DBPath         string
	GatewayAddress string
}

// StakingParams mirror the constants of the staking contract. The contract
// enforces them; we only use them to reject hopeless intents early.
type StakingParams struct {
	MinStake          *big.Int
	LockPeriod        time.Duration
	RewardRatePercent int64
}

// GasParams are the fallback gas limits used when the bundler cannot
// estimate, the safety margin applied to a successful estimate, and the
// native balance kept aside for gas in the funding precheck.
type GasParams struct {
	CallGasLimit         uint64
	VerificationGasLimit uint64
	PreVerificationGas   uint64
	MarginPercent        uint64
	Reserve              *big.Int
}

type FeeParams struct {
	MultiplierPercent uint64
	PriorityFee       *big.Int
}

type PollParams struct {
	Interval time.Duration
	Attempts int
}

type TransportParams struct {
	Timeout  time.Duration
	Attempts int
	Backoff  time.Duration
}

// ConfigRaw is the yaml shape on disk.
type ConfigRaw struct {
	Environment sdklogging.LogLevel `yaml:"environment" validate:"omitempty,oneof=development production"`

	Chain struct {
		ChainID     int64    `yaml:"chain_id" validate:"omitempty,gt=0"`
		Name        string   `yaml:"name"`
		RPCURLs     []string `yaml:"rpc_urls" validate:"omitempty,dive,url"`
		ExplorerURL string   `yaml:"explorer_url" validate:"omitempty,url"`
		Currency    struct {
			Name     string `yaml:"name"`
			Symbol   string `yaml:"symbol"`
			Decimals uint8  `yaml:"decimals"`
		} `yaml:"native_currency"`
	} `yaml:"chain"`

	RPCURL        string `yaml:"rpc_url" validate:"omitempty,url"`
	BundlerURL    string `yaml:"bundler_url" validate:"required,url"`
	BundlerAPIKey string `yaml:"bundler_api_key"`
	HistoryURL    string `yaml:"history_url" validate:"omitempty,url"`
	WalletRPCURL  string `yaml:"wallet_rpc_url" validate:"omitempty,url"`

	EntryPointAddress      string `yaml:"entrypoint_address" validate:"required,eth_addr"`
	FactoryAddress         string `yaml:"factory_address" validate:"required,eth_addr"`
	AccountSalt            uint64 `yaml:"account_salt"`
	StakingContractAddress string `yaml:"staking_contract_address" validate:"required,eth_addr"`
	OwnerPrivateKey        string `yaml:"owner_private_key"`

	Staking struct {
		MinStake          string `yaml:"min_stake" validate:"required,numeric"`
		LockPeriodSeconds int64  `yaml:"lock_period_seconds" validate:"gte=0"`
		RewardRatePercent int64  `yaml:"reward_rate_percent" validate:"gte=0"`
	} `yaml:"staking"`

	Gas struct {
		CallGasLimit         uint64 `yaml:"call_gas_limit" validate:"gt=0"`
		VerificationGasLimit uint64 `yaml:"verification_gas_limit" validate:"gt=0"`
		PreVerificationGas   uint64 `yaml:"pre_verification_gas" validate:"gt=0"`
		MarginPercent        uint64 `yaml:"margin_percent" validate:"lte=100"`
		Reserve              string `yaml:"reserve" validate:"required,numeric"`
	} `yaml:"gas"`

	Fee struct {
		MultiplierPercent uint64 `yaml:"multiplier_percent" validate:"gte=120,lte=150"`
		PriorityFeeGwei   string `yaml:"priority_fee_gwei" validate:"required,numeric"`
	} `yaml:"fee"`

	Poll struct {
		IntervalMs int64 `yaml:"interval_ms" validate:"gt=0"`
		Attempts   int   `yaml:"attempts" validate:"gt=0"`
	} `yaml:"poll"`

	Transport struct {
		TimeoutMs int64 `yaml:"timeout_ms" validate:"gt=0"`
		Attempts  int   `yaml:"attempts" validate:"gt=0"`
		BackoffMs int64 `yaml:"backoff_ms" validate:"gte=0"`
	} `yaml:"transport"`

	SigningScheme            string `yaml:"signing_scheme" validate:"oneof=auto typed message"`
	RefreshIntervalSeconds   int64  `yaml:"refresh_interval_seconds" validate:"gt=0"`
	IdempotencyWindowSeconds int64  `yaml:"idempotency_window_seconds" validate:"gt=0"`

	DBPath         string `yaml:"db_path"`
	GatewayAddress string `yaml:"gateway_address"`
}

// DefaultConfigRaw returns the Monad testnet defaults. A config file only
// needs to carry what differs.
func DefaultConfigRaw() ConfigRaw {
	var raw ConfigRaw
	raw.Environment = sdklogging.Development

	chain := MonadTestnet()
	raw.Chain.ChainID = chain.chainID
	raw.Chain.Name = chain.name
	raw.Chain.RPCURLs = chain.RPCURLs()
	raw.Chain.ExplorerURL = chain.explorerURL
	raw.Chain.Currency.Name = chain.nativeCurrency.Name
	raw.Chain.Currency.Symbol = chain.nativeCurrency.Symbol
	raw.Chain.Currency.Decimals = chain.nativeCurrency.Decimals

	raw.BundlerURL = DefaultBundlerURL
	raw.HistoryURL = DefaultHistoryURL
	raw.EntryPointAddress = EntryPointV07
	raw.FactoryAddress = SimpleAccountFactoryV07
	raw.StakingContractAddress = DefaultStakingContract

	raw.Staking.MinStake = "0.1"
	raw.Staking.LockPeriodSeconds = 7 * 24 * 60 * 60
	raw.Staking.RewardRatePercent = 10

	raw.Gas.CallGasLimit = 400_000
	raw.Gas.VerificationGasLimit = 1_000_000
	raw.Gas.PreVerificationGas = 800_000
	raw.Gas.MarginPercent = 30
	raw.Gas.Reserve = "0.01"

	raw.Fee.MultiplierPercent = 130
	raw.Fee.PriorityFeeGwei = "1"

	raw.Poll.IntervalMs = 2000
	raw.Poll.Attempts = 10

	raw.Transport.TimeoutMs = 30_000
	raw.Transport.Attempts = 3
	raw.Transport.BackoffMs = 2000

	raw.SigningScheme = SigningAuto
	raw.RefreshIntervalSeconds = 10
	raw.IdempotencyWindowSeconds = 600

	raw.DBPath = "./data/intents"
	raw.GatewayAddress = "127.0.0.1:8088"

	return raw
}

// Environment variables that take precedence over the config file.
const (
	EnvRPCURL          = "STAKING_RPC_URL"
	EnvBundlerURL      = "STAKING_BUNDLER_URL"
	EnvBundlerAPIKey   = "STAKING_BUNDLER_API_KEY"
	EnvStakingContract = "STAKING_CONTRACT"
	EnvEntryPoint      = "STAKING_ENTRYPOINT"
	EnvFactory         = "STAKING_FACTORY"
	EnvOwnerPrivateKey = "STAKING_OWNER_PRIVATE_KEY"
	EnvHistoryURL      = "STAKING_HISTORY_URL"
	EnvWalletRPCURL    = "STAKING_WALLET_RPC_URL"
)

// ApplyEnv overlays environment variables onto raw.
func (raw *ConfigRaw) ApplyEnv(lookup func(string) (string, bool)) {
	overlay := []struct {
		key string
		dst *string
	}{
		{EnvRPCURL, &raw.RPCURL},
		{EnvBundlerURL, &raw.BundlerURL},
		{EnvBundlerAPIKey, &raw.BundlerAPIKey},
		{EnvStakingContract, &raw.StakingContractAddress},
		{EnvEntryPoint, &raw.EntryPointAddress},
		{EnvFactory, &raw.FactoryAddress},
		{EnvOwnerPrivateKey, &raw.OwnerPrivateKey},
		{EnvHistoryURL, &raw.HistoryURL},
		{EnvWalletRPCURL, &raw.WalletRPCURL},
	}
	for _, o := range overlay {
		if v, ok := lookup(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}

// NewConfig loads the config at configFilePath and resolves it.
func NewConfig(configFilePath string) (*Config, error) {
	raw, err := LoadRaw(configFilePath)
	if err != nil {
		return nil, err
	}

	logger, err := sdklogging.NewZapLogger(raw.Environment)
	if err != nil {
		return nil, err
	}

	c, err := raw.Resolve()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return nil, err
	}
	c.Logger = logger
	return c, nil
}

// Resolve validates raw and converts it into a Config without a logger.
func (raw ConfigRaw) Resolve() (*Config, error) {
	if err := validator.New().Struct(raw); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	decimals := int32(raw.Chain.Currency.Decimals)
	minStake, err := ParseUnits(raw.Staking.MinStake, decimals)
	if err != nil {
		return nil, fmt.Errorf("invalid staking.min_stake: %w", err)
	}
	reserve, err := ParseUnits(raw.Gas.Reserve, decimals)
	if err != nil {
		return nil, fmt.Errorf("invalid gas.reserve: %w", err)
	}
	priorityFee, err := ParseUnits(raw.Fee.PriorityFeeGwei, 9)
	if err != nil {
		return nil, fmt.Errorf("invalid fee.priority_fee_gwei: %w", err)
	}

	chain := NewChainDescriptor(
		raw.Chain.ChainID,
		raw.Chain.Name,
		NativeCurrency{
			Name:     raw.Chain.Currency.Name,
			Symbol:   raw.Chain.Currency.Symbol,
			Decimals: raw.Chain.Currency.Decimals,
		},
		raw.Chain.RPCURLs,
		raw.Chain.ExplorerURL,
	)
	if raw.RPCURL != "" {
		chain = chain.WithRPCURLs(raw.RPCURL)
	}
	if len(chain.RPCURLs()) == 0 {
		return nil, errors.New("invalid config: at least one rpc url is required")
	}

	c := &Config{
		Environment:     raw.Environment,
		Chain:           chain,
		BundlerURL:      raw.BundlerURL,
		BundlerAPIKey:   raw.BundlerAPIKey,
		HistoryURL:      raw.HistoryURL,
		WalletRPCURL:    raw.WalletRPCURL,
		EntryPoint:      common.HexToAddress(raw.EntryPointAddress),
		Factory:         common.HexToAddress(raw.FactoryAddress),
		AccountSalt:     new(big.Int).SetUint64(raw.AccountSalt),
		StakingContract: common.HexToAddress(raw.StakingContractAddress),
		Staking: StakingParams{
			MinStake:          minStake,
			LockPeriod:        time.Duration(raw.Staking.LockPeriodSeconds) * time.Second,
			RewardRatePercent: raw.Staking.RewardRatePercent,
		},
		Gas: GasParams{
			CallGasLimit:         raw.Gas.CallGasLimit,
			VerificationGasLimit: raw.Gas.VerificationGasLimit,
			PreVerificationGas:   raw.Gas.PreVerificationGas,
			MarginPercent:        raw.Gas.MarginPercent,
			Reserve:              reserve,
		},
		Fee: FeeParams{
			MultiplierPercent: raw.Fee.MultiplierPercent,
			PriorityFee:       priorityFee,
		},
		Poll: PollParams{
			Interval: time.Duration(raw.Poll.IntervalMs) * time.Millisecond,
			Attempts: raw.Poll.Attempts,
		},
		Transport: TransportParams{
			Timeout:  time.Duration(raw.Transport.TimeoutMs) * time.Millisecond,
			Attempts: raw.Transport.Attempts,
			Backoff:  time.Duration(raw.Transport.BackoffMs) * time.Millisecond,
		},
		SigningScheme:     raw.SigningScheme,
		RefreshInterval:   time.Duration(raw.RefreshIntervalSeconds) * time.Second,
		IdempotencyWindow: time.Duration(raw.IdempotencyWindowSeconds) * time.Second,
		DBPath:            raw.DBPath,
		GatewayAddress:    raw.GatewayAddress,
	}

	if raw.OwnerPrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(raw.OwnerPrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid owner_private_key: %w", err)
		}
		c.OwnerPrivateKey = key
	}

	return c, nil
}

// ParseUnits converts a human decimal amount into base units.
func ParseUnits(amount string, decimals int32) (*big.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return nil, err
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%s has more than %d decimal places", amount, decimals)
	}
	return scaled.BigInt(), nil
}

// Redacted returns a copy of raw that is safe to print.
func (raw ConfigRaw) Redacted() ConfigRaw {
	out := raw
	out.Chain.RPCURLs = append([]string{}, raw.Chain.RPCURLs...)
	if out.OwnerPrivateKey != "" {
		out.OwnerPrivateKey = "<redacted>"
	}
	if out.BundlerAPIKey != "" {
		out.BundlerAPIKey = "<redacted>"
	}
	return out
}

// LoadRaw returns the merged raw config without resolving it: defaults, then
// the yaml file when it exists, then the environment.
func LoadRaw(configFilePath string) (ConfigRaw, error) {
	raw := DefaultConfigRaw()
	if configFilePath != "" {
		if _, err := os.Stat(configFilePath); err == nil {
			if err := sdkutils.ReadYamlConfig(configFilePath, &raw); err != nil {
				return raw, fmt.Errorf("failed to parse config file %s: %w", configFilePath, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return raw, fmt.Errorf("cannot read config file %s: %w", configFilePath, err)
		}
	}
	raw.ApplyEnv(os.LookupEnv)
	return raw, nil
}
