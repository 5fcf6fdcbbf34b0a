package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsResolve(t *testing.T) {
	c, err := DefaultConfigRaw().Resolve()
	require.NoError(t, err)

	assert.Equal(t, big.NewInt(10143), c.Chain.ChainID())
	assert.Equal(t, "MON", c.Chain.NativeCurrency().Symbol)
	assert.Equal(t, common.HexToAddress(EntryPointV07), c.EntryPoint)
	assert.Equal(t, common.HexToAddress(DefaultStakingContract), c.StakingContract)

	oneTenth, _ := new(big.Int).SetString("100000000000000000", 10)
	assert.Equal(t, oneTenth, c.Staking.MinStake)
	assert.Equal(t, 604800*time.Second, c.Staking.LockPeriod)
	assert.EqualValues(t, 10, c.Staking.RewardRatePercent)

	assert.EqualValues(t, 400000, c.Gas.CallGasLimit)
	assert.EqualValues(t, 1000000, c.Gas.VerificationGasLimit)
	assert.EqualValues(t, 800000, c.Gas.PreVerificationGas)
	assert.EqualValues(t, 30, c.Gas.MarginPercent)

	assert.EqualValues(t, 130, c.Fee.MultiplierPercent)
	assert.Equal(t, big.NewInt(1_000_000_000), c.Fee.PriorityFee)

	assert.Equal(t, 2*time.Second, c.Poll.Interval)
	assert.Equal(t, 10, c.Poll.Attempts)
	assert.Equal(t, 3, c.Transport.Attempts)
	assert.Equal(t, 10*time.Second, c.RefreshInterval)
	assert.Nil(t, c.OwnerPrivateKey)
}

func TestApplyEnvOverridesFile(t *testing.T) {
	raw := DefaultConfigRaw()
	env := map[string]string{
		EnvRPCURL:          "http://localhost:8545",
		EnvStakingContract: "0x00000000000000000000000000000000000000aa",
		EnvOwnerPrivateKey: "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318",
		EnvBundlerURL:      "",
	}
	raw.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	c, err := raw.Resolve()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", c.Chain.RPCURLs()[0])
	assert.Len(t, c.Chain.RPCURLs(), 3)
	assert.Equal(t, common.HexToAddress("0xaa"), c.StakingContract)
	assert.Equal(t, DefaultBundlerURL, c.BundlerURL, "empty env values are ignored")
	require.NotNil(t, c.OwnerPrivateKey)
}

func TestResolveRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ConfigRaw)
	}{
		{"bad address", func(r *ConfigRaw) { r.StakingContractAddress = "0x1234" }},
		{"multiplier too high", func(r *ConfigRaw) { r.Fee.MultiplierPercent = 200 }},
		{"multiplier too low", func(r *ConfigRaw) { r.Fee.MultiplierPercent = 100 }},
		{"bad min stake", func(r *ConfigRaw) { r.Staking.MinStake = "lots" }},
		{"bad signing scheme", func(r *ConfigRaw) { r.SigningScheme = "magic" }},
		{"no rpc", func(r *ConfigRaw) { r.Chain.RPCURLs = nil }},
		{"bad key", func(r *ConfigRaw) { r.OwnerPrivateKey = "0xzz" }},
		{"too precise", func(r *ConfigRaw) { r.Staking.MinStake = "0.0000000000000000001" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := DefaultConfigRaw()
			tt.mutate(&raw)
			_, err := raw.Resolve()
			assert.Error(t, err)
		})
	}
}

func TestNewConfigReadsYaml(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "staking.yaml")
	body := `
environment: production
bundler_url: http://localhost:4337
staking:
  min_stake: "0.5"
  lock_period_seconds: 60
  reward_rate_percent: 10
fee:
  multiplier_percent: 150
  priority_fee_gwei: "2"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	c, err := NewConfig(path)
	require.NoError(t, err)
	require.NotNil(t, c.Logger)

	assert.Equal(t, "http://localhost:4337", c.BundlerURL)
	assert.Equal(t, big.NewInt(500_000_000_000_000_000), c.Staking.MinStake)
	assert.Equal(t, time.Minute, c.Staking.LockPeriod)
	assert.EqualValues(t, 150, c.Fee.MultiplierPercent)
	assert.Equal(t, big.NewInt(2_000_000_000), c.Fee.PriorityFee)
	// untouched sections keep their defaults
	assert.EqualValues(t, 400000, c.Gas.CallGasLimit)
}

func TestNewConfigMissingFileUsesDefaults(t *testing.T) {
	c, err := NewConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(10143), c.Chain.ChainID())
}

func TestParseUnits(t *testing.T) {
	v, err := ParseUnits("1.5", 18)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000000000", v.String())

	v, err = ParseUnits(" 2 ", 9)
	require.NoError(t, err)
	assert.Equal(t, "2000000000", v.String())

	_, err = ParseUnits("abc", 18)
	assert.Error(t, err)
}

func TestRedacted(t *testing.T) {
	raw := DefaultConfigRaw()
	raw.OwnerPrivateKey = "0xsecret"
	raw.BundlerAPIKey = "pim_secret"

	red := raw.Redacted()
	assert.Equal(t, "<redacted>", red.OwnerPrivateKey)
	assert.Equal(t, "<redacted>", red.BundlerAPIKey)
	assert.Equal(t, "0xsecret", raw.OwnerPrivateKey)
}
