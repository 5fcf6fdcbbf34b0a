package staking

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/model"
)

func ether(s string) *big.Int {
	v, err := ParseAmount(s, 18)
	if err != nil {
		panic(err)
	}
	return v
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
		err  bool
	}{
		{"1.5", "1500000000000000000", false},
		{"0.1", "100000000000000000", false},
		{" 2 ", "2000000000000000000", false},
		{"0.0000000000000000001", "", true},
		{"abc", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in, 18)
			if tt.err {
				assert.True(t, apperr.IsKind(err, apperr.KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1.5", FormatAmount(ether("1.5"), 18))
	assert.Equal(t, "0", FormatAmount(nil, 18))
	assert.Equal(t, "0.000000000000000001", FormatAmount(big.NewInt(1), 18))
}

func TestFormatStakeInfo(t *testing.T) {
	info := &model.StakeInfo{
		User:           common.HexToAddress("0x01"),
		StakedAmount:   ether("2"),
		PendingRewards: ether("0.05"),
		LockEndsAt:     big.NewInt(1700000000),
		CanUnstake:     true,
	}
	v := FormatStakeInfo(info, 18)
	assert.Equal(t, "2", v.StakedAmount)
	assert.Equal(t, "0.05", v.PendingRewards)
	assert.Equal(t, "2023-11-14T22:13:20Z", v.LockEndsAt)
	assert.True(t, v.CanUnstake)

	assert.Empty(t, FormatStakeInfo(model.EmptyStakeInfo(info.User), 18).LockEndsAt)
}

func TestCalculateAPY(t *testing.T) {
	// 0.1 on 1 over 365 days is 10%
	assert.Equal(t, "10", CalculateAPY(ether("1"), ether("0.1"), 365).String())
	assert.Equal(t, "20", CalculateAPY(ether("1"), ether("0.1"), 182.5).String())
	assert.True(t, CalculateAPY(big.NewInt(0), ether("1"), 10).IsZero())
	assert.True(t, CalculateAPY(ether("1"), ether("1"), 0).IsZero())
}
