package byte4

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const accountABI = `[
	{"type":"function","name":"execute","stateMutability":"nonpayable","inputs":[
		{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"owner","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
]`

func TestGetMethodFromCalldata(t *testing.T) {
	parsedABI, err := abi.JSON(strings.NewReader(accountABI))
	require.NoError(t, err)

	tests := []struct {
		name        string
		calldata    []byte
		wantMethod  string
		errContains string
	}{
		{
			name:       "owner selector",
			calldata:   common.FromHex("0x8da5cb5b"),
			wantMethod: "owner",
		},
		{
			name:       "execute with arguments",
			calldata:   append(common.FromHex("0xb61d27f6"), make([]byte, 96)...),
			wantMethod: "execute",
		},
		{
			name:        "invalid selector length",
			calldata:    []byte{0x70, 0xa0},
			errContains: "invalid selector length",
		},
		{
			name:        "unknown selector",
			calldata:    common.FromHex("0x12345678"),
			errContains: "no matching method found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method, err := GetMethodFromCalldata(parsedABI, tt.calldata)
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				assert.Nil(t, method)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMethod, method.Name)
		})
	}
}

func TestDecodeCalldata(t *testing.T) {
	parsedABI, err := abi.JSON(strings.NewReader(accountABI))
	require.NoError(t, err)

	dest := common.HexToAddress("0x91e33a594da3e8e2ad3af5195611cf8cabe75353")
	data, err := parsedABI.Pack("execute", dest, big.NewInt(42), []byte{0x3a, 0x4b, 0x66, 0xf1})
	require.NoError(t, err)

	method, args, err := DecodeCalldata(parsedABI, data)
	require.NoError(t, err)
	assert.Equal(t, "execute", method.Name)
	require.Len(t, args, 3)
	assert.Equal(t, dest, args[0].(common.Address))
	assert.Equal(t, big.NewInt(42), args[1].(*big.Int))
	assert.Equal(t, []byte{0x3a, 0x4b, 0x66, 0xf1}, args[2].([]byte))

	_, _, err = DecodeCalldata(parsedABI, data[:40])
	assert.Error(t, err)
}
