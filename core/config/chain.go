package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type NativeCurrency struct {
	Name     string `yaml:"name" json:"name"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals uint8  `yaml:"decimals" json:"decimals"`
}

// ChainDescriptor is the static definition of the network we stake on. It is
// built once at start up and only read afterwards; accessors hand out copies.
type ChainDescriptor struct {
	chainID        int64
	name           string
	nativeCurrency NativeCurrency
	rpcURLs        []string
	explorerURL    string
}

func NewChainDescriptor(chainID int64, name string, currency NativeCurrency, rpcURLs []string, explorerURL string) ChainDescriptor {
	urls := make([]string, len(rpcURLs))
	copy(urls, rpcURLs)

	return ChainDescriptor{
		chainID:        chainID,
		name:           name,
		nativeCurrency: currency,
		rpcURLs:        urls,
		explorerURL:    strings.TrimRight(explorerURL, "/"),
	}
}

// MonadTestnet is the default target network.
func MonadTestnet() ChainDescriptor {
	return NewChainDescriptor(
		10143,
		"Monad Testnet",
		NativeCurrency{Name: "Monad", Symbol: "MON", Decimals: 18},
		[]string{
			"https://rpc.ankr.com/monad_testnet",
			"https://testnet-rpc.monad.xyz",
		},
		"https://testnet.monadexplorer.com",
	)
}

func (c ChainDescriptor) ChainID() *big.Int {
	return big.NewInt(c.chainID)
}

// HexChainID is the 0x-prefixed form wallets expect in wallet_switchEthereumChain.
func (c ChainDescriptor) HexChainID() string {
	return fmt.Sprintf("0x%x", c.chainID)
}

func (c ChainDescriptor) Name() string {
	return c.name
}

func (c ChainDescriptor) NativeCurrency() NativeCurrency {
	return c.nativeCurrency
}

func (c ChainDescriptor) RPCURLs() []string {
	urls := make([]string, len(c.rpcURLs))
	copy(urls, c.rpcURLs)
	return urls
}

func (c ChainDescriptor) ExplorerURL() string {
	return c.explorerURL
}

// TxURL links a transaction on the explorer. Empty when no explorer is known.
func (c ChainDescriptor) TxURL(hash common.Hash) string {
	if c.explorerURL == "" {
		return ""
	}
	return c.explorerURL + "/tx/" + hash.Hex()
}

func (c ChainDescriptor) AddressURL(addr common.Address) string {
	if c.explorerURL == "" {
		return ""
	}
	return c.explorerURL + "/address/" + addr.Hex()
}

// WithRPCURLs returns a copy that prefers urls over the built-in endpoints.
func (c ChainDescriptor) WithRPCURLs(urls ...string) ChainDescriptor {
	merged := make([]string, 0, len(urls)+len(c.rpcURLs))
	seen := map[string]bool{}
	for _, u := range append(append([]string{}, urls...), c.rpcURLs...) {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		merged = append(merged, u)
	}
	return NewChainDescriptor(c.chainID, c.name, c.nativeCurrency, merged, c.explorerURL)
}

// ChainInfo is the serialisable view of a descriptor.
type ChainInfo struct {
	ChainID        int64          `json:"chainId" yaml:"chain_id"`
	Name           string         `json:"name" yaml:"name"`
	NativeCurrency NativeCurrency `json:"nativeCurrency" yaml:"native_currency"`
	RPCURLs        []string       `json:"rpcUrls" yaml:"rpc_urls"`
	ExplorerURL    string         `json:"explorerUrl,omitempty" yaml:"explorer_url,omitempty"`
}

func (c ChainDescriptor) Info() ChainInfo {
	return ChainInfo{
		ChainID:        c.chainID,
		Name:           c.name,
		NativeCurrency: c.nativeCurrency,
		RPCURLs:        c.RPCURLs(),
		ExplorerURL:    c.explorerURL,
	}
}
