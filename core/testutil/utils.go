package testutil

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"os"
	"time"

	sdklogging "github.com/Layr-Labs/eigensdk-go/logging"
	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AvaProtocol/ap-staking/storage"
)

// MonadTestnetChainID is used by every fake chain unless a test needs a mismatch.
const MonadTestnetChainID int64 = 10143

const (
	// Well known hardhat dev keys. Never hold funds on a real network.
	ownerKeyHex    = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	strangerKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

// Shortcut to initialize a storage at the given path, panic if we cannot create db
func TestMustDB() storage.Storage {
	dir, err := os.MkdirTemp("", "apstaking")
	if err != nil {
		panic(err)
	}

	db, err := storage.NewWithPath(dir)
	if err != nil {
		panic(err)
	}
	return db
}

func GetLogger() sdklogging.Logger {
	logger, err := sdklogging.NewZapLogger("development")
	if err != nil {
		panic(err)
	}
	return logger
}

// OwnerKey is the EOA that owns the test smart account.
func OwnerKey() *ecdsa.PrivateKey {
	return mustKey(ownerKeyHex)
}

func OwnerAddress() common.Address {
	return crypto.PubkeyToAddress(OwnerKey().PublicKey)
}

// StrangerKey signs things that OwnerKey should have signed.
func StrangerKey() *ecdsa.PrivateKey {
	return mustKey(strangerKeyHex)
}

func mustKey(h string) *ecdsa.PrivateKey {
	key, err := crypto.HexToECDSA(h)
	if err != nil {
		panic(err)
	}
	return key
}

func GetCache(lifeWindow time.Duration) *bigcache.BigCache {
	config := bigcache.Config{
		// number of shards (must be a power of 2)
		Shards: 16,

		LifeWindow:  lifeWindow,
		CleanWindow: 5 * time.Minute,

		// rps * lifeWindow, used only in initial memory allocation
		MaxEntriesInWindow: 1000,

		// max entry size in bytes, used only in initial memory allocation
		MaxEntrySize: 500,

		Verbose:          false,
		HardMaxCacheSize: 64,
	}
	cache, err := bigcache.New(context.Background(), config)
	if err != nil {
		panic(fmt.Errorf("error get default cache for test: %w", err))
	}
	return cache
}
