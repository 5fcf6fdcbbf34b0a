package aa

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/core/chainio"
	"github.com/AvaProtocol/ap-staking/pkg/logger"
)

const addressCacheSize = 1024

// Resolver turns an owner EOA into a SmartAccountHandle.
type Resolver struct {
	client  chainio.Client
	impl    Implementation
	factory common.Address
	salt    *big.Int
	logger  logger.Logger

	// (factory, owner, salt) -> address. Derivation is a pure function of
	// the key, so entries never go stale.
	addresses *lru.Cache
}

func NewResolver(client chainio.Client, impl Implementation, factory common.Address, salt *big.Int, log logger.Logger) (*Resolver, error) {
	cache, err := lru.New(addressCacheSize)
	if err != nil {
		return nil, err
	}
	if salt == nil {
		salt = DefaultSalt
	}
	return &Resolver{
		client:    client,
		impl:      impl,
		factory:   factory,
		salt:      new(big.Int).Set(salt),
		logger:    logger.EnsureLogger(log),
		addresses: cache,
	}, nil
}

func (r *Resolver) Factory() common.Address {
	return r.factory
}

func (r *Resolver) Implementation() Implementation {
	return r.impl
}

// Resolve derives the account of owner. A factory without bytecode means the
// implementation is not supported here: the handle degrades to the owner EOA
// and says so. Network failures are returned, never degraded.
func (r *Resolver) Resolve(ctx context.Context, owner common.Address) (*SmartAccountHandle, error) {
	if owner == (common.Address{}) {
		return nil, apperr.Validation(apperr.CodeInvalidInput, "owner address is empty")
	}

	code, err := r.client.CodeAt(ctx, r.factory, nil)
	if err != nil {
		return nil, chainio.Wrap(err, "read factory bytecode")
	}

	if len(code) == 0 {
		r.logger.Warn("account factory has no code on this chain, using owner as account",
			"factory", r.factory, "owner", owner, "implementation", r.impl.Name())
		return &SmartAccountHandle{
			Address:        owner,
			Owner:          owner,
			Factory:        r.factory,
			Salt:           new(big.Int).Set(r.salt),
			Mode:           ModeDegradedEOA,
			Implementation: r.impl,
		}, nil
	}

	address, err := r.address(ctx, owner)
	if err != nil {
		return nil, err
	}

	return &SmartAccountHandle{
		Address:        address,
		Owner:          owner,
		Factory:        r.factory,
		Salt:           new(big.Int).Set(r.salt),
		Mode:           ModeSmartAccount,
		Implementation: r.impl,
	}, nil
}

func (r *Resolver) cacheKey(owner common.Address) string {
	return fmt.Sprintf("%s:%s:%s", r.factory.Hex(), owner.Hex(), r.salt.String())
}

func (r *Resolver) address(ctx context.Context, owner common.Address) (common.Address, error) {
	key := r.cacheKey(owner)
	if v, ok := r.addresses.Get(key); ok {
		return v.(common.Address), nil
	}

	address, err := r.impl.GetAddress(ctx, r.client, r.factory, owner, r.salt)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNetwork) {
			return common.Address{}, err
		}
		return common.Address{}, apperr.Deployment(apperr.CodeFactoryInvalid, "factory did not return an account address", err)
	}
	if address == (common.Address{}) {
		return common.Address{}, apperr.Deployment(apperr.CodeFactoryInvalid, "factory returned the zero address", nil)
	}

	if initCodeHash, ok := r.impl.InitCodeHash(owner); ok {
		local := ComputeAddress(r.factory, r.salt, initCodeHash)
		if local != address {
			// the factory is authoritative; a mismatch means our proxy
			// bytecode is out of date
			r.logger.Warn("local CREATE2 derivation disagrees with factory",
				"factory_address", address, "local_address", local, "owner", owner)
		}
	}

	r.addresses.Add(key, address)
	return address, nil
}
