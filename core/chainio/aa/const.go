package aa

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ap-staking/core/config"
)

var (
	EntrypointAddress = common.HexToAddress(config.EntryPointV07)
	FactoryAddress    = common.HexToAddress(config.SimpleAccountFactoryV07)

	// DefaultSalt derives the first account of an owner.
	DefaultSalt = big.NewInt(0)
)
