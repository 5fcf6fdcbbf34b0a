package model

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SmartWallet is the serialisable view of a derived smart account.
type SmartWallet struct {
	Owner    common.Address  `json:"owner"`
	Address  common.Address  `json:"address"`
	Factory  *common.Address `json:"factory,omitempty"`
	Salt     *big.Int        `json:"salt"`
	Mode     string          `json:"mode"`
	Deployed *bool           `json:"deployed,omitempty"`
	Explorer string          `json:"explorer,omitempty"`
}

func (w *SmartWallet) ToJSON() ([]byte, error) {
	return json.Marshal(w)
}

func (w *SmartWallet) FromStorageData(body []byte) error {
	return json.Unmarshal(body, w)
}
