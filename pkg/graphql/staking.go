package graphql

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// HistoryLimit is how many events of each kind the indexer returns.
const HistoryLimit = 10

const userStakingHistoryQuery = `query UserStakingHistory($user: String!) {
  stakeds(where: { user: $user }, orderBy: timestamp, orderDirection: desc, first: 10) {
    id
    user
    amount
    timestamp
    transactionHash
    blockNumber
    blockTimestamp
  }
  unstakeds(where: { user: $user }, orderBy: timestamp, orderDirection: desc, first: 10) {
    id
    user
    amount
    reward
    timestamp
    transactionHash
    blockNumber
    blockTimestamp
  }
  rewardClaimeds(where: { user: $user }, orderBy: timestamp, orderDirection: desc, first: 10) {
    id
    user
    amount
    timestamp
    transactionHash
    blockNumber
    blockTimestamp
  }
}`

// IndexedEvent is one indexer row. Numbers arrive as decimal strings.
type IndexedEvent struct {
	ID              string `json:"id"`
	User            string `json:"user"`
	Amount          string `json:"amount"`
	Reward          string `json:"reward,omitempty"`
	Timestamp       string `json:"timestamp"`
	TransactionHash string `json:"transactionHash"`
	BlockNumber     string `json:"blockNumber"`
	BlockTimestamp  string `json:"blockTimestamp"`
}

type StakingHistory struct {
	Staked        []IndexedEvent `json:"stakeds"`
	Unstaked      []IndexedEvent `json:"unstakeds"`
	RewardClaimed []IndexedEvent `json:"rewardClaimeds"`
}

// UserStakingHistory fetches the latest events of user. The indexer stores
// addresses lower cased.
func (c *Client) UserStakingHistory(ctx context.Context, user common.Address) (*StakingHistory, error) {
	req := NewRequest(userStakingHistoryQuery)
	req.Var("user", strings.ToLower(user.Hex()))

	var resp StakingHistory
	if err := c.Run(ctx, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
