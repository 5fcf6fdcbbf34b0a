package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StakeInfo is a snapshot of getStakeInfo for one user at one block. It is
// never cached past the refresh interval.
type StakeInfo struct {
	User           common.Address `json:"user"`
	StakedAmount   *big.Int       `json:"staked_amount"`
	PendingRewards *big.Int       `json:"pending_rewards"`
	// LockEndsAt is a unix timestamp in seconds.
	LockEndsAt  *big.Int  `json:"lock_ends_at"`
	CanUnstake  bool      `json:"can_unstake"`
	BlockNumber uint64    `json:"block_number,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// EmptyStakeInfo is what a user with no position looks like.
func EmptyStakeInfo(user common.Address) *StakeInfo {
	return &StakeInfo{
		User:           user,
		StakedAmount:   new(big.Int),
		PendingRewards: new(big.Int),
		LockEndsAt:     new(big.Int),
		FetchedAt:      time.Now(),
	}
}

func (s *StakeInfo) HasStake() bool {
	return s.StakedAmount != nil && s.StakedAmount.Sign() > 0
}

func (s *StakeInfo) HasRewards() bool {
	return s.PendingRewards != nil && s.PendingRewards.Sign() > 0
}

// LockEnd returns the lock expiry, or the zero time when there is no lock.
func (s *StakeInfo) LockEnd() time.Time {
	if s.LockEndsAt == nil || s.LockEndsAt.Sign() == 0 {
		return time.Time{}
	}
	return time.Unix(s.LockEndsAt.Int64(), 0)
}

type EventKind string

const (
	EventStaked        EventKind = "staked"
	EventUnstaked      EventKind = "unstaked"
	EventRewardClaimed EventKind = "reward_claimed"
)

// StakingEvent is one entry of a user's history, from the indexer or from
// on-chain logs.
type StakingEvent struct {
	ID          string         `json:"id"`
	Kind        EventKind      `json:"kind"`
	User        common.Address `json:"user"`
	Amount      *big.Int       `json:"amount"`
	Reward      *big.Int       `json:"reward,omitempty"`
	Timestamp   int64          `json:"timestamp"`
	TxHash      common.Hash    `json:"tx_hash"`
	BlockNumber uint64         `json:"block_number"`
}
