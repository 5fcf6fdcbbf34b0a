package staking

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/AvaProtocol/ap-staking/core/chainio"
	"github.com/AvaProtocol/ap-staking/model"
)

var ErrUnknownEvent = errors.New("log is not a staking event")

var eventKinds = map[string]model.EventKind{
	"Staked":        model.EventStaked,
	"Unstaked":      model.EventUnstaked,
	"RewardClaimed": model.EventRewardClaimed,
}

// EventTopics returns the topic0 of every staking event.
func EventTopics() []common.Hash {
	return []common.Hash{
		ABI.Events["Staked"].ID,
		ABI.Events["Unstaked"].ID,
		ABI.Events["RewardClaimed"].ID,
	}
}

// ParseLog decodes a Staked, Unstaked or RewardClaimed log.
func ParseLog(log types.Log) (*model.StakingEvent, error) {
	if len(log.Topics) < 2 {
		return nil, ErrUnknownEvent
	}

	event, err := ABI.EventByID(log.Topics[0])
	if err != nil {
		return nil, ErrUnknownEvent
	}
	kind, ok := eventKinds[event.Name]
	if !ok {
		return nil, ErrUnknownEvent
	}

	values, err := ABI.Unpack(event.Name, log.Data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}

	ev := &model.StakingEvent{
		ID:          fmt.Sprintf("%s-%d", log.TxHash.Hex(), log.Index),
		Kind:        kind,
		User:        common.BytesToAddress(log.Topics[1].Bytes()),
		Amount:      values[0].(*big.Int),
		TxHash:      log.TxHash,
		BlockNumber: log.BlockNumber,
	}

	switch kind {
	case model.EventUnstaked:
		ev.Reward = values[1].(*big.Int)
		ev.Timestamp = values[2].(*big.Int).Int64()
	default:
		ev.Timestamp = values[1].(*big.Int).Int64()
	}
	return ev, nil
}

// FilterEvents reads the staking events of user from fromBlock to the head,
// newest first. It is the history source when no indexer is configured.
func (c *Contract) FilterEvents(ctx context.Context, user common.Address, fromBlock *big.Int) ([]*model.StakingEvent, error) {
	if !c.Deployed() {
		return nil, nil
	}

	query := ethereum.FilterQuery{
		FromBlock: fromBlock,
		Addresses: []common.Address{c.address},
		Topics: [][]common.Hash{
			EventTopics(),
			{common.BytesToHash(user.Bytes())},
		},
	}

	logs, err := c.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, chainio.Wrap(err, "filter staking logs")
	}

	events := make([]*model.StakingEvent, 0, len(logs))
	for _, l := range logs {
		ev, err := ParseLog(l)
		if errors.Is(err, ErrUnknownEvent) {
			continue
		}
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber > events[j].BlockNumber
		}
		return events[i].Timestamp > events[j].Timestamp
	})
	return events, nil
}
