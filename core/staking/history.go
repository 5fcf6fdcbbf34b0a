package staking

import (
	"context"
	"math/big"
	"sort"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"github.com/AvaProtocol/ap-staking/model"
	"github.com/AvaProtocol/ap-staking/pkg/graphql"
)

// historyLookback bounds the log scan used when no indexer answers.
const historyLookback = 10_000

// History returns the latest staking events of user, newest first and at
// most graphql.HistoryLimit of each kind. The indexer is preferred; on-chain
// logs are used when it is not configured or does not answer.
func (s *Service) History(ctx context.Context, user common.Address) ([]*model.StakingEvent, error) {
	if s.history != nil {
		h, err := s.history.UserStakingHistory(ctx, user)
		if err == nil {
			return mergeHistory(h), nil
		}
		s.logger.Warn("history indexer failed, reading logs instead", "user", user, "error", err)
		s.metrics.IncFallback("history")
	}
	return s.historyFromLogs(ctx, user)
}

func (s *Service) historyFromLogs(ctx context.Context, user common.Address) ([]*model.StakingEvent, error) {
	var from *big.Int
	if head, err := s.client.HeaderByNumber(ctx, nil); err == nil && head.Number.Int64() > historyLookback {
		from = new(big.Int).Sub(head.Number, big.NewInt(historyLookback))
	}
	events, err := s.contract.FilterEvents(ctx, user, from)
	if err != nil {
		return nil, err
	}
	return capPerKind(events, graphql.HistoryLimit), nil
}

func mergeHistory(h *graphql.StakingHistory) []*model.StakingEvent {
	toEvents := func(kind model.EventKind) func(graphql.IndexedEvent, int) *model.StakingEvent {
		return func(e graphql.IndexedEvent, _ int) *model.StakingEvent {
			return indexedToEvent(kind, e)
		}
	}
	events := lo.Flatten([][]*model.StakingEvent{
		lo.Map(h.Staked, toEvents(model.EventStaked)),
		lo.Map(h.Unstaked, toEvents(model.EventUnstaked)),
		lo.Map(h.RewardClaimed, toEvents(model.EventRewardClaimed)),
	})
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Timestamp != events[j].Timestamp {
			return events[i].Timestamp > events[j].Timestamp
		}
		return events[i].BlockNumber > events[j].BlockNumber
	})
	return capPerKind(events, graphql.HistoryLimit)
}

// capPerKind keeps the first limit events of every kind, preserving order.
func capPerKind(events []*model.StakingEvent, limit int) []*model.StakingEvent {
	seen := map[model.EventKind]int{}
	return lo.Filter(events, func(e *model.StakingEvent, _ int) bool {
		seen[e.Kind]++
		return seen[e.Kind] <= limit
	})
}

func indexedToEvent(kind model.EventKind, e graphql.IndexedEvent) *model.StakingEvent {
	ev := &model.StakingEvent{
		ID:     e.ID,
		Kind:   kind,
		User:   common.HexToAddress(e.User),
		Amount: parseBig(e.Amount),
		TxHash: common.HexToHash(e.TransactionHash),
	}
	if kind == model.EventUnstaked {
		ev.Reward = parseBig(e.Reward)
	}
	ev.Timestamp, _ = strconv.ParseInt(e.Timestamp, 10, 64)
	if ev.Timestamp == 0 {
		ev.Timestamp, _ = strconv.ParseInt(e.BlockTimestamp, 10, 64)
	}
	ev.BlockNumber, _ = strconv.ParseUint(e.BlockNumber, 10, 64)
	return ev
}

func parseBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}
