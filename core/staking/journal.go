package staking

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/ap-staking/core/apperr"
	"github.com/AvaProtocol/ap-staking/model"
	"github.com/AvaProtocol/ap-staking/pkg/erc4337/preset"
	"github.com/AvaProtocol/ap-staking/pkg/logger"
	"github.com/AvaProtocol/ap-staking/storage"
	"github.com/AvaProtocol/ap-staking/storage/schema"
)

// Journal persists every intent and its state changes. A nil *Journal is
// valid and records nothing.
type Journal struct {
	db     storage.Storage
	logger logger.Logger
}

func NewJournal(db storage.Storage, log logger.Logger) *Journal {
	return &Journal{db: db, logger: logger.EnsureLogger(log)}
}

// Create stores a new intent in BUILDING.
func (j *Journal) Create(intent *model.Intent) error {
	if j == nil {
		return nil
	}
	intent.State = model.StateBuilding
	intent.History = []model.StateChange{{State: model.StateBuilding, At: intent.CreatedAt}}
	body, err := intent.ToJSON()
	if err != nil {
		return err
	}
	set := map[string][]byte{}
	set[string(schema.IntentStorageKey(intent.ID))] = body
	set[string(schema.IntentStateKey(model.StateBuilding, intent.ID))] = []byte{}
	return j.db.Update(set, nil)
}

func (j *Journal) Get(id string) (*model.Intent, error) {
	if j == nil {
		return nil, apperr.Validationf(apperr.CodeNotFound, "intent %s not found", id)
	}
	body, err := j.db.GetKey(schema.IntentStorageKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Validationf(apperr.CodeNotFound, "intent %s not found", id)
	}
	if err != nil {
		return nil, err
	}
	intent := &model.Intent{}
	if err := intent.FromStorageData(body); err != nil {
		return nil, fmt.Errorf("decode intent %s: %w", id, err)
	}
	return intent, nil
}

// Transition moves intent to state, applies mutate and persists both the
// body and the state index in one write. intent is updated in place.
func (j *Journal) Transition(intent *model.Intent, state model.IntentState, mutate func(*model.Intent)) error {
	if j == nil {
		intent.State = state
		if mutate != nil {
			mutate(intent)
		}
		return nil
	}

	from := intent.State
	now := time.Now().UnixMilli()
	intent.State = state
	intent.UpdatedAt = now
	if from != state {
		intent.History = append(intent.History, model.StateChange{State: state, At: now})
	}
	if mutate != nil {
		mutate(intent)
	}

	body, err := intent.ToJSON()
	if err != nil {
		return err
	}
	var del [][]byte
	if from != state {
		del = append(del, schema.IntentStateKey(from, intent.ID))
	}
	set := map[string][]byte{}
	set[string(schema.IntentStorageKey(intent.ID))] = body
	set[string(schema.IntentStateKey(state, intent.ID))] = []byte{}
	return j.db.Update(set, del)
}

// Fail records err on intent and moves it to FAILED.
func (j *Journal) Fail(intent *model.Intent, err error) {
	if intent.State.IsTerminal() {
		return
	}
	if jerr := j.Transition(intent, model.StateFailed, func(i *model.Intent) { setError(i, err) }); jerr != nil {
		j.logger.Error("cannot journal failed intent", "intent", intent.ID, "error", jerr)
	}
}

// ListByState returns the intents in state, oldest first.
func (j *Journal) ListByState(state model.IntentState) ([]*model.Intent, error) {
	if j == nil {
		return nil, nil
	}
	keys, err := j.db.GetKeyHasPrefix(schema.IntentByStatePrefix(state))
	if err != nil {
		return nil, err
	}
	out := make([]*model.Intent, 0, len(keys))
	for _, k := range keys {
		intent, err := j.Get(schema.IntentIDFromStateKey(k))
		if err != nil {
			j.logger.Warn("state index points at a missing intent", "key", string(k), "error", err)
			continue
		}
		out = append(out, intent)
	}
	// ulids sort by creation time
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (j *Journal) CountByState(state model.IntentState) (int64, error) {
	if j == nil {
		return 0, nil
	}
	return j.db.CountKeysByPrefix(schema.IntentByStatePrefix(state))
}

// FindByUserOpHash looks for the intent that submitted hash among the
// intents that may still change their mind: pending and timed out.
func (j *Journal) FindByUserOpHash(hash common.Hash) (*model.Intent, error) {
	for _, state := range []model.IntentState{model.StateTimedOut, model.StatePending} {
		intents, err := j.ListByState(state)
		if err != nil {
			return nil, err
		}
		for _, i := range intents {
			if i.UserOpHash == hash.Hex() {
				return i, nil
			}
		}
	}
	return nil, nil
}

// Resolve attaches what a later status check learned to a timed out intent.
// The intent keeps its TIMED_OUT state.
func (j *Journal) Resolve(intent *model.Intent, success bool, txHash common.Hash) error {
	return j.Transition(intent, intent.State, func(i *model.Intent) {
		i.Resolution = &model.Resolution{Success: success, TxHash: txHash.Hex(), CheckedAt: time.Now().UnixMilli()}
	})
}

// Observer mirrors the builder's transitions into intent.
func (j *Journal) Observer(intent *model.Intent) preset.Observer {
	return preset.ObserverFunc(func(t preset.Transition) {
		state := model.IntentState(t.To)
		if state == intent.State {
			return
		}
		err := j.Transition(intent, state, func(i *model.Intent) {
			if t.UserOpHash != (common.Hash{}) {
				i.UserOpHash = t.UserOpHash.Hex()
			}
			if t.TxHash != (common.Hash{}) {
				i.TxHash = t.TxHash.Hex()
			}
			if t.Err != nil {
				setError(i, t.Err)
			}
		})
		if err != nil {
			j.logger.Error("cannot journal intent transition", "intent", intent.ID, "to", state, "error", err)
		}
	})
}

func setError(i *model.Intent, err error) {
	if err == nil {
		return
	}
	i.ErrorMessage = err.Error()
	if e, ok := apperr.As(err); ok {
		i.ErrorKind = string(e.Kind)
		i.ErrorCode = e.Code
	}
}
