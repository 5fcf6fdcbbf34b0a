package migrations

import (
	"fmt"

	"github.com/AvaProtocol/ap-staking/model"
	"github.com/AvaProtocol/ap-staking/pkg/logger"
	"github.com/AvaProtocol/ap-staking/storage"
	"github.com/AvaProtocol/ap-staking/storage/schema"
)

// RebuildIntentStateIndex makes the state index agree with the intent
// bodies: every intent gets exactly one index entry, for the state in its
// body. Entries for missing intents or stale states are removed.
func RebuildIntentStateIndex(db storage.Storage, log logger.Logger) (int, error) {
	log = logger.EnsureLogger(log)

	bodies, err := db.GetByPrefix(schema.IntentPrefix())
	if err != nil {
		return 0, fmt.Errorf("failed to list intents: %w", err)
	}
	states := map[string]model.IntentState{}
	for _, item := range bodies {
		intent := &model.Intent{}
		if err := intent.FromStorageData(item.Value); err != nil {
			log.Warn("skipping undecodable intent", "key", string(item.Key), "error", err)
			continue
		}
		states[intent.ID] = intent.State
	}

	indexKeys, err := db.GetKeyHasPrefix(schema.IntentStateIndexPrefix())
	if err != nil {
		return 0, fmt.Errorf("failed to list the state index: %w", err)
	}
	indexed := map[string]bool{}
	var del [][]byte
	for _, key := range indexKeys {
		id := schema.IntentIDFromStateKey(key)
		state, ok := states[id]
		if !ok || state != schema.IntentStateFromStateKey(key) {
			del = append(del, key)
			continue
		}
		indexed[id] = true
	}

	set := map[string][]byte{}
	for id, state := range states {
		if !indexed[id] {
			set[string(schema.IntentStateKey(state, id))] = []byte{}
		}
	}

	if len(set) == 0 && len(del) == 0 {
		return 0, nil
	}
	log.Info("repairing intent state index", "added", len(set), "removed", len(del))
	if err := db.Update(set, del); err != nil {
		return 0, fmt.Errorf("failed to write the state index: %w", err)
	}
	return len(set) + len(del), nil
}
