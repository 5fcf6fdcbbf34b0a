package schema

import (
	"fmt"
	"strings"

	"github.com/AvaProtocol/ap-staking/model"
)

const (
	intentPrefix      = "intent:"
	intentStatePrefix = "intent_state:"
)

// IntentStorageKey holds the JSON body of an intent.
func IntentStorageKey(id string) []byte {
	return []byte(intentPrefix + id)
}

// IntentStateKey is the index entry of an intent in state. Its value is
// empty; the body lives under IntentStorageKey.
func IntentStateKey(state model.IntentState, id string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", intentStatePrefix, state, id))
}

// IntentByStatePrefix returns the storage prefix for all intents in state.
func IntentByStatePrefix(state model.IntentState) []byte {
	return []byte(fmt.Sprintf("%s%s:", intentStatePrefix, state))
}

func IntentPrefix() []byte {
	return []byte(intentPrefix)
}

// IntentIDFromStateKey is the inverse of IntentStateKey.
func IntentIDFromStateKey(key []byte) string {
	k := string(key)
	return k[strings.LastIndex(k, ":")+1:]
}

// IntentStateIndexPrefix covers the state index of every intent.
func IntentStateIndexPrefix() []byte {
	return []byte(intentStatePrefix)
}

// IntentStateFromStateKey returns the state part of a key built by
// IntentStateKey.
func IntentStateFromStateKey(key []byte) model.IntentState {
	k := strings.TrimPrefix(string(key), intentStatePrefix)
	return model.IntentState(k[:strings.LastIndex(k, ":")])
}
