package schema

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AvaProtocol/ap-staking/model"
)

func TestIntentKeys(t *testing.T) {
	id := "01HZX3Q4J4Z2Y3VQ5W6E7R8T9A"

	assert.Equal(t, "intent:"+id, string(IntentStorageKey(id)))
	key := IntentStateKey(model.StateTimedOut, id)
	assert.Equal(t, "intent_state:TIMED_OUT:"+id, string(key))
	assert.Equal(t, "intent_state:TIMED_OUT:", string(IntentByStatePrefix(model.StateTimedOut)))
	assert.Equal(t, id, IntentIDFromStateKey(key))
	assert.Equal(t, model.StateTimedOut, IntentStateFromStateKey(key))
	assert.True(t, strings.HasPrefix(string(key), string(IntentStateIndexPrefix())))
	assert.False(t, strings.HasPrefix(string(key), string(IntentPrefix())))
}
