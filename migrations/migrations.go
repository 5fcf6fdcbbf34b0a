package migrations

import (
	"github.com/AvaProtocol/ap-staking/core/migrator"
)

// Migrations contains the list of journal migrations to be applied.
var Migrations = []migrator.Migration{
	// The name is recorded in the journal and sorts lexicographically, so we
	// prefix it with the timestamp in format of YYYYMMDD-HHMMSS.
	{
		Name:     "20261018-093000-rebuild-intent-state-index",
		Function: RebuildIntentStateIndex,
	},
}
