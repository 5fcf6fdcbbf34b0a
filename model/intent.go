package model

import (
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

type Operation string

const (
	OperationStake   Operation = "stake"
	OperationUnstake Operation = "unstake"
	OperationClaim   Operation = "claim"
)

// IntentState is the lifecycle of one user intent. The only legal order is
// Building, Estimating, Signing, Submitting, Pending, then one terminal state.
type IntentState string

const (
	StateBuilding   IntentState = "BUILDING"
	StateEstimating IntentState = "ESTIMATING"
	StateSigning    IntentState = "SIGNING"
	StateSubmitting IntentState = "SUBMITTING"
	StatePending    IntentState = "PENDING"
	StateConfirmed  IntentState = "CONFIRMED"
	StateFailed     IntentState = "FAILED"
	StateTimedOut   IntentState = "TIMED_OUT"
)

func (s IntentState) IsTerminal() bool {
	return s == StateConfirmed || s == StateFailed || s == StateTimedOut
}

type StateChange struct {
	State IntentState `json:"state"`
	At    int64       `json:"at"`
}

// Intent is the journal record of a stake, unstake or claim request.
type Intent struct {
	ID        string    `json:"id"`
	Operation Operation `json:"operation"`

	Owner  string `json:"owner"`
	Sender string `json:"sender"`
	// Amount in base units, decimal encoded. Empty for claims.
	Amount string `json:"amount,omitempty"`

	State   IntentState   `json:"state"`
	History []StateChange `json:"history"`

	UserOpHash    string `json:"user_op_hash,omitempty"`
	TxHash        string `json:"tx_hash,omitempty"`
	SigningScheme string `json:"signing_scheme,omitempty"`
	Degraded      bool   `json:"degraded,omitempty"`

	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Fingerprint    string `json:"fingerprint,omitempty"`

	// Resolution records what a later status check found for an intent that
	// timed out. The intent itself stays TIMED_OUT.
	Resolution *Resolution `json:"resolution,omitempty"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

type Resolution struct {
	Success   bool   `json:"success"`
	TxHash    string `json:"tx_hash"`
	CheckedAt int64  `json:"checked_at"`
}

// GenerateIntentID returns a time sortable id.
func GenerateIntentID() string {
	return ulid.Make().String()
}

func NewIntent(op Operation, owner, sender, amount string) *Intent {
	now := time.Now().UnixMilli()
	return &Intent{
		ID:        GenerateIntentID(),
		Operation: op,
		Owner:     owner,
		Sender:    sender,
		Amount:    amount,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (i *Intent) ToJSON() ([]byte, error) {
	return json.Marshal(i)
}

func (i *Intent) FromStorageData(body []byte) error {
	return json.Unmarshal(body, i)
}
