package preset

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// State is the lifecycle position of one intent.
type State string

const (
	StateBuilding   State = "BUILDING"
	StateEstimating State = "ESTIMATING"
	StateSigning    State = "SIGNING"
	StateSubmitting State = "SUBMITTING"
	StatePending    State = "PENDING"
	StateConfirmed  State = "CONFIRMED"
	StateFailed     State = "FAILED"
	StateTimedOut   State = "TIMED_OUT"
)

func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed || s == StateTimedOut
}

// forward is the only non-failure edge out of each state.
var forward = map[State][]State{
	StateBuilding:   {StateEstimating},
	StateEstimating: {StateSigning},
	StateSigning:    {StateSubmitting},
	StateSubmitting: {StatePending},
	StatePending:    {StateConfirmed, StateTimedOut},
}

// Transition is what an Observer sees on every state change.
type Transition struct {
	From       State
	To         State
	At         time.Time
	UserOpHash common.Hash
	TxHash     common.Hash
	Err        error
}

type Observer interface {
	OnTransition(Transition)
}

type ObserverFunc func(Transition)

func (f ObserverFunc) OnTransition(t Transition) {
	f(t)
}

// Tracker enforces the intent state machine. States are never re-entered
// and never move backwards; FAILED is reachable from any live state.
type Tracker struct {
	mu         sync.Mutex
	state      State
	observer   Observer
	history    []Transition
	userOpHash common.Hash
	txHash     common.Hash
}

// NewTracker starts in BUILDING. observer may be nil.
func NewTracker(observer Observer) *Tracker {
	t := &Tracker{observer: observer}
	t.mu.Lock()
	t.record("", StateBuilding, nil)
	t.mu.Unlock()
	return t
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) History() []Transition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Transition(nil), t.history...)
}

// SetUserOpHash attaches the hash to every later transition.
func (t *Tracker) SetUserOpHash(h common.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.userOpHash = h
}

func (t *Tracker) SetTxHash(h common.Hash) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.txHash = h
}

func (t *Tracker) Advance(to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, next := range forward[t.state] {
		if next == to {
			t.record(t.state, to, nil)
			return nil
		}
	}
	return fmt.Errorf("illegal intent transition %s -> %s", t.state, to)
}

// Fail moves to FAILED with cause. It is a no-op once the intent is terminal,
// so deferred cleanup can call it unconditionally.
func (t *Tracker) Fail(cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return
	}
	t.record(t.state, StateFailed, cause)
}

// record must be called with mu held.
func (t *Tracker) record(from, to State, err error) {
	tr := Transition{From: from, To: to, At: time.Now(), UserOpHash: t.userOpHash, TxHash: t.txHash, Err: err}
	t.state = to
	t.history = append(t.history, tr)
	if t.observer != nil {
		t.observer.OnTransition(tr)
	}
}
