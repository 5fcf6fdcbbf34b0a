package staking

import (
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/ap-staking/model"
)

func TestWatcherDeliversSnapshots(t *testing.T) {
	f := newFixture(t)
	f.pos.set(oneMON, big.NewInt(42), 0, true)

	got := make(chan *model.StakeInfo, 16)
	w, err := f.svc.Watch(accountAddress, 20*time.Millisecond, func(info *model.StakeInfo) { got <- info }, nil)
	require.NoError(t, err)
	defer w.Stop()

	select {
	case info := <-got:
		assert.Equal(t, accountAddress, info.User)
		assert.Equal(t, int64(42), info.PendingRewards.Int64())
	case <-time.After(2 * time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestWatcherStopsCallbacks(t *testing.T) {
	f := newFixture(t)

	var calls atomic.Int32
	w, err := f.svc.Watch(accountAddress, 5*time.Millisecond, func(*model.StakeInfo) { calls.Add(1) }, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return calls.Load() > 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, w.Stop())
	// a callback already running when Stop was called may still finish
	time.Sleep(20 * time.Millisecond)
	after := calls.Load()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
	assert.NoError(t, w.Stop())
}

func TestWatcherReportsErrors(t *testing.T) {
	f := newFixture(t)
	f.chain.FailOn("CallContract", errors.New("dial tcp: connection refused"))

	errs := make(chan error, 16)
	w, err := f.svc.Watch(accountAddress, 20*time.Millisecond, func(*model.StakeInfo) {
		t.Error("unexpected snapshot")
	}, func(err error) { errs <- err })
	require.NoError(t, err)
	defer w.Stop()

	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("no error delivered")
	}
}

func TestWatcherCallbackMayStop(t *testing.T) {
	f := newFixture(t)

	var (
		w     *Watcher
		calls atomic.Int32
		ready = make(chan struct{})
		done  = make(chan error, 1)
	)
	w, err := f.svc.Watch(accountAddress, 5*time.Millisecond, func(*model.StakeInfo) {
		<-ready
		if calls.Add(1) == 1 {
			done <- w.Stop()
		}
	}, nil)
	require.NoError(t, err)
	close(ready)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop called from a callback did not return")
	}
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.NoError(t, w.Stop())
}
